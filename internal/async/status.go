// Package async runs the query server's warm-up in one background goroutine.
package async

import (
	"sync"
	"time"
)

// WarmupStatus represents the overall warm-up state.
type WarmupStatus string

const (
	// StatusWarming indicates warm-up is in progress.
	StatusWarming WarmupStatus = "warming"
	// StatusReady indicates warm-up finished without errors.
	StatusReady WarmupStatus = "ready"
	// StatusDegraded indicates warm-up finished but something failed.
	// Queries still run; the failing part reports its own error.
	StatusDegraded WarmupStatus = "degraded"
)

// WarmupStage represents the current step of the warm-up.
type WarmupStage string

const (
	// StageEmbedder indicates the embedder is being checked and warmed.
	StageEmbedder WarmupStage = "embedder"
	// StageTopics indicates configured topics are being preloaded.
	StageTopics WarmupStage = "topics"
	// StageDone indicates the worker has finished.
	StageDone WarmupStage = "done"
)

// ProgressSnapshot is an immutable snapshot of warm-up progress.
type ProgressSnapshot struct {
	Status         string   `json:"status"`
	Stage          string   `json:"stage"`
	EmbedderReady  bool     `json:"embedder_ready"`
	TopicsTotal    int      `json:"topics_total"`
	TopicsLoaded   int      `json:"topics_loaded"`
	ElapsedSeconds int      `json:"elapsed_seconds"`
	Errors         []string `json:"errors,omitempty"`
}

// Progress provides thread-safe tracking of warm-up progress.
type Progress struct {
	mu sync.RWMutex

	status        WarmupStatus
	stage         WarmupStage
	embedderReady bool
	topicsTotal   int
	topicsLoaded  int
	startTime     time.Time
	errors        []string
}

// NewProgress creates a tracker in the warming state.
func NewProgress() *Progress {
	return &Progress{
		status:    StatusWarming,
		stage:     StageEmbedder,
		startTime: time.Now(),
	}
}

// SetStage moves to the next warm-up step.
func (p *Progress) SetStage(stage WarmupStage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stage = stage
}

// SetEmbedderReady records that the embedder answered.
func (p *Progress) SetEmbedderReady() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.embedderReady = true
}

// SetTopicsTotal sets the number of topics to preload.
func (p *Progress) SetTopicsTotal(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topicsTotal = total
}

// TopicLoaded counts one preloaded topic.
func (p *Progress) TopicLoaded() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topicsLoaded++
}

// AddError records a non-fatal warm-up failure.
func (p *Progress) AddError(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errors = append(p.errors, message)
}

// Finish marks the warm-up as done.
func (p *Progress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stage = StageDone
	if len(p.errors) > 0 {
		p.status = StatusDegraded
	} else {
		p.status = StatusReady
	}
}

// IsWarming returns true while the worker is still running.
func (p *Progress) IsWarming() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status == StatusWarming
}

// Snapshot returns an immutable copy of the current progress state.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var errs []string
	if len(p.errors) > 0 {
		errs = append([]string(nil), p.errors...)
	}
	return ProgressSnapshot{
		Status:         string(p.status),
		Stage:          string(p.stage),
		EmbedderReady:  p.embedderReady,
		TopicsTotal:    p.topicsTotal,
		TopicsLoaded:   p.topicsLoaded,
		ElapsedSeconds: int(time.Since(p.startTime).Seconds()),
		Errors:         errs,
	}
}
