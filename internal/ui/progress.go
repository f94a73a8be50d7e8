package ui

import (
	"sync"
	"time"
)

// TopicState is where a topic stands within a reindex run.
type TopicState int

const (
	TopicQueued TopicState = iota
	TopicReading
	TopicEmbedding
	TopicSaving
	TopicDone
)

// TopicProgress is one row of the run board.
type TopicProgress struct {
	ID     string
	State  TopicState
	Read   int // books read so far
	Books  int // books the run will read in this topic
	Chunks int // chunks embedded
	Failed int
}

// Board records a reindex run topic by topic. It is safe for concurrent use.
type Board struct {
	mu       sync.RWMutex
	stage    Stage
	message  string
	order    []string
	rows     map[string]*TopicProgress
	active   string
	file     string
	bookDone int
	bookSize int
	chunks   int
	started  time.Time
	errors   []ErrorEvent
	warnings []ErrorEvent
}

// BoardSnapshot is a point-in-time copy of a Board.
type BoardSnapshot struct {
	Stage     Stage
	Message   string
	Topic     string
	File      string
	BookDone  int
	BookSize  int
	Topics    []TopicProgress
	Chunks    int
	Elapsed   time.Duration
	ErrCount  int
	WarnCount int
}

// NewBoard returns an empty board whose clock starts now.
func NewBoard() *Board {
	return &Board{
		stage:   StageScanning,
		rows:    make(map[string]*TopicProgress),
		started: time.Now(),
	}
}

// Apply folds a progress event into the board.
func (b *Board) Apply(ev ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stage = ev.Stage
	if ev.Message != "" {
		b.message = ev.Message
	}
	if ev.Stage == StageComplete {
		for _, row := range b.rows {
			row.State = TopicDone
		}
		b.active, b.file = "", ""
		return
	}
	if ev.Topic == "" {
		return
	}

	row := b.switchTo(ev.Topic)
	switch ev.Stage {
	case StageExtracting:
		row.State = TopicReading
		row.Read, row.Books = ev.Current, ev.Total
		b.file = ev.CurrentFile
		b.bookDone, b.bookSize = 0, 0
	case StageEmbedding:
		row.State = TopicEmbedding
		if ev.CurrentFile != "" {
			b.file = ev.CurrentFile
		}
		if n := ev.Current - b.bookDone; n > 0 {
			row.Chunks += n
			b.chunks += n
		}
		b.bookDone, b.bookSize = ev.Current, ev.Total
	case StageSaving:
		row.State = TopicSaving
		b.file = ""
	}
}

// switchTo returns the row for id, closing the previously active topic. Lock held.
func (b *Board) switchTo(id string) *TopicProgress {
	if b.active != id {
		if prev, ok := b.rows[b.active]; ok {
			prev.State = TopicDone
		}
		b.active = id
		b.bookDone, b.bookSize = 0, 0
	}
	row, ok := b.rows[id]
	if !ok {
		row = &TopicProgress{ID: id}
		b.rows[id] = row
		b.order = append(b.order, id)
	}
	return row
}

// Fail records an error or warning against the active topic.
func (b *Board) Fail(ev ErrorEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ev.IsWarn {
		b.warnings = append(b.warnings, ev)
		return
	}
	b.errors = append(b.errors, ev)
	if row, ok := b.rows[b.active]; ok {
		row.Failed++
	}
}

// Snapshot copies the current board state.
func (b *Board) Snapshot() BoardSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	topics := make([]TopicProgress, 0, len(b.order))
	for _, id := range b.order {
		topics = append(topics, *b.rows[id])
	}
	return BoardSnapshot{
		Stage:     b.stage,
		Message:   b.message,
		Topic:     b.active,
		File:      b.file,
		BookDone:  b.bookDone,
		BookSize:  b.bookSize,
		Topics:    topics,
		Chunks:    b.chunks,
		Elapsed:   time.Since(b.started),
		ErrCount:  len(b.errors),
		WarnCount: len(b.warnings),
	}
}

// Errors returns the recorded errors.
func (b *Board) Errors() []ErrorEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]ErrorEvent(nil), b.errors...)
}

// Warnings returns the recorded warnings.
func (b *Board) Warnings() []ErrorEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]ErrorEvent(nil), b.warnings...)
}

// Current returns the active topic's row, if any.
func (s BoardSnapshot) Current() (TopicProgress, bool) {
	for _, t := range s.Topics {
		if t.ID == s.Topic {
			return t, true
		}
	}
	return TopicProgress{}, false
}

// Fraction is how far the active topic is, counting the open book's chunks.
func (s BoardSnapshot) Fraction() float64 {
	row, ok := s.Current()
	if !ok || row.Books == 0 {
		return 0
	}
	done := float64(row.Read - 1)
	if s.BookSize > 0 {
		done += float64(s.BookDone) / float64(s.BookSize)
	}
	if done < 0 {
		done = 0
	}
	return min(done/float64(row.Books), 1)
}

// Done counts topics the run has finished with.
func (s BoardSnapshot) Done() int {
	n := 0
	for _, t := range s.Topics {
		if t.State == TopicDone {
			n++
		}
	}
	return n
}

// Rate is chunks embedded per second since the run started.
func (s BoardSnapshot) Rate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Chunks) / s.Elapsed.Seconds()
}
