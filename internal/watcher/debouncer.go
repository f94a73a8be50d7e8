package watcher

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Debouncer groups events by topic and reports a topic once no event for it
// arrived during the window. Each topic has its own timer, so a busy topic
// never delays a quiet one.
//
// Events for the same path within a window are merged:
//   - CREATE + MODIFY = CREATE (file is still new)
//   - CREATE + DELETE = nothing (file never really existed)
//   - MODIFY + DELETE = DELETE (file is gone)
//   - DELETE + CREATE = MODIFY (file was replaced)
//
// A topic whose events all cancel out is not reported.
type Debouncer struct {
	window  time.Duration
	topics  map[string]*topicBatch
	mu      sync.Mutex
	output  chan TopicChange
	stopped bool
}

type topicBatch struct {
	pending map[string]*pendingEvent
	timer   *time.Timer
	seq     uint64
}

type pendingEvent struct {
	event   FileEvent
	firstOp Operation
}

// NewDebouncer creates a debouncer with the given quiet window.
func NewDebouncer(window time.Duration) *Debouncer {
	return NewDebouncerSize(window, 64)
}

// NewDebouncerSize creates a debouncer whose output holds size changes.
func NewDebouncerSize(window time.Duration, size int) *Debouncer {
	return &Debouncer{
		window: window,
		topics: make(map[string]*topicBatch),
		output: make(chan TopicChange, size),
	}
}

// Add adds an event and restarts the quiet window of its topic.
func (d *Debouncer) Add(event FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	batch, ok := d.topics[event.Topic]
	if !ok {
		batch = &topicBatch{pending: make(map[string]*pendingEvent)}
		d.topics[event.Topic] = batch
	}

	if existing, ok := batch.pending[event.Path]; ok {
		if coalesced := coalesce(existing, event); coalesced == nil {
			delete(batch.pending, event.Path)
		} else {
			existing.event = *coalesced
		}
	} else {
		batch.pending[event.Path] = &pendingEvent{event: event, firstOp: event.Operation}
	}

	batch.seq++
	if batch.timer != nil {
		batch.timer.Stop()
	}
	topic, seq := event.Topic, batch.seq
	batch.timer = time.AfterFunc(d.window, func() {
		d.flush(topic, seq)
	})
}

// coalesce merges two events for one path. Nil means they cancel out.
func coalesce(existing *pendingEvent, next FileEvent) *FileEvent {
	switch {
	case existing.firstOp == OpCreate && next.Operation == OpModify:
		return &existing.event
	case existing.firstOp == OpCreate && next.Operation.gone():
		return nil
	case existing.firstOp.gone() && next.Operation == OpCreate:
		result := next
		result.Operation = OpModify
		return &result
	default:
		return &next
	}
}

// flush emits the topic if no event arrived since the timer for seq was set.
func (d *Debouncer) flush(topic string, seq uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	batch, ok := d.topics[topic]
	if d.stopped || !ok || batch.seq != seq {
		return
	}
	delete(d.topics, topic)
	if len(batch.pending) == 0 {
		return
	}

	events := make([]FileEvent, 0, len(batch.pending))
	for _, pe := range batch.pending {
		events = append(events, pe.event)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })

	select {
	case d.output <- TopicChange{Topic: topic, Events: events}:
	default:
		slog.Warn("debouncer output full, dropping topic change",
			slog.String("topic", topic),
			slog.Int("events", len(events)))
	}
}

// Pending returns the topics waiting for their window to close.
func (d *Debouncer) Pending() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	topics := make([]string, 0, len(d.topics))
	for topic := range d.topics {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Output returns the channel of settled topics.
func (d *Debouncer) Output() <-chan TopicChange {
	return d.output
}

// Stop drops pending events and closes the output channel.
// Safe to call multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.stopped = true
	for _, batch := range d.topics {
		if batch.timer != nil {
			batch.timer.Stop()
		}
	}
	d.topics = nil
	close(d.output)
}
