package watcher

import (
	"fmt"
	"strings"
	"time"
)

// DefaultDebounce is the quiet window a topic needs before it is reported.
const DefaultDebounce = 5 * time.Second

// Operation represents a file system operation type.
type Operation int

const (
	// OpCreate indicates a new book or folder was created.
	OpCreate Operation = iota
	// OpModify indicates an existing book was written.
	OpModify
	// OpDelete indicates a book or folder was deleted.
	OpDelete
	// OpRename indicates a book or folder was moved away.
	OpRename
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// gone reports whether the path no longer exists after op.
func (op Operation) gone() bool {
	return op == OpDelete || op == OpRename
}

// FileEvent is a filtered file system event.
type FileEvent struct {
	// Path is slash separated and relative to the library root.
	Path string

	// Topic is the id of the topic folder the event belongs to.
	Topic string

	Operation Operation
	IsDir     bool
	Timestamp time.Time
}

// TopicChange reports a topic whose folder settled after one or more events.
type TopicChange struct {
	Topic string

	// Events are the coalesced events of the window, sorted by path.
	Events []FileEvent
}

// Paths returns the distinct paths touched in the window.
func (c TopicChange) Paths() []string {
	paths := make([]string, 0, len(c.Events))
	for _, e := range c.Events {
		paths = append(paths, e.Path)
	}
	return paths
}

// Options configures the watcher behavior.
type Options struct {
	// Debounce is the per-topic quiet window. Default: 5s
	Debounce time.Duration

	// EventBufferSize is the size of the change channel buffer.
	// Default: 64
	EventBufferSize int

	// Extensions narrows the watched book formats (empty = all supported).
	Extensions []string

	// DataDir is the data directory name to ignore. Default: ".shelf"
	DataDir string

	// ExcludePatterns are folder patterns to ignore, e.g. "_inbox/**".
	ExcludePatterns []string
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		Debounce:        DefaultDebounce,
		EventBufferSize: 64,
		DataDir:         ".shelf",
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.Debounce == 0 {
		o.Debounce = defaults.Debounce
	}
	if o.EventBufferSize == 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	if o.DataDir == "" {
		o.DataDir = defaults.DataDir
	}
	return o
}

// ParseDebounce parses a configured window such as "5s". Empty yields the default.
func ParseDebounce(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultDebounce, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid debounce %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("debounce must be positive, got %s", s)
	}
	return d, nil
}
