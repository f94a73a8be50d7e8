package search

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Aman-CERP/shelf/internal/store"
)

// Loader loads topic indices on first use and caches them. Concurrent first
// loads of one topic share a single disk read.
type Loader struct {
	dataDir  string
	m        int
	efSearch int

	group singleflight.Group

	mu     sync.RWMutex
	topics map[string]*store.TopicIndex
	// gen is bumped by Invalidate so a load that started earlier does not
	// repopulate the cache with the old index.
	gen   map[string]uint64
	loads int
}

// NewLoader creates a loader for the indices under dataDir.
func NewLoader(dataDir string, m, efSearch int) *Loader {
	return &Loader{
		dataDir:  dataDir,
		m:        m,
		efSearch: efSearch,
		topics:   make(map[string]*store.TopicIndex),
		gen:      make(map[string]uint64),
	}
}

// Get returns the index of topicID, loading it on first use.
func (l *Loader) Get(ctx context.Context, topicID string) (*store.TopicIndex, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	idx, ok := l.topics[topicID]
	gen := l.gen[topicID]
	l.mu.RUnlock()
	if ok {
		return idx, nil
	}

	ch := l.group.DoChan(topicID, func() (any, error) {
		l.mu.RLock()
		cached, ok := l.topics[topicID]
		l.mu.RUnlock()
		if ok {
			return cached, nil
		}

		start := time.Now()
		idx, err := store.LoadTopicIndex(store.Dir(l.dataDir, topicID), l.m, l.efSearch)
		if err != nil {
			return nil, err
		}

		l.mu.Lock()
		l.loads++
		if l.gen[topicID] == gen {
			l.topics[topicID] = idx
		}
		l.mu.Unlock()

		slog.Debug("topic_index_loaded",
			slog.String("topic", topicID),
			slog.Int("chunks", idx.Len()),
			slog.Duration("duration", time.Since(start)))
		return idx, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*store.TopicIndex), nil
	}
}

// Invalidate drops cached topics so the next Get reads them from disk.
func (l *Loader) Invalidate(topicIDs ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range topicIDs {
		delete(l.topics, id)
		l.gen[id]++
		l.group.Forget(id)
	}
}

// Loaded returns the ids of the cached topics, sorted.
func (l *Loader) Loaded() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.topics))
	for id := range l.topics {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Loads returns how many times an index was read from disk.
func (l *Loader) Loads() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loads
}
