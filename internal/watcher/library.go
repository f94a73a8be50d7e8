package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Aman-CERP/shelf/internal/manifest"
	"github.com/Aman-CERP/shelf/internal/scanner"
)

// Watcher watches a library tree and reports settled topics.
type Watcher struct {
	fsWatcher      *fsnotify.Watcher
	debouncer      *Debouncer
	allowed        map[string]bool
	changes        chan TopicChange
	errors         chan error
	stopCh         chan struct{}
	ready          chan struct{}
	readyOnce      sync.Once
	rootPath       string
	dirs           map[string]bool
	opts           Options
	mu             sync.RWMutex
	stopped        bool
	droppedChanges atomic.Uint64
}

// New creates a watcher. The library is not touched until Start.
func New(opts Options) (*Watcher, error) {
	opts = opts.WithDefaults()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &Watcher{
		fsWatcher: fsw,
		debouncer: NewDebouncerSize(opts.Debounce, opts.EventBufferSize),
		allowed:   scanner.AllowedExtensions(opts.Extensions),
		changes:   make(chan TopicChange, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		ready:     make(chan struct{}),
		dirs:      make(map[string]bool),
		opts:      opts,
	}, nil
}

// Start watches root recursively and blocks until Stop is called or ctx is
// canceled.
func (w *Watcher) Start(ctx context.Context, root string) error {
	absPath, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("stat library root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("library root is not a directory: %s", absPath)
	}

	w.mu.Lock()
	w.rootPath = absPath
	w.mu.Unlock()

	go w.forwardChanges(ctx)

	if err := w.addRecursive(absPath, false); err != nil {
		return fmt.Errorf("add directories to watcher: %w", err)
	}
	w.readyOnce.Do(func() { close(w.ready) })

	slog.Info("library_watch_started",
		slog.String("root", absPath),
		slog.Duration("debounce", w.opts.Debounce),
		slog.Int("folders", w.watchedDirs()))

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

// Ready is closed once every existing folder is being watched.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// handleEvent filters an fsnotify event and hands it to the debouncer.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	relPath, err := filepath.Rel(w.rootPath, event.Name)
	if err != nil {
		return
	}
	relPath = filepath.ToSlash(relPath)
	if relPath == "." || w.ignored(relPath) {
		return
	}

	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 && w.forgetDir(event.Name) {
		// A folder went away; its own topic changes and the reindexer
		// sorts out whether it was a topic or a parent.
		w.debouncer.Add(FileEvent{
			Path:      relPath,
			Topic:     manifest.TopicID(relPath),
			Operation: opFor(event.Op),
			IsDir:     true,
			Timestamp: time.Now(),
		})
		return
	}

	info, statErr := os.Stat(event.Name)
	if statErr == nil && info.IsDir() {
		if event.Op&fsnotify.Create != 0 {
			// Books may land in a new folder before it is watched.
			if err := w.addRecursive(event.Name, true); err != nil {
				w.emitError(err)
			}
		}
		return
	}

	w.addFile(relPath, opFor(event.Op))
}

// addFile queues a book event. Files directly under the root belong to no topic.
func (w *Watcher) addFile(relPath string, op Operation) {
	if op < 0 || !w.allowed[strings.ToLower(path.Ext(relPath))] {
		return
	}
	dir := path.Dir(relPath)
	if dir == "." {
		return
	}
	w.debouncer.Add(FileEvent{
		Path:      relPath,
		Topic:     manifest.TopicID(dir),
		Operation: op,
		Timestamp: time.Now(),
	})
}

// opFor maps an fsnotify op. Chmod-only events yield -1.
func opFor(op fsnotify.Op) Operation {
	switch {
	case op&fsnotify.Create != 0:
		return OpCreate
	case op&fsnotify.Write != 0:
		return OpModify
	case op&fsnotify.Remove != 0:
		return OpDelete
	case op&fsnotify.Rename != 0:
		return OpRename
	default:
		return -1
	}
}

// ignored reports whether relPath lies in a hidden folder, the data
// directory or an excluded folder, or is itself hidden.
func (w *Watcher) ignored(relPath string) bool {
	parts := strings.Split(relPath, "/")
	for i, part := range parts {
		if strings.HasPrefix(part, ".") {
			return true
		}
		if i == 0 && part == w.opts.DataDir {
			return true
		}
	}
	for i := 1; i <= len(parts); i++ {
		if scanner.ExcludedDir(strings.Join(parts[:i], "/"), w.opts.ExcludePatterns) {
			return true
		}
	}
	return false
}

// addRecursive watches dir and its subfolders. With announce set, books
// already inside are reported as created.
func (w *Watcher) addRecursive(dir string, announce bool) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			slog.Warn("skipping unreadable path in watch",
				slog.String("path", p),
				slog.String("error", err.Error()))
			return nil
		}

		relPath, _ := filepath.Rel(w.rootPath, p)
		relPath = filepath.ToSlash(relPath)
		if relPath != "." && w.ignored(relPath) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.IsDir() {
			if announce {
				w.addFile(relPath, OpCreate)
			}
			return nil
		}
		if err := w.fsWatcher.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", relPath, err)
		}
		w.mu.Lock()
		w.dirs[p] = true
		w.mu.Unlock()
		return nil
	})
}

// forgetDir drops a watched folder. It reports whether p was one.
func (w *Watcher) forgetDir(p string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.dirs[p] {
		return false
	}
	prefix := p + string(filepath.Separator)
	for dir := range w.dirs {
		if dir == p || strings.HasPrefix(dir, prefix) {
			delete(w.dirs, dir)
		}
	}
	return true
}

func (w *Watcher) watchedDirs() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.dirs)
}

// forwardChanges forwards settled topics to the changes channel.
func (w *Watcher) forwardChanges(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case change, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			w.emitChange(change)
		}
	}
}

// emitChange sends a change to the output channel.
func (w *Watcher) emitChange(change TopicChange) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.stopped {
		return
	}

	select {
	case w.changes <- change:
	default:
		count := w.droppedChanges.Add(1)
		slog.Warn("change buffer full, dropping topic change",
			slog.String("topic", change.Topic),
			slog.Uint64("total_dropped_changes", count))
	}
}

// DroppedChanges returns the number of topic changes dropped due to buffer overflow.
func (w *Watcher) DroppedChanges() uint64 {
	return w.droppedChanges.Load()
}

// emitError sends an error to the error channel.
func (w *Watcher) emitError(err error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.stopped {
		return
	}

	select {
	case w.errors <- err:
	default:
	}
}

// Stop stops the watcher and releases resources. Safe to call multiple times.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}

	w.stopped = true
	close(w.stopCh)
	w.debouncer.Stop()
	_ = w.fsWatcher.Close()

	close(w.changes)
	close(w.errors)
	return nil
}

// Changes returns the channel of settled topics.
func (w *Watcher) Changes() <-chan TopicChange {
	return w.changes
}

// Errors returns the channel of non-fatal watcher errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// RootPath returns the root path being watched.
func (w *Watcher) RootPath() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.rootPath
}
