package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RotatingWriter implements io.Writer with size-based rotation:
// shelf.log -> shelf.log.1 -> shelf.log.2 ... up to maxFiles.
type RotatingWriter struct {
	path     string
	maxSize  int64
	maxFiles int

	mu      sync.Mutex
	file    *os.File
	written int64
}

// NewRotatingWriter opens (or creates) path for appending.
func NewRotatingWriter(path string, maxSizeMB, maxFiles int) (*RotatingWriter, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	if maxFiles <= 0 {
		maxFiles = 1
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &RotatingWriter{
		path:     path,
		maxSize:  int64(maxSizeMB) * 1024 * 1024,
		maxFiles: maxFiles,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

// Write implements io.Writer, rotating first when p would overflow the file.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}

	if w.written > 0 && w.written+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "log rotation failed: %v\n", err)
			if w.file == nil {
				return 0, err
			}
		}
	}

	n, err := w.file.Write(p)
	w.written += int64(n)
	return n, err
}

// Sync flushes the file to disk.
func (w *RotatingWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

// Close closes the underlying file. Safe to call twice.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	w.file = f
	w.written = info.Size()
	return nil
}

// rotate shifts numbered backups up by one, dropping the oldest, then
// reopens an empty log file.
func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	w.file = nil

	_ = os.Remove(w.backupName(w.maxFiles))
	for i := w.maxFiles - 1; i >= 1; i-- {
		src := w.backupName(i)
		if _, err := os.Stat(src); err == nil {
			_ = os.Rename(src, w.backupName(i+1))
		}
	}
	if err := os.Rename(w.path, w.backupName(1)); err != nil && !os.IsNotExist(err) {
		_ = w.open()
		return fmt.Errorf("failed to rotate log file: %w", err)
	}

	return w.open()
}

func (w *RotatingWriter) backupName(n int) string {
	return fmt.Sprintf("%s.%d", w.path, n)
}
