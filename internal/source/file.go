package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileReader serves the last contents of a text file. The cache is
// refreshed from fsnotify events while Start runs.
type FileReader struct {
	path    string
	logger  *slog.Logger
	watcher *fsnotify.Watcher

	mu      sync.RWMutex
	content string
	err     error
}

func NewFileReader(path string, logger *slog.Logger) (*FileReader, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	// Editors often replace files on save, so the directory is watched
	// rather than the file.
	dir := filepath.Dir(abs)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch path %s: %w", dir, err)
	}

	r := &FileReader{path: abs, logger: logger, watcher: w}
	r.reload()
	return r, nil
}

func (r *FileReader) Read(context.Context) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.content, r.err
}

// Start applies file events until ctx is cancelled, then releases the
// watcher.
func (r *FileReader) Start(ctx context.Context) error {
	defer r.watcher.Close()

	r.logger.Info("file source started", "path", r.path)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("file source stopped")
			return nil
		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			r.handleEvent(event)
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			if err != nil {
				r.logger.Error("file watcher error", "error", err)
			}
		}
	}
}

func (r *FileReader) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != r.path {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}
	r.logger.Debug("source file changed", "op", event.Op.String())
	r.reload()
}

func (r *FileReader) reload() {
	data, err := os.ReadFile(r.path)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			r.content, r.err = "", nil
			return
		}
		r.err = fmt.Errorf("read %s: %w", r.path, err)
		return
	}
	r.content, r.err = string(data), nil
}
