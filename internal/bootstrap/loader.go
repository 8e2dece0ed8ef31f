package bootstrap

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Loader serves bootstrap file contents to the system prompt builder.
// Reads are cached; Watch starts an fsnotify watcher on the workspace that
// drops the cache entry when a bootstrap file changes, so promoter or user
// edits take effect on the next message without a restart.
type Loader struct {
	workspace string

	mu    sync.RWMutex
	cache map[string]string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewLoader returns a Loader over the given workspace. Call Watch to enable
// cache invalidation; without it the Loader caches until Invalidate.
func NewLoader(workspace string) *Loader {
	return &Loader{
		workspace: workspace,
		cache:     make(map[string]string),
	}
}

// Watch starts watching the workspace for bootstrap file changes.
func (l *Loader) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(l.workspace); err != nil {
		w.Close()
		return err
	}
	l.watcher = w
	l.done = make(chan struct{})
	go l.run()
	return nil
}

func (l *Loader) run() {
	for {
		select {
		case ev, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(ev.Name)
			if !isBootstrapFile(name) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			l.Invalidate(name)
			slog.Debug("bootstrap file changed", "file", name, "op", ev.Op.String())
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("bootstrap watcher error", "error", err)
		case <-l.done:
			return
		}
	}
}

// Close stops the watcher. Safe to call when Watch never ran.
func (l *Loader) Close() error {
	if l.watcher == nil {
		return nil
	}
	close(l.done)
	return l.watcher.Close()
}

// Content returns the named bootstrap file's content, "" when the file is
// absent. Results are cached until the file changes on disk.
func (l *Loader) Content(name string) string {
	l.mu.RLock()
	content, ok := l.cache[name]
	l.mu.RUnlock()
	if ok {
		return content
	}

	data, err := os.ReadFile(filepath.Join(l.workspace, name))
	if err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to read bootstrap file", "file", name, "error", err)
	}
	content = string(data)

	l.mu.Lock()
	l.cache[name] = content
	l.mu.Unlock()
	return content
}

// Invalidate drops the cached content for one file.
func (l *Loader) Invalidate(name string) {
	l.mu.Lock()
	delete(l.cache, name)
	l.mu.Unlock()
}

func isBootstrapFile(name string) bool {
	return contains(templateFiles, name)
}
