// Package watcher auto-ingests files dropped into the upload directory.
// Each immediate subdirectory of the root is a project; files created or
// modified inside one are debounced and handed to the ingest callback,
// removed files to the remove callback.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/ragbase/ragbase/internal/models"
)

const defaultDebounce = 500 * time.Millisecond

// IngestFunc receives a settled file: the project subdirectory name, the
// filename within it, and the absolute path.
type IngestFunc func(projectKey, fileID, path string)

// RemoveFunc receives a deleted file.
type RemoveFunc func(projectKey, fileID string)

// Watcher watches the upload root and its project subdirectories.
type Watcher struct {
	root       string
	extensions []string
	onIngest   IngestFunc
	onRemove   RemoveFunc
	debounce   time.Duration
	logger     *zap.Logger

	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	timers   map[string]*time.Timer
	started  bool
	done     chan struct{}
	stopOnce sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for event output.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce overrides the settle delay before a written file is ingested.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// New creates a watcher over root. extensions filters which files trigger
// callbacks (empty = all).
func New(root string, extensions []string, onIngest IngestFunc, onRemove RemoveFunc, opts ...Option) *Watcher {
	w := &Watcher{
		root:       filepath.Clean(root),
		extensions: extensions,
		onIngest:   onIngest,
		onRemove:   onRemove,
		debounce:   defaultDebounce,
		logger:     zap.NewNop(),
		timers:     make(map[string]*time.Timer),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. The root is created if missing, and every existing
// project subdirectory is watched. Runs until ctx is cancelled or Stop.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		fsw.Close()
		w.mu.Unlock()
		return err
	}
	if err := fsw.Add(w.root); err != nil {
		fsw.Close()
		w.mu.Unlock()
		return err
	}
	// Watch the project directories that already exist.
	filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() || path == w.root {
			return err
		}
		if !models.ValidProjectKey(d.Name()) {
			return fs.SkipDir
		}
		if addErr := fsw.Add(path); addErr != nil {
			w.logger.Warn("watch project dir failed", zap.String("path", path), zap.Error(addErr))
		}
		return fs.SkipDir
	})
	w.fsw = fsw
	w.started = true
	w.mu.Unlock()

	w.logger.Info("upload watcher started", zap.String("root", w.root))
	go w.run(ctx)
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Warn("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	projectKey, fileID, ok := w.split(path)
	if !ok {
		return
	}

	switch {
	case ev.Op.Has(fsnotify.Create), ev.Op.Has(fsnotify.Write):
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			// A new project directory appeared under the root.
			if fileID == "" {
				w.mu.Lock()
				if w.fsw != nil {
					if err := w.fsw.Add(path); err != nil {
						w.logger.Warn("watch project dir failed", zap.String("path", path), zap.Error(err))
					}
				}
				w.mu.Unlock()
			}
			return
		}
		if fileID != "" && w.matchExtension(path) {
			w.scheduleIngest(projectKey, fileID, path)
		}
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		if fileID == "" {
			return
		}
		w.cancelTimer(path)
		if w.matchExtension(path) && w.onRemove != nil {
			w.onRemove(projectKey, fileID)
		}
	}
}

// split maps an event path to (projectKey, fileID). A path directly under
// the root has an empty fileID (it is a project directory). Paths outside
// the root, nested deeper than one level, or under a directory whose name
// is not a valid project key are ignored.
func (w *Watcher) split(path string) (string, string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", "", false
	}
	parts := strings.Split(rel, string(filepath.Separator))
	switch len(parts) {
	case 1:
		if !models.ValidProjectKey(parts[0]) {
			return "", "", false
		}
		return parts[0], "", true
	case 2:
		if !models.ValidProjectKey(parts[0]) {
			return "", "", false
		}
		return parts[0], parts[1], true
	default:
		return "", "", false
	}
}

func (w *Watcher) matchExtension(path string) bool {
	if len(w.extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range w.extensions {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

// scheduleIngest delays the callback until writes to the file settle.
func (w *Watcher) scheduleIngest(projectKey, fileID, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.logger.Debug("auto-ingesting file",
			zap.String("project", projectKey),
			zap.String("file", fileID),
		)
		if w.onIngest != nil {
			w.onIngest(projectKey, fileID, path)
		}
	})
}

func (w *Watcher) cancelTimer(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
		delete(w.timers, path)
	}
}

// SyncExisting invokes the ingest callback for every matching file already
// present under the root. Call after Start to pick up files dropped while
// the service was down.
func (w *Watcher) SyncExisting() {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		w.logger.Warn("sync existing failed", zap.Error(err))
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		projectKey := entry.Name()
		if !models.ValidProjectKey(projectKey) {
			continue
		}
		dir := filepath.Join(w.root, projectKey)
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			path := filepath.Join(dir, f.Name())
			if w.matchExtension(path) && w.onIngest != nil {
				w.onIngest(projectKey, f.Name(), path)
			}
		}
	}
}

// Stop stops the watcher and cancels pending debounce timers.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.fsw == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	_ = w.fsw.Close()
	w.fsw = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
