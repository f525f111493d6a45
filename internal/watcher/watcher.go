// Package watcher keeps an index in sync with directories on disk using fsnotify. Changes are
// debounced into batches for the ingestion pipeline; removals forget the file's document.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/shiori/internal/ingest"
	"github.com/hyperjump/shiori/internal/loader"
)

const DefaultDebounce = 400 * time.Millisecond

// Sink receives the watcher's work. *ingest.Pipeline implements it.
type Sink interface {
	Run(ctx context.Context, user string, uris []string) (*ingest.Report, error)
	Forget(ctx context.Context, user, uri string) error
}

// Config selects what is watched.
type Config struct {
	Directories []string
	Extensions  []string
	Recursive   bool
	User        string
	Debounce    time.Duration
}

// Watcher watches directories and forwards file changes to a Sink.
type Watcher struct {
	sink    Sink
	cfg     Config
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	flushes sync.WaitGroup

	done     chan struct{}
	stopOnce sync.Once
	logger   *zap.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for watcher events.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// New returns a watcher over cfg.Directories. Call Start to begin watching.
func New(sink Sink, cfg Config, opts ...Option) *Watcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	roots := make([]string, 0, len(cfg.Directories))
	for _, d := range cfg.Directories {
		if abs, err := filepath.Abs(d); err == nil {
			d = abs
		}
		roots = append(roots, filepath.Clean(d))
	}
	cfg.Directories = roots
	w := &Watcher{
		sink:    sink,
		cfg:     cfg,
		pending: make(map[string]struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start adds the watches, creating missing roots, and processes events until ctx is
// cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fw
	for _, root := range w.cfg.Directories {
		if err := os.MkdirAll(root, 0o755); err != nil {
			_ = fw.Close()
			return err
		}
		if err := w.addTree(root); err != nil {
			_ = fw.Close()
			return err
		}
	}
	if w.logger != nil {
		w.logger.Info("watching directories",
			zap.Strings("roots", w.cfg.Directories),
			zap.Strings("extensions", w.cfg.Extensions),
			zap.Bool("recursive", w.cfg.Recursive))
	}
	go w.run(ctx)
	return nil
}

// Directories returns the watched roots.
func (w *Watcher) Directories() []string {
	return append([]string(nil), w.cfg.Directories...)
}

// SyncExisting ingests every matching file already present under the roots.
func (w *Watcher) SyncExisting(ctx context.Context) (*ingest.Report, error) {
	paths, err := ingest.Expand(w.cfg.Directories, w.cfg.Extensions, w.cfg.Recursive)
	if err != nil {
		return nil, err
	}
	return w.sink.Run(ctx, w.cfg.User, paths)
}

// Stop releases the fsnotify watcher and waits for an in-flight batch to finish.
// Pending, not yet flushed changes are dropped.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.pending = make(map[string]struct{})
		w.mu.Unlock()
		if w.watcher != nil {
			_ = w.watcher.Close()
		}
	})
	w.flushes.Wait()
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if !w.underRoot(path) {
		return
	}
	if w.logger != nil {
		w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	}
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		if !loader.ExtensionAllowed(path, w.cfg.Extensions) {
			return
		}
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		if err := w.sink.Forget(ctx, w.cfg.User, path); err != nil && w.logger != nil {
			w.logger.Warn("failed to forget file", zap.String("path", path), zap.Error(err))
		}
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			w.handleNewDirectory(path)
			return
		}
		if loader.ExtensionAllowed(path, w.cfg.Extensions) {
			w.enqueue(ctx, path)
		}
	}
}

// handleNewDirectory watches a directory that appeared under a root and queues the files
// already inside it.
func (w *Watcher) handleNewDirectory(dir string) {
	if w.cfg.Recursive {
		if err := w.addTree(dir); err != nil && w.logger != nil {
			w.logger.Warn("failed to watch directory", zap.String("path", dir), zap.Error(err))
		}
	}
	paths, err := ingest.Expand([]string{dir}, w.cfg.Extensions, w.cfg.Recursive)
	if err != nil {
		return
	}
	for _, p := range paths {
		w.enqueue(context.Background(), p)
	}
}

func (w *Watcher) addTree(root string) error {
	if !w.cfg.Recursive {
		return w.watcher.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// enqueue adds path to the pending batch and restarts the debounce timer.
func (w *Watcher) enqueue(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.done:
		return
	default:
	}
	w.pending[path] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.cfg.Debounce, func() { w.flush(ctx) })
}

func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	w.flushes.Add(1)
	w.mu.Unlock()
	defer w.flushes.Done()

	sort.Strings(paths)
	report, err := w.sink.Run(ctx, w.cfg.User, paths)
	if w.logger == nil {
		return
	}
	if err != nil {
		w.logger.Warn("watcher batch interrupted", zap.Error(err))
		return
	}
	w.logger.Info("watcher batch ingested",
		zap.Int("files", len(paths)),
		zap.Int("indexed", report.Indexed),
		zap.Int("failed", report.Failed))
}

func (w *Watcher) underRoot(path string) bool {
	for _, root := range w.cfg.Directories {
		if root == path || inDir(root, path) {
			return true
		}
	}
	return false
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
