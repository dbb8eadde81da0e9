// Package watcher reports files dropped into the inbox once they have
// stopped changing.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Handler is called once per settled file.
type Handler func(ctx context.Context, path string)

// DefaultSettleDelay is how long a file must stay unchanged before it is
// handed over.
const DefaultSettleDelay = 2 * time.Second

type Watcher struct {
	dir     string
	settle  time.Duration
	handler Handler
	ignore  func(name string) bool
	initial bool
	logger  *zap.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	stopped bool
	wg      sync.WaitGroup
}

type Option func(*Watcher)

func WithSettleDelay(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.settle = d
		}
	}
}

// WithIgnore skips files whose base name matches.
func WithIgnore(fn func(name string) bool) Option {
	return func(w *Watcher) { w.ignore = fn }
}

// WithInitialScan hands over the files already present when Run starts.
func WithInitialScan(enabled bool) Option {
	return func(w *Watcher) { w.initial = enabled }
}

func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

func New(dir string, handler Handler, opts ...Option) *Watcher {
	w := &Watcher{
		dir:     dir,
		settle:  DefaultSettleDelay,
		handler: handler,
		ignore:  func(name string) bool { return strings.HasPrefix(name, ".") },
		logger:  zap.NewNop(),
		pending: make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches the directory until ctx is done. Handlers still running at
// that point are waited for.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info("Watching inbox", zap.String("dir", w.dir), zap.Duration("settle", w.settle))

	if w.initial {
		w.scan(ctx)
	}

	defer w.drain()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Inbox watcher stopped", zap.String("dir", w.dir))
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Inbox watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	if w.ignore != nil && w.ignore(filepath.Base(ev.Name)) {
		return
	}
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		w.schedule(ctx, ev.Name)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.cancel(ev.Name)
	}
}

func (w *Watcher) scan(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("Failed to scan inbox", zap.String("dir", w.dir), zap.Error(err))
		return
	}
	for _, e := range entries {
		if !e.Type().IsRegular() || (w.ignore != nil && w.ignore(e.Name())) {
			continue
		}
		w.schedule(ctx, filepath.Join(w.dir, e.Name()))
	}
}

// schedule (re)starts the settle timer of path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	if t, ok := w.pending[path]; ok && t.Stop() {
		t.Reset(w.settle)
		return
	}
	// An expired timer may still be waiting for the lock in fire; the new
	// timer replaces it so it finds itself superseded.
	var t *time.Timer
	t = time.AfterFunc(w.settle, func() { w.fire(ctx, path, t) })
	w.pending[path] = t
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) fire(ctx context.Context, path string, t *time.Timer) {
	w.mu.Lock()
	if w.pending[path] != t {
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	if w.stopped || ctx.Err() != nil {
		w.mu.Unlock()
		return
	}
	w.wg.Add(1)
	w.mu.Unlock()
	defer w.wg.Done()

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}
	w.logger.Debug("File settled", zap.String("path", path))
	w.handler(ctx, path)
}

// drain stops pending timers and waits for running handlers.
func (w *Watcher) drain() {
	w.mu.Lock()
	w.stopped = true
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

// Pending returns the number of files waiting to settle.
func (w *Watcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}
