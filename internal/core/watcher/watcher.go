package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"migrator/internal/core/ports"
	"migrator/internal/shared/observability"
	"migrator/internal/shared/util"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
)

var _ ports.FileWatcher = (*Watcher)(nil)

// Watcher fans fsnotify events out to per-file subscribers. Parent directories
// are watched rather than files so that atomic saves are seen.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	debounce  time.Duration
	include   glob.Glob
	limiter   *util.Limiter

	mu     sync.Mutex
	subs   map[string]map[uint64]func(string)
	dirs   map[string]int
	nextID uint64

	pending   map[string]struct{}
	pendingMu sync.Mutex
	timer     *time.Timer

	callbackMu sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	closeOnce  sync.Once
}

// NewWatcher creates a watcher. include is a glob matched against file base
// names; an empty pattern matches everything. limiter throttles callbacks and
// may be nil.
func NewWatcher(debounce time.Duration, include string, limiter *util.Limiter) (*Watcher, error) {
	var compiled glob.Glob
	if include != "" {
		g, err := glob.Compile(include)
		if err != nil {
			return nil, err
		}
		compiled = g
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		fsWatcher: fsw,
		debounce:  debounce,
		include:   compiled,
		limiter:   limiter,
		subs:      make(map[string]map[uint64]func(string)),
		dirs:      make(map[string]int),
		pending:   make(map[string]struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	go w.run()
	return w, nil
}

// Subscribe calls fn with the cleaned absolute path after path changes.
func (w *Watcher) Subscribe(path string, fn func(string)) (func(), error) {
	if fn == nil {
		return nil, os.ErrInvalid
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(abs)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.dirs[dir] == 0 {
		if err := w.fsWatcher.Add(dir); err != nil {
			return nil, err
		}
	}
	w.dirs[dir]++

	w.nextID++
	id := w.nextID
	if w.subs[abs] == nil {
		w.subs[abs] = make(map[uint64]func(string))
	}
	w.subs[abs][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() { w.unsubscribe(abs, dir, id) })
	}, nil
}

func (w *Watcher) unsubscribe(path, dir string, id uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if subs, ok := w.subs[path]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(w.subs, path)
		}
	}

	w.dirs[dir]--
	if w.dirs[dir] <= 0 {
		delete(w.dirs, dir)
		if err := w.fsWatcher.Remove(dir); err != nil && w.ctx.Err() == nil {
			slog.Debug("failed to remove directory watch", "path", dir, "error", err)
		}
	}
}

// Subscriptions returns the number of watched files.
func (w *Watcher) Subscriptions() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.subs)
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			observability.WatcherEventsTotal.Inc()

			if w.include != nil && !w.include.Match(filepath.Base(event.Name)) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}

			path := filepath.Clean(event.Name)
			w.mu.Lock()
			_, watched := w.subs[path]
			w.mu.Unlock()
			if watched {
				w.scheduleChange(path)
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			slog.Error("watcher error", "error", err)

		case <-w.ctx.Done():
			return
		}
	}
}

func (w *Watcher) scheduleChange(path string) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	w.pending[path] = struct{}{}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flushChanges)
}

func (w *Watcher) flushChanges() {
	w.pendingMu.Lock()
	paths := make([]string, 0, len(w.pending))
	for path := range w.pending {
		paths = append(paths, path)
	}
	w.pending = make(map[string]struct{})
	w.pendingMu.Unlock()

	w.callbackMu.Lock()
	defer w.callbackMu.Unlock()

	for _, path := range paths {
		if err := w.limiter.Wait(w.ctx); err != nil {
			return
		}

		w.mu.Lock()
		fns := make([]func(string), 0, len(w.subs[path]))
		for _, fn := range w.subs[path] {
			fns = append(fns, fn)
		}
		w.mu.Unlock()

		for _, fn := range fns {
			fn(path)
		}
	}
}

func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.cancel()
		w.pendingMu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.pendingMu.Unlock()
		err = w.fsWatcher.Close()
	})
	return err
}
