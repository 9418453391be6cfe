// Package watch reloads configuration and drops diagnostics of deleted
// files by following filesystem notifications.
package watch

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hugo-lorenzo-mato/assert-lsp/internal/logging"
)

const defaultDebounce = 100 * time.Millisecond

// Options configures a Watcher.
type Options struct {
	// ConfigFiles are the config paths whose creation, change or removal
	// calls OnConfigChange.
	ConfigFiles    []string
	OnConfigChange func()
	// OnRemove receives files and directories that disappeared from a
	// watched directory.
	OnRemove func(path string)
	Debounce time.Duration
	Logger   *logging.Logger
}

// Watcher follows a set of directories. Bursts of events are debounced:
// a config rewrite triggers one reload, and a file replaced by an atomic
// save is not reported as removed.
type Watcher struct {
	fs       *fsnotify.Watcher
	opts     Options
	debounce time.Duration
	logger   *logging.Logger

	mu      sync.Mutex
	closed  bool
	dirs    map[string]bool
	configs map[string]bool
	reload  *time.Timer
	removed map[string]*time.Timer

	done chan struct{}
	wg   sync.WaitGroup
}

// New starts a watcher. Config directories that do not exist yet are
// skipped.
func New(opts Options) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	w := &Watcher{
		fs:       fw,
		opts:     opts,
		debounce: opts.Debounce,
		logger:   opts.Logger,
		dirs:     make(map[string]bool),
		configs:  make(map[string]bool),
		removed:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
	for _, p := range opts.ConfigFiles {
		p = filepath.Clean(p)
		w.configs[p] = true
		if err := w.Add(filepath.Dir(p)); err != nil {
			w.logger.Debug("config directory not watched", "dir", filepath.Dir(p), "error", err)
		}
	}

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Add watches dir. Adding a directory twice is a no-op.
func (w *Watcher) Add(dir string) error {
	dir = filepath.Clean(dir)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("watcher closed")
	}
	if w.dirs[dir] {
		return nil
	}
	if err := w.fs.Add(dir); err != nil {
		return err
	}
	w.dirs[dir] = true
	return nil
}

// AddFile watches the directory containing path.
func (w *Watcher) AddFile(path string) error {
	return w.Add(filepath.Dir(path))
}

// Watched returns the watched directories, sorted.
func (w *Watcher) Watched() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.dirs))
	for d := range w.dirs {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Close stops the watcher. Pending callbacks are dropped.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.reload != nil {
		w.reload.Stop()
	}
	for _, t := range w.removed {
		t.Stop()
	}
	w.mu.Unlock()

	close(w.done)
	err := w.fs.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("filesystem watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	name := filepath.Clean(ev.Name)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	if w.configs[name] {
		if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
			w.scheduleReload()
		}
		return
	}

	switch {
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		if ev.Op&fsnotify.Remove != 0 {
			// fsnotify drops the watch of a removed directory itself.
			delete(w.dirs, name)
		}
		w.scheduleRemove(name)
	case ev.Op&fsnotify.Create != 0:
		if t, ok := w.removed[name]; ok {
			t.Stop()
			delete(w.removed, name)
		}
	}
}

// scheduleReload must be called with mu held.
func (w *Watcher) scheduleReload() {
	if w.opts.OnConfigChange == nil {
		return
	}
	if w.reload != nil {
		w.reload.Stop()
	}
	w.reload = time.AfterFunc(w.debounce, func() {
		if w.isClosed() {
			return
		}
		w.logger.Info("configuration changed, reloading")
		w.opts.OnConfigChange()
	})
}

// scheduleRemove must be called with mu held.
func (w *Watcher) scheduleRemove(path string) {
	if w.opts.OnRemove == nil {
		return
	}
	if t, ok := w.removed[path]; ok {
		t.Stop()
	}
	w.removed[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.removed, path)
		closed := w.closed
		w.mu.Unlock()
		if closed {
			return
		}
		if _, err := os.Lstat(path); !errors.Is(err, os.ErrNotExist) {
			return
		}
		w.logger.Debug("file removed", "path", path)
		w.opts.OnRemove(path)
	})
}

func (w *Watcher) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}
