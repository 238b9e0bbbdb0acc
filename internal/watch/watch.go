// Package watch turns file system notifications under a project root into
// debounced coordinator schedules.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jward/cxxindex/internal/discover"
)

// DefaultDebounce is the quiet period before changes are flushed.
const DefaultDebounce = 200 * time.Millisecond

// Sink receives flushed changes. *indexer.Coordinator implements it.
type Sink interface {
	Schedule(paths ...string)
	Remove(paths ...string)
}

// Watcher watches a tree recursively.
type Watcher struct {
	root  string
	match *discover.Matcher
	fw    *fsnotify.Watcher
	sink  Sink
	delay time.Duration
	log   *slog.Logger

	mu      sync.Mutex
	pending map[string]bool // path -> removed
	timer   *time.Timer
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.delay = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// New starts watching every directory under root that discovery would
// not skip.
func New(root string, sink Sink, opts ...Option) (*Watcher, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", root, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", root, err)
	}
	w := &Watcher{
		root:    root,
		match:   discover.NewMatcher(root),
		fw:      fw,
		sink:    sink,
		delay:   DefaultDebounce,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		pending: make(map[string]bool),
	}
	for _, o := range opts {
		o(w)
	}
	if _, err := w.addTree(root); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

// addTree watches dir and its subdirectories and returns the relevant
// files found in them.
func (w *Watcher) addTree(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			if discover.Relevant(path) && !w.match.Skip(path, false) {
				files = append(files, path)
			}
			return nil
		}
		if path != w.root && w.match.Skip(path, true) {
			return filepath.SkipDir
		}
		if err := w.fw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
	return files, err
}

// Run dispatches notifications until ctx ends, then flushes what is
// pending.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.Flush()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.log.Warn("watch queue overflowed, rescanning", "err", err)
				w.rescan()
				continue
			}
			w.log.Warn("watch error", "err", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	switch {
	case ev.Has(fsnotify.Create):
		if isDir(path) {
			if w.match.Skip(path, true) {
				return
			}
			files, err := w.addTree(path)
			if err != nil {
				w.log.Warn("watch new directory", "file", path, "err", err)
			}
			for _, f := range files {
				w.note(f, false)
			}
			return
		}
		w.noteFile(path, false)
	case ev.Has(fsnotify.Write):
		w.noteFile(path, false)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.noteFile(path, true)
	}
}

func (w *Watcher) noteFile(path string, removed bool) {
	if !discover.Relevant(path) || w.match.Skip(path, false) {
		return
	}
	w.note(path, removed)
}

// note records the latest change of path and restarts the quiet period.
func (w *Watcher) note(path string, removed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[path] = removed
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, w.Flush)
}

// Flush hands pending changes to the sink now.
func (w *Watcher) Flush() {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	var changed, removed []string
	for p, rm := range w.pending {
		if rm {
			removed = append(removed, p)
		} else {
			changed = append(changed, p)
		}
	}
	w.pending = make(map[string]bool)
	w.mu.Unlock()

	sort.Strings(changed)
	sort.Strings(removed)
	if len(removed) > 0 {
		w.log.Debug("files removed", "count", len(removed))
		w.sink.Remove(removed...)
	}
	if len(changed) > 0 {
		w.log.Debug("files changed", "count", len(changed))
		w.sink.Schedule(changed...)
	}
}

// rescan schedules every relevant file after lost notifications. Unchanged
// content is a no-op for the coordinator.
func (w *Watcher) rescan() {
	files, err := w.addTree(w.root)
	if err != nil {
		w.log.Warn("rescan", "err", err)
	}
	for _, f := range files {
		w.note(f, false)
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.fw.Close()
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
