package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DirWatcher watches a directory with fsnotify.
type DirWatcher struct {
	fs        *fsnotify.Watcher
	debouncer *Debouncer
	opts      Options

	mu      sync.Mutex
	root    string
	stopCh  chan struct{}
	stopped bool
}

// New creates a watcher. Nothing is watched until Start.
func New(opts Options) (*DirWatcher, error) {
	opts = opts.WithDefaults()
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &DirWatcher{
		fs:        fsw,
		debouncer: NewDebouncer(opts.Debounce, opts.EventBufferSize),
		opts:      opts,
		stopCh:    make(chan struct{}),
	}, nil
}

// Start watches dir and blocks until ctx ends or Stop is called.
func (w *DirWatcher) Start(ctx context.Context, dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", abs)
	}

	if err := w.addDir(abs); err != nil {
		return fmt.Errorf("watch %s: %w", abs, err)
	}
	w.mu.Lock()
	w.root = abs
	w.mu.Unlock()
	slog.Info("watch_started", slog.String("dir", abs), slog.Bool("recursive", w.opts.Recursive))

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watch_error", slog.String("error", err.Error()))
		}
	}
}

func (w *DirWatcher) addDir(root string) error {
	if !w.opts.Recursive {
		return w.fs.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != root && hidden(path) {
			return filepath.SkipDir
		}
		return w.fs.Add(path)
	})
}

func (w *DirWatcher) handle(ev fsnotify.Event) {
	if hidden(ev.Name) {
		return
	}

	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if w.opts.Recursive {
				if err := w.addDir(ev.Name); err != nil {
					slog.Warn("watch_add_failed", slog.String("dir", ev.Name), slog.String("error", err.Error()))
				}
			}
			return
		}
	}

	if w.opts.Filter != nil && !w.opts.Filter(ev.Name) {
		return
	}

	var op Operation
	switch {
	case ev.Op&fsnotify.Create != 0:
		op = OpCreate
	case ev.Op&fsnotify.Write != 0:
		op = OpModify
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		op = OpDelete
	default:
		return
	}
	w.debouncer.Add(FileEvent{Path: ev.Name, Operation: op, Timestamp: time.Now()})
}

// hidden matches dotfiles, which covers editor swap files and office lock
// files such as .~lock.report.docx#.
func hidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

// Events delivers debounced batches. Closed by Stop.
func (w *DirWatcher) Events() <-chan []FileEvent {
	return w.debouncer.Output()
}

// Root is the absolute watched directory, empty until watching has begun.
func (w *DirWatcher) Root() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.root
}

// Stop releases the fsnotify watcher. Safe to call twice.
func (w *DirWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.debouncer.Stop()
	return w.fs.Close()
}
