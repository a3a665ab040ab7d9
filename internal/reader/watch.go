package reader

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hearthapp/hearth/internal/infrastructure/logging"
	"github.com/hearthapp/hearth/internal/infrastructure/monitoring"
)

// Event is a filesystem change inside the sandbox, with a root-relative
// path suitable for clients.
type Event struct {
	Op   string `json:"op"` // "create", "write", "remove", "rename"
	Path string `json:"path"`
}

const subscriberBuffer = 16

// Watcher observes the sandbox root recursively and fans change events
// out to subscribers. New directories are watched as they appear. A slow
// subscriber never blocks delivery: its oldest pending event is dropped.
type Watcher struct {
	sandbox *Sandbox
	fsw     *fsnotify.Watcher
	log     *logging.Logger
	metrics *monitoring.Metrics

	mu       sync.Mutex
	subs     map[chan Event]struct{}
	onChange []func()

	done   chan struct{}
	closed sync.Once
}

// NewWatcher creates a watcher covering the sandbox root and all its
// visible subdirectories.
func NewWatcher(sandbox *Sandbox, log *logging.Logger, metrics *monitoring.Metrics) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		sandbox: sandbox,
		fsw:     fsw,
		log:     log,
		metrics: metrics,
		subs:    make(map[chan Event]struct{}),
		done:    make(chan struct{}),
	}
	if err := w.watchTree(sandbox.Root()); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.loop()
	return w, nil
}

// Subscribe registers an event channel. The returned cancel function
// removes the subscription and closes the channel.
func (w *Watcher) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	w.mu.Lock()
	w.subs[ch] = struct{}{}
	w.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.subs, ch)
			w.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// OnChange registers a callback invoked on every event, used to
// invalidate caches.
func (w *Watcher) OnChange(fn func()) {
	w.mu.Lock()
	w.onChange = append(w.onChange, fn)
	w.mu.Unlock()
}

// Close stops the watcher. Subscriber channels are not closed; their
// cancel functions remain valid.
func (w *Watcher) Close() error {
	var err error
	w.closed.Do(func() {
		close(w.done)
		err = w.fsw.Close()
	})
	return err
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.log != nil {
				w.log.Warn("watch error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	rel := w.sandbox.Rel(ev.Name)
	if rel == "" && ev.Name != w.sandbox.Root() {
		return
	}
	if w.sandbox.Hidden(filepath.Base(ev.Name)) {
		return
	}

	// Re-arm on new directories so nested creation stays covered.
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Lstat(ev.Name); err == nil && info.IsDir() {
			if err := w.watchTree(ev.Name); err != nil && w.log != nil {
				w.log.Warn("failed to watch new directory", zap.String("path", rel), zap.Error(err))
			}
		}
	}

	op := opName(ev.Op)
	if op == "" {
		return
	}
	if w.metrics != nil {
		w.metrics.WatchEvents.WithLabelValues(op).Inc()
	}

	event := Event{Op: op, Path: rel}
	w.mu.Lock()
	callbacks := make([]func(), len(w.onChange))
	copy(callbacks, w.onChange)
	for ch := range w.subs {
		select {
		case ch <- event:
		default:
			// Drop the oldest pending event to make room.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
			}
		}
	}
	w.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// watchTree adds dir and every visible subdirectory to the watch set.
func (w *Watcher) watchTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && w.sandbox.Hidden(d.Name()) {
			return filepath.SkipDir
		}
		return w.fsw.Add(p)
	})
}

func opName(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "create"
	case op.Has(fsnotify.Write):
		return "write"
	case op.Has(fsnotify.Remove):
		return "remove"
	case op.Has(fsnotify.Rename):
		return "rename"
	default:
		return ""
	}
}
