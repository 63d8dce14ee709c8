// Package watch reports new or changed posts in a directory.
package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/RanL703/Blog-2-Tweet-Agent/internal/blog"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// DefaultDebounce is how long a path must stay quiet before it is reported.
const DefaultDebounce = 2 * time.Second

// Watcher emits the path of a post once writes to it settle.
type Watcher struct {
	dir      string
	debounce time.Duration
	log      *zap.Logger

	watcher *fsnotify.Watcher
	events  chan string
	stop    chan struct{}

	mu      sync.Mutex
	seq     uint64
	pending map[string]pending
}

// pending is the armed debounce timer of a path. gen identifies the timer
// so a callback that lost the race with a newer write does nothing.
type pending struct {
	timer *time.Timer
	gen   uint64
}

// New creates a watcher for dir. A zero debounce uses DefaultDebounce.
func New(dir string, debounce time.Duration, log *zap.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		log:      log,
		watcher:  fw,
		events:   make(chan string, 16),
		stop:     make(chan struct{}),
		pending:  make(map[string]pending),
	}, nil
}

// Start begins watching. Call Stop to release resources.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	w.log.Info("watching for posts", zap.String("dir", w.dir), zap.Duration("debounce", w.debounce))
	go w.processEvents(ctx)
	return nil
}

// Stop stops the watcher. It is safe to call more than once.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
		return
	default:
		close(w.stop)
		_ = w.watcher.Close()
	}

	w.mu.Lock()
	for path, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()
}

// Events returns the channel of settled post paths.
func (w *Watcher) Events() <-chan string {
	return w.events
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !blog.IsPost(event.Name) {
				continue
			}
			w.schedule(event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", zap.Error(err))
		}
	}
}

// schedule (re)arms the debounce timer for path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p, ok := w.pending[path]; ok {
		p.timer.Stop()
	}
	w.seq++
	gen := w.seq
	w.pending[path] = pending{
		timer: time.AfterFunc(w.debounce, func() { w.fire(path, gen) }),
		gen:   gen,
	}
}

// fire emits path unless a later write re-armed it after this timer expired.
func (w *Watcher) fire(path string, gen uint64) {
	w.mu.Lock()
	p, ok := w.pending[path]
	if !ok || p.gen != gen {
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	w.mu.Unlock()

	select {
	case w.events <- path:
		w.log.Debug("post changed", zap.String("path", path))
	case <-w.stop:
	}
}
