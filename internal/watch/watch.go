// Package watch reports changes to a single file.
package watch

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces bursts of events, such as an editor's
// write-then-rename, into one callback.
const DefaultDebounce = 300 * time.Millisecond

// Handler is called after the watched file changed and stayed quiet for the
// debounce period.
type Handler func(path string)

// Watcher watches one file. The parent directory is watched instead of the
// file itself so atomic replacements (temp file + rename) are still seen.
type Watcher struct {
	path     string
	dir      string
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu       sync.Mutex
	handlers []Handler
	stopChan chan struct{}
	done     chan struct{}
}

// New creates a watcher for path. debounce <= 0 uses DefaultDebounce.
func New(path string, debounce time.Duration) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		path:     abs,
		dir:      filepath.Dir(abs),
		watcher:  fw,
		debounce: debounce,
	}, nil
}

// Path is the absolute path being watched.
func (w *Watcher) Path() string { return w.path }

// OnChange registers a handler.
func (w *Watcher) OnChange(h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Start begins watching. The parent directory must exist.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopChan != nil {
		return errors.New("watch: already started")
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	w.stopChan = make(chan struct{})
	w.done = make(chan struct{})
	go w.loop(w.stopChan, w.done)

	slog.Debug("watch: started", "path", w.path)
	return nil
}

// Stop halts the watcher and waits for its loop to exit. A pending debounced
// callback is dropped.
func (w *Watcher) Stop() {
	w.mu.Lock()
	stop, done := w.stopChan, w.done
	w.stopChan = nil
	w.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	w.watcher.Close()
	slog.Debug("watch: stopped", "path", w.path)
}

func (w *Watcher) loop(stop, done chan struct{}) {
	defer close(done)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-stop:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case <-stop:
					return
				default:
				}
				w.fire()
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("watch: fsnotify error", "path", w.path, "error", err)
		}
	}
}

func (w *Watcher) fire() {
	w.mu.Lock()
	handlers := make([]Handler, len(w.handlers))
	copy(handlers, w.handlers)
	w.mu.Unlock()

	slog.Debug("watch: file changed", "path", w.path)
	for _, h := range handlers {
		h(w.path)
	}
}
