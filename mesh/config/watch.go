package config

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadCallback is invoked with a freshly reloaded Manifest. Errors
// returned are ignored by the Watcher, not retried.
type ReloadCallback func(*Manifest) error

// Watcher reloads a manifest file on change, debouncing rapid successive
// writes (editors commonly emit several events for one save).
type Watcher struct {
	path      string
	watcher   *fsnotify.Watcher
	debounce  time.Duration

	mu        sync.Mutex
	callbacks []ReloadCallback
	timer     *time.Timer
}

// NewWatcher starts watching the manifest at path for changes. Call Close
// when done.
func NewWatcher(path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}
	w := &Watcher{path: path, watcher: fw, debounce: 500 * time.Millisecond}
	go w.run()
	return w, nil
}

// OnReload registers cb to be called (with the freshly loaded manifest)
// after each debounced file-change event.
func (w *Watcher) OnReload(cb ReloadCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.scheduleReload()
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	m, err := LoadManifest(w.path)
	w.mu.Lock()
	callbacks := append([]ReloadCallback(nil), w.callbacks...)
	w.mu.Unlock()
	if err != nil {
		return
	}
	for _, cb := range callbacks {
		_ = cb(m)
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
