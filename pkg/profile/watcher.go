package profile

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// changeCallback is invoked with the path of a settled file change
type changeCallback func(path string)

// watcher monitors the profile directory, debouncing rapid write bursts so
// a profile is reloaded once per save, not once per chunk.
type watcher struct {
	fs             *fsnotify.Watcher
	dir            string
	settleDelay    time.Duration
	onChanged      changeCallback
	onRemoved      changeCallback
	done           chan struct{}
	debounceTimers map[string]*time.Timer
	debounceMu     sync.Mutex
	stopOnce       sync.Once
}

func newWatcher(dir string, settleDelay time.Duration, onChanged, onRemoved changeCallback) (*watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if settleDelay == 0 {
		settleDelay = 100 * time.Millisecond
	}
	return &watcher{
		fs:             fs,
		dir:            dir,
		settleDelay:    settleDelay,
		onChanged:      onChanged,
		onRemoved:      onRemoved,
		done:           make(chan struct{}),
		debounceTimers: make(map[string]*time.Timer),
	}, nil
}

func (w *watcher) start() error {
	if err := w.fs.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	go w.eventLoop()
	log.Info().Str("dir", w.dir).Msg("Profile watcher started")
	return nil
}

func (w *watcher) stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	w.debounceMu.Lock()
	for _, timer := range w.debounceTimers {
		timer.Stop()
	}
	w.debounceTimers = make(map[string]*time.Timer)
	w.debounceMu.Unlock()

	return w.fs.Close()
}

func (w *watcher) eventLoop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Profile watcher error")
		}
	}
}

func (w *watcher) handleEvent(event fsnotify.Event) {
	if !isProfileFile(filepath.Base(event.Name)) {
		return
	}

	switch {
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		w.debounce(event.Name, w.onChanged)
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.debounce(event.Name, w.onRemoved)
	}
}

// debounce schedules the callback after the settle delay, resetting the
// timer on every new event for the same path
func (w *watcher) debounce(path string, fn changeCallback) {
	if fn == nil {
		return
	}

	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, ok := w.debounceTimers[path]; ok {
		timer.Stop()
	}
	w.debounceTimers[path] = time.AfterFunc(w.settleDelay, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()

		select {
		case <-w.done:
			return
		default:
		}
		fn(path)
	})
}
