package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watcher re-reads the config file whenever it changes and hands the
// decoded result to a callback. Invalid edits are reported through Errors
// and leave the previous configuration in effect.
type Watcher struct {
	v        *viper.Viper
	watcher  *fsnotify.Watcher
	onChange func(*Config)
	errors   chan error
	done     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	file     string
}

// NewWatcher creates a watcher for the file v was read from.
func NewWatcher(v *viper.Viper, onChange func(*Config)) (*Watcher, error) {
	file := v.ConfigFileUsed()
	if file == "" {
		return nil, fmt.Errorf("no config file to watch")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	abs, err := filepath.Abs(file)
	if err != nil {
		abs = file
	}
	return &Watcher{
		v:        v,
		watcher:  watcher,
		onChange: onChange,
		errors:   make(chan error, 10),
		done:     make(chan struct{}),
		file:     filepath.Clean(abs),
	}, nil
}

// Start begins watching. The directory is watched rather than the file so
// that editors replacing the file by rename are seen.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}
	if err := w.watcher.Add(filepath.Dir(w.file)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.file), err)
	}
	w.running = true
	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop stops watching and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	w.wg.Wait()
	close(w.errors)
	return nil
}

// Errors reports reload failures. It is closed by Stop.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.file {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.report(fmt.Errorf("watcher error: %w", err))
		}
	}
}

func (w *Watcher) reload() {
	if err := w.v.ReadInConfig(); err != nil {
		w.report(fmt.Errorf("failed to reload config: %w", err))
		return
	}
	cfg, err := Decode(w.v)
	if err != nil {
		w.report(err)
		return
	}
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

// report delivers err without blocking the event loop.
func (w *Watcher) report(err error) {
	select {
	case w.errors <- err:
	default:
	}
}
