package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads a config file, degrading to the previous config on
// any read/validate failure — the same policy as the teacher's
// reloadRunnerConfig, driven by file system events instead of polling.
type Watcher struct {
	path    string
	current *Config
	watcher *fsnotify.Watcher
	onBad   func(error)
}

// NewWatcher starts watching configPath's parent directory (watching the
// directory rather than the file survives editors that replace the file
// via rename-on-save).
func NewWatcher(configPath string, initial *Config, onBad func(error)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(configPath)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{path: configPath, current: initial, watcher: fw, onBad: onBad}, nil
}

// Events returns the reload channel, carrying a fresh *Config every time
// the watched file changes and still validates successfully.
func (w *Watcher) Events() <-chan *Config {
	out := make(chan *Config, 1)
	go func() {
		defer close(out)
		for {
			select {
			case ev, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(w.path)
				if err != nil {
					if w.onBad != nil {
						w.onBad(err)
					}
					continue
				}
				if errs := Validate(cfg); len(errs) > 0 {
					if w.onBad != nil {
						w.onBad(errs[0])
					}
					continue
				}
				w.current = cfg
				out <- cfg
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				if w.onBad != nil {
					w.onBad(err)
				}
			}
		}
	}()
	return out
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
