package config

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce absorbs the burst of filesystem events editors emit per save.
const reloadDebounce = 300 * time.Millisecond

// Watch follows the config file at path and calls apply with each version
// that loads cleanly after a change. A version that fails to load is logged
// and skipped; the previously applied config stays in effect. The returned
// stop function ends the watch and is safe to call more than once.
func Watch(path string, apply func(*Config)) (stop func(), err error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch config: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch config %s: %w", path, err)
	}

	done := make(chan struct{})
	go func() {
		var pending *time.Timer
		defer func() {
			if pending != nil {
				pending.Stop()
			}
		}()

		for {
			select {
			case <-done:
				return

			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(reloadDebounce, func() {
					cfg, err := Load(path)
					if err != nil {
						slog.Error("config reload failed", "path", path, "error", err)
						return
					}
					apply(cfg)
					slog.Info("config reloaded", "path", path)
				})

			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				slog.Error("config watch error", "path", path, "error", err)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			fw.Close()
		})
	}, nil
}
