package config

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// StartWatcher monitors the config file and invokes onChange after writes.
// fsnotify drives the fast path; a 60s mtime poll covers editors and mounts
// that do not emit events.
func StartWatcher(ctx context.Context, path string, onChange func()) {
	watcher, err := fsnotify.NewWatcher()
	usePolling := false

	if err != nil {
		log.Printf("[Config Watcher] fsnotify failed (%v), falling back to polling", err)
		usePolling = true
	} else {
		if err := watcher.Add(path); err != nil {
			log.Printf("[Config Watcher] cannot watch %s (%v), falling back to polling", path, err)
			usePolling = true
			watcher.Close()
		}
	}

	if !usePolling {
		go func() {
			defer watcher.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-watcher.Events:
					if !ok {
						return
					}
					if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
						log.Printf("[Config Watcher] %s changed, reloading", path)
						time.Sleep(100 * time.Millisecond) // editors write in bursts
						onChange()
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					log.Printf("[Config Watcher] error: %v", err)
				}
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()

		var lastMtime time.Time
		if fi, err := os.Stat(path); err == nil {
			lastMtime = fi.ModTime()
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fi, err := os.Stat(path)
				if err != nil {
					continue
				}
				if fi.ModTime().After(lastMtime) {
					lastMtime = fi.ModTime()
					log.Printf("[Config Watcher] %s mtime changed, reloading", path)
					onChange()
				}
			}
		}
	}()
}
