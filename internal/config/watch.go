package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce collapses the burst of events an editor emits on save.
const reloadDebounce = 200 * time.Millisecond

// Watch reloads the file at path whenever it changes and hands each valid
// config to onChange. Invalid files are reported to onError and the
// previous config stays in effect. Watch blocks until ctx is done.
//
// The parent directory is watched rather than the file, so atomic
// rename-over saves and Kubernetes ConfigMap symlink swaps are seen.
func Watch(ctx context.Context, path string, onChange func(Config), onError func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	path = filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	var reload <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(event, path) {
				continue
			}
			reload = time.After(reloadDebounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			onError(fmt.Errorf("config watcher: %w", err))

		case <-reload:
			reload = nil
			cfg, err := LoadFile(path)
			if err != nil {
				onError(err)
				continue
			}
			onChange(cfg)
		}
	}
}

func relevant(event fsnotify.Event, path string) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Clean(event.Name)
	// ConfigMap mounts swap a "..data" symlink next to the file.
	return name == path || filepath.Base(name) == "..data"
}
