package patterns

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/theo7791l/wolaro-guard/internal/logging"
)

// Watch reloads the rule file whenever it changes on disk. Returns a stop
// function. Watching the parent directory survives editor rename-and-replace
// writes.
func (s *Store) Watch() (func(), error) {
	if s.path == "" {
		return func() {}, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	target := filepath.Clean(s.path)

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := s.Reload(); err != nil {
					logging.Warn("Rule reload failed, keeping previous set: %v", err)
					continue
				}
				logging.Info("Protection rules reloaded from %s", s.path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warn("Rule watcher error: %v", err)
			}
		}
	}()

	return func() { watcher.Close() }, nil
}
