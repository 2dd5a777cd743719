package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
)

// LoadSeed reads a JSON routes file and upserts every route it defines.
// Existing routes with the same id are replaced, others are left alone.
func (s *Store) LoadSeed(ctx context.Context, path string) (int, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("store: reading seed %s: %w", path, err)
	}

	var routes []Route
	if err := json.Unmarshal(payload, &routes); err != nil {
		return 0, fmt.Errorf("store: parsing seed %s: %w", path, err)
	}

	loaded := 0
	for _, route := range routes {
		if route.ID == "" {
			if s.logger != nil {
				s.logger.Warn("seed route without id skipped", map[string]string{
					"path": path,
				})
			}
			continue
		}
		if err := s.Upsert(ctx, route); err != nil {
			return loaded, err
		}
		loaded++
	}

	if s.logger != nil {
		s.logger.Info("seed routes loaded", map[string]string{
			"path":  path,
			"count": strconv.Itoa(loaded),
		})
	}
	return loaded, nil
}

// WatchSeed reloads the seed file whenever it changes, until the context is
// cancelled. Reload errors are logged, never fatal: a broken edit keeps the
// last good routes.
func (s *Store) WatchSeed(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("store: seed watcher: %w", err)
	}

	// Watch the directory: editors replace the file, which drops a watch
	// on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("store: watching %s: %w", path, err)
	}

	go func() {
		defer watcher.Close()
		var reload <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				// Debounce bursts of write events from one save.
				reload = time.After(100 * time.Millisecond)
			case <-reload:
				reload = nil
				if _, err := s.LoadSeed(ctx, path); err != nil && s.logger != nil {
					s.logger.Warn("seed reload failed", map[string]string{
						"path":  path,
						"error": err.Error(),
					})
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if s.logger != nil {
					s.logger.Warn("seed watcher error", map[string]string{
						"error": err.Error(),
					})
				}
			}
		}
	}()
	return nil
}
