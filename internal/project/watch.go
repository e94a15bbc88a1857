package project

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the job configuration at path into registry whenever the
// file changes, until ctx is cancelled. A reload that fails validation is
// logged and the previous jobs stay active.
//
// The parent directory is watched so editors that save by renaming a
// temporary file are picked up.
func Watch(ctx context.Context, path string, registry *Registry, logger *slog.Logger) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(absPath), err)
	}

	logger.Info("watching config for changes", "path", absPath)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != absPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			_, jobs, err := LoadConfig(absPath)
			if err != nil {
				logger.Error("config reload failed, keeping previous jobs", "path", absPath, "error", err)
				continue
			}

			registry.Replace(jobs)
			logger.Info("config reloaded", "path", absPath, "jobs", len(jobs))

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("config watcher error", "error", err)
		}
	}
}
