package config

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/Sternrassler/cms-cache/pkg/logging"
)

// Watch reloads path whenever it changes and calls onChange with the new
// Config. It runs until ctx is cancelled.
//
// The parent directory is watched rather than the file itself, so atomic
// rename saves and symlink swaps (Kubernetes ConfigMaps) keep triggering
// reloads. A reload that fails to parse or validate is logged and skipped;
// the caller keeps the previous config.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	logger := logging.NewLogger("config")

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); err != nil {
		return err
	}
	dir, name := filepath.Split(abs)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}

	logger.Info().Str("path", abs).Msg("Watching config for changes")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(event, name) {
				continue
			}

			cfg, err := Load(abs)
			if err != nil {
				logger.Error().Err(err).Str("path", abs).Msg("Config reload failed, keeping previous config")
				continue
			}

			logger.Info().Str("path", abs).Msg("Config reloaded")
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error().Err(err).Msg("Config watcher error")
		}
	}
}

// relevant reports whether event may have changed the file called name.
// ConfigMap updates swap a "..data" symlink next to the file.
func relevant(event fsnotify.Event, name string) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	base := filepath.Base(event.Name)
	return base == name || base == "..data"
}
