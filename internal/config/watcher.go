package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/phuslu/log"
)

// Watch reloads cfg in place whenever the config file changes on disk.
// It blocks until ctx is cancelled. Channel rollout modes picked up this
// way apply to in-flight bridges without a restart.
func Watch(ctx context.Context, cfg *Config) error {
	configPath, err := Path()
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors replace files on save
	// and the inode-level watch would be lost.
	if err := watcher.Add(filepath.Dir(configPath)); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(configPath) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			next, err := Load()
			if err != nil {
				log.Warn().Err(err).Str("path", configPath).Msg("config reload failed, keeping previous")
				continue
			}
			cfg.replaceFrom(next)
			log.Info().Str("path", configPath).Msg("config reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("config watcher error")
		}
	}
}
