package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch re-reads the config file at path whenever it changes and replaces
// settings with the file's settings block. The containing directory is
// watched so editors that replace the file are noticed too. An unreadable
// or invalid file is logged and ignored; the previous values stay.
//
// Watch blocks until ctx is cancelled. ready, when non-nil, is closed once
// the watcher is installed.
func Watch(ctx context.Context, path string, settings *Settings, ready chan<- struct{}) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	slog.Info("watching config", "path", abs)
	if ready != nil {
		close(ready)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			reload(abs, settings)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Error("config watcher error", "error", err)
		}
	}
}

func reload(path string, settings *Settings) {
	c, err := Load(path)
	if err != nil {
		slog.Warn("config reload failed", "path", path, "error", err)
		return
	}
	settings.Replace(c.SettingStrings())
	slog.Info("config reloaded", "path", path, "settings", len(c.Settings))
}
