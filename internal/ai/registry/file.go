package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/mc-plugin-market/assistant/internal/ai/model"
	logx "github.com/mc-plugin-market/assistant/pkg/logger"
)

// LoadFile reads settings from a YAML file. A missing file yields the
// defaults so a fresh install works with only ZHIPU_API_KEY set.
func LoadFile(path string, fallback model.Settings) (model.Settings, error) {
	if path == "" {
		return fallback, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fallback, nil
	}
	if err != nil {
		return model.Settings{}, fmt.Errorf("read model settings: %w", err)
	}

	var settings model.Settings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return model.Settings{}, fmt.Errorf("parse model settings %s: %w", path, err)
	}
	return settings, nil
}

// SaveFile writes settings atomically via a temp file rename.
func SaveFile(path string, settings model.Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode model settings: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Watch reloads the registry whenever path changes until ctx is done.
// Invalid files are logged and ignored so a half-written edit never empties
// the registry.
func (r *Registry) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory: editors and SaveFile replace the file by rename.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		reload := func() {
			if _, err := os.Stat(path); err != nil {
				return
			}
			settings, err := LoadFile(path, model.Settings{})
			if err != nil {
				logx.Warn().Err(err).Str("path", path).Msg("model settings reload failed")
				return
			}
			if err := r.Replace(settings); err != nil {
				logx.Warn().Err(err).Str("path", path).Msg("model settings rejected")
				return
			}
			logx.Info().Str("path", path).Int("models", len(settings.Models)).Msg("model settings reloaded")
		}
		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(100*time.Millisecond, reload)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logx.Warn().Err(err).Msg("model settings watcher error")
			}
		}
	}()
	return nil
}
