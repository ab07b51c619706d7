package daemon

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.olrik.dev/mediakey/internal/core"
)

// reloadDebounce is how long the watcher waits after the last change.
const reloadDebounce = 500 * time.Millisecond

func (a *App) configFile() string {
	return filepath.Join(a.cfg.ConfigPath, core.ConfigFileName)
}

// reloadConfig re-reads the config file. A broken file keeps the running
// configuration.
func (a *App) reloadConfig() error {
	configPath := a.configFile()
	newConfig, err := core.LoadConfig(configPath)
	if err != nil {
		slog.Error("Configuration file has errors, keeping previous configuration",
			"file", configPath,
			"error", err)
		return fmt.Errorf("config parse error: %w", err)
	}
	newConfig.ConfigPath = a.cfg.ConfigPath

	for _, setting := range a.applyConfig(newConfig) {
		slog.Warn("Setting changed but only takes effect after a restart", "setting", setting)
	}
	core.Config = newConfig
	return nil
}

// applyConfig adopts the settings that can change at runtime and returns the
// names of those that need a restart.
func (a *App) applyConfig(next *core.Configuration) []string {
	a.mu.Lock()
	prev := *a.cfg
	a.cfg.Verbose = next.Verbose
	a.cfg.Permission.CheckDelay = next.Permission.CheckDelay
	a.cfg.Permission.ResetGrace = next.Permission.ResetGrace
	a.mu.Unlock()

	if prev.Verbose != next.Verbose {
		a.level.Set(LevelFor(next.Verbose))
		slog.Info("Log level changed", "level", a.level.Level().String())
	}
	if prev.Permission.ResetGrace != next.Permission.ResetGrace {
		a.trust.SetResetGrace(next.Permission.ResetGrace)
	}

	var restart []string
	if prev.Companion != next.Companion {
		restart = append(restart, "companion")
	}
	if prev.Relay != next.Relay {
		restart = append(restart, "relay.socket_path")
	}
	if prev.Permission.BundleID != next.Permission.BundleID {
		restart = append(restart, "permission.bundle_id")
	}
	if prev.Journal != next.Journal {
		restart = append(restart, "journal")
	}
	return restart
}

// watchConfig reloads the config file when it changes on disk.
func (a *App) watchConfig() {
	configPath := a.configFile()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("Failed to create config file watcher", "error", err)
		return
	}
	if err := watcher.Add(configPath); err != nil {
		slog.Warn("Failed to watch config file", "error", err, "path", configPath)
		watcher.Close()
		return
	}

	var reloadTimer *time.Timer
	var reloadMutex sync.Mutex

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-a.ctx.Done():
				reloadMutex.Lock()
				if reloadTimer != nil {
					reloadTimer.Stop()
				}
				reloadMutex.Unlock()
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				slog.Debug("Filesystem event on config file", "event", event.Op.String(), "file", event.Name)

				// Editors that save atomically drop the file from the watch list
				if event.Op&(fsnotify.Rename|fsnotify.Remove|fsnotify.Create) != 0 {
					go rewatch(watcher, configPath)
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}

				reloadMutex.Lock()
				if reloadTimer != nil {
					reloadTimer.Stop()
				}
				reloadTimer = time.AfterFunc(reloadDebounce, func() {
					slog.Info("Configuration file changed, reloading...", "file", configPath)
					if err := a.reloadConfig(); err == nil {
						slog.Info("Configuration reloaded successfully")
					}
				})
				reloadMutex.Unlock()

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Config file watcher error", "error", err)
			}
		}
	}()

	slog.Debug("Watching configuration file for changes", "path", configPath)
}

// rewatch re-adds the watch with backoff (10ms, 20ms, 40ms, 80ms) while the
// file is briefly missing.
func rewatch(watcher *fsnotify.Watcher, path string) {
	const attempts = 5
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(10<<uint(attempt-1)) * time.Millisecond)
		}
		watcher.Remove(path)
		err := watcher.Add(path)
		if err == nil {
			return
		}
		if attempt == attempts-1 {
			slog.Error("Failed to re-add watch after multiple attempts", "error", err, "path", path)
		}
	}
}
