package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period Watch waits for after the last write
// before reloading.
const DefaultDebounce = 250 * time.Millisecond

// Watch reloads path whenever it changes and calls onChange with every
// configuration that loads and validates. Rejected files are logged and
// skipped; the previous configuration stays in effect.
//
// The parent directory is watched rather than the file, so editors that
// replace the file by rename are still seen. Blocks until ctx is done.
func Watch(ctx context.Context, path string, debounce time.Duration, onChange func(*Config)) error {
	if path == "" {
		return fmt.Errorf("config watch: empty path")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("config watch: %w", err)
	}

	slog.Info("watching config file", "component", "config", "path", abs)

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			// Reset or start debounce timer
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			timerC = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "component", "config", "error", err)

		case <-timerC:
			timerC = nil

			cfg, err := Load(abs)
			if err != nil {
				slog.Warn("config reload rejected", "component", "config", "path", abs, "error", err)
				continue
			}

			slog.Info("config reloaded", "component", "config", "path", abs)
			onChange(cfg)
		}
	}
}

// Changes lists the settings that differ between c and next, split into
// those a running service can apply live and those that need a restart.
func (c *Config) Changes(next *Config) (live, restart []string) {
	diff := func(list *[]string, name string, old, updated any) {
		if old != updated {
			*list = append(*list, fmt.Sprintf("%s: %v → %v", name, old, updated))
		}
	}

	diff(&live, "log.level", c.Log.Level, next.Log.Level)
	diff(&live, "server.compute_rate", c.Server.ComputeRate, next.Server.ComputeRate)
	diff(&live, "server.compute_burst", c.Server.ComputeBurst, next.Server.ComputeBurst)

	diff(&restart, "log.format", c.Log.Format, next.Log.Format)
	diff(&restart, "sequence", c.Sequence, next.Sequence)
	diff(&restart, "worker", c.Worker, next.Worker)
	diff(&restart, "notify", c.Notify, next.Notify)
	diff(&restart, "server.addr", c.Server.Addr, next.Server.Addr)
	diff(&restart, "server.shutdown_timeout", c.Server.ShutdownTimeout, next.Server.ShutdownTimeout)
	diff(&restart, "mqtt", c.MQTT, next.MQTT)
	diff(&restart, "telemetry", c.Telemetry, next.Telemetry)

	return live, restart
}
