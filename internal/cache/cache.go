// Package cache persists the sensor registry so a restarted agent resumes polling the same points.
package cache

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"

	"plc_agent/internal/device"
)

// Cache mirrors registry revisions into a sensor file.
type Cache struct {
	path   string
	logger *slog.Logger
}

// New creates a cache backed by the sensor file at path.
func New(path string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{path: path, logger: logger.With("component", "cache", "path", path)}
}

// Restore adds the cached sensors to registry and returns how many were restored.
// A missing cache file is not an error.
func (c *Cache) Restore(registry *device.Registry) (int, error) {
	sensors, err := device.LoadSensors(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.logger.Info("no sensor cache yet")
			return 0, nil
		}
		return 0, err
	}
	for _, s := range sensors {
		registry.Add(s)
	}
	c.logger.Info("sensor cache restored", "sensors", len(sensors))
	return len(sensors), nil
}

// Run writes every registry revision to the cache file until ctx is cancelled.
func (c *Cache) Run(ctx context.Context, registry *device.Registry) {
	revisions, cancel := registry.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case sensors, ok := <-revisions:
			if !ok {
				return
			}
			if err := device.SaveSensors(c.path, sensors); err != nil {
				c.logger.Error("write sensor cache", "error", err)
				continue
			}
			c.logger.Debug("sensor cache written", "sensors", len(sensors))
		}
	}
}
