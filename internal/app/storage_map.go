package app

import (
	"fmt"
	"strings"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/storage"
)

const defaultBusyTimeout = time.Second

// mapStorageConfig turns the storage section into a driver config. A missing
// section selects sqlite at storage.DefaultPath.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "sqlite", Path: storage.DefaultPath, BusyTimeout: defaultBusyTimeout}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		path = storage.DefaultPath
	}

	switch driver {
	case "file":
		if strings.TrimSpace(sc.BusyTimeout) != "" {
			return storage.Config{}, fmt.Errorf("storage.busy_timeout applies to sqlite only")
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "", "sqlite", "sqlite3":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultBusyTimeout)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}
