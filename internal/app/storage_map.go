package app

import (
	"fmt"
	"strings"
	"time"

	"outreach/internal/config"
	"outreach/internal/storage"
)

const defaultDataDir = "./data"

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	path := strings.TrimSpace(sc.Path)
	switch dl := strings.ToLower(strings.TrimSpace(sc.Driver)); dl {
	case "", "file":
		if path == "" {
			path = defaultDataDir
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: dl, Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}
