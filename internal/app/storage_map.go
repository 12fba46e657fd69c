package app

import (
	"fmt"
	"strings"
	"time"

	"alarmd/internal/config"
	"alarmd/internal/storage"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	dl := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch dl {
	case "", "none", "off", "disabled":
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch dl {
	case "file", "bolt", "bbolt":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=%s", dl)
		}
		return storage.Config{Driver: dl, Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 1*time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: dl, Path: path, BusyTimeout: busy}, true, nil
	case "redis":
		addr := strings.TrimSpace(sc.Addr)
		if addr == "" {
			addr = "127.0.0.1:6379"
		}
		return storage.Config{Driver: dl, Addr: addr, Password: sc.Password, DB: sc.DB, Key: strings.TrimSpace(sc.Key)}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}
