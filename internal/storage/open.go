package storage

import (
	"context"
	"errors"
	"strings"

	logx "alarmd/pkg/logx"
)

// Store is the persistence API used by the alarm service.
type Store interface {
	// LoadAlarms returns the last saved registry snapshot in saved order.
	// An empty result (nil error) means nothing was ever saved.
	LoadAlarms(ctx context.Context) ([]Record, error)
	// SaveAlarms replaces the snapshot.
	SaveAlarms(ctx context.Context, recs []Record) error
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "bolt", "bbolt":
		return openBolt(cfg, log)
	case "redis":
		return openRedis(context.Background(), cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
