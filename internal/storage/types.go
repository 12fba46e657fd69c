package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON snapshot + jsonl audit next to Path
//   - "sqlite": SQLite database file at Path
//   - "bolt": bbolt database file at Path
//   - "redis": redis server at Addr, keys prefixed with Key
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	Addr     string // redis only
	Password string // redis only
	DB       int    // redis only
	Key      string // redis key prefix; default "alarmd"
}

// Record is the flat, schema-stable form of one registry entry.
// Args hold the literal text of each argument so types survive a round-trip.
type Record struct {
	ID        string   `json:"id"`
	Kind      string   `json:"kind"`
	Pattern   string   `json:"pattern"`
	Master    bool     `json:"master"`
	Handler   string   `json:"handler"`
	Action    string   `json:"action"`
	Args      []string `json:"args,omitempty"`
	LastFired int64    `json:"last_fired"` // unix seconds; 0 = never
}

// AuditEntry records one dispatch.
type AuditEntry struct {
	At      time.Time `json:"at"`
	AlarmID string    `json:"alarm_id"`
	Handler string    `json:"handler"`
	Action  string    `json:"action"`
	OK      bool      `json:"ok"`
	Error   string    `json:"error,omitempty"`
	TookMS  int64     `json:"took_ms"`
}
