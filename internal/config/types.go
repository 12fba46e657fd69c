package config

type Config struct {
	Logging  LoggingConfig   `json:"logging"`
	Alarm    AlarmConfig     `json:"alarm"`
	Dispatch *DispatchConfig `json:"dispatch,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	API      APIConfig       `json:"api"`
	Systemd  *SystemdConfig  `json:"systemd,omitempty"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert copies records at or above MinLevel to stderr as compact
// one-line alerts, at most RatePerSec per second.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// AlarmConfig controls the alarm registry and its minute tick.
type AlarmConfig struct {
	// DefinitionsDir holds the *.txt definition files.
	DefinitionsDir string `json:"definitions_dir"`
	// Timezone is an IANA name; empty means the process local zone.
	Timezone string `json:"timezone,omitempty"`

	WatchDefinitions bool `json:"watch_definitions,omitempty"`
	// BootOnStart arms boot-relative (B) alarms at startup. Defaults to true.
	BootOnStart *bool `json:"boot_on_start,omitempty"`
}

// BootEnabled reports whether boot-relative alarms are armed at startup.
func (c AlarmConfig) BootEnabled() bool {
	return c.BootOnStart == nil || *c.BootOnStart
}

// DispatchConfig controls the worker pool that runs alarm handlers.
//
// Defaults (when the section is omitted or fields are zero):
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - history_size: 200
type DispatchConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`

	// DefaultTimeout is a Go duration string (e.g. "10s", "1m").
	DefaultTimeout string `json:"default_timeout,omitempty"`
	// MaxQueueDelay drops dispatches that waited in the queue longer than this.
	MaxQueueDelay string `json:"max_queue_delay,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./alarmd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)

	// redis
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Key      string `json:"key,omitempty"`
}

// APIConfig controls the HTTP admin API.
//
// Security note: a non-loopback addr requires token or allow_insecure.
type APIConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:8077"
	Token         string `json:"token,omitempty"` // bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"` // mount /debug/pprof
}

// SystemdConfig enables the /handlers/systemd unit control handler.
// Only the listed units can be started, stopped or restarted.
type SystemdConfig struct {
	Enabled bool     `json:"enabled"`
	Units   []string `json:"units,omitempty"`
	Timeout string   `json:"timeout,omitempty"` // per unit job, default "15s"
}
