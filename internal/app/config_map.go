package app

import (
	"alarmd/internal/alarm"
	"alarmd/internal/api"
	"alarmd/internal/config"
	"alarmd/internal/handler/builtin"
	"alarmd/internal/task/engine"
	logx "alarmd/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alert: logx.AlertConfig{
			Enabled:    cfg.Logging.Alert.Enabled,
			MinLevel:   cfg.Logging.Alert.MinLevel,
			RatePerSec: cfg.Logging.Alert.RatePerSec,
		},
	}
}

func mapAlarmConfig(cfg *config.Config) alarm.Config {
	return alarm.Config{
		DefinitionsDir: cfg.Alarm.DefinitionsDir,
		Timezone:       cfg.Alarm.Timezone,
	}
}

// mapEngineConfig applies the dispatch defaults: 2 workers, a 256 slot queue
// and 200 history entries. The engine is always enabled.
func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.Config{Enabled: true, Workers: 2, QueueSize: 256, HistorySize: 200}
	if cfg == nil || cfg.Dispatch == nil {
		return out, nil
	}
	d := cfg.Dispatch
	if d.Workers > 0 {
		out.Workers = d.Workers
	}
	if d.QueueSize > 0 {
		out.QueueSize = d.QueueSize
	}
	if d.HistorySize > 0 {
		out.HistorySize = d.HistorySize
	}
	var err error
	if out.DefaultTimeout, err = config.ParseDurationField("dispatch.default_timeout", d.DefaultTimeout); err != nil {
		return engine.Config{}, err
	}
	if out.MaxQueueDelay, err = config.ParseDurationField("dispatch.max_queue_delay", d.MaxQueueDelay); err != nil {
		return engine.Config{}, err
	}
	return out, nil
}

func mapAPIConfig(cfg *config.Config) api.Config {
	return api.Config{
		Enabled:       cfg.API.Enabled,
		Addr:          cfg.API.Addr,
		Token:         cfg.API.Token,
		AllowInsecure: cfg.API.AllowInsecure,
		Pprof:         cfg.API.Pprof,
	}
}

func mapSystemdOptions(cfg *config.Config) (builtin.SystemdOptions, bool, error) {
	if cfg == nil || cfg.Systemd == nil || !cfg.Systemd.Enabled {
		return builtin.SystemdOptions{}, false, nil
	}
	timeout, err := config.ParseDurationField("systemd.timeout", cfg.Systemd.Timeout)
	if err != nil {
		return builtin.SystemdOptions{}, false, err
	}
	return builtin.SystemdOptions{
		Units:   append([]string(nil), cfg.Systemd.Units...),
		Timeout: timeout,
	}, true, nil
}
