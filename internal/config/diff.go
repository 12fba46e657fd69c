package config

import (
	"reflect"
	"slices"
	"sort"
	"strings"

	logx "alarmd/pkg/logx"
)

// SummarizeConfigChange returns the sorted list of changed sections and safe
// structured attrs for logging. Secrets (storage password, api token) are
// never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alert_enabled", newCfg.Logging.Alert.Enabled),
		)
	}

	oa, na := oldCfg.Alarm, newCfg.Alarm
	if strings.TrimSpace(oa.DefinitionsDir) != strings.TrimSpace(na.DefinitionsDir) ||
		strings.TrimSpace(oa.Timezone) != strings.TrimSpace(na.Timezone) ||
		oa.WatchDefinitions != na.WatchDefinitions ||
		oa.BootEnabled() != na.BootEnabled() {
		changed = append(changed, "alarm")
		attrs = append(attrs,
			logx.String("alarm.definitions_dir", strings.TrimSpace(na.DefinitionsDir)),
			logx.String("alarm.timezone", strings.TrimSpace(na.Timezone)),
			logx.Bool("alarm.watch_definitions", na.WatchDefinitions),
			logx.Bool("alarm.boot_on_start", na.BootEnabled()),
		)
	}

	od, nd := derefDispatch(oldCfg.Dispatch), derefDispatch(newCfg.Dispatch)
	if (oldCfg.Dispatch != nil) != (newCfg.Dispatch != nil) || od != nd {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.Int("dispatch.workers", nd.Workers),
			logx.Int("dispatch.queue_size", nd.QueueSize),
			logx.String("dispatch.default_timeout", strings.TrimSpace(nd.DefaultTimeout)),
			logx.String("dispatch.max_queue_delay", strings.TrimSpace(nd.MaxQueueDelay)),
			logx.Int("dispatch.history_size", nd.HistorySize),
		)
	}

	oldS, newS := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if strings.TrimSpace(oldS.Driver) != strings.TrimSpace(newS.Driver) ||
		strings.TrimSpace(oldS.Path) != strings.TrimSpace(newS.Path) ||
		strings.TrimSpace(oldS.BusyTimeout) != strings.TrimSpace(newS.BusyTimeout) ||
		strings.TrimSpace(oldS.Addr) != strings.TrimSpace(newS.Addr) ||
		oldS.DB != newS.DB || oldS.Key != newS.Key ||
		(oldS.Password != "") != (newS.Password != "") {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
			logx.Bool("storage.password_set", newS.Password != ""),
		)
	}

	if oldCfg.API != newCfg.API {
		changed = append(changed, "api")
		attrs = append(attrs,
			logx.Bool("api.enabled", newCfg.API.Enabled),
			logx.String("api.addr", strings.TrimSpace(newCfg.API.Addr)),
			logx.Bool("api.token_set", newCfg.API.Token != ""),
			logx.Bool("api.pprof", newCfg.API.Pprof),
		)
	}

	oldD, newD := derefSystemd(oldCfg.Systemd), derefSystemd(newCfg.Systemd)
	if oldD.Enabled != newD.Enabled || oldD.Timeout != newD.Timeout || !slices.Equal(oldD.Units, newD.Units) {
		changed = append(changed, "systemd")
		attrs = append(attrs,
			logx.Bool("systemd.enabled", newD.Enabled),
			logx.Int("systemd.units", len(newD.Units)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefDispatch(d *DispatchConfig) DispatchConfig {
	if d == nil {
		return DispatchConfig{}
	}
	return *d
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}

func derefSystemd(s *SystemdConfig) SystemdConfig {
	if s == nil {
		return SystemdConfig{}
	}
	return *s
}
