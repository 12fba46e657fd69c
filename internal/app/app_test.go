package app

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"alarmd/internal/config"
	"alarmd/internal/handler/builtin"
	"alarmd/internal/storage"
	logx "alarmd/pkg/logx"
)

const sampleDefs = `# daily chime
D 10:00 false /handlers/log record "hello there" 3
H 30 true /handlers/log announce
X 10:00 false /handlers/log record
`

func writeConfig(t *testing.T, cfg map[string]any) string {
	t.Helper()
	return writeConfigDefs(t, sampleDefs, cfg)
}

func writeConfigDefs(t *testing.T, body string, cfg map[string]any) string {
	t.Helper()
	dir := t.TempDir()
	defs := filepath.Join(dir, "alarms")
	if err := os.MkdirAll(defs, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(defs, "main.txt"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	alarmSection, _ := cfg["alarm"].(map[string]any)
	if alarmSection == nil {
		alarmSection = map[string]any{}
	}
	alarmSection["definitions_dir"] = defs
	alarmSection["timezone"] = "UTC"
	cfg["alarm"] = alarmSection

	b, err := json.Marshal(cfg)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCheckReportsAcceptedAndRejected(t *testing.T) {
	path := writeConfig(t, map[string]any{"logging": map[string]any{"level": "error"}})

	var out bytes.Buffer
	rejected, err := Check(path, &out)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(rejected) != 1 || rejected[0].Line != 4 {
		t.Fatalf("rejected = %+v, want line 4 only", rejected)
	}
	text := out.String()
	for _, want := range []string{"daily", "hourly", "/handlers/log", "2 accepted, 1 rejected (tz UTC)", "announce,record"} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
}

func TestCheckMissingConfig(t *testing.T) {
	if _, err := Check(filepath.Join(t.TempDir(), "missing.json"), &bytes.Buffer{}); err == nil {
		t.Fatal("Check on a missing config should fail")
	}
}

func TestAppLifecycleWithFileStore(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, map[string]any{
		"logging": map[string]any{"level": "error"},
		"storage": map[string]any{"driver": "file", "path": filepath.Join(dir, "state.json")},
	})

	a, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if n := a.Alarms().Count(); n != 2 {
		t.Fatalf("Count() = %d, want 2", n)
	}
	if _, running := a.Alarms().TimeToNextTick(); !running {
		t.Fatal("tick should be running")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, running := a.Alarms().TimeToNextTick(); running {
		t.Fatal("tick should be stopped")
	}
	raw, err := os.ReadFile(filepath.Join(dir, "state.alarms.json"))
	if err != nil {
		t.Fatalf("registry snapshot not persisted: %v", err)
	}
	var snap struct {
		Alarms []storage.Record `json:"alarms"`
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snap.Alarms) != 2 {
		t.Fatalf("snapshot holds %d alarms, want 2: %+v", len(snap.Alarms), snap.Alarms)
	}
	kinds := map[string]storage.Record{}
	for _, r := range snap.Alarms {
		kinds[r.Kind] = r
	}
	if r := kinds["D"]; r.Pattern != "10:00" || r.Action != "record" || r.Master {
		t.Fatalf("daily record = %+v", r)
	}
	if r := kinds["H"]; r.Pattern != "30" || r.Action != "announce" || !r.Master {
		t.Fatalf("hourly record = %+v", r)
	}
}

const bootDefs = "B 0 false /handlers/log record \"boot\"\n"

func TestBootAlarmsFireByDefault(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigDefs(t, bootDefs, map[string]any{
		"logging": map[string]any{"level": "error"},
		"storage": map[string]any{"driver": "file", "path": filepath.Join(dir, "state.json")},
	})
	a, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, StopAppStop)
	}()

	audit := filepath.Join(dir, "state.audit.jsonl")
	deadline := time.Now().Add(3 * time.Second)
	for {
		raw, _ := os.ReadFile(audit)
		if bytes.Contains(raw, []byte(`"handler":"/handlers/log"`)) && bytes.Contains(raw, []byte(`"ok":true`)) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("boot alarm did not fire; audit log:\n%s", raw)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestBootDisabledWarnsAboutIdleAlarms(t *testing.T) {
	path := writeConfigDefs(t, bootDefs, map[string]any{
		"logging": map[string]any{"level": "error"},
		"alarm":   map[string]any{"boot_on_start": false},
	})
	a, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := a.alarms.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	var buf bytes.Buffer
	a.log = logx.NewWriter(&buf, "warn")

	cfg := a.cfgm.Get()
	if cfg.Alarm.BootEnabled() {
		t.Fatal("boot_on_start: false was not honored")
	}
	if n := a.armBoot(ctx, cfg); n != 0 {
		t.Fatalf("armBoot = %d, want 0", n)
	}
	if out := buf.String(); !strings.Contains(out, "boot_on_start is false") || !strings.Contains(out, `"count":1`) {
		t.Fatalf("missing idle boot warning: %s", out)
	}
}

func TestBootEnabledDefault(t *testing.T) {
	t.Parallel()
	off, on := false, true
	cases := []struct {
		name string
		cfg  config.AlarmConfig
		want bool
	}{
		{"omitted", config.AlarmConfig{}, true},
		{"true", config.AlarmConfig{BootOnStart: &on}, true},
		{"false", config.AlarmConfig{BootOnStart: &off}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cfg.BootEnabled(); got != tc.want {
				t.Fatalf("BootEnabled() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestApplyConfigSwapsSystemdAndDispatch(t *testing.T) {
	path := writeConfig(t, map[string]any{"logging": map[string]any{"level": "error"}})
	a, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, StopAppStop)
	}()

	base := a.cfgm.Get()
	if a.handlers.Exists(builtin.SystemdPath) {
		t.Fatal("systemd handler registered while disabled")
	}

	next := *base
	next.Systemd = &config.SystemdConfig{Enabled: true, Units: []string{"nginx"}}
	next.Dispatch = &config.DispatchConfig{Workers: 5}
	a.applyConfig(ctx, base, &next)

	if !a.handlers.Exists(builtin.SystemdPath) {
		t.Fatal("systemd handler not registered after enable")
	}
	if got := a.engine.Snapshot().Workers; got != 5 {
		t.Fatalf("dispatch workers = %d, want 5", got)
	}

	off := next
	off.Systemd = &config.SystemdConfig{Enabled: false}
	a.applyConfig(ctx, &next, &off)
	if a.handlers.Exists(builtin.SystemdPath) {
		t.Fatal("systemd handler still registered after disable")
	}
}

func TestMapEngineConfigDefaults(t *testing.T) {
	cases := []struct {
		name    string
		cfg     *config.Config
		workers int
		queue   int
		timeout time.Duration
	}{
		{"omitted", &config.Config{}, 2, 256, 0},
		{"overrides", &config.Config{Dispatch: &config.DispatchConfig{Workers: 4, QueueSize: 8, DefaultTimeout: "3s"}}, 4, 8, 3 * time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := mapEngineConfig(tc.cfg)
			if err != nil {
				t.Fatalf("mapEngineConfig: %v", err)
			}
			if !got.Enabled || got.Workers != tc.workers || got.QueueSize != tc.queue || got.DefaultTimeout != tc.timeout || got.HistorySize != 200 {
				t.Fatalf("got %+v", got)
			}
		})
	}
}

func TestMapStorageConfig(t *testing.T) {
	cases := []struct {
		name    string
		cfg     *config.StorageConfig
		enabled bool
		driver  string
		wantErr bool
	}{
		{"nil", nil, false, "", false},
		{"none", &config.StorageConfig{Driver: "none"}, false, "", false},
		{"sqlite", &config.StorageConfig{Driver: "SQLite", Path: "x.db"}, true, "sqlite", false},
		{"bolt no path", &config.StorageConfig{Driver: "bolt"}, false, "", true},
		{"redis default addr", &config.StorageConfig{Driver: "redis"}, true, "redis", false},
		{"unknown", &config.StorageConfig{Driver: "mongo"}, false, "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sc, enabled, err := mapStorageConfig(&config.Config{Storage: tc.cfg})
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if enabled != tc.enabled || sc.Driver != tc.driver {
				t.Fatalf("got %+v enabled=%v", sc, enabled)
			}
			if tc.name == "sqlite" && sc.BusyTimeout != time.Second {
				t.Fatalf("busy timeout = %v, want 1s", sc.BusyTimeout)
			}
			if tc.name == "redis default addr" && sc.Addr != "127.0.0.1:6379" {
				t.Fatalf("redis addr = %q", sc.Addr)
			}
		})
	}
}
