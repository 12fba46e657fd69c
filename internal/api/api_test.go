package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"alarmd/internal/alarm"
	"alarmd/internal/handler"
	"alarmd/internal/task/engine"
)

type fakeAlarms struct {
	mu      sync.Mutex
	alarms  []alarm.Alarm
	reloads int
	addErr  error
	gotArgs []any
}

func (f *fakeAlarms) List() []alarm.Alarm {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]alarm.Alarm(nil), f.alarms...)
}

func (f *fakeAlarms) FindByID(id string) (alarm.Alarm, bool) {
	for _, a := range f.List() {
		if a.ID == id {
			return a, true
		}
	}
	return alarm.Alarm{}, false
}

func (f *fakeAlarms) Count() int { return len(f.List()) }

func (f *fakeAlarms) Reload(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	return nil
}

func (f *fakeAlarms) AddOneShot(ctx context.Context, master bool, pattern, handler, action string, args ...any) (alarm.Alarm, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotArgs = args
	if pattern == "" || handler == "" || action == "" {
		return alarm.Alarm{}, alarm.ErrInvalidArguments
	}
	if f.addErr != nil {
		return alarm.Alarm{}, f.addErr
	}
	a := alarm.Alarm{ID: fmt.Sprintf("new.%d", len(f.alarms)), Kind: alarm.KindOneShot, Pattern: pattern, Master: master, Handler: handler, Action: action, Args: args}
	f.alarms = append(f.alarms, a)
	return a, nil
}

func (f *fakeAlarms) TimeToNextTick() (time.Duration, bool) { return 12 * time.Second, true }

func (f *fakeAlarms) NextFire(a alarm.Alarm) (time.Time, error) {
	if a.Pattern == "bad" {
		return time.Time{}, alarm.ErrInvalidPattern
	}
	return time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC), nil
}

func (f *fakeAlarms) Validate(a alarm.Alarm) error {
	if a.Handler != "/handlers/log" {
		return fmt.Errorf("%w: %s", alarm.ErrHandlerNotFound, a.Handler)
	}
	return nil
}

type fakeHandlers []handler.Info

func (f fakeHandlers) Describe() []handler.Info { return f }

type fakeEngine struct{}

func (fakeEngine) Snapshot() engine.Snapshot { return engine.Snapshot{Enabled: true, Workers: 3} }

func newTestApp(t *testing.T, cfg Config) (*fakeAlarms, func(req *http.Request) (int, map[string]any, []byte)) {
	t.Helper()
	fa := &fakeAlarms{alarms: []alarm.Alarm{
		{ID: "d.1", Kind: alarm.KindDaily, Pattern: "10:00", Handler: "/handlers/log", Action: "record", Args: []any{"hi there", int64(3)}},
		{ID: "h.2", Kind: alarm.KindHourly, Pattern: "bad", Handler: "/handlers/log", Action: "record"},
		{ID: "d.3", Kind: alarm.KindDaily, Pattern: "11:00", Handler: "/handlers/systemd", Action: "restart"},
	}}
	handlers := fakeHandlers{
		{Path: "/handlers/log", Actions: []string{"announce", "record"}},
		{Path: "/handlers/systemd", Error: "no system bus"},
	}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "alarmd_alarms 2\n")
	})
	app := NewApp(cfg, Deps{Alarms: fa, Engine: fakeEngine{}, Handlers: handlers, Metrics: metrics})
	do := func(req *http.Request) (int, map[string]any, []byte) {
		t.Helper()
		resp, err := app.Test(req, -1)
		if err != nil {
			t.Fatalf("%s %s: %v", req.Method, req.URL, err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		var m map[string]any
		_ = json.Unmarshal(body, &m)
		return resp.StatusCode, m, body
	}
	return fa, do
}

func postJSON(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestListAndGet(t *testing.T) {
	t.Parallel()
	_, do := newTestApp(t, Config{})

	status, _, body := do(httptest.NewRequest(http.MethodGet, "/alarms", nil))
	if status != http.StatusOK {
		t.Fatalf("GET /alarms status = %d", status)
	}
	var list []alarmView
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("list len = %d, want 3", len(list))
	}
	if list[0].KindName != "daily" || list[0].NextFire == nil || !reflect.DeepEqual(list[0].Args, []string{`"hi there"`, "3"}) {
		t.Fatalf("unexpected view: %+v", list[0])
	}
	if list[1].NextFire != nil || list[1].NextError == "" {
		t.Fatalf("invalid pattern should report next_error: %+v", list[1])
	}

	status, m, _ := do(httptest.NewRequest(http.MethodGet, "/alarms/d.1", nil))
	if status != http.StatusOK || m["id"] != "d.1" {
		t.Fatalf("GET /alarms/d.1 = %d %v", status, m)
	}
	status, m, _ = do(httptest.NewRequest(http.MethodGet, "/alarms/missing", nil))
	if status != http.StatusNotFound || m["error"] == nil {
		t.Fatalf("GET missing = %d %v", status, m)
	}
}

func TestAddOneShotStatusCodes(t *testing.T) {
	t.Parallel()
	fa, do := newTestApp(t, Config{})

	status, m, _ := do(postJSON("/alarms/once", `{"master":true,"pattern":"26-06-01@12:00","handler":"/handlers/log","action":"record","args":["x",7,2.5,null]}`))
	if status != http.StatusCreated || m["kind"] != "O" {
		t.Fatalf("create = %d %v", status, m)
	}
	if want := []any{"x", int64(7), 2.5, ""}; !reflect.DeepEqual(fa.gotArgs, want) {
		t.Fatalf("args = %#v, want %#v", fa.gotArgs, want)
	}

	if status, _, _ := do(postJSON("/alarms/once", `{"pattern":"","handler":"/h","action":"a"}`)); status != http.StatusBadRequest {
		t.Fatalf("missing pattern status = %d, want 400", status)
	}
	if status, _, _ := do(postJSON("/alarms/once", `{"pattern":`)); status != http.StatusBadRequest {
		t.Fatalf("broken body status = %d, want 400", status)
	}
	if status, _, _ := do(postJSON("/alarms/once", `{"pattern":"x","when":"now"}`)); status != http.StatusBadRequest {
		t.Fatalf("unknown field status = %d, want 400", status)
	}

	fa.mu.Lock()
	fa.addErr = fmt.Errorf("%w: 2025-01-01 00:00", alarm.ErrPastOccurrence)
	fa.mu.Unlock()
	status, m, _ = do(postJSON("/alarms/once", `{"pattern":"25-01-01@00:00","handler":"/handlers/log","action":"record"}`))
	if status != http.StatusUnprocessableEntity || !strings.Contains(fmt.Sprint(m["error"]), "past") {
		t.Fatalf("past one-shot = %d %v", status, m)
	}
}

func TestReloadTickHealthDispatchMetrics(t *testing.T) {
	t.Parallel()
	fa, do := newTestApp(t, Config{})

	if status, m, _ := do(httptest.NewRequest(http.MethodPost, "/alarms/reload", nil)); status != http.StatusOK || m["alarms"] != float64(3) {
		t.Fatalf("reload = %d %v", status, m)
	}
	if fa.reloads != 1 {
		t.Fatalf("reloads = %d", fa.reloads)
	}
	if status, m, _ := do(httptest.NewRequest(http.MethodGet, "/tick", nil)); status != http.StatusOK || m["seconds"] != float64(12) || m["running"] != true {
		t.Fatalf("tick = %d %v", status, m)
	}
	if status, m, _ := do(httptest.NewRequest(http.MethodGet, "/healthz", nil)); status != http.StatusOK || m["status"] != "ok" {
		t.Fatalf("healthz = %d %v", status, m)
	}
	if status, m, _ := do(httptest.NewRequest(http.MethodGet, "/dispatch", nil)); status != http.StatusOK || m["workers"] != float64(3) {
		t.Fatalf("dispatch = %d %v", status, m)
	}
	if status, _, body := do(httptest.NewRequest(http.MethodGet, "/metrics", nil)); status != http.StatusOK || !strings.Contains(string(body), "alarmd_alarms 2") {
		t.Fatalf("metrics = %d %s", status, body)
	}
}

func TestHandlersAndAlarmCheck(t *testing.T) {
	t.Parallel()
	_, do := newTestApp(t, Config{})

	status, _, body := do(httptest.NewRequest(http.MethodGet, "/handlers", nil))
	if status != http.StatusOK {
		t.Fatalf("GET /handlers status = %d", status)
	}
	var infos []handler.Info
	if err := json.Unmarshal(body, &infos); err != nil {
		t.Fatalf("decode handlers: %v", err)
	}
	want := []handler.Info{
		{Path: "/handlers/log", Actions: []string{"announce", "record"}},
		{Path: "/handlers/systemd", Error: "no system bus"},
	}
	if !reflect.DeepEqual(infos, want) {
		t.Fatalf("handlers = %+v, want %+v", infos, want)
	}

	cases := []struct {
		id     string
		status int
		ok     any
	}{
		{"d.1", http.StatusOK, true},
		{"d.3", http.StatusOK, false},
		{"missing", http.StatusNotFound, nil},
	}
	for _, tc := range cases {
		status, m, _ := do(httptest.NewRequest(http.MethodGet, "/alarms/"+tc.id+"/check", nil))
		if status != tc.status || m["ok"] != tc.ok {
			t.Fatalf("check %s = %d %v, want %d ok=%v", tc.id, status, m, tc.status, tc.ok)
		}
		if tc.ok == false && !strings.Contains(fmt.Sprint(m["error"]), "/handlers/systemd") {
			t.Fatalf("check %s error = %v", tc.id, m["error"])
		}
	}
}

func TestBearerAuth(t *testing.T) {
	t.Parallel()
	_, do := newTestApp(t, Config{Token: "s3cret"})

	if status, _, _ := do(httptest.NewRequest(http.MethodGet, "/alarms", nil)); status != http.StatusUnauthorized {
		t.Fatalf("no token status = %d, want 401", status)
	}
	req := httptest.NewRequest(http.MethodGet, "/alarms", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	if status, _, _ := do(req); status != http.StatusOK {
		t.Fatalf("bearer status = %d", status)
	}
	if status, _, _ := do(httptest.NewRequest(http.MethodGet, "/alarms?token=s3cret", nil)); status != http.StatusOK {
		t.Fatalf("query token status = %d", status)
	}
	if status, _, _ := do(httptest.NewRequest(http.MethodGet, "/alarms?token=nope", nil)); status != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d", status)
	}
	if status, _, _ := do(httptest.NewRequest(http.MethodGet, "/healthz", nil)); status != http.StatusOK {
		t.Fatalf("healthz must stay open, status = %d", status)
	}

	for _, bad := range []string{"Bearer s3cre", "Bearer s3cret2", "Bearer S3CRET", "Basic s3cret", "Bearer "} {
		req := httptest.NewRequest(http.MethodGet, "/alarms", nil)
		req.Header.Set("Authorization", bad)
		if status, _, _ := do(req); status != http.StatusUnauthorized {
			t.Fatalf("Authorization %q status = %d, want 401", bad, status)
		}
	}
}

func TestTokenEqual(t *testing.T) {
	t.Parallel()
	cases := []struct {
		got, want string
		ok        bool
	}{
		{"s3cret", "s3cret", true},
		{"s3cre", "s3cret", false},
		{"s3cret!", "s3cret", false},
		{"s3creT", "s3cret", false},
		{"", "s3cret", false},
	}
	for _, tc := range cases {
		if got := tokenEqual(tc.got, tc.want); got != tc.ok {
			t.Fatalf("tokenEqual(%q, %q) = %v, want %v", tc.got, tc.want, got, tc.ok)
		}
	}
}

func TestServerLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Deps{Alarms: &fakeAlarms{}})
	srv.Start(ctx)
	defer srv.Stop(ctx)

	var addr string
	deadline := time.Now().Add(2 * time.Second)
	for addr == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
		addr = srv.Addr()
	}
	if addr == "" {
		t.Fatal("server did not bind")
	}

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: time.Second}
	var resp *http.Response
	var err error
	for time.Now().Before(deadline) {
		resp, err = client.Get("http://" + addr + "/healthz")
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}

	srv.Reconfigure(ctx, Config{Enabled: false})
	if srv.Addr() != "" {
		t.Fatal("disabled server should release its listener")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	cases := map[string]bool{
		"127.0.0.1:8077": true,
		"localhost:80":   true,
		"[::1]:9000":     true,
		"0.0.0.0:8077":   false,
		":8077":          false,
		"10.1.2.3:80":    false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}
