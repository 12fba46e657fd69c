package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"alarmd/internal/alarm"
	"alarmd/internal/eventbus"
	"alarmd/internal/task/engine"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveCountsEvents(t *testing.T) {
	t.Parallel()
	m := New(Sources{})

	m.Observe(eventbus.Event{Type: eventbus.AlarmFired, Data: alarm.FiredEvent{ID: "a", Kind: "D"}})
	m.Observe(eventbus.Event{Type: eventbus.AlarmFired, Data: alarm.FiredEvent{ID: "b", Kind: "D"}})
	m.Observe(eventbus.Event{Type: eventbus.AlarmFired, Data: alarm.FiredEvent{ID: "c", Kind: "O"}})
	m.Observe(eventbus.Event{Type: eventbus.AlarmRetired})
	m.Observe(eventbus.Event{Type: eventbus.AlarmDispatchFailed})
	m.Observe(eventbus.Event{Type: eventbus.TaskDropped, Data: engine.TaskEvent{Error: "queue_full"}})
	m.Observe(eventbus.Event{Type: eventbus.TaskFinished, Data: engine.TaskEvent{Duration: 20 * time.Millisecond}})

	cases := []struct {
		name string
		got  float64
		want float64
	}{
		{"daily fired", testutil.ToFloat64(m.fired.WithLabelValues("daily")), 2},
		{"oneshot fired", testutil.ToFloat64(m.fired.WithLabelValues("oneshot")), 1},
		{"retired", testutil.ToFloat64(m.retired), 1},
		{"dispatch failed", testutil.ToFloat64(m.dispatchFailed), 1},
		{"dropped queue_full", testutil.ToFloat64(m.tasksDropped.WithLabelValues("queue_full")), 1},
		{"reloads", testutil.ToFloat64(m.reloads), 0},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Fatalf("%s = %v, want %v", tc.name, tc.got, tc.want)
		}
	}
	if n := testutil.CollectAndCount(m.taskDuration); n != 1 {
		t.Fatalf("duration histogram series = %d, want 1", n)
	}
}

func TestRunFollowsBus(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	m := New(Sources{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, bus) }()

	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(m.reloads) == 0 && time.Now().Before(deadline) {
		bus.Publish(eventbus.Event{Type: eventbus.AlarmReloaded, Data: 3})
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if testutil.ToFloat64(m.reloads) == 0 {
		t.Fatal("reload event was not counted")
	}
}

func TestHandlerExposesGauges(t *testing.T) {
	t.Parallel()
	m := New(Sources{
		Alarms:     func() int { return 7 },
		QueueDepth: func() int { return 2 },
		NextTick:   func() (time.Duration, bool) { return 0, false },
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"alarmd_alarms 7", "alarmd_dispatch_queue_depth 2", "alarmd_next_tick_seconds -1", "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
