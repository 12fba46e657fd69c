package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"alarmd/internal/eventbus"
	logx "alarmd/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) (*Service, eventbus.Bus) {
	t.Helper()
	bus := eventbus.New()
	s := New(cfg, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, bus
}

func waitEvent(t *testing.T, ch <-chan eventbus.Event, typ string) eventbus.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == typ {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func TestEnqueueDisabled(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: false}, logx.Nop(), nil)
	err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestEnqueueBeforeStart(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, logx.Nop(), nil)
	err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

func TestEnqueueValidatesTask(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, logx.Nop(), nil)
	if err := s.Enqueue(Task{Name: "x"}); err == nil {
		t.Fatal("expected error for nil Run")
	}
	if err := s.Enqueue(Task{Name: "  ", Run: func(context.Context) error { return nil }}); err == nil {
		t.Fatal("expected error for blank name")
	}
}

func TestPanickingTaskIsRecorded(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Enabled: true, Workers: 1, QueueSize: 4})
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	if err := s.Enqueue(Task{Name: "boom", Run: func(context.Context) error { panic("bad handler") }}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	ev := waitEvent(t, ch, eventbus.TaskFinished).Data.(TaskEvent)
	if ev.Error == "" {
		t.Fatal("expected panic to be reported as error")
	}

	// Worker survives the panic.
	if err := s.Enqueue(Task{Name: "ok", Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	ev = waitEvent(t, ch, eventbus.TaskFinished).Data.(TaskEvent)
	if ev.Name != "ok" || ev.Error != "" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if h := s.Snapshot().History; len(h) != 2 {
		t.Fatalf("history len = %d, want 2", len(h))
	}
}

func TestQueueFullDrops(t *testing.T) {
	t.Parallel()
	s, _ := startEngine(t, Config{Enabled: true, Workers: 1, QueueSize: 1})

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	block := func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}
	if err := s.Enqueue(Task{Name: "hold", Run: block}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	<-started
	if err := s.Enqueue(Task{Name: "queued", Run: block}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	err := s.Enqueue(Task{Name: "overflow", Run: block})
	close(release)
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	if snap := s.Snapshot(); snap.DroppedQueueFull != 1 {
		t.Fatalf("dropped_queue_full = %d, want 1", snap.DroppedQueueFull)
	}
}

func TestTaskTimeoutApplied(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Enabled: true, Workers: 1, DefaultTimeout: 20 * time.Millisecond})
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	err := s.Enqueue(Task{Name: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	ev := waitEvent(t, ch, eventbus.TaskFinished).Data.(TaskEvent)
	if ev.Error != context.DeadlineExceeded.Error() {
		t.Fatalf("error = %q, want deadline exceeded", ev.Error)
	}
}

func TestStaleTaskReportsDrop(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Enabled: true, Workers: 1, QueueSize: 4, MaxQueueDelay: 10 * time.Millisecond})
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	release := make(chan struct{})
	started := make(chan struct{})
	hold := func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}
	if err := s.Enqueue(Task{Name: "hold", Run: hold}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	<-started

	ran := make(chan struct{}, 1)
	dropped := make(chan error, 1)
	err := s.Enqueue(Task{
		Name:   "late",
		Run:    func(context.Context) error { ran <- struct{}{}; return nil },
		OnDrop: func(err error) { dropped <- err },
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	close(release)

	select {
	case err := <-dropped:
		if !errors.Is(err, ErrStale) {
			t.Fatalf("drop err = %v, want ErrStale", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnDrop was not called for a stale task")
	}
	ev := waitEvent(t, ch, eventbus.TaskDropped).Data.(TaskEvent)
	if ev.Name != "late" || ev.Error != "stale_queue_delay" {
		t.Fatalf("dropped event = %+v", ev)
	}
	select {
	case <-ran:
		t.Fatal("stale task must not run")
	case <-time.After(20 * time.Millisecond):
	}
	if snap := s.Snapshot(); snap.DroppedStale != 1 {
		t.Fatalf("dropped_stale = %d, want 1", snap.DroppedStale)
	}
}
