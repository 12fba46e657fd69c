package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is an in-memory signal that decouples the alarm core from observers
// (metrics, API, built-in handlers).
//
// Contract:
//   - Publish never blocks.
//   - Subscribers get buffered channels; a slow subscriber loses events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Event types published by alarmd components.
const (
	AlarmFired          = "alarm.fired"
	AlarmRetired        = "alarm.retired"
	AlarmAdded          = "alarm.added"
	AlarmReloaded       = "alarm.reloaded"
	AlarmDispatchFailed = "alarm.dispatch_failed"
	AlarmCalcFailed     = "alarm.calc_failed"
	AlarmAnnounce       = "alarm.announce"

	TaskStarted  = "task.started"
	TaskFinished = "task.finished"
	TaskDropped  = "task.dropped"
)

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			// Holding the write lock excludes in-flight Publish calls, so the
			// channel is never closed under a sender.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}
