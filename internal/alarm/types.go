package alarm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"alarmd/internal/eventbus"
	"alarmd/internal/storage"
	"alarmd/internal/task/engine"
	logx "alarmd/pkg/logx"
)

// Kind is the recurrence kind of an alarm, written as a single letter in
// definition files.
type Kind byte

const (
	KindBoot    Kind = 'B' // seconds after the boot signal
	KindOneShot Kind = 'O' // YY-MM-DD@HH:MM
	KindHourly  Kind = 'H' // minute of the hour
	KindDaily   Kind = 'D' // HH:MM
	KindWeekly  Kind = 'W' // weekday@HH:MM, 0 = Sunday
	KindMonthly Kind = 'M' // day@HH:MM
	KindYearly  Kind = 'Y' // MM-DD@HH:MM
)

func (k Kind) String() string { return string(k) }

// Name is the long, human-friendly kind name.
func (k Kind) Name() string {
	switch k {
	case KindBoot:
		return "boot"
	case KindOneShot:
		return "oneshot"
	case KindHourly:
		return "hourly"
	case KindDaily:
		return "daily"
	case KindWeekly:
		return "weekly"
	case KindMonthly:
		return "monthly"
	case KindYearly:
		return "yearly"
	default:
		return "unknown"
	}
}

func ParseKind(s string) (Kind, error) {
	s = strings.TrimSpace(s)
	if len(s) != 1 {
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	k := Kind(strings.ToUpper(s)[0])
	switch k {
	case KindBoot, KindOneShot, KindHourly, KindDaily, KindWeekly, KindMonthly, KindYearly:
		return k, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Alarm is one registry entry. LastFired is the zero time until the first dispatch.
type Alarm struct {
	ID        string
	Kind      Kind
	Pattern   string
	Master    bool
	Handler   string
	Action    string
	Args      []any
	LastFired time.Time
}

// Clone returns a copy that shares no mutable state with a.
func (a Alarm) Clone() Alarm {
	if a.Args != nil {
		args := make([]any, len(a.Args))
		copy(args, a.Args)
		a.Args = args
	}
	return a
}

// Host resolves handler paths to loaded handlers.
type Host interface {
	Exists(path string) bool
	Load(path string) (Handler, error)
}

// Handler is a loaded unit exposing named actions.
type Handler interface {
	HasAction(name string) bool
	Invoke(ctx context.Context, action string, a Alarm) error
}

// Executor accepts dispatch work without blocking.
type Executor interface {
	Enqueue(t engine.Task) error
}

// Config controls the alarm service.
type Config struct {
	DefinitionsDir string
	Timezone       string // IANA TZ; empty means Local
}

// Deps are the collaborators of Service. Only Host is required.
type Deps struct {
	Host   Host
	Engine Executor      // nil runs dispatches on their own goroutine
	Store  storage.Store // nil disables persistence
	Log    logx.Logger
	Bus    eventbus.Bus
	Now    func() time.Time // defaults to time.Now
}

// FiredEvent is the payload of alarm lifecycle events.
type FiredEvent struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Handler string `json:"handler"`
	Action  string `json:"action"`
	Error   string `json:"error,omitempty"`
}

func eventFor(a Alarm) FiredEvent {
	return FiredEvent{ID: a.ID, Kind: a.Kind.String(), Handler: a.Handler, Action: a.Action}
}
