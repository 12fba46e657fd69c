package alarm

import (
	"context"
	"strings"
	"sync"
	"time"

	"alarmd/internal/eventbus"
	"alarmd/internal/storage"
	logx "alarmd/pkg/logx"

	"github.com/robfig/cron/v3"
)

// tickSpec fires at second 0 of every minute.
const tickSpec = "* * * * *"

type Service struct {
	mu sync.Mutex

	cfg   Config
	log   logx.Logger
	bus   eventbus.Bus
	host  Host
	exec  Executor
	store storage.Store
	clock func() time.Time

	loc   *time.Location
	c     *cron.Cron
	entry cron.EntryID

	alarms     []Alarm
	calcFailed map[string]struct{}
	bootTimers []*time.Timer

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

func New(cfg Config, deps Deps) *Service {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	clock := deps.Now
	if clock == nil {
		clock = time.Now
	}
	s := &Service{
		cfg:         cfg,
		log:         log,
		bus:         deps.Bus,
		host:        deps.Host,
		exec:        deps.Engine,
		store:       deps.Store,
		clock:       clock,
		calcFailed:  map[string]struct{}{},
		lastEnqWarn: map[string]time.Time{},
	}
	s.loc = s.loadLocationLocked()
	return s
}

// Start restores the persisted registry (reloading definitions when it is
// empty) and begins the minute tick. Start is idempotent.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.c != nil {
		s.mu.Unlock()
		return nil
	}
	s.loc = s.loadLocationLocked()
	restored := s.restoreLocked(ctx)
	s.mu.Unlock()

	if restored == 0 {
		if err := s.Reload(ctx); err != nil {
			s.log.Warn("initial load failed; starting with an empty registry", logx.Err(err))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	if err := s.startCronLocked(); err != nil {
		return err
	}
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("alarms", len(s.alarms)))
	return nil
}

func (s *Service) startCronLocked() error {
	s.c = cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(cronLogger{log: s.log}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{log: s.log})),
	)
	id, err := s.c.AddFunc(tickSpec, s.tick)
	if err != nil {
		s.c = nil
		return err
	}
	s.entry = id
	s.c.Start()
	return nil
}

// Stop halts the tick and any pending boot timers. Dispatches already handed
// to the engine are not cancelled.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.entry = 0
	for _, t := range s.bootTimers {
		_ = t.Stop()
	}
	s.bootTimers = nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// Apply swaps the config. A timezone change restarts the tick in the new location.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if oldTZ == strings.TrimSpace(cfg.Timezone) {
		s.mu.Unlock()
		return
	}
	s.loc = s.loadLocationLocked()
	c := s.c
	s.c = nil
	s.entry = 0
	s.mu.Unlock()

	if c == nil {
		return
	}
	// A running tick takes s.mu, so wait for it without holding the lock.
	<-c.Stop().Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	if err := s.startCronLocked(); err != nil {
		s.log.Error("tick restart failed", logx.Err(err))
		return
	}
	s.log.Info("service restarted", logx.String("tz", s.loc.String()))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Location is the scheduler timezone.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

func (s *Service) localNow() time.Time {
	s.mu.Lock()
	loc := s.loc
	s.mu.Unlock()
	return s.clock().In(loc)
}

// List returns copies of every alarm in registry order.
func (s *Service) List() []Alarm {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Alarm, len(s.alarms))
	for i, a := range s.alarms {
		out[i] = a.Clone()
	}
	return out
}

func (s *Service) FindByID(id string) (Alarm, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alarms {
		if a.ID == id {
			return a.Clone(), true
		}
	}
	return Alarm{}, false
}

// TimeToNextTick reports how long until the next poll. ok is false when the
// tick is not running.
func (s *Service) TimeToNextTick() (time.Duration, bool) {
	s.mu.Lock()
	c, id := s.c, s.entry
	s.mu.Unlock()
	if c == nil || id == 0 {
		return 0, false
	}
	next := c.Entry(id).Next
	if next.IsZero() {
		return 0, false
	}
	return max(time.Until(next), 0), true
}

// NextFire is the next instant a would be due, relative to the current clock.
func (s *Service) NextFire(a Alarm) (time.Time, error) {
	now := s.localNow()
	t, err := NextOccurrence(a, now, false)
	if err != nil {
		return time.Time{}, err
	}
	if a.Kind == KindOneShot || !now.After(t.Add(dueWindow)) {
		return t, nil
	}
	return NextOccurrence(a, now, true)
}

func (s *Service) publish(typ string, data any) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}

// Count is the registry size.
func (s *Service) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alarms)
}
