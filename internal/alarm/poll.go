package alarm

import (
	"context"
	"time"

	"alarmd/internal/eventbus"
	logx "alarmd/pkg/logx"
)

// dueWindow is the grace period after an occurrence during which it may still fire.
const dueWindow = 59 * time.Second

func (s *Service) tick() {
	s.pollAt(context.Background(), s.clock())
}

// pollAt runs one poll pass as of now: it fires due alarms, retires one-shots
// whose occurrence has passed and persists the registry if anything changed.
func (s *Service) pollAt(ctx context.Context, now time.Time) {
	s.mu.Lock()
	now = now.In(s.loc).Truncate(time.Second)

	var (
		due     []Alarm
		retired []Alarm
		remove  = map[string]struct{}{}
		mutated bool
	)
	for i := range s.alarms {
		a := &s.alarms[i]
		if a.Kind == KindBoot {
			continue
		}
		nc, err := NextOccurrence(*a, now, false)
		if err != nil {
			s.reportCalcFailureLocked(*a, err)
			continue
		}
		nf, err := NextOccurrence(*a, now, true)
		if err != nil {
			s.reportCalcFailureLocked(*a, err)
			continue
		}

		if !now.Before(nc) && !now.After(nc.Add(dueWindow)) && a.LastFired.Before(nc) {
			a.LastFired = now
			mutated = true
			due = append(due, a.Clone())
			if a.Kind == KindOneShot {
				remove[a.ID] = struct{}{}
				retired = append(retired, *a)
			}
			s.log.Debug("alarm due", logx.String("alarm_id", a.ID), logx.Time("occurrence", nc), logx.Time("next", nf))
			continue
		}
		if a.Kind == KindOneShot && now.After(nc) {
			remove[a.ID] = struct{}{}
			retired = append(retired, *a)
			mutated = true
			s.log.Warn("one-shot alarm missed", logx.String("alarm_id", a.ID), logx.Time("occurrence", nc),
				logx.String("handler", a.Handler), logx.String("action", a.Action))
		}
	}

	if len(remove) > 0 {
		kept := make([]Alarm, 0, len(s.alarms)-len(remove))
		for _, a := range s.alarms {
			if _, ok := remove[a.ID]; !ok {
				kept = append(kept, a)
			}
		}
		s.alarms = kept
	}
	if mutated {
		s.persistLocked(ctx)
	}
	s.mu.Unlock()

	for _, a := range due {
		s.publish(eventbus.AlarmFired, eventFor(a))
		s.dispatch(a)
	}
	for _, a := range retired {
		s.publish(eventbus.AlarmRetired, eventFor(a))
	}
}

// reportCalcFailureLocked logs a calculation failure once per alarm and
// pattern until the next reload. Call with s.mu held.
func (s *Service) reportCalcFailureLocked(a Alarm, err error) {
	key := a.ID + "\x00" + a.Pattern
	if _, seen := s.calcFailed[key]; seen {
		return
	}
	s.calcFailed[key] = struct{}{}
	s.log.Error("alarm occurrence calculation failed",
		logx.String("alarm_id", a.ID),
		logx.String("kind", a.Kind.String()),
		logx.String("pattern", a.Pattern),
		logx.Err(err),
	)
	s.publish(eventbus.AlarmCalcFailed, eventFor(a))
}
