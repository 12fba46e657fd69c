package alarm

import (
	"fmt"
	"time"

	logx "alarmd/pkg/logx"
)

// Validate checks that a can be dispatched: the handler exists and loads, it
// exposes the action, and a one-shot occurrence is computable and not past.
// The first failure is logged and returned.
func (s *Service) Validate(a Alarm) error {
	return s.validate(a, s.localNow(), s.log)
}

func (s *Service) validate(a Alarm, now time.Time, log logx.Logger) error {
	err := checkAlarm(s.host, a, now)
	if err != nil {
		log.Warn("alarm rejected",
			logx.String("alarm_id", a.ID),
			logx.String("kind", a.Kind.String()),
			logx.String("pattern", a.Pattern),
			logx.String("handler", a.Handler),
			logx.String("action", a.Action),
			logx.Err(err),
		)
	}
	return err
}

func checkAlarm(host Host, a Alarm, now time.Time) error {
	if host == nil || !host.Exists(a.Handler) {
		return fmt.Errorf("%w: %s", ErrHandlerNotFound, a.Handler)
	}
	h, err := host.Load(a.Handler)
	if err != nil || h == nil {
		return fmt.Errorf("%w: %s: %v", ErrHandlerLoad, a.Handler, err)
	}
	if !h.HasAction(a.Action) {
		return fmt.Errorf("%w: %s->%s", ErrActionNotFound, a.Handler, a.Action)
	}
	if a.Kind == KindOneShot {
		at, err := NextOccurrence(a, now, false)
		if err != nil {
			return err
		}
		if at.Before(now) {
			return fmt.Errorf("%w: %s", ErrPastOccurrence, at.Format("2006-01-02 15:04"))
		}
	}
	return nil
}
