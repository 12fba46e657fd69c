package alarm

import (
	"context"
	"strconv"
	"strings"
	"time"

	logx "alarmd/pkg/logx"
)

// Boot arms a one-time timer for every boot-relative alarm; when it expires
// the alarm goes through the normal dispatch path. Alarms whose delay is not
// a non-negative integer are skipped. It returns the number of timers armed.
func (s *Service) Boot(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	armed := 0
	for _, a := range s.alarms {
		if a.Kind != KindBoot {
			continue
		}
		secs, err := strconv.Atoi(strings.TrimSpace(a.Pattern))
		if err != nil || secs < 0 {
			s.log.Warn("boot alarm skipped: invalid delay", logx.String("alarm_id", a.ID), logx.String("pattern", a.Pattern))
			continue
		}
		local := a.Clone()
		t := time.AfterFunc(time.Duration(secs)*time.Second, func() {
			if ctx.Err() != nil {
				return
			}
			s.dispatch(local)
		})
		s.bootTimers = append(s.bootTimers, t)
		armed++
		s.log.Debug("boot alarm armed", logx.String("alarm_id", a.ID), logx.Int("delay_sec", secs))
	}
	if armed > 0 {
		s.log.Info("boot alarms armed", logx.Int("count", armed))
	}
	return armed
}
