package alarm

import (
	"context"
	"time"

	"alarmd/internal/storage"
	logx "alarmd/pkg/logx"
)

func toRecord(a Alarm) storage.Record {
	r := storage.Record{
		ID:      a.ID,
		Kind:    a.Kind.String(),
		Pattern: a.Pattern,
		Master:  a.Master,
		Handler: a.Handler,
		Action:  a.Action,
	}
	for _, v := range a.Args {
		r.Args = append(r.Args, FormatLiteral(v))
	}
	if !a.LastFired.IsZero() {
		r.LastFired = a.LastFired.Unix()
	}
	return r
}

func fromRecord(r storage.Record, loc *time.Location) (Alarm, error) {
	kind, err := ParseKind(r.Kind)
	if err != nil {
		return Alarm{}, err
	}
	a := Alarm{
		ID:      r.ID,
		Kind:    kind,
		Pattern: r.Pattern,
		Master:  r.Master,
		Handler: r.Handler,
		Action:  r.Action,
	}
	for _, tok := range r.Args {
		a.Args = append(a.Args, ParseLiteral(tok))
	}
	if r.LastFired > 0 {
		a.LastFired = time.Unix(r.LastFired, 0).In(loc)
	}
	return a, nil
}

// persistLocked writes the whole registry. Call with s.mu held.
func (s *Service) persistLocked(ctx context.Context) {
	if s.store == nil {
		return
	}
	recs := make([]storage.Record, 0, len(s.alarms))
	for _, a := range s.alarms {
		recs = append(recs, toRecord(a))
	}
	if err := s.store.SaveAlarms(ctx, recs); err != nil {
		s.log.Error("registry persist failed", logx.Int("alarms", len(recs)), logx.Err(err))
	}
}

// restoreLocked loads the persisted registry and returns how many alarms it
// holds. Records that cannot be decoded or duplicate an id are dropped.
// Call with s.mu held.
func (s *Service) restoreLocked(ctx context.Context) int {
	if s.store == nil {
		return 0
	}
	recs, err := s.store.LoadAlarms(ctx)
	if err != nil {
		s.log.Error("registry restore failed", logx.Err(err))
		return 0
	}
	seen := make(map[string]struct{}, len(recs))
	alarms := make([]Alarm, 0, len(recs))
	for _, r := range recs {
		a, err := fromRecord(r, s.loc)
		if err != nil {
			s.log.Warn("persisted alarm dropped", logx.String("alarm_id", r.ID), logx.Err(err))
			continue
		}
		if _, dup := seen[a.ID]; dup {
			s.log.Warn("persisted alarm dropped: duplicate id", logx.String("alarm_id", a.ID))
			continue
		}
		seen[a.ID] = struct{}{}
		alarms = append(alarms, a)
	}
	s.alarms = alarms
	if len(alarms) > 0 {
		s.log.Info("registry restored", logx.Int("alarms", len(alarms)))
	}
	return len(alarms)
}
