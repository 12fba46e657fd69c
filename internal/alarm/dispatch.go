package alarm

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"alarmd/internal/eventbus"
	"alarmd/internal/storage"
	"alarmd/internal/task/engine"
	logx "alarmd/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

// dispatch hands a copy of a to the executor without waiting for it.
func (s *Service) dispatch(a Alarm) {
	a = a.Clone()
	if s.exec == nil {
		go func() { _ = s.Execute(context.Background(), a) }()
		return
	}
	err := s.exec.Enqueue(engine.Task{
		Name:   "alarm:" + a.ID,
		Run:    func(ctx context.Context) error { return s.Execute(ctx, a) },
		OnDrop: func(err error) { s.undispatched(a, err) },
	})
	if err != nil {
		s.undispatched(a, err)
	}
}

// undispatched books an attempt that never reached the handler: the executor
// refused it or discarded it from the queue. It is audited and the registry
// persisted like any other attempt. Call without s.mu held.
func (s *Service) undispatched(a Alarm, err error) {
	s.reportEnqueueError(a, err)

	ctx := context.Background()
	if s.store != nil {
		entry := storage.AuditEntry{At: s.clock(), AlarmID: a.ID, Handler: a.Handler, Action: a.Action, Error: err.Error()}
		if aerr := s.store.AppendAudit(ctx, entry); aerr != nil {
			s.log.Warn("audit append failed", logx.String("alarm_id", a.ID), logx.Err(aerr))
		}
	}
	s.mu.Lock()
	s.persistLocked(ctx)
	s.mu.Unlock()
}

func (s *Service) reportEnqueueError(a Alarm, err error) {
	s.publish(eventbus.AlarmDispatchFailed, FiredEvent{ID: a.ID, Kind: a.Kind.String(), Handler: a.Handler, Action: a.Action, Error: err.Error()})

	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[a.ID]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[a.ID] = now
	s.enqMu.Unlock()

	s.log.Warn("alarm dispatch not enqueued", logx.String("alarm_id", a.ID), logx.String("handler", a.Handler), logx.String("action", a.Action), logx.Err(err))
}

// Execute resolves the handler and invokes the action with a copy of a.
// Failures and panics are logged and audited, never propagated as panics;
// the returned error only describes the outcome. The registry is persisted
// afterwards either way.
func (s *Service) Execute(ctx context.Context, a Alarm) (err error) {
	start := time.Now()
	log := s.log.With(logx.String("alarm_id", a.ID), logx.String("handler", a.Handler), logx.String("action", a.Action))

	defer func() {
		took := time.Since(start)
		entry := storage.AuditEntry{At: start, AlarmID: a.ID, Handler: a.Handler, Action: a.Action, OK: err == nil, TookMS: took.Milliseconds()}
		if err != nil {
			entry.Error = err.Error()
			log.Error("alarm dispatch failed", logx.Err(err), logx.Duration("took", took))
			ev := eventFor(a)
			ev.Error = entry.Error
			s.publish(eventbus.AlarmDispatchFailed, ev)
		} else {
			log.Info("alarm dispatched", logx.Duration("took", took))
		}
		// The handler may have used up ctx; bookkeeping still has to land.
		pctx := context.WithoutCancel(ctx)
		if s.store != nil {
			if aerr := s.store.AppendAudit(pctx, entry); aerr != nil {
				log.Warn("audit append failed", logx.Err(aerr))
			}
		}
		s.mu.Lock()
		s.persistLocked(pctx)
		s.mu.Unlock()
	}()

	if s.host == nil || !s.host.Exists(a.Handler) {
		return fmt.Errorf("%w: %s", ErrHandlerNotFound, a.Handler)
	}
	h, lerr := s.host.Load(a.Handler)
	if lerr != nil || h == nil {
		return fmt.Errorf("%w: %s: %v", ErrHandlerLoad, a.Handler, lerr)
	}
	if !h.HasAction(a.Action) {
		return fmt.Errorf("%w: %s->%s", ErrActionNotFound, a.Handler, a.Action)
	}
	return invoke(ctx, h, a)
}

func invoke(ctx context.Context, h Handler, a Alarm) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v\n%s", r, debug.Stack())
		}
	}()
	return h.Invoke(ctx, a.Action, a.Clone())
}

// cronLogger adapts logx to the cron.Logger interface.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	fields := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		fields = append(fields, logx.Any(k, kv[i+1]))
	}
	return fields
}
