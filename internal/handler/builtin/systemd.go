package builtin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"alarmd/internal/alarm"
	"alarmd/internal/handler"
	logx "alarmd/pkg/logx"
	"alarmd/pkg/systemdmanager"
)

// SystemdPath is the built-in unit control handler. Its actions (start, stop,
// restart) take unit names as alarm arguments.
const SystemdPath = "/handlers/systemd"

const defaultUnitTimeout = 15 * time.Second

// UnitRunner runs unit jobs. *systemdmanager.Manager implements it.
type UnitRunner interface {
	Run(ctx context.Context, op systemdmanager.Op, unit string) error
	Close()
}

type SystemdOptions struct {
	// Units is the allowlist; names without a suffix get ".service".
	Units []string
	// Timeout bounds each unit job. Zero means 15s.
	Timeout time.Duration
	// Connect opens the runner on first load. Nil dials the system bus.
	Connect func(ctx context.Context, units []string) (UnitRunner, error)
}

// Systemd owns the runner behind the systemd handler.
type Systemd struct {
	mu     sync.Mutex
	opts   SystemdOptions
	log    logx.Logger
	runner UnitRunner
}

func dialSystemBus(ctx context.Context, units []string) (UnitRunner, error) {
	m, err := systemdmanager.NewContext(ctx, units)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// RegisterSystemd installs the systemd handler factory in r. The bus
// connection is made on first load; a failed connection surfaces as a
// handler load error and is retried on the next load.
func RegisterSystemd(r *handler.Registry, opts SystemdOptions, log logx.Logger) *Systemd {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultUnitTimeout
	}
	if opts.Connect == nil {
		opts.Connect = dialSystemBus
	}
	s := &Systemd{
		opts: opts,
		log:  log.With(logx.String("comp", "handler"), logx.String("handler", SystemdPath)),
	}
	r.RegisterFactory(SystemdPath, s.load)
	return s
}

func (s *Systemd) load() (*handler.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runner == nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)
		defer cancel()
		runner, err := s.opts.Connect(ctx, s.opts.Units)
		if err != nil {
			return nil, fmt.Errorf("systemd handler: %w", err)
		}
		s.runner = runner
	}

	u := handler.NewUnit(SystemdPath)
	for _, op := range []systemdmanager.Op{systemdmanager.OpStart, systemdmanager.OpStop, systemdmanager.OpRestart} {
		u.Handle(string(op), s.action(op))
	}
	return u, nil
}

func (s *Systemd) action(op systemdmanager.Op) handler.Action {
	return func(ctx context.Context, a alarm.Alarm) error {
		if len(a.Args) == 0 {
			return fmt.Errorf("%s: no units given", op)
		}
		s.mu.Lock()
		runner := s.runner
		s.mu.Unlock()
		if runner == nil {
			return systemdmanager.ErrClosed
		}

		var errs []error
		for _, arg := range a.Args {
			unit := strings.TrimSpace(fmt.Sprint(arg))
			uctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
			start := time.Now()
			err := runner.Run(uctx, op, unit)
			cancel()
			if err != nil {
				s.log.Warn("unit job failed", logx.String("alarm_id", a.ID), logx.String("op", string(op)), logx.String("unit", unit), logx.Err(err))
				errs = append(errs, err)
				continue
			}
			s.log.Info("unit job done", logx.String("alarm_id", a.ID), logx.String("op", string(op)), logx.String("unit", unit), logx.Duration("took", time.Since(start)))
		}
		return errors.Join(errs...)
	}
}

// Close drops the bus connection. A later load reconnects.
func (s *Systemd) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runner != nil {
		s.runner.Close()
		s.runner = nil
	}
}
