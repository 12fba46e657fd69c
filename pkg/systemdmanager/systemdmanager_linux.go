//go:build linux

package systemdmanager

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
)

// Manager drives unit jobs on the system bus.
type Manager struct {
	mu      sync.RWMutex
	conn    *dbus.Conn
	allowed Allowlist
}

// NewContext connects to the system bus. If ctx is nil, context.Background() is used.
func NewContext(ctx context.Context, units []string) (*Manager, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	return &Manager{conn: conn, allowed: NewAllowlist(units)}, nil
}

func (m *Manager) Units() []string { return m.allowed.Units() }

// Run queues op for the unit in "replace" mode and waits for the job result.
func (m *Manager) Run(ctx context.Context, op Op, name string) error {
	unit, err := m.allowed.Check(name)
	if err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.conn == nil {
		return ErrClosed
	}

	done := make(chan string, 1)
	switch op {
	case OpStart:
		_, err = m.conn.StartUnitContext(ctx, unit, "replace", done)
	case OpStop:
		_, err = m.conn.StopUnitContext(ctx, unit, "replace", done)
	case OpRestart:
		_, err = m.conn.RestartUnitContext(ctx, unit, "replace", done)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, op)
	}
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", op, unit, err)
	}

	select {
	case res := <-done:
		if res != "done" {
			return fmt.Errorf("%s %s: job %s", op, unit, res)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s %s: %w", op, unit, ctx.Err())
	}
}

// ActiveState reports the unit's ActiveState ("active", "inactive", "failed", ...).
func (m *Manager) ActiveState(ctx context.Context, name string) (string, error) {
	unit, err := m.allowed.Check(name)
	if err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.conn == nil {
		return "", ErrClosed
	}
	st, err := m.conn.ListUnitsByNamesContext(ctx, []string{unit})
	if err != nil {
		return "", fmt.Errorf("status %s: %w", unit, err)
	}
	if len(st) == 0 {
		return "", fmt.Errorf("status %s: unit not loaded", unit)
	}
	return st[0].ActiveState, nil
}

func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
}
