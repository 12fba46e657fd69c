//go:build !linux

package systemdmanager

import (
	"context"
	"errors"
)

var ErrUnsupported = errors.New("systemdmanager: unsupported OS (linux only)")

type Manager struct {
	allowed Allowlist
}

func NewContext(ctx context.Context, units []string) (*Manager, error) {
	return nil, ErrUnsupported
}

func (m *Manager) Units() []string { return m.allowed.Units() }

func (m *Manager) Run(ctx context.Context, op Op, name string) error { return ErrUnsupported }

func (m *Manager) ActiveState(ctx context.Context, name string) (string, error) {
	return "", ErrUnsupported
}

func (m *Manager) Close() {}
