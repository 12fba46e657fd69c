// Package systemdmanager starts, stops and restarts an allow-listed set of
// systemd units over D-Bus.
package systemdmanager

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Op is a unit job operation.
type Op string

const (
	OpStart   Op = "start"
	OpStop    Op = "stop"
	OpRestart Op = "restart"
)

var (
	ErrNotManaged = errors.New("systemdmanager: unit not managed")
	ErrClosed     = errors.New("systemdmanager: connection is closed")
	ErrUnknownOp  = errors.New("systemdmanager: unknown operation")
)

// UnitName appends ".service" when name has no unit suffix.
func UnitName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		switch name[i+1:] {
		case "service", "timer", "socket", "target", "path", "mount":
			return name
		}
	}
	return name + ".service"
}

// Allowlist is the set of units a Manager may touch, keyed by full unit name.
type Allowlist map[string]struct{}

func NewAllowlist(units []string) Allowlist {
	out := make(Allowlist, len(units))
	for _, u := range units {
		if n := UnitName(u); n != "" {
			out[n] = struct{}{}
		}
	}
	return out
}

// Check returns the full unit name when it is allowed.
func (a Allowlist) Check(name string) (string, error) {
	unit := UnitName(name)
	if _, ok := a[unit]; !ok || unit == "" {
		return "", fmt.Errorf("%w: %q", ErrNotManaged, name)
	}
	return unit, nil
}

func (a Allowlist) Units() []string {
	out := make([]string, 0, len(a))
	for u := range a {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// ParseOp maps an action name onto an Op.
func ParseOp(s string) (Op, error) {
	switch op := Op(strings.ToLower(strings.TrimSpace(s))); op {
	case OpStart, OpStop, OpRestart:
		return op, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownOp, s)
	}
}
