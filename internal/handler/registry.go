// Package handler hosts the in-process units that alarms invoke by path.
//
// A unit is registered under a path either directly or through a factory.
// Factories run on first Load and may fail; a failed load is retried on the
// next Load.
package handler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"alarmd/internal/alarm"
)

// Action is one invocable operation of a unit.
type Action func(ctx context.Context, a alarm.Alarm) error

// Unit is a loaded handler: a named set of actions.
type Unit struct {
	path    string
	actions map[string]Action
}

func NewUnit(path string) *Unit {
	return &Unit{path: path, actions: map[string]Action{}}
}

// Handle registers fn under name and returns u for chaining.
func (u *Unit) Handle(name string, fn Action) *Unit {
	u.actions[strings.TrimSpace(name)] = fn
	return u
}

func (u *Unit) Path() string { return u.path }

func (u *Unit) HasAction(name string) bool {
	_, ok := u.actions[name]
	return ok
}

// Actions returns the sorted action names.
func (u *Unit) Actions() []string {
	out := make([]string, 0, len(u.actions))
	for k := range u.actions {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (u *Unit) Invoke(ctx context.Context, action string, a alarm.Alarm) error {
	fn, ok := u.actions[action]
	if !ok || fn == nil {
		return fmt.Errorf("%w: %s->%s", alarm.ErrActionNotFound, u.path, action)
	}
	return fn(ctx, a)
}

// Factory builds a unit on first load.
type Factory func() (*Unit, error)

// Registry maps handler paths to units. It implements alarm.Host.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	loaded    map[string]*Unit
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}, loaded: map[string]*Unit{}}
}

func normalize(path string) string {
	path = strings.TrimSpace(path)
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimSuffix(path, ".c")
}

// Register makes u available under its path.
func (r *Registry) Register(u *Unit) {
	if u == nil {
		return
	}
	p := normalize(u.path)
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.factories, p)
	r.loaded[p] = u
}

// RegisterFactory makes path available; fn runs on first Load.
func (r *Registry) RegisterFactory(path string, fn Factory) {
	p := normalize(path)
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.loaded, p)
	r.factories[p] = fn
}

// Unregister removes path. Alarms that point at it fail validation on the
// next reload and are skipped at dispatch.
func (r *Registry) Unregister(path string) {
	p := normalize(path)
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.loaded, p)
	delete(r.factories, p)
}

func (r *Registry) Exists(path string) bool {
	p := normalize(path)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.loaded[p]; ok {
		return true
	}
	_, ok := r.factories[p]
	return ok
}

func (r *Registry) Load(path string) (alarm.Handler, error) {
	p := normalize(path)
	r.mu.Lock()
	if u, ok := r.loaded[p]; ok {
		r.mu.Unlock()
		return u, nil
	}
	fn, ok := r.factories[p]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", alarm.ErrHandlerNotFound, path)
	}
	if fn == nil {
		return nil, errors.New("nil factory")
	}

	u, err := fn()
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, errors.New("factory returned no unit")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.loaded[p]; ok {
		return cur, nil
	}
	r.loaded[p] = u
	return u, nil
}

// Paths returns every known handler path, sorted.
func (r *Registry) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]struct{}{}
	for p := range r.loaded {
		seen[p] = struct{}{}
	}
	for p := range r.factories {
		seen[p] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Info describes one handler for listings.
type Info struct {
	Path    string   `json:"path"`
	Actions []string `json:"actions,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// Describe loads every known handler and lists its actions. A handler that
// fails to load is reported with its error and is retried on the next Load.
func (r *Registry) Describe() []Info {
	paths := r.Paths()
	out := make([]Info, 0, len(paths))
	for _, p := range paths {
		info := Info{Path: p}
		h, err := r.Load(p)
		if err != nil {
			info.Error = err.Error()
		} else if u, ok := h.(*Unit); ok {
			info.Actions = u.Actions()
		}
		out = append(out, info)
	}
	return out
}
