package alarm

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"alarmd/internal/eventbus"
	logx "alarmd/pkg/logx"

	"github.com/google/uuid"
)

// DefinitionExt is the extension of definition files.
const DefinitionExt = ".txt"

// Rejection describes one definition line that did not make it into the registry.
type Rejection struct {
	File string
	Line int
	Err  error
}

// LoadAll reads every definition file in dir (sorted by name) and returns the
// accepted alarms in file order. Malformed or invalid lines are logged and
// skipped. The error is only set when dir itself cannot be read.
func (s *Service) LoadAll(dir string) ([]Alarm, []Rejection, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read definitions dir: %w", err)
	}
	now := s.localNow()

	var (
		out      []Alarm
		rejected []Rejection
	)
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), DefinitionExt) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		alarms, rej, err := s.loadFile(path, now)
		if err != nil {
			s.log.Error("definition file unreadable", logx.String("file", path), logx.Err(err))
			rejected = append(rejected, Rejection{File: path, Err: err})
			continue
		}
		out = append(out, alarms...)
		rejected = append(rejected, rej...)
	}
	return out, rejected, nil
}

func (s *Service) loadFile(path string, now time.Time) ([]Alarm, []Rejection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	var (
		out      []Alarm
		rejected []Rejection
	)
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		log := s.log.With(logx.String("file", path), logx.Int("line", lineNo))

		a, err := parseDefinition(line, now)
		if err != nil {
			log.Warn("definition skipped", logx.Err(err))
			rejected = append(rejected, Rejection{File: path, Line: lineNo, Err: err})
			continue
		}
		if err := s.validate(a, now, log); err != nil {
			rejected = append(rejected, Rejection{File: path, Line: lineNo, Err: err})
			continue
		}
		out = append(out, a)
	}
	return out, rejected, sc.Err()
}

// parseDefinition builds an alarm from
// <kind> <pattern> <true|false> <handler> <action> [args...].
func parseDefinition(line string, now time.Time) (Alarm, error) {
	parts, err := SplitLine(line)
	if err != nil {
		return Alarm{}, err
	}
	if len(parts) < 5 {
		return Alarm{}, fmt.Errorf("%w: want at least 5 fields, got %d", ErrMalformedDefinition, len(parts))
	}
	kind, err := ParseKind(parts[0])
	if err != nil {
		return Alarm{}, err
	}
	var args []any
	for _, tok := range parts[5:] {
		args = append(args, ParseLiteral(tok))
	}
	return newAlarm(kind, parts[1], strings.EqualFold(parts[2], "true"), parts[3], parts[4], args, now), nil
}

func newAlarm(kind Kind, pattern string, master bool, handler, action string, args []any, now time.Time) Alarm {
	return Alarm{
		ID:      newID(now),
		Kind:    kind,
		Pattern: pattern,
		Master:  master,
		Handler: handler,
		Action:  action,
		Args:    args,
	}
}

func newID(now time.Time) string {
	return fmt.Sprintf("%s.%d", uuid.NewString(), now.Unix())
}

// Reload replaces the registry with the current definition files and persists
// it. When the directory cannot be read the registry is left untouched.
func (s *Service) Reload(ctx context.Context) error {
	s.mu.Lock()
	dir := s.cfg.DefinitionsDir
	s.mu.Unlock()

	alarms, rejected, err := s.LoadAll(dir)
	if err != nil {
		s.log.Error("reload failed", logx.String("dir", dir), logx.Err(err))
		return err
	}

	s.mu.Lock()
	s.alarms = alarms
	s.calcFailed = map[string]struct{}{}
	s.persistLocked(ctx)
	s.mu.Unlock()

	s.log.Info("alarms reloaded", logx.String("dir", dir), logx.Int("alarms", len(alarms)), logx.Int("rejected", len(rejected)))
	s.publish(eventbus.AlarmReloaded, len(alarms))
	return nil
}

// AddOneShot validates and appends a one-shot alarm, persisting immediately.
// Unlike file definitions, validation failures are returned.
func (s *Service) AddOneShot(ctx context.Context, master bool, pattern, handler, action string, args ...any) (Alarm, error) {
	pattern = strings.TrimSpace(pattern)
	handler = strings.TrimSpace(handler)
	action = strings.TrimSpace(action)
	if pattern == "" || handler == "" || action == "" {
		return Alarm{}, ErrInvalidArguments
	}

	now := s.localNow()
	a := newAlarm(KindOneShot, pattern, master, handler, action, append([]any(nil), args...), now)
	if err := s.validate(a, now, s.log); err != nil {
		return Alarm{}, err
	}

	s.mu.Lock()
	s.alarms = append(s.alarms, a)
	s.persistLocked(ctx)
	s.mu.Unlock()

	s.log.Info("one-shot alarm added", logx.String("alarm_id", a.ID), logx.String("pattern", pattern), logx.String("handler", handler), logx.String("action", action))
	s.publish(eventbus.AlarmAdded, eventFor(a))
	return a.Clone(), nil
}
