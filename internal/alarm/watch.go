package alarm

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "alarmd/pkg/logx"

	"github.com/fsnotify/fsnotify"
)

const definitionsDebounce = 500 * time.Millisecond

// WatchDefinitions reloads the registry when a definition file in the
// definitions dir changes. It returns nil when ctx is done and an error when
// the watcher breaks, so callers can restart it.
func (s *Service) WatchDefinitions(ctx context.Context) error {
	s.mu.Lock()
	dir := s.cfg.DefinitionsDir
	s.mu.Unlock()
	if strings.TrimSpace(dir) == "" {
		return errors.New("definitions dir not configured")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	s.log.Debug("definitions watcher started", logx.String("dir", dir))

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(definitionsDebounce, func() {
			if ctx.Err() != nil {
				return
			}
			_ = s.Reload(ctx)
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("definitions watcher closed")
			}
			if !strings.EqualFold(filepath.Ext(ev.Name), DefinitionExt) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				s.log.Debug("definition change detected", logx.String("file", ev.Name), logx.String("op", ev.Op.String()))
				debounce()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("definitions watcher closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				s.log.Warn("definitions watch overflow; forcing reload", logx.String("dir", dir))
				debounce()
				continue
			}
			if err != nil {
				s.log.Warn("definitions watch error", logx.String("dir", dir), logx.Err(err))
			}
		}
	}
}
