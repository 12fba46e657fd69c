// Package builtin registers the handlers that ship with alarmd.
package builtin

import (
	"context"
	"fmt"

	"alarmd/internal/alarm"
	"alarmd/internal/eventbus"
	"alarmd/internal/handler"
	logx "alarmd/pkg/logx"
)

// LogPath is the built-in logging handler.
const LogPath = "/handlers/log"

// Announcement is published on the bus by the announce action.
type Announcement struct {
	AlarmID string `json:"alarm_id"`
	Message string `json:"message"`
	Args    []any  `json:"args,omitempty"`
}

// Register adds the built-in units to r.
func Register(r *handler.Registry, log logx.Logger, bus eventbus.Bus) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "handler"), logx.String("handler", LogPath))

	r.RegisterFactory(LogPath, func() (*handler.Unit, error) {
		return handler.NewUnit(LogPath).
			Handle("record", func(ctx context.Context, a alarm.Alarm) error {
				log.Info("alarm recorded",
					logx.String("alarm_id", a.ID),
					logx.String("kind", a.Kind.String()),
					logx.String("pattern", a.Pattern),
					logx.Bool("master", a.Master),
					logx.Any("args", a.Args),
				)
				return nil
			}).
			Handle("announce", func(ctx context.Context, a alarm.Alarm) error {
				if bus == nil {
					return fmt.Errorf("announce: no event bus")
				}
				msg := a.Action
				if len(a.Args) > 0 {
					msg = fmt.Sprint(a.Args[0])
				}
				bus.Publish(eventbus.Event{Type: eventbus.AlarmAnnounce, Data: Announcement{AlarmID: a.ID, Message: msg, Args: a.Args}})
				return nil
			}), nil
	})
}
