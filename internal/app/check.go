package app

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"alarmd/internal/alarm"
	"alarmd/internal/config"
	"alarmd/internal/eventbus"
	"alarmd/internal/handler"
	"alarmd/internal/handler/builtin"
	logx "alarmd/pkg/logx"
)

// Check loads the definitions named by the config at cfgPath without
// starting anything. Each accepted alarm is written to w with its next
// occurrence, followed by the handler host's actions; rejected lines are
// logged to stderr and returned.
func Check(cfgPath string, w io.Writer) ([]alarm.Rejection, error) {
	cfg, err := config.NewConfigManager(cfgPath).Parse()
	if err != nil {
		return nil, err
	}
	level := cfg.Logging.Level
	if strings.TrimSpace(level) == "" {
		level = "warn"
	}
	log := logx.NewWriter(os.Stderr, level)

	handlers := handler.NewRegistry()
	builtin.Register(handlers, log, eventbus.New())
	if opts, enabled, err := mapSystemdOptions(cfg); err != nil {
		return nil, err
	} else if enabled {
		sd := builtin.RegisterSystemd(handlers, opts, log)
		defer sd.Close()
	}

	svc := alarm.New(mapAlarmConfig(cfg), alarm.Deps{Host: handlers, Log: log})
	alarms, rejected, err := svc.LoadAll(cfg.Alarm.DefinitionsDir)
	if err != nil {
		return nil, err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tPATTERN\tHANDLER\tACTION\tNEXT")
	for _, a := range alarms {
		var next string
		if a.Kind == alarm.KindBoot {
			next = "boot+" + strings.TrimSpace(a.Pattern) + "s"
		} else if t, err := svc.NextFire(a); err != nil {
			next = "error: " + err.Error()
		} else {
			next = t.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", a.ID, a.Kind.Name(), a.Pattern, a.Handler, a.Action, next)
	}
	if err := tw.Flush(); err != nil {
		return rejected, err
	}
	fmt.Fprintf(w, "%d accepted, %d rejected (tz %s)\n\n", len(alarms), len(rejected), svc.Location())

	fmt.Fprintln(tw, "HANDLER\tACTIONS")
	for _, info := range handlers.Describe() {
		actions := strings.Join(info.Actions, ",")
		if info.Error != "" {
			actions = "error: " + info.Error
		}
		fmt.Fprintf(tw, "%s\t%s\n", info.Path, actions)
	}
	return rejected, tw.Flush()
}
