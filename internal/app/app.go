package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"alarmd/internal/alarm"
	"alarmd/internal/api"
	"alarmd/internal/config"
	"alarmd/internal/eventbus"
	"alarmd/internal/handler"
	"alarmd/internal/handler/builtin"
	"alarmd/internal/metrics"
	rtsup "alarmd/internal/runtime/supervisor"
	"alarmd/internal/storage"
	"alarmd/internal/task/engine"
	logx "alarmd/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	base  logx.Logger
	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	handlers *handler.Registry
	sdMu     sync.Mutex
	systemd  *builtin.Systemd

	engine  *engine.Service
	alarms  *alarm.Service
	metrics *metrics.Metrics
	api     *api.Server

	watchMu  sync.Mutex
	watchSup *rtsup.Supervisor
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	bus := eventbus.New()

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	engineSvc := engine.New(engCfg, log.With(logx.String("comp", "dispatch")), bus)

	handlers := handler.NewRegistry()
	builtin.Register(handlers, log, bus)

	a := &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		base:     log,
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		bus:      bus,
		store:    store,
		handlers: handlers,
		engine:   engineSvc,
	}
	if err := a.applySystemd(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	a.alarms = alarm.New(mapAlarmConfig(cfg), alarm.Deps{
		Host:   handlers,
		Engine: engineSvc,
		Store:  store,
		Log:    log.With(logx.String("comp", "alarm")),
		Bus:    bus,
	})

	a.metrics = metrics.New(metrics.Sources{
		Alarms:     a.alarms.Count,
		QueueDepth: func() int { return engineSvc.Snapshot().QueueLen },
		NextTick:   a.alarms.TimeToNextTick,
	})

	a.api = api.New(mapAPIConfig(cfg), api.Deps{
		Alarms:   a.alarms,
		Engine:   engineSvc,
		Handlers: a.handlers,
		Metrics:  a.metrics.Handler(),
		Log:      log,
	})
	return a, nil
}

func (a *App) Alarms() *alarm.Service { return a.alarms }

func (a *App) API() *api.Server { return a.api }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapEngineConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapSystemdOptions(cfg); err != nil {
			return err
		}
		return nil
	})

	cfg := a.cfgm.Get()

	a.engine.Start(a.sup.Context())
	if err := a.alarms.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("metrics", func(c context.Context) error {
		return a.metrics.Run(c, a.bus)
	})

	a.api.Start(a.sup.Context())

	if cfg.Alarm.WatchDefinitions {
		a.startWatcher(a.sup.Context())
	}
	a.armBoot(a.sup.Context(), cfg)

	// Optional: log events for observability/debug.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				// Keep this debug-level; the tick publishes every minute.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.Int("alarms", a.alarms.Count()),
		logx.String("tz", a.alarms.Location().String()),
	)
	return nil
}

// applyConfig pushes a committed config to the running components.
func (a *App) applyConfig(c context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLogConfig(newCfg))

		case "alarm":
			a.alarms.Apply(mapAlarmConfig(newCfg))
			dirChanged := strings.TrimSpace(oldCfg.Alarm.DefinitionsDir) != strings.TrimSpace(newCfg.Alarm.DefinitionsDir)
			if dirChanged {
				if err := a.alarms.Reload(c); err != nil {
					a.log.Warn("reload after definitions_dir change failed", logx.Err(err))
				}
			}
			if dirChanged || oldCfg.Alarm.WatchDefinitions != newCfg.Alarm.WatchDefinitions {
				stopCtx, cancel := context.WithTimeout(c, 2*time.Second)
				a.stopWatcher(stopCtx)
				cancel()
				if newCfg.Alarm.WatchDefinitions {
					a.startWatcher(c)
				}
			}

		case "dispatch":
			engCfg, err := mapEngineConfig(newCfg)
			if err != nil {
				a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
				continue
			}
			a.engine.Apply(c, engCfg)

		case "storage":
			a.log.Warn("storage config changed; restart required for changes to take effect")

		case "api":
			a.api.Reconfigure(c, mapAPIConfig(newCfg))

		case "systemd":
			if err := a.applySystemd(newCfg); err != nil {
				a.log.Warn("invalid systemd config; keeping previous", logx.Err(err))
			}
		}
	}

	a.log.Info("config reloaded", fields...)
}

// applySystemd (re)installs the systemd handler, dropping any previous bus
// connection. A disabled section unregisters the handler.
func (a *App) applySystemd(cfg *config.Config) error {
	opts, enabled, err := mapSystemdOptions(cfg)
	if err != nil {
		return err
	}
	a.sdMu.Lock()
	defer a.sdMu.Unlock()
	if a.systemd != nil {
		a.systemd.Close()
		a.systemd = nil
	}
	if !enabled {
		a.handlers.Unregister(builtin.SystemdPath)
		return nil
	}
	a.systemd = builtin.RegisterSystemd(a.handlers, opts, a.base)
	return nil
}

func (a *App) startWatcher(ctx context.Context) {
	a.watchMu.Lock()
	defer a.watchMu.Unlock()
	if a.watchSup != nil {
		return
	}
	a.watchSup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(false))
	a.watchSup.GoRestart("alarm.watch", a.alarms.WatchDefinitions,
		rtsup.WithRestartBackoff(time.Second, 30*time.Second))
}

func (a *App) stopWatcher(ctx context.Context) {
	a.watchMu.Lock()
	sup := a.watchSup
	a.watchSup = nil
	a.watchMu.Unlock()
	if sup == nil {
		return
	}
	sup.Cancel()
	_ = sup.Wait(ctx)
}

// armBoot arms boot-relative alarms unless alarm.boot_on_start is false, in
// which case loaded B alarms are reported since they will never fire.
func (a *App) armBoot(ctx context.Context, cfg *config.Config) int {
	if cfg.Alarm.BootEnabled() {
		return a.alarms.Boot(ctx)
	}
	idle := 0
	for _, al := range a.alarms.List() {
		if al.Kind == alarm.KindBoot {
			idle++
		}
	}
	if idle > 0 {
		a.log.Warn("boot alarms loaded but alarm.boot_on_start is false; they will not fire", logx.Int("count", idle))
	}
	return 0
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	if reason == "" {
		reason = StopUnknown
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// fn must honor stepCtx; a late return is logged as a leak signal.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// order: surfaces first, then the tick, then the executor and storage
	step("api", 2*time.Second, func(c context.Context) error { a.api.Stop(c); return nil })
	step("alarm.watch", 1*time.Second, func(c context.Context) error { a.stopWatcher(c); return nil })
	step("alarm", 2*time.Second, func(c context.Context) error { a.alarms.Stop(c); return nil })
	step("dispatch", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("systemd", 1*time.Second, func(c context.Context) error {
		a.sdMu.Lock()
		defer a.sdMu.Unlock()
		if a.systemd != nil {
			a.systemd.Close()
		}
		return nil
	})
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	// Finally, wait for supervised goroutines (config watch/reload, metrics, event log).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
