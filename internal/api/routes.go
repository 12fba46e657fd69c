package api

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"alarmd/internal/alarm"
	"alarmd/internal/handler"
	"alarmd/internal/task/engine"
	logx "alarmd/pkg/logx"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/pprof"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// Alarms is the part of the alarm service the API drives.
type Alarms interface {
	List() []alarm.Alarm
	FindByID(id string) (alarm.Alarm, bool)
	Count() int
	Reload(ctx context.Context) error
	AddOneShot(ctx context.Context, master bool, pattern, handler, action string, args ...any) (alarm.Alarm, error)
	TimeToNextTick() (time.Duration, bool)
	NextFire(a alarm.Alarm) (time.Time, error)
	Validate(a alarm.Alarm) error
}

// Handlers lists the handler host's contents.
type Handlers interface {
	Describe() []handler.Info
}

// Dispatcher exposes the dispatch engine state.
type Dispatcher interface {
	Snapshot() engine.Snapshot
}

type Deps struct {
	Alarms   Alarms
	Engine   Dispatcher   // optional
	Handlers Handlers     // optional
	Metrics  http.Handler // optional
	Log      logx.Logger
}

type alarmView struct {
	ID        string     `json:"id"`
	Kind      string     `json:"kind"`
	KindName  string     `json:"kind_name"`
	Pattern   string     `json:"pattern"`
	Master    bool       `json:"master"`
	Handler   string     `json:"handler"`
	Action    string     `json:"action"`
	Args      []string   `json:"args,omitempty"`
	LastFired *time.Time `json:"last_fired,omitempty"`
	NextFire  *time.Time `json:"next_fire,omitempty"`
	NextError string     `json:"next_error,omitempty"`
}

func viewOf(svc Alarms, a alarm.Alarm) alarmView {
	v := alarmView{
		ID:       a.ID,
		Kind:     a.Kind.String(),
		KindName: a.Kind.Name(),
		Pattern:  a.Pattern,
		Master:   a.Master,
		Handler:  a.Handler,
		Action:   a.Action,
	}
	for _, arg := range a.Args {
		v.Args = append(v.Args, alarm.FormatLiteral(arg))
	}
	if !a.LastFired.IsZero() {
		lf := a.LastFired
		v.LastFired = &lf
	}
	if a.Kind != alarm.KindBoot {
		if next, err := svc.NextFire(a); err != nil {
			v.NextError = err.Error()
		} else {
			v.NextFire = &next
		}
	}
	return v
}

type oneShotRequest struct {
	Master  bool   `json:"master"`
	Pattern string `json:"pattern"`
	Handler string `json:"handler"`
	Action  string `json:"action"`
	Args    []any  `json:"args"`
}

func errorJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

// NewApp builds the fiber app with every route mounted.
func NewApp(cfg Config, deps Deps) *fiber.App {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	app := fiber.New(fiber.Config{
		AppName:               "alarmd",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          30 * time.Second,
	})
	app.Use(recover.New())
	app.Use(requestLog(log))
	app.Use(bearerAuth(cfg.Token))

	if cfg.Pprof {
		app.Use(pprof.New())
	}
	if deps.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics))
	}

	svc := deps.Alarms
	app.Get("/healthz", func(c *fiber.Ctx) error {
		_, running := svc.TimeToNextTick()
		return c.JSON(fiber.Map{"status": "ok", "alarms": svc.Count(), "tick_running": running})
	})

	app.Get("/tick", func(c *fiber.Ctx) error {
		d, running := svc.TimeToNextTick()
		return c.JSON(fiber.Map{"running": running, "seconds": d.Seconds()})
	})

	app.Get("/alarms", func(c *fiber.Ctx) error {
		list := svc.List()
		out := make([]alarmView, 0, len(list))
		for _, a := range list {
			out = append(out, viewOf(svc, a))
		}
		return c.JSON(out)
	})

	app.Get("/alarms/:id", func(c *fiber.Ctx) error {
		a, ok := svc.FindByID(c.Params("id"))
		if !ok {
			return errorJSON(c, fiber.StatusNotFound, alarm.ErrNotFound.Error())
		}
		return c.JSON(viewOf(svc, a))
	})

	// check re-runs dispatch validation against the current handler host.
	app.Get("/alarms/:id/check", func(c *fiber.Ctx) error {
		a, ok := svc.FindByID(c.Params("id"))
		if !ok {
			return errorJSON(c, fiber.StatusNotFound, alarm.ErrNotFound.Error())
		}
		if err := svc.Validate(a); err != nil {
			return c.JSON(fiber.Map{"id": a.ID, "ok": false, "error": err.Error()})
		}
		return c.JSON(fiber.Map{"id": a.ID, "ok": true})
	})

	app.Post("/alarms/reload", func(c *fiber.Ctx) error {
		if err := svc.Reload(c.UserContext()); err != nil {
			return errorJSON(c, fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(fiber.Map{"alarms": svc.Count()})
	})

	app.Post("/alarms/once", func(c *fiber.Ctx) error {
		var req oneShotRequest
		dec := json.NewDecoder(bytes.NewReader(c.Body()))
		dec.UseNumber()
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "invalid request body: "+err.Error())
		}
		args := make([]any, 0, len(req.Args))
		for _, v := range req.Args {
			args = append(args, normalizeArg(v))
		}

		a, err := svc.AddOneShot(c.UserContext(), req.Master, req.Pattern, req.Handler, req.Action, args...)
		switch {
		case err == nil:
			return c.Status(fiber.StatusCreated).JSON(viewOf(svc, a))
		case errors.Is(err, alarm.ErrInvalidArguments):
			return errorJSON(c, fiber.StatusBadRequest, err.Error())
		default:
			return errorJSON(c, fiber.StatusUnprocessableEntity, err.Error())
		}
	})

	if deps.Handlers != nil {
		app.Get("/handlers", func(c *fiber.Ctx) error {
			return c.JSON(deps.Handlers.Describe())
		})
	}

	if deps.Engine != nil {
		app.Get("/dispatch", func(c *fiber.Ctx) error {
			return c.JSON(deps.Engine.Snapshot())
		})
	}
	return app
}

// normalizeArg maps decoded JSON onto the argument types definition files
// produce: int64, float64 and string. Other JSON values keep their text.
func normalizeArg(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case string:
		return x
	case nil:
		return ""
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// bearerAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
// /healthz stays open for probes. An empty token disables the check.
func bearerAuth(token string) fiber.Handler {
	tok := strings.TrimSpace(token)
	return func(c *fiber.Ctx) error {
		if tok == "" || c.Path() == "/healthz" {
			return c.Next()
		}
		if got := c.Query("token"); got != "" && tokenEqual(got, tok) {
			return c.Next()
		}
		const p = "Bearer "
		if ah := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(ah, p) && tokenEqual(strings.TrimSpace(ah[len(p):]), tok) {
			return c.Next()
		}
		c.Set(fiber.HeaderWWWAuthenticate, "Bearer")
		return errorJSON(c, fiber.StatusUnauthorized, "unauthorized")
	}
}

// tokenEqual compares in constant time for equal-length inputs.
func tokenEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func requestLog(log logx.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		log.Debug("api request",
			logx.String("method", c.Method()),
			logx.String("path", c.Path()),
			logx.Int("status", c.Response().StatusCode()),
			logx.Duration("took", time.Since(start)),
		)
		return err
	}
}
