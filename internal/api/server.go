// Package api serves the alarmd admin HTTP surface: registry listing, reload,
// one-shot scheduling, tick status, health and metrics.
package api

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	rtsup "alarmd/internal/runtime/supervisor"
	logx "alarmd/pkg/logx"

	"github.com/gofiber/fiber/v2"
)

const defaultAddr = "127.0.0.1:8077"

// Config controls the admin HTTP server.
//
// Security: prefer a loopback Addr. A non-loopback bind needs Token or an
// explicit AllowInsecure.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool
	Pprof         bool
}

type Server struct {
	mu   sync.Mutex
	log  logx.Logger
	cfg  Config
	deps Deps

	ln       net.Listener
	app      *fiber.App
	sup      *rtsup.Supervisor
	stopDone chan struct{}
}

func New(cfg Config, deps Deps) *Server {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	deps.Log = log
	return &Server{cfg: cfg, deps: deps, log: log.With(logx.String("comp", "api"))}
}

// Addr is the bound listen address, empty while not serving.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Reconfigure applies cfg, starting, stopping or restarting the server as needed.
func (s *Server) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			s.Stop(ctx)
		}
	case !running:
		s.Start(ctx)
	case prev != cfg:
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// Start is idempotent. The listener runs under a restart loop so a failed
// bind is retried with backoff.
func (s *Server) Start(ctx context.Context) {
	for {
		s.mu.Lock()
		if done := s.stopDone; done != nil {
			s.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return
			}
		}
		if s.sup != nil || !s.cfg.Enabled {
			s.mu.Unlock()
			return
		}
		s.sup = rtsup.NewSupervisor(ctx,
			rtsup.WithLogger(s.log),
			rtsup.WithCancelOnError(false),
		)
		sup := s.sup
		s.mu.Unlock()

		sup.GoRestart("api.serve", s.serveOnce, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
		return
	}
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.sup == nil {
		s.mu.Unlock()
		return
	}
	if done := s.stopDone; done != nil {
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	app, sup := s.app, s.sup
	s.mu.Unlock()

	go func() {
		defer close(done)
		if app != nil {
			_ = app.ShutdownWithContext(ctx)
		}
		sup.Cancel()
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.ln, s.app, s.sup, s.stopDone = nil, nil, nil, nil
		s.mu.Unlock()
		s.log.Info("api stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

func (s *Server) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cfg, deps := s.cfg, s.deps
	s.mu.Unlock()
	if !cfg.Enabled {
		return nil
	}

	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = defaultAddr
	}
	if cfg.Token == "" && !isLoopbackAddr(addr) {
		if !cfg.AllowInsecure {
			s.log.Error("api refused to start: non-loopback addr requires token or allow_insecure", logx.String("addr", addr))
			return nil
		}
		s.log.Warn("api running without token on non-loopback addr (insecure)", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Error("api listen failed", logx.String("addr", addr), logx.Err(err))
		return err
	}

	app := NewApp(cfg, deps)
	s.mu.Lock()
	s.ln, s.app = ln, app
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = app.ShutdownWithContext(sctx)
		cancel()
	}()

	s.log.Info("api started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", cfg.Token != ""), logx.Bool("pprof", cfg.Pprof))
	err = app.Listener(ln)

	s.mu.Lock()
	if s.app == app {
		s.ln, s.app = nil, nil
	}
	stopping := s.stopDone != nil
	s.mu.Unlock()

	if stopping || ctx.Err() != nil {
		return nil
	}
	if err == nil {
		return errors.New("api server exited unexpectedly")
	}
	return err
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	host = strings.Trim(host, "[]")
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
