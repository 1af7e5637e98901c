// Package httpapi exposes the direct triggers over HTTP.
//
// Routes:
//   - GET  /healthz
//   - GET  /jobs
//   - GET|POST /jobs/{name}/fire[?userId=]   plain-text status
//   - POST /notifications/custom            bearer token, JSON
//   - GET  /audit                           bearer token, when storage is on
//   - GET  /metrics, /debug/*               when enabled
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"pushcron/internal/config"
	"pushcron/internal/observability"
	rtsup "pushcron/internal/runtime/supervisor"
	"pushcron/internal/storage"
	"pushcron/internal/task/scheduler"
	"pushcron/internal/trigger"
	logx "pushcron/pkg/logx"
)

// Deps are the collaborators of the server. Gateway is required.
type Deps struct {
	Gateway   *trigger.Gateway
	Schedules func() scheduler.Snapshot
	Audit     storage.Store
	Metrics   *observability.Metrics
	Log       logx.Logger
}

type Server struct {
	cfg    config.HTTPConfig
	custom config.CustomConfig
	deps   Deps
	log    logx.Logger

	handler http.Handler

	mu       sync.Mutex
	ln       net.Listener
	srv      *http.Server
	sup      *rtsup.Supervisor
	stopDone chan struct{}
}

func New(cfg config.HTTPConfig, custom config.CustomConfig, deps Deps) (*Server, error) {
	if deps.Gateway == nil {
		return nil, errors.New("httpapi: gateway is required")
	}
	if custom.Enabled && strings.TrimSpace(cfg.Auth.Secret) == "" {
		return nil, errors.New("httpapi: auth secret is required for the custom endpoint")
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg, custom: custom, deps: deps, log: log.With(logx.String("comp", "http"))}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.handler }

// Addr returns the bound address while serving, or "".
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Start listens on the configured address and serves under a restart loop.
// The listener is opened synchronously so a bad address fails here.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return nil
	}
	addr := s.cfg.ListenAddr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen %s: %w", addr, err)
	}
	s.ln = ln
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	s.sup.GoRestart("http.serve", s.serveOnce,
		rtsup.WithPublishFirstError(true),
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
	)
	s.log.Info("http started", logx.String("addr", ln.Addr().String()), logx.Bool("custom", s.custom.Enabled))
	return nil
}

// Stop shuts the server down gracefully, bounded by ctx.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.sup == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	srv, ln, sup := s.srv, s.ln, s.sup
	s.mu.Unlock()

	go func() {
		defer close(done)
		if srv != nil {
			_ = srv.Shutdown(ctx)
			_ = srv.Close()
		}
		if ln != nil {
			_ = ln.Close()
		}
		sup.Cancel()
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.ln, s.srv, s.sup, s.stopDone = nil, nil, nil, nil
		s.mu.Unlock()
		s.log.Info("http stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

func (s *Server) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	stopping := s.stopDone != nil
	s.mu.Unlock()
	if stopping || ctx.Err() != nil {
		return context.Canceled
	}
	if ln == nil {
		// The previous listener died; reopen it.
		var err error
		if ln, err = net.Listen("tcp", s.cfg.ListenAddr()); err != nil {
			return err
		}
	}

	// Request contexts are detached from ctx; Shutdown drains them.
	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeoutOr(),
		ReadHeaderTimeout: s.cfg.ReadTimeoutOr(),
		WriteTimeout:      s.cfg.WriteTimeoutOr(),
		IdleTimeout:       s.cfg.IdleTimeoutOr(),
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	s.mu.Lock()
	s.ln, s.srv = ln, srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeoutOr())
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	err := srv.Serve(ln)

	s.mu.Lock()
	if s.srv == srv {
		s.srv, s.ln = nil, nil
	}
	stopping = s.stopDone != nil
	s.mu.Unlock()

	if stopping || ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("http server exited unexpectedly")
	}
	return err
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// empty host means all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
