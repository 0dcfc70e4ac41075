// Package api is the admin HTTP surface: campaign authoring and lifecycle
// control over JSON, plus health and metrics. It carries no authentication;
// bind it to localhost.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"crmbot/internal/metrics"
	"crmbot/internal/services/broadcast"
	"crmbot/internal/storage"
	"crmbot/pkg/logx"
)

type Config struct {
	Enabled bool
	Addr    string // default "127.0.0.1:8087"

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Dispatcher delivers one campaign immediately, claim included.
type Dispatcher interface {
	Dispatch(ctx context.Context, id string) (broadcast.Result, error)
}

type Deps struct {
	Store      *storage.Store
	Dispatcher Dispatcher
	Metrics    *metrics.Metrics
	Log        logx.Logger
}

type Server struct {
	cfg  Config
	deps Deps
	log  logx.Logger
	http *http.Server
}

func New(cfg Config, deps Deps) *Server {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8087"
	}
	s := &Server{cfg: cfg, deps: deps, log: log}
	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}

	r.Route("/api/v1/campaigns", func(r chi.Router) {
		r.Post("/", s.createCampaign)
		r.Get("/", s.listCampaigns)
		r.Get("/{id}", s.getCampaign)
		r.Post("/{id}/cancel", s.cancelCampaign)
		r.Post("/{id}/send", s.sendCampaign)
	})
	return r
}

func (s *Server) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	go func() {
		s.log.Info("admin api listening", logx.String("addr", s.cfg.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("admin api server failed", logx.Err(err))
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	return s.http.Shutdown(ctx)
}
