package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/pagerapp/pushgate/internal/config"
	"github.com/pagerapp/pushgate/internal/dispatch"
	"github.com/pagerapp/pushgate/internal/storage"
)

type Server struct {
	cfg    config.ServerConfig
	store  storage.Storage
	policy *dispatch.Policy
	router *chi.Mux
	log    zerolog.Logger
	http   *http.Server
}

func NewServer(cfg config.ServerConfig, store storage.Storage, policy *dispatch.Policy, log zerolog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		store:  store,
		policy: policy,
		log:    log,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log))

	pushHandler := NewPushHandler(s.policy)
	recipientHandler := NewRecipientHandler(s.store)
	metricsHandler := NewMetricsHandler(s.store)

	r.Get("/health", metricsHandler.Health)

	r.Route("/api/v1", func(r chi.Router) {
		// Recipient token registration
		r.Post("/recipients", recipientHandler.Upsert)
		r.Get("/recipients/{userID}", recipientHandler.Get)
		r.Delete("/recipients/{userID}/live-activity-token", recipientHandler.ClearLiveActivityToken)

		// Dispatch operations for the domain services
		r.Post("/push/alert", pushHandler.Alert)
		r.Post("/push/silent", pushHandler.Silent)
		r.Post("/push/message", pushHandler.Message)

		// Observability
		r.Get("/queue/metrics", metricsHandler.QueueMetrics)
	})

	return r
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
