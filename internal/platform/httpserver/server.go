package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	ledger "ledgerflow/contexts/finance-core/ledger-service"
	"ledgerflow/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
)

const maxBodyBytes = 1 << 20

// Options carries the transport-level settings resolved by bootstrap.
type Options struct {
	Addr               string
	WorkerSecret       string
	JWTSecret          string
	JWTIssuer          string
	CORSOrigins        []string
	RateLimitPerMinute int
	RequestTimeout     time.Duration
}

type Server struct {
	router  chi.Router
	http    *http.Server
	logger  *slog.Logger
	options Options
	ledger  ledger.Module
	metrics *metrics.Metrics
}

func New(options Options, module ledger.Module, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if options.Addr == "" {
		options.Addr = ":8080"
	}
	if options.RequestTimeout <= 0 {
		options.RequestTimeout = 30 * time.Second
	}

	s := &Server{
		router:  chi.NewRouter(),
		logger:  logger,
		options: options,
		ledger:  module,
		metrics: m,
	}
	s.registerRoutes()
	s.http = &http.Server{
		Addr:              options.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.options.Addr,
	)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server stopping",
		"event", "http_server_stopping",
		"module", "internal/platform/httpserver",
		"layer", "platform",
	)
	return s.http.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}
	r.Use(chimw.Timeout(s.options.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   originsIfSet(s.options.CORSOrigins),
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Idempotency-Key", "X-Request-Id", "X-Tenant-Id", "X-Actor-Id", "X-Actor-Role"},
		ExposedHeaders:   []string{"Idempotent-Replayed", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		if s.options.RateLimitPerMinute > 0 {
			r.Use(httprate.LimitByIP(s.options.RateLimitPerMinute, time.Minute))
		}
		r.Use(s.identify)

		r.Post("/entities/{entity_type}", s.handleCreateEntity)
		r.Patch("/entities/{entity_type}/{entity_id}", s.handleUpdateEntity)
		r.Get("/entities/{entity_type}/{entity_id}", s.handleGetEntity)
		r.Post("/transactions/{entity_id}/transition", s.handleTransition)
		r.Post("/members/{entity_id}/role", s.handleChangeRole)
		r.Get("/audit-logs/verify", s.handleVerifyAudit)
		r.Get("/read-views/{view_name}/{key}", s.handleGetReadView)
		r.Post("/read-views/{view_name}/rebuild", s.handleRebuildReadView)
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(s.requireWorkerSecret)

		r.Post("/workers/outbox/run", s.handleRunOutbox)
		r.Post("/workers/jobs/run", s.handleRunJobs)
		r.Post("/workers/outbox/{event_id}/requeue", s.handleRequeueOutbox)
		r.Post("/workers/jobs/{job_id}/requeue", s.handleRequeueJob)
		r.Get("/outbox/{event_id}", s.handleGetOutboxEvent)
		r.Get("/jobs/{job_id}", s.handleGetJob)
	})
}

func originsIfSet(in []string) []string {
	out := []string{}
	for _, o := range in {
		if s := strings.TrimSpace(o); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
