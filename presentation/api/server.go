// Package api exposes captures, history and jobs over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pagecap-go/application"
	"pagecap-go/core/command"
	"pagecap-go/core/eventbus"
	"pagecap-go/domain/capture"
	"pagecap-go/domain/preset"
	"pagecap-go/infrastructure/logging"
	"pagecap-go/presentation/node"
)

// Captures is the application surface the API serves.
type Captures interface {
	ResolveParams(base capture.Params, overrides []byte) (capture.Params, error)
	ExecuteJob(ctx context.Context, jobID string, p capture.Params) (*capture.Artifact, error)
	Jobs() []application.JobInfo
	Dispatch(cmd command.Command) error
	Presets() *preset.Registry
	History() *capture.Service
}

// Config holds configuration for the Server.
type Config struct {
	Addr           string
	RequestTimeout time.Duration
	MaxBodyBytes   int64

	Captures Captures
	Node     *node.Node
	// EventBus feeds the job event streams when set.
	EventBus eventbus.EventBus
	// Metrics serves /metrics when set.
	Metrics http.Handler
	Logger  *slog.Logger
}

// Server is the HTTP front end.
type Server struct {
	cfg        Config
	captures   Captures
	node       *node.Node
	logger     *slog.Logger
	router     *chi.Mux
	httpServer *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg *Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.Node == nil {
		if exec, ok := cfg.Captures.(node.Executor); ok {
			cfg.Node = node.New(&node.Config{Executor: exec, Logger: cfg.Logger})
		}
	}

	s := &Server{
		cfg:      *cfg,
		captures: cfg.Captures,
		node:     cfg.Node,
		logger:   cfg.Logger,
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *chi.Mux {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(s.requestLogger)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", s.handleHealthz)
	if s.cfg.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", s.cfg.Metrics)
	}

	router.Route("/v1", func(r chi.Router) {
		if s.cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(s.cfg.RequestTimeout))
		}

		r.Post("/execute", s.handleExecute)
		r.Get("/node", s.handleNodeDescription)
		r.Get("/presets", s.handleListPresets)

		r.Route("/captures", func(r chi.Router) {
			r.Post("/", s.handleCreateCapture)
			r.Get("/", s.handleListCaptures)
			r.Get("/{id}", s.handleGetCapture)
			r.Delete("/{id}", s.handleDeleteCapture)
			r.Get("/{id}/artifact", s.handleGetArtifact)
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Post("/", s.handleSubmitJob)
			r.Delete("/", s.handleCancelAllJobs)
			r.Delete("/{id}", s.handleCancelJob)
			r.Get("/{id}/events", s.handleJobEvents)
		})
	})

	return router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening", "addr", s.cfg.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("API server shutting down")
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}

// requestLogger logs one line per request with its request ID and stores
// a request-scoped logger in the context.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		reqID := middleware.GetReqID(r.Context())
		r = r.WithContext(logging.With(r.Context(), s.logger.With("request_id", reqID)))

		defer func() {
			s.logger.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"elapsed", time.Since(start),
				"request_id", reqID,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
