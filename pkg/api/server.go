package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/product-labo/Meta-sub005/internal/constants"
	"github.com/product-labo/Meta-sub005/pkg/api/graphql"
	apimiddleware "github.com/product-labo/Meta-sub005/pkg/api/middleware"
)

// Server represents the API server
type Server struct {
	config  *Config
	logger  *zap.Logger
	router  *chi.Mux
	server  *http.Server
	limiter *apimiddleware.RateLimiter

	jobs      JobService
	heads     ChainHeads
	websocket http.Handler
	health    *HealthChecker
}

// ServerOptions contains the services mounted by the API server
type ServerOptions struct {
	// Jobs backs the job API. The API is not mounted when nil.
	Jobs JobService
	// Heads resolves chain types and default end blocks
	Heads ChainHeads
	// WebSocket serves progress subscriptions
	WebSocket http.Handler
	// Health serves the health endpoint; a bare checker is used when nil
	Health *HealthChecker
}

// NewServer creates a new API server
func NewServer(config *Config, logger *zap.Logger, opts ServerOptions) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config:    config,
		logger:    logger.With(zap.String("component", "api")),
		router:    chi.NewRouter(),
		jobs:      opts.Jobs,
		heads:     opts.Heads,
		websocket: opts.WebSocket,
		health:    opts.Health,
	}
	if s.health == nil {
		s.health = NewHealthChecker("")
	}

	s.setupMiddleware()
	if err := s.setupRoutes(); err != nil {
		return nil, err
	}

	s.server = &http.Server{
		Addr:           config.Address(),
		Handler:        s.router,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s, nil
}

// setupMiddleware configures the middleware stack
func (s *Server) setupMiddleware() {
	// Recovery middleware (must be first)
	s.router.Use(apimiddleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(apimiddleware.Logger(s.logger))

	if s.config.EnableRateLimit {
		s.limiter = apimiddleware.NewRateLimiter(s.config.RateLimitPerSecond, s.config.RateLimitBurst)
		s.router.Use(apimiddleware.RateLimit(s.limiter, s.logger))
		s.logger.Info("rate limiting enabled",
			zap.Float64("rate_per_second", s.config.RateLimitPerSecond),
			zap.Int("burst", s.config.RateLimitBurst),
		)
	}

	if s.config.EnableCORS {
		s.router.Use(apimiddleware.CORS(s.config.AllowedOrigins))
	}
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() error {
	if s.websocket != nil {
		s.router.Get(s.config.WebSocketPath, s.websocket.ServeHTTP)
		s.logger.Info("progress websocket enabled", zap.String("path", s.config.WebSocketPath))
	}

	s.router.Get(constants.DefaultHealthPath, s.health.ServeHTTP)
	s.router.Handle(constants.DefaultMetricsPath, promhttp.Handler())

	if s.jobs != nil {
		jobs := &jobHandler{jobs: s.jobs, heads: s.heads, logger: s.logger}

		var gql *graphql.Handler
		if s.config.EnableGraphQL {
			var heads graphql.ChainHeads
			if s.heads != nil {
				heads = s.heads
			}
			h, err := graphql.NewHandler(s.jobs, heads, s.logger)
			if err != nil {
				return fmt.Errorf("failed to build graphql schema: %w", err)
			}
			gql = h
		}

		s.router.Route(s.config.APIPrefix, func(r chi.Router) {
			r.Use(apimiddleware.APIKeyAuth(s.config.APIKeys, s.logger))
			jobs.routes(r)
			if gql != nil {
				r.Handle(s.config.GraphQLPath, gql)
			}
		})
		s.logger.Info("job API enabled",
			zap.String("prefix", s.config.APIPrefix),
			zap.Bool("api_keys", len(s.config.APIKeys) > 0),
			zap.Bool("graphql", gql != nil),
		)
	}

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apimiddleware.WriteError(w, http.StatusNotFound, "not_found", "route not found")
	})
	return nil
}

// Start starts the API server and blocks until it stops
func (s *Server) Start() error {
	s.logger.Info("starting API server", zap.String("address", s.config.Address()))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the API server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping API server")

	if s.limiter != nil {
		s.limiter.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("API server stopped gracefully")
	return nil
}

// Router returns the underlying chi router (for testing)
func (s *Server) Router() *chi.Mux {
	return s.router
}
