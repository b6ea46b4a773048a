// Package http exposes the recommender over a JSON HTTP API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/velocity/internal/bandit"
	"github.com/fyrsmithlabs/velocity/internal/features"
	"github.com/fyrsmithlabs/velocity/internal/logging"
	"github.com/fyrsmithlabs/velocity/internal/recommend"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Engine is the engine surface used by the HTTP handlers.
type Engine interface {
	Rank(ctx context.Context, task features.Task, cands []features.Candidate) ([]bandit.ScoreResult, error)
	Arms() []bandit.ArmSummary
	Inspect(id string) (bandit.ArmDetail, error)
	Len() int
	ModelVersion() string
	Checkpoint(ctx context.Context) ([]byte, error)
	Restore(ctx context.Context, blob []byte) error
}

// Recommender is the service surface used by the HTTP handlers.
type Recommender interface {
	Recommend(ctx context.Context, task features.Task, cands []features.Candidate) (*recommend.Recommendation, error)
	Feedback(ctx context.Context, recommendationID, selectedID string, reward float64) error
	Train(ctx context.Context, armID string, x []float64, reward float64) error
}

// Config holds HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	// BodyLimit caps request bodies, in echo's size syntax ("8M").
	BodyLimit string
	RateLimit RateLimitConfig
	Version   string
}

// RateLimitConfig limits the learning endpoints (train, feedback).
type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

// DefaultConfig returns the server defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:            "127.0.0.1",
		Port:            8090,
		ShutdownTimeout: 10 * time.Second,
		BodyLimit:       "8M",
		RateLimit:       RateLimitConfig{Enabled: true, RPS: 50, Burst: 100},
	}
}

// Server provides HTTP endpoints for velocity.
type Server struct {
	echo    *echo.Echo
	engine  Engine
	svc     Recommender
	logger  *zap.Logger
	config  *Config
	metrics *HTTPMetrics
	limiter *rate.Limiter
}

// Option configures a Server.
type Option func(*serverOptions)

type serverOptions struct {
	meterProvider metric.MeterProvider
}

// WithMeterProvider records HTTP metrics on mp instead of the global
// provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *serverOptions) { o.meterProvider = mp }
}

// NewServer creates a new HTTP server.
func NewServer(engine Engine, svc Recommender, logger *zap.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if svc == nil {
		return nil, fmt.Errorf("recommender cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}

	o := &serverOptions{}
	for _, opt := range opts {
		opt(o)
	}
	metrics := NewHTTPMetrics(logger)
	if o.meterProvider != nil {
		metrics = newHTTPMetrics(o.meterProvider, logger)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}
	e.Use(requestLogger(logger))
	e.Use(metrics.MetricsMiddleware())

	s := &Server{
		echo:    e,
		engine:  engine,
		svc:     svc,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}
	if cfg.RateLimit.Enabled {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst)
	}

	s.registerRoutes()
	return s, nil
}

// requestLogger puts the request id into the context and logs each
// request once it completes.
func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			ctx := logging.WithRequestID(req.Context(), c.Response().Header().Get(echo.HeaderXRequestID))
			c.SetRequest(req.WithContext(ctx))

			err := next(c)

			logger.Info("http request", append(logging.ContextFields(ctx),
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)...)
			return err
		}
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/predict", s.handlePredict)
	v1.POST("/rank", s.handleRank)
	v1.POST("/train", s.handleTrain, s.rateLimit)
	v1.POST("/feedback", s.handleFeedback, s.rateLimit)
	v1.GET("/arms", s.handleArms)
	v1.GET("/arms/:id", s.handleArm)

	admin := v1.Group("/admin")
	admin.GET("/checkpoint", s.handleCheckpoint)
	admin.POST("/restore", s.handleRestore)
}

// rateLimit rejects requests beyond the configured rate with 429.
func (s *Server) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.limiter != nil && !s.limiter.Allow() {
			s.metrics.recordRateLimited(c)
			s.logger.Warn("rate limit exceeded",
				zap.String("uri", c.Request().RequestURI),
				zap.String("ip", c.RealIP()),
			)
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		}
		return next(c)
	}
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start serves until ctx is cancelled, then shuts down gracefully and
// returns http.ErrServerClosed.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeout := s.config.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := s.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
