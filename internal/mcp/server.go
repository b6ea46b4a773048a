package mcp

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/velocity/internal/bandit"
	"github.com/fyrsmithlabs/velocity/internal/features"
	"github.com/fyrsmithlabs/velocity/internal/recommend"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Engine is the engine surface used by the tools.
type Engine interface {
	Arms() []bandit.ArmSummary
	Inspect(id string) (bandit.ArmDetail, error)
}

// Recommender is the service surface used by the tools.
type Recommender interface {
	Recommend(ctx context.Context, task features.Task, cands []features.Candidate) (*recommend.Recommendation, error)
	Feedback(ctx context.Context, recommendationID, selectedID string, reward float64) error
	Train(ctx context.Context, armID string, x []float64, reward float64) error
}

// Server is an MCP server backed by the engine and recommend service.
type Server struct {
	mcp     *mcp.Server
	engine  Engine
	svc     Recommender
	metrics *Metrics
	logger  *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "velocity")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// Logger for structured logging
	Logger *zap.Logger

	// MeterProvider for tool metrics (default: otel global)
	MeterProvider metric.MeterProvider
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "velocity",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates an MCP server with all tools registered.
func NewServer(cfg *Config, engine Engine, svc Recommender) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if svc == nil {
		return nil, fmt.Errorf("recommend service is required")
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:     mcpServer,
		engine:  engine,
		svc:     svc,
		metrics: metricsFor(cfg),
		logger:  cfg.Logger,
	}
	s.registerTools()
	return s, nil
}

func metricsFor(cfg *Config) *Metrics {
	if cfg.MeterProvider != nil {
		return newMetrics(cfg.MeterProvider, cfg.Logger)
	}
	return NewMetrics(cfg.Logger)
}

// Run serves on the stdio transport until ctx is cancelled or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves a single session on transport. Used with in-memory
// transports.
func (s *Server) Connect(ctx context.Context, transport mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, transport, nil)
}
