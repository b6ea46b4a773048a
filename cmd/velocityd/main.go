// Velocityd serves LinUCB assignment recommendations over HTTP, or over
// MCP stdio with -mcp.
//
// Configuration is read from ~/.config/velocity/config.yaml (or -config)
// and VELOCITY_* environment variables. See internal/config for details.
//
// Usage:
//
//	# Start the HTTP server with defaults
//	velocityd
//
//	# Serve MCP tools on stdio
//	velocityd -mcp
//
//	# Configure via environment
//	VELOCITY_SERVER_HTTP_PORT=9000 VELOCITY_PERSISTENCE_BACKEND=sqlite velocityd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/velocity/internal/bandit"
	"github.com/fyrsmithlabs/velocity/internal/config"
	"github.com/fyrsmithlabs/velocity/internal/features"
	velocityhttp "github.com/fyrsmithlabs/velocity/internal/http"
	"github.com/fyrsmithlabs/velocity/internal/logging"
	"github.com/fyrsmithlabs/velocity/internal/recommend"
	"github.com/fyrsmithlabs/velocity/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

type options struct {
	configPath string
	mcp        bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "path to config.yaml (default ~/.config/velocity/config.yaml)")
	flag.BoolVar(&opts.mcp, "mcp", false, "serve MCP tools on stdio instead of HTTP")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion(os.Stdout)
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  velocityd [-config path] [-mcp]   Start the recommender\n")
			fmt.Fprintf(os.Stderr, "  velocityd version                 Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(os.Stderr, "velocityd: %v\n", err)
		os.Exit(1)
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "velocityd by Fyrsmith Labs\n")
	fmt.Fprintf(w, "Version:    %s\n", version)
	fmt.Fprintf(w, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(w, "Build Date: %s\n", buildDate)
}

// run wires every component and blocks until ctx is cancelled.
//
//  1. Loads and validates configuration
//  2. Initializes telemetry and logger
//  3. Opens the checkpoint store and decision log
//  4. Builds the engine and restores learned state
//  5. Serves HTTP, or MCP on stdio
//  6. Flushes state on shutdown
//
// Returns http.ErrServerClosed on graceful HTTP shutdown.
func run(ctx context.Context, opts options) error {
	cfg, err := config.LoadWithFile(opts.configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	opts.mcp = opts.mcp || cfg.MCP.Enabled

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Telemetry.ShutdownTimeout.Duration())
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	// stdout carries the MCP protocol, so logs go to stderr in that mode.
	logOut := io.Writer(os.Stdout)
	if opts.mcp {
		logOut = os.Stderr
	}
	logger, err := initLogger(cfg, logOut, tel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zl := logger.Underlying()

	logger.Info(ctx, "starting velocityd",
		zap.String("version", version),
		zap.String("persistence", cfg.Persistence.Backend),
		zap.String("decision_log", cfg.DecisionLog.Backend),
		zap.Float64("alpha", cfg.Bandit.Alpha),
		zap.Bool("mcp", opts.mcp),
	)

	deps, err := initDependencies(ctx, cfg, zl, tel)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	engine, svc, err := initServices(ctx, cfg, deps, zl, tel)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Persistence.Timeout.Duration())
		defer cancel()
		if err := engine.Close(closeCtx); err != nil {
			zl.Error("final checkpoint failed", zap.Error(err))
		}
	}()

	if cfg.Reload.Enabled {
		startReload(ctx, opts.configPath, cfg, engine, zl)
	}

	if opts.mcp {
		return runStdio(ctx, cfg, engine, svc, zl)
	}

	srv, err := velocityhttp.NewServer(engine, svc, zl, &velocityhttp.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout.Duration(),
		BodyLimit:       cfg.Server.BodyLimit,
		RateLimit: velocityhttp.RateLimitConfig{
			Enabled: cfg.RateLimit.Enabled,
			RPS:     cfg.RateLimit.RPS,
			Burst:   cfg.RateLimit.Burst,
		},
		Version: version,
	}, velocityhttp.WithMeterProvider(tel.MeterProvider()))
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	logger.Info(ctx, "server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)),
		zap.String("metrics_endpoint", "/metrics"),
		zap.Int("arms", engine.Len()),
	)

	return srv.Start(ctx)
}

// initLogger builds the structured logger from the logging section.
func initLogger(cfg *config.Config, w io.Writer, tel *telemetry.Telemetry) (*logging.Logger, error) {
	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return logging.NewLoggerTo(logCfg, w, tel.LoggerProvider())
}

// initServices builds the engine, restores its state and wraps it in the
// recommend service.
func initServices(ctx context.Context, cfg *config.Config, deps *dependencies, logger *zap.Logger, tel *telemetry.Telemetry) (*bandit.Engine, *recommend.Service, error) {
	if cfg.Bandit.Dimension != features.Dimension {
		return nil, nil, fmt.Errorf("bandit.dimension %d does not match the %d encoded features", cfg.Bandit.Dimension, features.Dimension)
	}
	enc, err := features.NewEncoder(
		features.WithPriorities(cfg.Features.Priorities),
		features.WithRoles(cfg.Features.Roles),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("feature tables: %w", err)
	}

	engine, err := bandit.New(banditConfig(cfg), logger,
		bandit.WithEncoder(enc),
		bandit.WithPersister(deps.checkpoints),
		bandit.WithTracerProvider(tel.TracerProvider()),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("bandit engine: %w", err)
	}
	loaded := engine.Load(ctx)
	logger.Info("bandit engine ready", zap.Int("arms_loaded", loaded), zap.String("model_version", engine.ModelVersion()))

	svc, err := recommend.New(engine, deps.decisions, logger,
		recommend.WithTracerProvider(tel.TracerProvider()),
	)
	if err != nil {
		_ = engine.Close(ctx)
		return nil, nil, fmt.Errorf("recommend service: %w", err)
	}
	return engine, svc, nil
}

// startReload applies alpha and reward changes from the config file while
// running. Watch failures only disable reloading.
func startReload(ctx context.Context, configPath string, cfg *config.Config, engine *bandit.Engine, logger *zap.Logger) {
	path, err := config.ResolvePath(configPath)
	if err != nil {
		logger.Warn("config reload disabled", zap.Error(err))
		return
	}
	w, err := config.NewWatcher(path, cfg.Reload.Debounce.Duration(),
		func(next *config.Config) {
			if err := engine.Tune(tuningFor(next)); err != nil {
				logger.Warn("ignoring reloaded bandit tuning", zap.Error(err))
			}
		},
		func(err error) {
			logger.Warn("config reload failed, keeping current settings", zap.Error(err))
		},
	)
	if err != nil {
		logger.Warn("config reload disabled", zap.Error(err))
		return
	}
	logger.Info("watching config for tuning changes", zap.String("path", w.Path()))
	go func() {
		_ = w.Run(ctx)
	}()
}

func tuningFor(cfg *config.Config) bandit.Tuning {
	bc := banditConfig(cfg)
	return bandit.Tuning{Alpha: bc.Alpha, Reward: bc.Reward}
}

func banditConfig(cfg *config.Config) bandit.Config {
	bc := bandit.DefaultConfig()
	bc.Alpha = cfg.Bandit.Alpha
	bc.Dimension = cfg.Bandit.Dimension
	bc.Epsilon = cfg.Bandit.Epsilon
	bc.ModelVersion = cfg.Bandit.ModelVersion
	bc.FlushMode = bandit.FlushMode(cfg.Persistence.FlushMode)
	bc.Reward = bandit.RewardPolicy{
		Clamp: cfg.Bandit.Reward.Clamp,
		Min:   cfg.Bandit.Reward.Min,
		Max:   cfg.Bandit.Reward.Max,
	}
	return bc
}
