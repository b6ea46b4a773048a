package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/velocity/internal/checkpoint"
	"github.com/fyrsmithlabs/velocity/internal/config"
	"github.com/fyrsmithlabs/velocity/internal/decisionlog"
	"github.com/fyrsmithlabs/velocity/internal/telemetry"
)

// dependencies holds the storage the services are built on.
type dependencies struct {
	natsConn    *nats.Conn
	checkpoints *checkpoint.Manager
	decisions   decisionlog.Log
	logger      *zap.Logger
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.decisions != nil {
		if err := d.decisions.Close(); err != nil {
			d.logger.Warn("failed to close decision log", zap.Error(err))
		}
	}
	if d.checkpoints != nil {
		if err := d.checkpoints.Close(); err != nil {
			d.logger.Warn("failed to close checkpoint store", zap.Error(err))
		}
	}
	if d.natsConn != nil {
		d.natsConn.Close()
	}
}

// initDependencies opens the checkpoint store and the decision log.
func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger, tel *telemetry.Telemetry) (*dependencies, error) {
	deps := &dependencies{logger: logger}

	store, err := openStore(ctx, cfg, deps)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.checkpoints, err = checkpoint.NewManager(store, logger,
		checkpoint.WithTimeout(cfg.Persistence.Timeout.Duration()),
		checkpoint.WithCompression(cfg.Persistence.Compress),
		checkpoint.WithTracerProvider(tel.TracerProvider()),
	)
	if err != nil {
		_ = store.Close()
		deps.Close()
		return nil, err
	}

	deps.decisions, err = openDecisionLog(cfg)
	if err != nil {
		deps.Close()
		return nil, err
	}

	logger.Info("dependencies initialized",
		zap.String("persistence", cfg.Persistence.Backend),
		zap.Bool("compress", cfg.Persistence.Compress),
		zap.Bool("nats_connected", deps.natsConn != nil),
		zap.String("decision_log", cfg.DecisionLog.Backend),
	)
	return deps, nil
}

// openStore returns the checkpoint store for the configured backend. The
// nats backend leaves its connection on deps for Close.
func openStore(ctx context.Context, cfg *config.Config, deps *dependencies) (checkpoint.Store, error) {
	switch cfg.Persistence.Backend {
	case config.BackendFile:
		path, err := config.ExpandPath(cfg.Persistence.Path)
		if err != nil {
			return nil, err
		}
		return checkpoint.NewFileStore(path)
	case config.BackendSQLite:
		path, err := config.ExpandPath(cfg.Persistence.Path)
		if err != nil {
			return nil, err
		}
		return checkpoint.OpenSQLiteStore(path)
	case config.BackendNATS:
		nc, err := connectNATS(cfg.NATS)
		if err != nil {
			return nil, err
		}
		deps.natsConn = nc
		js, err := jetstream.New(nc)
		if err != nil {
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}
		return checkpoint.OpenKVStore(ctx, js, cfg.NATS.Bucket, cfg.NATS.Key)
	case config.BackendMemory:
		return checkpoint.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", cfg.Persistence.Backend)
	}
}

func connectNATS(cfg config.NATSConfig) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("velocityd"),
		nats.Timeout(cfg.ConnectTimeout.Duration()),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1 * time.Second),
	}
	if token := cfg.Token.Value(); token != "" {
		opts = append(opts, nats.Token(token))
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	return nc, nil
}

func openDecisionLog(cfg *config.Config) (decisionlog.Log, error) {
	switch cfg.DecisionLog.Backend {
	case config.BackendSQLite:
		path, err := config.ExpandPath(cfg.DecisionLog.Path)
		if err != nil {
			return nil, err
		}
		return decisionlog.OpenSQLiteLog(path)
	case config.BackendMemory:
		return decisionlog.NewMemoryLog(), nil
	default:
		return nil, fmt.Errorf("unknown decision log backend %q", cfg.DecisionLog.Backend)
	}
}
