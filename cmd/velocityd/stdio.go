package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/velocity/internal/bandit"
	"github.com/fyrsmithlabs/velocity/internal/config"
	"github.com/fyrsmithlabs/velocity/internal/mcp"
	"github.com/fyrsmithlabs/velocity/internal/recommend"
)

// runStdio serves the MCP tools on stdin/stdout until ctx is cancelled or
// the client disconnects.
func runStdio(ctx context.Context, cfg *config.Config, engine *bandit.Engine, svc *recommend.Service, logger *zap.Logger) error {
	srv, err := mcp.NewServer(&mcp.Config{
		Name:    cfg.MCP.Name,
		Version: version,
		Logger:  logger,
	}, engine, svc)
	if err != nil {
		return fmt.Errorf("failed to create mcp server: %w", err)
	}

	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("stdio server error: %w", err)
	}
	logger.Info("stdio MCP server shutdown complete")
	return nil
}
