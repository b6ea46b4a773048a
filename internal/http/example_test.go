package http_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/velocity/internal/bandit"
	"github.com/fyrsmithlabs/velocity/internal/decisionlog"
	httpserver "github.com/fyrsmithlabs/velocity/internal/http"
	"github.com/fyrsmithlabs/velocity/internal/recommend"
	"go.uber.org/zap"
)

// ExampleServer demonstrates wiring the engine, the recommend service
// and the HTTP server.
func ExampleServer() {
	logger := zap.NewNop()

	engine, err := bandit.New(bandit.DefaultConfig(), logger)
	if err != nil {
		panic(err)
	}
	defer engine.Close(context.Background())

	svc, err := recommend.New(engine, decisionlog.NewMemoryLog(), logger)
	if err != nil {
		panic(err)
	}

	cfg := httpserver.DefaultConfig()
	cfg.Port = 0
	server, err := httpserver.NewServer(engine, svc, logger, cfg)
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		panic(err)
	}

	fmt.Println("Server started and stopped successfully")
	// Output: Server started and stopped successfully
}
