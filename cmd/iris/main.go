// Package main is the entry point for iris, the multi-tenant coordination
// server that lets one team's long-lived AI agent process send messages to
// another's, spawning and supervising the receiving child on demand.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/iris-mcp/iris/internal/common/config"
	"github.com/iris-mcp/iris/internal/common/logger"
	"github.com/iris-mcp/iris/internal/db/dialect"
	"github.com/iris-mcp/iris/internal/debugserver"
	"github.com/iris-mcp/iris/internal/eventbus"
	"github.com/iris-mcp/iris/internal/mcptools"
	"github.com/iris-mcp/iris/internal/orchestrator"
	"github.com/iris-mcp/iris/internal/pool"
	"github.com/iris-mcp/iris/internal/session"
	"github.com/iris-mcp/iris/internal/teams"
	"github.com/iris-mcp/iris/internal/tracing"
)

const shutdownGrace = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)

	log.Info("starting iris",
		zap.Int("port", cfg.Server.Port),
		zap.String("dbDriver", cfg.Database.Driver),
	)

	dsn := cfg.Database.Path
	if cfg.Database.Driver == dialect.PGX {
		dsn = cfg.Database.DSN
	}
	store, err := session.Open(cfg.Database.Driver, dsn, cfg.Database.DataDir)
	if err != nil {
		log.Fatal("failed to open session store", zap.Error(err))
	}

	bus, err := eventbus.New(cfg.NATS, log)
	if err != nil {
		log.Fatal("failed to connect event bus", zap.Error(err))
	}

	catalog, err := teams.Load(cfg.Teams.Path)
	if err != nil {
		log.Fatal("failed to load team catalog", zap.Error(err))
	}

	ctx, cancelTracing := context.WithCancel(context.Background())
	tracer, shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		log.Fatal("failed to initialize tracing", zap.Error(err))
	}
	defer cancelTracing()

	p := pool.New(pool.Config{
		MaxProcesses:        cfg.Pool.MaxProcesses,
		SpawnTimeout:        cfg.Timeouts.SpawnTimeout,
		HealthCheckInterval: cfg.Pool.HealthCheckInterval,
		TerminateGrace:      cfg.Timeouts.TerminateGrace,
		IrisHTTPPort:        cfg.Server.Port,
		Tracer:              tracer,
	}, bus, log)

	orch := orchestrator.New(store, p, catalog, bus, orchestrator.Timeouts{
		SpawnTimeout:       cfg.Timeouts.SpawnTimeout,
		SessionInitTimeout: cfg.Timeouts.SessionInitTimeout,
		ResponseTimeout:    cfg.Timeouts.ResponseTimeout,
		PermissionTimeout:  cfg.Timeouts.PermissionTimeout,
		TerminateGrace:     cfg.Timeouts.TerminateGrace,
	}, log).WithTracer(tracer)

	mcpServer := mcptools.New(mcptools.Config{Port: cfg.Server.Port}, orch, log)
	debugServer := debugserver.New(debugserver.Config{Port: cfg.Server.Port + 1}, orch, store, log)

	startCtx, cancelStart := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelStart()

	if err := mcpServer.Start(startCtx); err != nil {
		log.Fatal("failed to start mcp server", zap.Error(err))
	}
	if err := debugServer.Start(startCtx); err != nil {
		log.Fatal("failed to start debug server", zap.Error(err))
	}

	log.Info("iris ready",
		zap.Int("mcpPort", cfg.Server.Port),
		zap.Int("debugPort", cfg.Server.Port+1),
		zap.Int("teams", len(catalog.List())),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down iris")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := mcpServer.Stop(shutdownCtx); err != nil {
		log.Error("mcp server shutdown error", zap.Error(err))
	}
	if err := debugServer.Stop(shutdownCtx); err != nil {
		log.Error("debug server shutdown error", zap.Error(err))
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		log.Error("orchestrator shutdown error", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("tracing shutdown error", zap.Error(err))
	}

	log.Info("iris stopped")
}
