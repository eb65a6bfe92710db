// Relay Orchestrator — выполняет runs.
//
// Orchestrator:
//   - Получает run.pending из RabbitMQ и забирает pending runs через polling
//   - Собирает очереди flow и выполняет run
//   - Сохраняет отчёт и публикует run.finished
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/relay/internal/config"
	"github.com/shaiso/relay/internal/flow"
	"github.com/shaiso/relay/internal/mq"
	"github.com/shaiso/relay/internal/orchestrator"
	"github.com/shaiso/relay/internal/repo"
	"github.com/shaiso/relay/internal/steps"
	"github.com/shaiso/relay/internal/telemetry"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	// Инициализируем structured logging
	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting relay-orchestrator")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.Database.URL, repo.WithMaxConns(cfg.Database.MaxConns))
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	orchCfg := orchestrator.Config{
		RunRepo:       repo.NewRunRepo(pool),
		FlowRepo:      repo.NewFlowRepo(pool),
		PollInterval:  cfg.Orchestrator.PollInterval.Std(),
		BatchSize:     cfg.Orchestrator.BatchSize,
		MaxConcurrent: cfg.Orchestrator.MaxConcurrent,
		RunTimeout:    cfg.Orchestrator.RunTimeout.Std(),
		Logger:        logger,
	}
	deps := steps.Deps{DB: pool}

	// RabbitMQ
	mqConn, err := mq.NewConnection(cfg.RabbitMQ.URL, "relay-orchestrator", logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		// Создаём топологию
		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		publisher := mq.NewPublisher(mqConn, logger)
		orchCfg.Publisher = publisher
		orchCfg.Conn = mqConn
		deps.Publisher = publisher
		deps.Sources = mq.NewSources(mqConn, logger)
	}

	reg := telemetry.NewRegistry()
	orchCfg.Builder = flow.NewBuilder(flow.BuilderConfig{
		Registry:    steps.ServiceRegistry(deps),
		Logger:      logger,
		Metrics:     telemetry.NewMetrics(reg),
		StepTimeout: cfg.Engine.StepTimeout.Std(),
	})

	orch := orchestrator.New(orchCfg)
	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	// HTTP: /healthz + /metrics
	if err := telemetry.Serve(ctx, config.Addr(cfg.Orchestrator.Port), telemetry.ServiceMux(reg), logger); err != nil {
		logger.Error("http server error", "error", err)
	}

	// Останавливаем orchestrator
	orch.Stop()
	logger.Info("relay-orchestrator stopped")
}
