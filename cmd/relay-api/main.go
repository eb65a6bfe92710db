// Relay API — HTTP API для управления flows и runs.
//
// Запуск runs с ?wait=true и POST /api/v1/execute выполняются
// в процессе API, остальные runs передаются оркестратору через RabbitMQ.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/relay/internal/api"
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
	logger.Info("starting relay-api")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Подключаемся к базе данных
	pool, err := repo.NewPool(ctx, cfg.Database.URL, repo.WithMaxConns(cfg.Database.MaxConns))
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	if err := repo.Migrate(ctx, pool); err != nil {
		logger.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}

	flowRepo := repo.NewFlowRepo(pool)
	runRepo := repo.NewRunRepo(pool)

	deps := steps.Deps{DB: pool}
	apiCfg := api.Config{
		FlowRepo:       flowRepo,
		RunRepo:        runRepo,
		ExecuteTimeout: cfg.API.ExecuteTimeout.Std(),
		CORSOrigins:    cfg.API.CORSOrigins,
		Logger:         logger,
	}
	orchCfg := orchestrator.Config{
		RunRepo:    runRepo,
		FlowRepo:   flowRepo,
		RunTimeout: cfg.Orchestrator.RunTimeout.Std(),
		Logger:     logger,
	}

	// RabbitMQ опционален: без него runs подхватит polling оркестратора
	mqConn, err := mq.NewConnection(cfg.RabbitMQ.URL, "relay-api", logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, runs will be picked up by polling", "error", err)
	} else {
		defer mqConn.Close()

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		publisher := mq.NewPublisher(mqConn, logger)
		deps.Publisher = publisher
		deps.Sources = mq.NewSources(mqConn, logger)
		apiCfg.Publisher = publisher
		orchCfg.Publisher = publisher
	}

	reg := telemetry.NewRegistry()
	apiCfg.Registerer = reg
	builder := flow.NewBuilder(flow.BuilderConfig{
		Registry:    steps.ServiceRegistry(deps),
		Logger:      logger,
		Metrics:     telemetry.NewMetrics(reg),
		StepTimeout: cfg.Engine.StepTimeout.Std(),
	})

	// Оркестратор не запускается: он только выполняет runs с ?wait=true
	orchCfg.Builder = builder
	apiCfg.Builder = builder
	apiCfg.Executor = orchestrator.New(orchCfg)

	mux := telemetry.ServiceMux(reg)
	api.NewHandler(apiCfg).RegisterRoutes(mux)

	if err := telemetry.Serve(ctx, config.Addr(cfg.API.Port), mux, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("stopped")
}
