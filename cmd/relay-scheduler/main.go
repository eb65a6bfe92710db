// Relay Scheduler — создаёт runs по расписаниям flows.
//
// Тики выполняет только один экземпляр: лидер определяется
// через PostgreSQL advisory lock.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/relay/internal/config"
	"github.com/shaiso/relay/internal/mq"
	"github.com/shaiso/relay/internal/repo"
	"github.com/shaiso/relay/internal/scheduler"
	"github.com/shaiso/relay/internal/telemetry"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting relay-scheduler")

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

	schedCfg := scheduler.Config{
		FlowRepo:     repo.NewFlowRepo(pool),
		RunRepo:      repo.NewRunRepo(pool),
		Locker:       scheduler.NewPGLock(pool, scheduler.LockKey),
		TickInterval: cfg.Scheduler.TickInterval.Std(),
		SyncInterval: cfg.Scheduler.SyncInterval.Std(),
		Logger:       logger,
	}

	// Без RabbitMQ созданные runs подхватит polling оркестратора
	mqConn, err := mq.NewConnection(cfg.RabbitMQ.URL, "relay-scheduler", logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, run.pending will not be published", "error", err)
	} else {
		defer mqConn.Close()
		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
		schedCfg.Publisher = mq.NewPublisher(mqConn, logger)
	}

	sched := scheduler.New(schedCfg)
	reg := telemetry.NewRegistry()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return telemetry.Serve(ctx, config.Addr(cfg.Scheduler.Port), telemetry.ServiceMux(reg), logger)
	})

	if err := g.Wait(); err != nil {
		logger.Error("scheduler error", "error", err)
		os.Exit(1)
	}

	logger.Info("relay-scheduler stopped")
}
