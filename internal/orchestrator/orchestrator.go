package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/relay/internal/domain"
	"github.com/shaiso/relay/internal/flow"
	"github.com/shaiso/relay/internal/mq"
	"github.com/shaiso/relay/internal/repo"
	"github.com/shaiso/relay/internal/telemetry"
)

// Default configuration values.
const (
	defaultPollInterval  = 10 * time.Second
	defaultBatchSize     = 100
	defaultMaxConcurrent = 16
)

// RunStore — хранилище runs (repo.RunRepo).
type RunStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	ListPending(ctx context.Context, limit int) ([]domain.Run, error)
	Claim(ctx context.Context, run *domain.Run) error
	Update(ctx context.Context, run *domain.Run) error
}

// VersionStore — хранилище версий flow (repo.FlowRepo).
type VersionStore interface {
	GetVersion(ctx context.Context, flowID uuid.UUID, version int) (*domain.FlowVersion, error)
}

// Notifier публикует события о завершении runs (mq.Publisher).
type Notifier interface {
	PublishRunFinished(ctx context.Context, payload mq.RunFinishedPayload) error
}

// Orchestrator управляет выполнением runs.
//
// Orchestrator:
//   - Получает новые runs из очереди RabbitMQ (event-driven)
//   - Периодически проверяет pending runs в БД (polling fallback)
//   - Выполняет flow версии run через flow.Execute
//   - Сохраняет отчёт и публикует run.finished
type Orchestrator struct {
	runRepo   RunStore
	flowRepo  VersionStore
	publisher Notifier
	conn      *mq.Connection
	builder   *flow.Builder

	// Active runs — runs в процессе выполнения (runID → state)
	activeRuns map[uuid.UUID]*RunState
	mu         sync.RWMutex

	runConsumer *mq.Consumer

	pollInterval time.Duration
	batchSize    int
	runTimeout   time.Duration

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	lifecycle  *errgroup.Group
	runs       *errgroup.Group
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Orchestrator.
type Config struct {
	RunRepo  RunStore
	FlowRepo VersionStore

	// Publisher — публикация run.finished (опционально).
	Publisher Notifier

	// Conn — соединение с RabbitMQ. nil — только polling.
	Conn *mq.Connection

	// Builder — сборщик очередей flow. nil — flow.NewBuilder с логгером оркестратора.
	Builder *flow.Builder

	PollInterval  time.Duration // интервал polling (default: 10s)
	BatchSize     int           // количество runs за один poll (default: 100)
	MaxConcurrent int           // одновременно выполняемые runs (default: 16)
	RunTimeout    time.Duration // таймаут одного run (0 — без таймаута)

	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}

	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.Discard()
	}

	builder := cfg.Builder
	if builder == nil {
		builder = flow.NewBuilder(flow.BuilderConfig{Logger: logger})
	}

	runs := new(errgroup.Group)
	runs.SetLimit(maxConcurrent)

	return &Orchestrator{
		runRepo:      cfg.RunRepo,
		flowRepo:     cfg.FlowRepo,
		publisher:    cfg.Publisher,
		conn:         cfg.Conn,
		builder:      builder,
		activeRuns:   make(map[uuid.UUID]*RunState),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		runTimeout:   cfg.RunTimeout,
		logger:       logger,
		runs:         runs,
	}
}

// Start запускает Orchestrator.
//
// Запускает:
//   - Consumer для runs.pending (если задано соединение)
//   - Polling горутину для fallback
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.IsStopped() {
		return ErrOrchestratorStopped
	}

	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel
	o.lifecycle = new(errgroup.Group)

	o.logger.Info("starting orchestrator",
		"poll_interval", o.pollInterval,
		"batch_size", o.batchSize,
		"run_timeout", o.runTimeout,
	)

	if o.conn != nil {
		o.runConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueRunsPending),
			Handler:  o.handleRunPending,
			Prefetch: 10,
		})

		o.lifecycle.Go(func() error {
			if err := o.runConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Error("run consumer error", "error", err)
			}
			return nil
		})
	}

	o.lifecycle.Go(func() error {
		o.pollLoop(ctx)
		return nil
	})

	o.logger.Info("orchestrator started")
	return nil
}

// Stop останавливает Orchestrator.
// Выполняющиеся runs отменяются и сохраняются со статусом CANCELLED.
func (o *Orchestrator) Stop() {
	o.stoppedMu.Lock()
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("stopping orchestrator...")

	if o.cancelFunc != nil {
		o.cancelFunc()
	}
	if o.runConsumer != nil {
		o.runConsumer.Stop()
	}

	if o.lifecycle != nil {
		_ = o.lifecycle.Wait()
	}
	_ = o.runs.Wait()

	o.logger.Info("orchestrator stopped")
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

// handleRunPending обрабатывает событие о новом pending run.
func (o *Orchestrator) handleRunPending(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.RunPendingPayload](&delivery.Message)
	if err != nil {
		o.logger.Error("failed to parse run.pending payload", "error", err)
		return err
	}

	o.logger.Debug("received run.pending event", "run_id", payload.RunID)

	run, err := o.runRepo.GetByID(ctx, payload.RunID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			o.logger.Warn("run from event not found", "run_id", payload.RunID)
			return nil
		}
		return fmt.Errorf("get run: %w", err)
	}

	o.dispatch(ctx, run)
	return nil
}

// pollLoop — цикл polling для fallback.
func (o *Orchestrator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем runs созданные пока были выключены)
	o.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling.
func (o *Orchestrator) poll(ctx context.Context) {
	runs, err := o.runRepo.ListPending(ctx, o.batchSize)
	if err != nil {
		if ctx.Err() == nil {
			o.logger.Error("failed to list pending runs", "error", err)
		}
		return
	}

	if len(runs) == 0 {
		return
	}

	o.logger.Debug("poll found pending runs", "count", len(runs))

	for i := range runs {
		o.dispatch(ctx, &runs[i])
	}
}

// dispatch запускает run в фоне. Блокируется, если достигнут MaxConcurrent.
func (o *Orchestrator) dispatch(ctx context.Context, run *domain.Run) {
	if run.Status != domain.RunStatusPending || ctx.Err() != nil {
		return
	}

	state := NewRunState(run, nil)
	if err := o.addActiveRun(state); err != nil {
		o.logger.Debug("run already active, skipping", "run_id", run.ID)
		return
	}

	o.runs.Go(func() error {
		defer o.removeActiveRun(run.ID)

		if err := o.execute(ctx, state); err != nil {
			if errors.Is(err, ErrRunNotPending) {
				o.logger.Debug("run not processed", "run_id", run.ID, "reason", err)
				return nil
			}
			o.logger.Error("failed to process run", "run_id", run.ID, "error", err)
		}
		return nil
	})
}

// Execute синхронно выполняет pending run и сохраняет отчёт.
//
// Ошибка возвращается только для инфраструктурных сбоев
// (БД, повторный запуск). Результат выполнения — в run.Status.
func (o *Orchestrator) Execute(ctx context.Context, run *domain.Run) error {
	state := NewRunState(run, nil)
	if err := o.addActiveRun(state); err != nil {
		return err
	}
	defer o.removeActiveRun(run.ID)

	return o.execute(ctx, state)
}

// execute забирает run, выполняет flow и сохраняет результат.
func (o *Orchestrator) execute(ctx context.Context, state *RunState) error {
	run := state.Run
	logger := telemetry.WithRunID(o.logger, run.ID.String())

	if run.Status != domain.RunStatusPending {
		return fmt.Errorf("%w: %s", ErrRunNotPending, run.Status)
	}
	if err := o.runRepo.Claim(ctx, run); err != nil {
		if errors.Is(err, repo.ErrInvalidState) {
			return fmt.Errorf("%w: %v", ErrRunNotPending, err)
		}
		return err
	}

	version, err := o.flowRepo.GetVersion(ctx, run.FlowID, run.Version)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		state.Fail(fmt.Errorf("%w: %s v%d", ErrVersionNotFound, run.FlowID, run.Version))
		return o.finish(ctx, state, logger)
	case err != nil:
		// Run уже RUNNING: оставить его висеть нельзя
		state.Fail(fmt.Errorf("get flow version: %w", err))
		return errors.Join(err, o.finish(ctx, state, logger))
	}
	state.setVersion(version)

	if err := state.Initialize(o.builder.Registry()); err != nil {
		state.Fail(err)
		return o.finish(ctx, state, logger)
	}

	logger.Info("run started",
		"flow_id", run.FlowID,
		"version", run.Version,
		"queues", len(version.Spec.Queues),
	)

	runCtx := telemetry.WithLogger(ctx, logger)
	if o.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, o.runTimeout)
		defer cancel()
	}

	report, err := flow.Execute(runCtx, o.builder, &version.Spec, run.Inputs)
	switch {
	case err != nil:
		state.Fail(err)
	case report.Status == domain.RunStatusCancelled && errors.Is(runCtx.Err(), context.DeadlineExceeded):
		report.Status = domain.RunStatusFailed
		report.Error = ErrRunTimeout.Error()
		state.Finish(report)
	default:
		state.Finish(report)
	}

	return o.finish(ctx, state, logger)
}

// finish сохраняет завершённый run и публикует run.finished.
func (o *Orchestrator) finish(ctx context.Context, state *RunState, logger *slog.Logger) error {
	run := state.Run

	// Отменённый run тоже должен попасть в БД
	ctx = context.WithoutCancel(ctx)

	if err := o.runRepo.Update(ctx, run); err != nil {
		return fmt.Errorf("update run: %w", err)
	}

	level := slog.LevelInfo
	if run.Status == domain.RunStatusFailed {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, "run finished",
		"status", run.Status,
		"terminal", run.TerminalQueue,
		"duration", run.Duration(),
		"error", run.Error,
	)

	if o.publisher != nil {
		payload := mq.RunFinishedPayload{
			RunID:    run.ID,
			FlowID:   run.FlowID,
			Status:   string(run.Status),
			Terminal: run.TerminalQueue,
			Error:    run.Error,
		}
		if err := o.publisher.PublishRunFinished(ctx, payload); err != nil {
			// Не фатально — отчёт уже в БД
			logger.Warn("failed to publish run.finished", "error", err)
		}
	}

	return nil
}

// addActiveRun добавляет run в активные.
func (o *Orchestrator) addActiveRun(state *RunState) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.activeRuns[state.RunID()]; exists {
		return ErrRunAlreadyActive
	}

	o.activeRuns[state.RunID()] = state
	return nil
}

// removeActiveRun удаляет run из активных.
func (o *Orchestrator) removeActiveRun(runID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.activeRuns, runID)
}

// ActiveRunsCount возвращает количество активных runs.
func (o *Orchestrator) ActiveRunsCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.activeRuns)
}

// GetActiveRunStats возвращает статистику по активному run.
func (o *Orchestrator) GetActiveRunStats(runID uuid.UUID) (RunStats, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	state, exists := o.activeRuns[runID]
	if !exists {
		return RunStats{}, false
	}

	return state.Stats(), true
}
