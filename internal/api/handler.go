package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shaiso/relay/internal/domain"
	"github.com/shaiso/relay/internal/flow"
	"github.com/shaiso/relay/internal/repo"
	"github.com/shaiso/relay/internal/telemetry"
)

// DefaultExecuteTimeout — таймаут синхронного выполнения.
const DefaultExecuteTimeout = time.Minute

// FlowStore — хранилище flows и версий (repo.FlowRepo).
type FlowStore interface {
	Create(ctx context.Context, flow *domain.Flow) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Flow, error)
	List(ctx context.Context) ([]domain.Flow, error)
	Update(ctx context.Context, flow *domain.Flow) error
	Delete(ctx context.Context, id uuid.UUID) error
	CreateVersion(ctx context.Context, flowID uuid.UUID, spec domain.FlowSpec) (*domain.FlowVersion, error)
	GetVersion(ctx context.Context, flowID uuid.UUID, version int) (*domain.FlowVersion, error)
	GetLatestVersion(ctx context.Context, flowID uuid.UUID) (*domain.FlowVersion, error)
	ListVersions(ctx context.Context, flowID uuid.UUID) ([]domain.FlowVersion, error)
}

// RunStore — хранилище runs (repo.RunRepo).
type RunStore interface {
	Create(ctx context.Context, run *domain.Run) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	GetByIdempotencyKey(ctx context.Context, flowID uuid.UUID, key string) (*domain.Run, error)
	List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error)
	Update(ctx context.Context, run *domain.Run) error
}

// RunPublisher публикует run.pending (mq.Publisher).
type RunPublisher interface {
	PublishRunPending(ctx context.Context, runID uuid.UUID) error
}

// RunExecutor синхронно выполняет pending run (orchestrator.Orchestrator).
type RunExecutor interface {
	Execute(ctx context.Context, run *domain.Run) error
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	flowRepo       FlowStore
	runRepo        RunStore
	publisher      RunPublisher
	executor       RunExecutor
	builder        *flow.Builder
	logger         *slog.Logger
	metrics        *httpMetrics
	corsOrigins    []string
	executeTimeout time.Duration
}

// Config — конфигурация для создания Handler.
type Config struct {
	FlowRepo FlowStore
	RunRepo  RunStore

	// Publisher — публикация run.pending (опционально).
	Publisher RunPublisher

	// Executor — выполнение run по запросу с ?wait=true (опционально).
	Executor RunExecutor

	// Builder — сборщик flow для /validate и /execute.
	// nil — flow.NewBuilder с логгером API.
	Builder *flow.Builder

	// ExecuteTimeout — таймаут синхронного выполнения (default: 1m).
	ExecuteTimeout time.Duration

	// Registerer — регистрация HTTP метрик. nil — без метрик.
	Registerer prometheus.Registerer

	// CORSOrigins — разрешённые origin для браузерных клиентов.
	// Пустой список — CORS отключён.
	CORSOrigins []string

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.Discard()
	}

	builder := cfg.Builder
	if builder == nil {
		builder = flow.NewBuilder(flow.BuilderConfig{Logger: logger})
	}

	timeout := cfg.ExecuteTimeout
	if timeout <= 0 {
		timeout = DefaultExecuteTimeout
	}

	var metrics *httpMetrics
	if cfg.Registerer != nil {
		metrics = newHTTPMetrics(cfg.Registerer)
	}

	return &Handler{
		flowRepo:       cfg.FlowRepo,
		runRepo:        cfg.RunRepo,
		publisher:      cfg.Publisher,
		executor:       cfg.Executor,
		builder:        builder,
		logger:         logger,
		metrics:        metrics,
		corsOrigins:    cfg.CORSOrigins,
		executeTimeout: timeout,
	}
}
