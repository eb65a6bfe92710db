package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/relay/internal/domain"
)

// runColumns — колонки runs в порядке scanRun.
const runColumns = `
	id, flow_id, version, status, inputs, result, messages, errors,
	terminal_queue, started_at, finished_at, error, idempotency_key, created_at
`

// RunRepo — репозиторий для работы с runs.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// Create создаёт новый run.
// Повторный ключ идемпотентности для того же flow — ErrAlreadyExists.
func (r *RunRepo) Create(ctx context.Context, run *domain.Run) error {
	inputsJSON, err := json.Marshal(run.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}

	query := `
		INSERT INTO runs (id, flow_id, version, status, inputs, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.pool.Exec(ctx, query,
		run.ID,
		run.FlowID,
		run.Version,
		run.Status,
		inputsJSON,
		nullString(run.IdempotencyKey),
		run.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: run %s", ErrAlreadyExists, run.IdempotencyKey)
	}
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetByID возвращает run по ID.
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetByIdempotencyKey возвращает run по ключу идемпотентности.
func (r *RunRepo) GetByIdempotencyKey(ctx context.Context, flowID uuid.UUID, key string) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE flow_id = $1 AND idempotency_key = $2`
	return r.getOne(ctx, query, flowID, key)
}

// List возвращает список runs с фильтрацией.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}

	query := `SELECT ` + runColumns + `
		FROM runs
		WHERE ($1::uuid IS NULL OR flow_id = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	return r.getMany(ctx, query,
		nullUUID(filter.FlowID),
		nullString(string(filter.Status)),
		filter.Limit,
		filter.Offset,
	)
}

// ListPending возвращает runs в статусе PENDING, старые первыми.
func (r *RunRepo) ListPending(ctx context.Context, limit int) ([]domain.Run, error) {
	query := `SELECT ` + runColumns + `
		FROM runs
		WHERE status = 'PENDING'
		ORDER BY created_at ASC
		LIMIT $1
	`
	return r.getMany(ctx, query, limit)
}

// Claim переводит run из PENDING в RUNNING.
// Если run уже забран другим оркестратором — ErrInvalidState.
func (r *RunRepo) Claim(ctx context.Context, run *domain.Run) error {
	query := `
		UPDATE runs
		SET status = $2, started_at = $3
		WHERE id = $1 AND status = $4
	`
	now := time.Now()
	result, err := r.pool.Exec(ctx, query, run.ID, domain.RunStatusRunning, now, domain.RunStatusPending)
	if err != nil {
		return fmt.Errorf("claim run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: run %s is not pending", ErrInvalidState, run.ID)
	}

	run.Status = domain.RunStatusRunning
	run.StartedAt = &now
	return nil
}

// Update сохраняет статус и отчёт run.
func (r *RunRepo) Update(ctx context.Context, run *domain.Run) error {
	resultJSON, err := marshalNullable(run.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	messagesJSON, err := marshalNullable(run.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	errorsJSON, err := marshalNullable(run.Errors)
	if err != nil {
		return fmt.Errorf("marshal errors: %w", err)
	}

	query := `
		UPDATE runs
		SET status = $2, started_at = $3, finished_at = $4, error = $5,
		    result = $6, messages = $7, errors = $8, terminal_queue = $9
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		run.ID,
		run.Status,
		run.StartedAt,
		run.FinishedAt,
		nullString(run.Error),
		resultJSON,
		messagesJSON,
		errorsJSON,
		nullString(run.TerminalQueue),
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Helpers ---

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	FlowID *uuid.UUID
	Status domain.RunStatus
	Limit  int
	Offset int
}

func (r *RunRepo) getOne(ctx context.Context, query string, args ...any) (*domain.Run, error) {
	run, err := scanRun(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, noRows(err)
	}
	return &run, nil
}

func (r *RunRepo) getMany(ctx context.Context, query string, args ...any) ([]domain.Run, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Run, error) {
		return scanRun(row)
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// scanRun сканирует одну строку в Run.
func scanRun(row pgx.Row) (domain.Run, error) {
	var run domain.Run
	var inputsJSON, resultJSON, messagesJSON, errorsJSON []byte
	var terminal, runError, idempotencyKey *string

	err := row.Scan(
		&run.ID,
		&run.FlowID,
		&run.Version,
		&run.Status,
		&inputsJSON,
		&resultJSON,
		&messagesJSON,
		&errorsJSON,
		&terminal,
		&run.StartedAt,
		&run.FinishedAt,
		&runError,
		&idempotencyKey,
		&run.CreatedAt,
	)
	if err != nil {
		return run, fmt.Errorf("scan run: %w", err)
	}

	fields := []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"inputs", inputsJSON, &run.Inputs},
		{"result", resultJSON, &run.Result},
		{"messages", messagesJSON, &run.Messages},
		{"errors", errorsJSON, &run.Errors},
	}
	for _, f := range fields {
		if f.raw == nil {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return run, fmt.Errorf("unmarshal %s: %w", f.name, err)
		}
	}

	if terminal != nil {
		run.TerminalQueue = *terminal
	}
	if runError != nil {
		run.Error = *runError
	}
	if idempotencyKey != nil {
		run.IdempotencyKey = *idempotencyKey
	}

	return run, nil
}

// marshalNullable возвращает nil для пустых значений (для NULL в БД).
func marshalNullable[T any](v T) ([]byte, error) {
	switch x := any(v).(type) {
	case map[string]any:
		if len(x) == 0 {
			return nil, nil
		}
	case []string:
		if len(x) == 0 {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullUUID возвращает nil для пустого UUID.
func nullUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil || *id == uuid.Nil {
		return nil
	}
	return id
}
