package steps

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	// StepTypeSQL — тип SQL шага.
	StepTypeSQL = "sql"

	// Ключи конфигурации sql.
	configQuery = "query"
	configArgs  = "args"
	configMode  = "mode"

	sqlModeQuery = "query"
	sqlModeExec  = "exec"
)

// Querier — подключение к PostgreSQL. *pgxpool.Pool реализует этот интерфейс.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// SQLStep — шаг выполнения SQL запроса.
//
// Конфигурация:
//
//	{
//	    "query": "SELECT id, status FROM orders WHERE id = $1",
//	    "args": [{"$ref": "inputs.order_id"}],
//	    "mode": "query"    // query (по умолчанию) или exec
//	}
//
// Outputs:
//
//	{"rows": [{"id": "...", "status": "..."}], "rows_affected": 1}
type SQLStep struct {
	db Querier
}

// NewSQLStep создаёт новый SQLStep.
func NewSQLStep(db Querier) *SQLStep {
	return &SQLStep{db: db}
}

// Type возвращает тип шага.
func (s *SQLStep) Type() string {
	return StepTypeSQL
}

// Execute выполняет запрос.
func (s *SQLStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	query := req.Config.String(configQuery)
	if query == "" {
		return nil, fmt.Errorf("%w: %s: query is required", ErrInvalidConfig, StepTypeSQL)
	}

	mode := req.Config.String(configMode)
	if mode == "" {
		mode = sqlModeQuery
	}

	args, err := s.parseArgs(req.Config)
	if err != nil {
		return nil, err
	}

	switch mode {
	case sqlModeQuery:
		return s.query(ctx, query, args)
	case sqlModeExec:
		tag, err := s.db.Exec(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("sql exec: %w", err)
		}
		return &Response{Outputs: map[string]any{
			"rows_affected": tag.RowsAffected(),
		}}, nil
	default:
		return nil, fmt.Errorf("%w: %s: unknown mode %q", ErrInvalidConfig, StepTypeSQL, mode)
	}
}

func (s *SQLStep) query(ctx context.Context, query string, args []any) (*Response, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sql query: %w", err)
	}

	records, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("sql collect rows: %w", err)
	}

	out := make([]any, len(records))
	for i, rec := range records {
		out[i] = rec
	}

	return &Response{Outputs: map[string]any{
		"rows":          out,
		"rows_affected": int64(len(records)),
	}}, nil
}

// parseArgs извлекает позиционные аргументы запроса.
func (s *SQLStep) parseArgs(config Config) ([]any, error) {
	raw, ok := config[configArgs]
	if !ok || raw == nil {
		return nil, nil
	}
	args, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s: args must be an array", ErrInvalidConfig, StepTypeSQL)
	}
	return args, nil
}
