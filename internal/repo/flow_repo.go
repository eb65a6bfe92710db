package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/relay/internal/domain"
)

// Колонки в порядке полей domain.Flow и scanVersion.
const (
	flowColumns    = `id, name, is_active, created_at`
	versionColumns = `flow_id, version, spec, created_at`
)

// FlowRepo хранит flows и их версии.
type FlowRepo struct {
	pool *pgxpool.Pool
}

func NewFlowRepo(pool *pgxpool.Pool) *FlowRepo {
	return &FlowRepo{pool: pool}
}

// Create сохраняет flow. Занятое имя — ErrAlreadyExists.
func (r *FlowRepo) Create(ctx context.Context, flow *domain.Flow) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO flows (`+flowColumns+`) VALUES ($1, $2, $3, $4)`,
		flow.ID, flow.Name, flow.IsActive, flow.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: flow %q", ErrAlreadyExists, flow.Name)
	}
	if err != nil {
		return fmt.Errorf("insert flow: %w", err)
	}
	return nil
}

func (r *FlowRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Flow, error) {
	return r.getFlow(ctx, `id = $1`, id)
}

func (r *FlowRepo) GetByName(ctx context.Context, name string) (*domain.Flow, error) {
	return r.getFlow(ctx, `name = $1`, name)
}

// List возвращает flows, новые первыми.
func (r *FlowRepo) List(ctx context.Context) ([]domain.Flow, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+flowColumns+` FROM flows ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}

	flows, err := pgx.CollectRows(rows, pgx.RowToStructByPos[domain.Flow])
	if err != nil {
		return nil, fmt.Errorf("scan flows: %w", err)
	}
	return flows, nil
}

// Update сохраняет имя и признак активности.
func (r *FlowRepo) Update(ctx context.Context, flow *domain.Flow) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE flows SET name = $2, is_active = $3 WHERE id = $1`,
		flow.ID, flow.Name, flow.IsActive,
	)
	switch {
	case isUniqueViolation(err):
		return fmt.Errorf("%w: flow %q", ErrAlreadyExists, flow.Name)
	case err != nil:
		return fmt.Errorf("update flow: %w", err)
	case tag.RowsAffected() == 0:
		return ErrNotFound
	}
	return nil
}

// Delete удаляет flow вместе с версиями и runs (ON DELETE CASCADE).
func (r *FlowRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM flows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete flow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *FlowRepo) getFlow(ctx context.Context, where string, arg any) (*domain.Flow, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+flowColumns+` FROM flows WHERE `+where, arg)
	if err != nil {
		return nil, fmt.Errorf("get flow: %w", err)
	}

	flow, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[domain.Flow])
	if err != nil {
		return nil, noRows(err)
	}
	return &flow, nil
}

// CreateVersion сохраняет spec следующей версией flow. Строка flow
// блокируется, поэтому параллельные вызовы получают разные номера.
// Несуществующий flow — ErrNotFound.
func (r *FlowRepo) CreateVersion(ctx context.Context, flowID uuid.UUID, spec domain.FlowSpec) (*domain.FlowVersion, error) {
	data, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("marshal spec: %w", err)
	}

	var version domain.FlowVersion
	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var locked int
		if err := tx.QueryRow(ctx, `SELECT 1 FROM flows WHERE id = $1 FOR UPDATE`, flowID).Scan(&locked); err != nil {
			return noRows(err)
		}

		version, err = scanVersion(tx.QueryRow(ctx, `
			INSERT INTO flow_versions (`+versionColumns+`)
			SELECT $1, COALESCE(MAX(version), 0) + 1, $2, NOW()
			FROM flow_versions
			WHERE flow_id = $1
			RETURNING `+versionColumns,
			flowID, data,
		))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert flow version: %w", err)
	}
	return &version, nil
}

func (r *FlowRepo) GetVersion(ctx context.Context, flowID uuid.UUID, version int) (*domain.FlowVersion, error) {
	return r.getVersion(ctx, `WHERE flow_id = $1 AND version = $2`, flowID, version)
}

func (r *FlowRepo) GetLatestVersion(ctx context.Context, flowID uuid.UUID) (*domain.FlowVersion, error) {
	return r.getVersion(ctx, `WHERE flow_id = $1 ORDER BY version DESC LIMIT 1`, flowID)
}

// ListVersions возвращает версии flow, последние первыми.
func (r *FlowRepo) ListVersions(ctx context.Context, flowID uuid.UUID) ([]domain.FlowVersion, error) {
	return r.listVersions(ctx,
		`SELECT `+versionColumns+` FROM flow_versions WHERE flow_id = $1 ORDER BY version DESC`,
		flowID,
	)
}

// ListScheduled возвращает последние версии активных flows с
// заданным расписанием.
func (r *FlowRepo) ListScheduled(ctx context.Context) ([]domain.FlowVersion, error) {
	return r.listVersions(ctx, `
		SELECT `+versionColumns+`
		FROM (
			SELECT DISTINCT ON (v.flow_id) v.flow_id, v.version, v.spec, v.created_at
			FROM flow_versions v
			JOIN flows f ON f.id = v.flow_id
			WHERE f.is_active
			ORDER BY v.flow_id, v.version DESC
		) latest
		WHERE spec -> 'schedule' IS NOT NULL
	`)
}

func (r *FlowRepo) getVersion(ctx context.Context, tail string, args ...any) (*domain.FlowVersion, error) {
	v, err := scanVersion(r.pool.QueryRow(ctx, `SELECT `+versionColumns+` FROM flow_versions `+tail, args...))
	if err != nil {
		return nil, noRows(err)
	}
	return &v, nil
}

func (r *FlowRepo) listVersions(ctx context.Context, query string, args ...any) ([]domain.FlowVersion, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list flow versions: %w", err)
	}

	versions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.FlowVersion, error) {
		return scanVersion(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan flow versions: %w", err)
	}
	return versions, nil
}

// scanVersion сканирует versionColumns. Spec хранится в JSONB.
func scanVersion(row pgx.Row) (domain.FlowVersion, error) {
	var (
		v    domain.FlowVersion
		spec []byte
	)
	if err := row.Scan(&v.FlowID, &v.Version, &spec, &v.CreatedAt); err != nil {
		return v, err
	}
	if err := json.Unmarshal(spec, &v.Spec); err != nil {
		return v, fmt.Errorf("unmarshal spec: %w", err)
	}
	return v, nil
}
