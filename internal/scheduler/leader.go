package scheduler

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// LockKey — ключ advisory lock лидера планировщика.
const LockKey int64 = 424242

// Locker — выбор лидера среди экземпляров планировщика.
type Locker interface {
	// TryLock пытается стать лидером. Не блокируется.
	TryLock(ctx context.Context) (bool, error)

	// Unlock отпускает лидерство.
	Unlock(ctx context.Context) error
}

// PGLock — Locker на pg_try_advisory_lock.
//
// Advisory lock живёт в сессии, поэтому держим одно соединение из пула
// на всё время лидерства.
type PGLock struct {
	pool *pgxpool.Pool
	key  int64
	conn *pgxpool.Conn
}

// NewPGLock создаёт PGLock.
func NewPGLock(pool *pgxpool.Pool, key int64) *PGLock {
	return &PGLock{pool: pool, key: key}
}

// TryLock реализует Locker.
func (l *PGLock) TryLock(ctx context.Context) (bool, error) {
	if l.conn != nil {
		return true, nil
	}

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire conn: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", l.key).Scan(&ok); err != nil {
		conn.Release()
		return false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return false, nil
	}

	l.conn = conn
	return true, nil
}

// Unlock реализует Locker.
func (l *PGLock) Unlock(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	defer func() {
		l.conn.Release()
		l.conn = nil
	}()

	if _, err := l.conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", l.key); err != nil {
		return fmt.Errorf("advisory unlock: %w", err)
	}
	return nil
}
