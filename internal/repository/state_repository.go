package repository

import (
	"context"
	"time"

	apperrors "shotgun-exporter/pkg/app_errors"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// State keys tracked between runs.
const (
	StateKeyLastFullScan    = "last_full_scan"
	StateKeyLastEventsFetch = "last_events_fetch"
)

// StateRepository persists small key/value state (timestamps of the last
// full scan and the last events fetch) across restarts.
type StateRepository interface {
	GetTime(ctx context.Context, key string) (time.Time, error)
	SetTime(ctx context.Context, key string, value time.Time) error
}

type StateRepositoryImpl struct {
	pool *sqlitex.Pool
}

func NewStateRepository(pool *sqlitex.Pool) StateRepository {
	return &StateRepositoryImpl{pool: pool}
}

func (r *StateRepositoryImpl) GetTime(ctx context.Context, key string) (time.Time, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return time.Time{}, err
	}
	defer r.pool.Put(conn)

	var value string
	err = sqlitex.Execute(conn, `SELECT value FROM exporter_state WHERE key = ?`, &sqlitex.ExecOptions{
		Args: []any{key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value = stmt.ColumnText(0)
			return nil
		},
	})
	if err != nil {
		return time.Time{}, err
	}
	if value == "" {
		return time.Time{}, apperrors.ErrStateKeyNotFound
	}
	return time.Parse(time.RFC3339, value)
}

func (r *StateRepositoryImpl) SetTime(ctx context.Context, key string, value time.Time) error {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer r.pool.Put(conn)

	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		INSERT INTO exporter_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: []any{key, value.UTC().Format(time.RFC3339), now},
	})
}
