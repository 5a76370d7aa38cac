package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgxpool.Pool and pgx.Tx used by PostgresKV.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresKV stores ledger documents in the invite_kv table (see core/db).
type PostgresKV struct {
	q Querier
}

func NewPostgresKV(q Querier) *PostgresKV {
	return &PostgresKV{q: q}
}

const (
	getValueSQL = `SELECT value FROM invite_kv WHERE key = $1`
	setValueSQL = `
INSERT INTO invite_kv (key, value, updated_at)
VALUES ($1, $2::jsonb, now())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
)

func (p *PostgresKV) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	if err := p.q.QueryRow(ctx, getValueSQL, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("selecting %s: %w", key, err)
	}
	return value, nil
}

func (p *PostgresKV) Set(ctx context.Context, key string, value []byte) error {
	if _, err := p.q.Exec(ctx, setValueSQL, key, string(value)); err != nil {
		return fmt.Errorf("upserting %s: %w", key, err)
	}
	return nil
}
