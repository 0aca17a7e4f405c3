package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xkilldash9x/relock/api/schemas"
	"go.uber.org/zap"
)

// DBPool abstracts the pgxpool.Pool so the repository can be mocked in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is a StateRepository backed by a single key/value blob table.
// The engine treats the payloads as opaque; no schema beyond this table is
// managed here.
type Postgres struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.StateRepository = (*Postgres)(nil)

const sqlEnsureTable = `
    CREATE TABLE IF NOT EXISTS relock_state (
        key        TEXT PRIMARY KEY,
        value      BYTEA NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL
    );
`

// NewPostgres verifies the connection, ensures the state table exists and
// returns the repository.
func NewPostgres(ctx context.Context, pool DBPool, logger *zap.Logger) (*Postgres, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, sqlEnsureTable); err != nil {
		return nil, fmt.Errorf("failed to ensure state table: %w", err)
	}

	return &Postgres{
		pool: pool,
		log:  logger.Named("pgstore"),
	}, nil
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.pool.QueryRow(ctx, `SELECT value FROM relock_state WHERE key = $1;`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state key %q: %w", key, err)
	}
	return value, nil
}

func (p *Postgres) Set(ctx context.Context, key string, value []byte) error {
	sql := `
        INSERT INTO relock_state (key, value, updated_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (key) DO UPDATE SET
            value = EXCLUDED.value,
            updated_at = EXCLUDED.updated_at;
    `
	if _, err := p.pool.Exec(ctx, sql, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to write state key %q: %w", key, err)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM relock_state WHERE key = $1;`, key); err != nil {
		return fmt.Errorf("failed to delete state key %q: %w", key, err)
	}
	return nil
}
