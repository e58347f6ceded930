package kvstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// Postgres stores keys in the console_state table, which lets several
// operator workstations share one lockout counter.
type Postgres struct {
	db *sqlx.DB
}

func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

// EnsureTable creates the console_state table if it does not exist.
func (p *Postgres) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS console_state (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`
	_, err := p.db.ExecContext(ctx, ddl)
	return err
}

func (p *Postgres) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := p.db.GetContext(ctx, &v, `SELECT value FROM console_state WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (p *Postgres) Set(ctx context.Context, key, value string) error {
	const q = `INSERT INTO console_state (key, value, updated_at) VALUES ($1, $2, NOW())
	           ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`
	_, err := p.db.ExecContext(ctx, q, key, value)
	return err
}

func (p *Postgres) Remove(ctx context.Context, key string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM console_state WHERE key = $1`, key)
	return err
}
