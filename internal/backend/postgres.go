package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Postgres is a key-value store in a shared Postgres table (managed mode).
type Postgres struct {
	db    *sqlx.DB
	table string
}

// NewPostgres wraps an open database. table defaults to "cell_kv".
func NewPostgres(ctx context.Context, db *sqlx.DB, table string) (*Postgres, error) {
	if db == nil {
		return nil, fmt.Errorf("postgres: db is required")
	}
	if table == "" {
		table = "cell_kv"
	}
	p := &Postgres{db: db, table: table}
	if err := p.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`, p.table))
	return err
}

func (p *Postgres) Name() string { return "postgres:" + p.table }

func (p *Postgres) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := p.db.GetContext(ctx, &value, fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, p.table), key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("postgres get %q: %w", key, err)
	}
	return value, true, nil
}

func (p *Postgres) Set(ctx context.Context, key, value string) error {
	_, err := p.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (key, value, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`, p.table),
		key, value)
	if err != nil {
		return fmt.Errorf("postgres set %q: %w", key, err)
	}
	return nil
}
