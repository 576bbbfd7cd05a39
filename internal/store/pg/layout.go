package pg

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/nextlevelbuilder/cellstore/internal/backend"
	"github.com/nextlevelbuilder/cellstore/internal/store"
)

// DefaultTable holds the stores when no table is configured.
const DefaultTable = "cell_kv"

// SecretsFunc picks the secrets store's backend given the table's kv.
type SecretsFunc func(kv backend.KV) (backend.Backend, error)

// NewLayout creates (if needed) the key-value table and returns a layout
// keeping each store under its name. secrets may be nil.
func NewLayout(ctx context.Context, db *sqlx.DB, table string, secrets SecretsFunc) (store.Layout, error) {
	if table == "" {
		table = DefaultTable
	}
	kv, err := backend.NewPostgres(ctx, db, table)
	if err != nil {
		return nil, err
	}
	var sb backend.Backend
	if secrets != nil {
		if sb, err = secrets(kv); err != nil {
			return nil, err
		}
	}
	return store.KVLayout(kv, sb), nil
}
