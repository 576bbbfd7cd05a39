// Package backend provides the durable stores a cell persists into.
//
// A Backend reads and writes one serialized value. Key-value stores (SQLite,
// Postgres, Redis, the OS keyring, the in-process cache) implement KV and are
// bound to a single key with Key. Files and S3 objects implement Backend
// directly. Wrappers (Fallback, Encrypted, Throttled, Traced) compose.
package backend

import (
	"context"
	"fmt"
)

// Backend is a durable home for one serialized value.
//
// Read returns ok=false with a nil error when nothing has been persisted yet.
type Backend interface {
	Name() string
	Read(ctx context.Context) (data string, ok bool, err error)
	Write(ctx context.Context, data string) error
}

// KV is a string key-value store.
type KV interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

// Key binds a KV store to one key.
func Key(kv KV, key string) Backend {
	return &keyBackend{kv: kv, key: key}
}

type keyBackend struct {
	kv  KV
	key string
}

func (k *keyBackend) Name() string {
	if n, ok := k.kv.(interface{ Name() string }); ok {
		return fmt.Sprintf("%s[%s]", n.Name(), k.key)
	}
	return fmt.Sprintf("kv[%s]", k.key)
}

func (k *keyBackend) Read(ctx context.Context) (string, bool, error) {
	return k.kv.Get(ctx, k.key)
}

func (k *keyBackend) Write(ctx context.Context, data string) error {
	return k.kv.Set(ctx, k.key, data)
}
