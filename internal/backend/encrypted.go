package backend

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/cellstore/internal/crypto"
)

// Encrypted seals data before it reaches b and opens it on read. Plain values
// already in b (written before encryption was enabled) still read back.
func Encrypted(b Backend, key string) (Backend, error) {
	sealer, err := crypto.NewSealer(key)
	if err != nil {
		return nil, err
	}
	return &encrypted{inner: b, sealer: sealer}, nil
}

type encrypted struct {
	inner  Backend
	sealer *crypto.Sealer
}

func (e *encrypted) Name() string { return "encrypted(" + e.inner.Name() + ")" }

func (e *encrypted) Read(ctx context.Context) (string, bool, error) {
	data, ok, err := e.inner.Read(ctx)
	if err != nil || !ok {
		return data, ok, err
	}
	plain, err := e.sealer.Open(data)
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", e.inner.Name(), err)
	}
	return plain, true, nil
}

func (e *encrypted) Write(ctx context.Context, data string) error {
	sealed, err := e.sealer.Seal(data)
	if err != nil {
		return fmt.Errorf("seal: %w", err)
	}
	return e.inner.Write(ctx, sealed)
}
