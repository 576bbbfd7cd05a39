package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nextlevelbuilder/cellstore/internal/cell"
	"github.com/nextlevelbuilder/cellstore/internal/codec"
)

// GetJSON renders the current value of a store as indented JSON.
func (s *Stores) GetJSON(name string) (string, error) {
	switch name {
	case NameCollections:
		return rawGet(s.Collections)
	case NameCurrentCollectionID:
		return rawGet(s.CurrentCollectionID)
	case NameEnvironments:
		return rawGet(s.Environments)
	case NameCurrentEnvironmentID:
		return rawGet(s.CurrentEnvironmentID)
	case NameHistory:
		return rawGet(s.History)
	case NameHistoryEnabled:
		return rawGet(s.HistoryEnabled)
	case NameCookies:
		return rawGet(s.Cookies)
	case NameSecrets:
		return rawGet(s.Secrets)
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownStore, name)
}

// SetJSON parses raw (JSON5 accepted), validates it and replaces the store's
// value durably.
func (s *Stores) SetJSON(ctx context.Context, name, raw string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch name {
	case NameCollections:
		return rawSet(ctx, s.Collections, raw, collectionsValidator)
	case NameCurrentCollectionID:
		return rawSet(ctx, s.CurrentCollectionID, raw, nil)
	case NameEnvironments:
		return rawSet(ctx, s.Environments, raw, environmentsValidator)
	case NameCurrentEnvironmentID:
		return rawSet(ctx, s.CurrentEnvironmentID, raw, nil)
	case NameHistory:
		return rawSet(ctx, s.History, raw, historyValidator)
	case NameHistoryEnabled:
		return rawSet(ctx, s.HistoryEnabled, raw, nil)
	case NameCookies:
		return rawSet(ctx, s.Cookies, raw, cookiesValidator)
	case NameSecrets:
		return rawSet(ctx, s.Secrets, raw, secretsValidator)
	}
	return fmt.Errorf("%w: %s", ErrUnknownStore, name)
}

func rawGet[T any](c *cell.Cell[T]) (string, error) {
	b, err := json.MarshalIndent(c.Get(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", c.Name(), err)
	}
	return string(b), nil
}

func rawSet[T any](ctx context.Context, c *cell.Cell[T], raw string, v codec.Validator[T]) error {
	next, err := codec.Validated(codec.JSON5[T](), v).Decode(raw)
	if err != nil {
		return fmt.Errorf("parse %s: %w", c.Name(), err)
	}
	return c.SetAndFlush(ctx, next)
}
