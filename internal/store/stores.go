// Package store holds the API client's persisted state: collections of
// requests, environments, request history, cookies and secrets. Each piece
// lives in its own cell; the actions in this package keep them consistent.
package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/nextlevelbuilder/cellstore/internal/backend"
	"github.com/nextlevelbuilder/cellstore/internal/cell"
	"github.com/nextlevelbuilder/cellstore/internal/codec"
)

// Store names, also used as key-value keys and, with ".json", file names.
const (
	NameCollections          = "collections"
	NameCurrentCollectionID  = "currentCollectionId"
	NameEnvironments         = "environments"
	NameCurrentEnvironmentID = "app-active-environment-id"
	NameHistory              = "request-history"
	NameHistoryEnabled       = "settings-history-enabled"
	NameCookies              = "cookies"
	NameSecrets              = "app-secrets"
)

// Names lists every store in a stable order.
var Names = []string{
	NameCollections,
	NameCurrentCollectionID,
	NameEnvironments,
	NameCurrentEnvironmentID,
	NameHistory,
	NameHistoryEnabled,
	NameCookies,
	NameSecrets,
}

// ErrUnknownStore is returned for a name not in Names.
var ErrUnknownStore = errors.New("store: unknown store")

// Layout decides which backend each store persists into.
type Layout interface {
	Backend(name string) (backend.Backend, error)
}

// LayoutFunc adapts a function to Layout.
type LayoutFunc func(name string) (backend.Backend, error)

func (f LayoutFunc) Backend(name string) (backend.Backend, error) { return f(name) }

// Wrap applies wrap to every backend of l, e.g. backend.Traced.
func Wrap(l Layout, wrap func(backend.Backend) backend.Backend) Layout {
	return LayoutFunc(func(name string) (backend.Backend, error) {
		b, err := l.Backend(name)
		if err != nil {
			return nil, err
		}
		return wrap(b), nil
	})
}

// KVLayout puts every store under its own key in kv. secrets, when non-nil,
// overrides the backend of the secrets store.
func KVLayout(kv backend.KV, secrets backend.Backend) Layout {
	return LayoutFunc(func(name string) (backend.Backend, error) {
		if name == NameSecrets && secrets != nil {
			return secrets, nil
		}
		if !knownName(name) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStore, name)
		}
		return backend.Key(kv, name), nil
	})
}

// Options tune how the stores' cells are built.
type Options struct {
	Dir             string        // base directory for exports and backups
	Debounce        time.Duration // for every store but history
	HistoryDebounce time.Duration
	Reporter        cell.Reporter
	Registry        *cell.Registry
	Clock           cell.Clock
}

// Stores is the full persisted state.
type Stores struct {
	Collections          *cell.Cell[[]Collection]
	CurrentCollectionID  *cell.Cell[string] // "" when none is selected
	Environments         *cell.Cell[[]Environment]
	CurrentEnvironmentID *cell.Cell[string]
	History              *cell.Cell[[]HistoryEntry]
	HistoryEnabled       *cell.Cell[bool]
	Cookies              *cell.Cell[Cookies]
	Secrets              *cell.Cell[[]Secret]

	registry *cell.Registry
	dir      string

	// mu serializes read-modify-write actions across cells.
	mu sync.Mutex
}

// Open builds every store from layout. Cells start hydrating immediately;
// use WaitReady before acting on persisted state.
func Open(layout Layout, opts Options) (*Stores, error) {
	if opts.Registry == nil {
		opts.Registry = cell.NewRegistry()
	}
	s := &Stores{registry: opts.Registry, dir: opts.Dir}

	cfgFor := func(name string, debounce time.Duration) (cell.Config, error) {
		b, err := layout.Backend(name)
		if err != nil {
			return cell.Config{}, fmt.Errorf("layout %s: %w", name, err)
		}
		return cell.Config{
			Name:       name,
			Backend:    b,
			Debounce:   debounce,
			Dir:        opts.Dir,
			ExportName: filepath.Join(ExportDir, name+".json"),
			Reporter:   opts.Reporter,
			Registry:   opts.Registry,
			Clock:      opts.Clock,
		}, nil
	}

	// Collections, environments and cookies are hand-editable, so their
	// files may carry JSON5 comments and trailing commas.
	var err error
	if s.Collections, err = newCell(cfgFor, NameCollections, opts.Debounce, []Collection{},
		cell.WithCodec(codec.Validated(codec.JSON5[[]Collection](), collectionsValidator))); err != nil {
		return nil, err
	}
	if s.CurrentCollectionID, err = newCell(cfgFor, NameCurrentCollectionID, opts.Debounce, "",
		cell.WithEqual(func(a, b string) bool { return a == b })); err != nil {
		return nil, err
	}
	if s.Environments, err = newCell(cfgFor, NameEnvironments, opts.Debounce, []Environment{},
		cell.WithCodec(codec.Validated(codec.JSON5[[]Environment](), environmentsValidator))); err != nil {
		return nil, err
	}
	if s.CurrentEnvironmentID, err = newCell(cfgFor, NameCurrentEnvironmentID, opts.Debounce, "",
		cell.WithEqual(func(a, b string) bool { return a == b })); err != nil {
		return nil, err
	}
	if s.History, err = newCell(cfgFor, NameHistory, opts.HistoryDebounce, []HistoryEntry{},
		cell.WithCodec(codec.Validated(codec.JSON[[]HistoryEntry](), historyValidator))); err != nil {
		return nil, err
	}
	if s.HistoryEnabled, err = newCell(cfgFor, NameHistoryEnabled, opts.Debounce, true,
		cell.WithEqual(func(a, b bool) bool { return a == b })); err != nil {
		return nil, err
	}
	if s.Cookies, err = newCell(cfgFor, NameCookies, opts.Debounce, Cookies{},
		cell.WithCodec(codec.Validated(codec.JSON5[Cookies](), cookiesValidator))); err != nil {
		return nil, err
	}
	if s.Secrets, err = newCell(cfgFor, NameSecrets, opts.Debounce, []Secret{},
		cell.WithCodec(codec.Validated(codec.JSON[[]Secret](), secretsValidator))); err != nil {
		return nil, err
	}
	return s, nil
}

func newCell[T any](cfgFor func(string, time.Duration) (cell.Config, error), name string, debounce time.Duration, initial T, opts ...cell.Option[T]) (*cell.Cell[T], error) {
	cfg, err := cfgFor(name, debounce)
	if err != nil {
		return nil, err
	}
	return cell.New(initial, cfg, opts...)
}

// Registry exposes the registry every cell joined.
func (s *Stores) Registry() *cell.Registry { return s.registry }

// WaitReady blocks until every store has hydrated.
func (s *Stores) WaitReady(ctx context.Context) error { return s.registry.WaitReady(ctx) }

// FlushAll writes every store now.
func (s *Stores) FlushAll(ctx context.Context) error { return s.registry.FlushAll(ctx) }

// Close flushes pending writes and detaches every store.
func (s *Stores) Close(ctx context.Context) error { return s.registry.Close(ctx) }

// Exporter is the untyped view of a cell used by the CLI and backups.
type Exporter interface {
	cell.Member
	ExportToFile(ctx context.Context, name string) error
	ImportFromFile(ctx context.Context, name string) error
	Reload(ctx context.Context) error
	Hydrated() bool
	HydrationErr() error
}

// Lookup returns the store called name.
func (s *Stores) Lookup(name string) (Exporter, error) {
	switch name {
	case NameCollections:
		return s.Collections, nil
	case NameCurrentCollectionID:
		return s.CurrentCollectionID, nil
	case NameEnvironments:
		return s.Environments, nil
	case NameCurrentEnvironmentID:
		return s.CurrentEnvironmentID, nil
	case NameHistory:
		return s.History, nil
	case NameHistoryEnabled:
		return s.HistoryEnabled, nil
	case NameCookies:
		return s.Cookies, nil
	case NameSecrets:
		return s.Secrets, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownStore, name)
}

func knownName(name string) bool {
	for _, n := range Names {
		if n == name {
			return true
		}
	}
	return false
}
