package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/cellstore/internal/backend"
	"github.com/nextlevelbuilder/cellstore/internal/cell"
	"github.com/nextlevelbuilder/cellstore/internal/config"
	"github.com/nextlevelbuilder/cellstore/internal/store"
	filestore "github.com/nextlevelbuilder/cellstore/internal/store/file"
	"github.com/nextlevelbuilder/cellstore/internal/store/pg"
	"github.com/nextlevelbuilder/cellstore/internal/tracing"
)

const (
	exitFlushTimeout = 5 * time.Second
	closeTimeout     = 10 * time.Second
)

// session is an opened set of stores plus everything that must be released
// with them.
type session struct {
	cfg    *config.Config
	stores *store.Stores
	stop   func()

	mu      sync.Mutex
	closers []func() error
}

// sessionOptions tune openSession.
type sessionOptions struct {
	// ownsSignals is set by commands that cancel their context on
	// SIGINT/SIGTERM and close the session themselves; no exit hook is
	// installed for them.
	ownsSignals bool
}

// cliReporter prints a short notice on stderr for each degraded store.
type cliReporter struct{}

func (cliReporter) Report(name string, err error) {
	fmt.Fprintf(os.Stderr, "Hydration error: %s\n", name)
	slog.Debug("hydration failure", "cell", name, "error", err)
}

// openSession loads the config, builds the layout for its storage mode and
// opens the stores. Unless the command owns signal handling, a signal
// flushes every store before exit.
func openSession(ctx context.Context, opts sessionOptions) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg}

	shutdown, err := tracing.Setup(ctx, tracing.Config{
		Endpoint:    cfg.Telemetry.Endpoint,
		Protocol:    cfg.Telemetry.Protocol,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     Version,
	})
	if err != nil {
		return nil, err
	}
	s.addCloser(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), exitFlushTimeout)
		defer cancel()
		return shutdown(ctx)
	})

	layout, err := s.layout(ctx)
	if err != nil {
		s.release()
		return nil, err
	}
	if cfg.Telemetry.Endpoint != "" {
		layout = store.Wrap(layout, backend.Traced)
	}
	if cfg.Storage.WritesPerSec > 0 && isNetworkMode(cfg.Storage.Mode) {
		limiter := rate.NewLimiter(rate.Limit(cfg.Storage.WritesPerSec), 1)
		layout = store.Wrap(layout, func(b backend.Backend) backend.Backend { return backend.Throttled(b, limiter) })
	}

	reg := cell.NewRegistry()
	stores, err := store.Open(layout, store.Options{
		Dir:             cfg.Storage.DataDir,
		Debounce:        cfg.Debounce(),
		HistoryDebounce: cfg.HistoryDebounce(),
		Reporter:        cliReporter{},
		Registry:        reg,
	})
	if err != nil {
		s.release()
		return nil, err
	}
	s.stores = stores
	if !opts.ownsSignals {
		s.stop = reg.FlushOnSignal(ctx, exitFlushTimeout, func() {
			s.release()
			os.Exit(130)
		})
	}
	return s, nil
}

// Close flushes and detaches every store, then releases connections.
func (s *session) Close() error {
	if s.stop != nil {
		s.stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	err := s.stores.Close(ctx)
	return errors.Join(err, s.release())
}

func (s *session) addCloser(fn func() error) {
	s.mu.Lock()
	s.closers = append(s.closers, fn)
	s.mu.Unlock()
}

// release runs the closers once, newest first.
func (s *session) release() error {
	s.mu.Lock()
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		errs = append(errs, closers[i]())
	}
	return errors.Join(errs...)
}

func (s *session) layout(ctx context.Context) (store.Layout, error) {
	st := s.cfg.Storage
	switch st.Mode {
	case config.ModeMemory:
		kv, err := backend.NewCache(config.NormalizeName(s.cfg.Telemetry.ServiceName), st.CacheSize)
		if err != nil {
			return nil, err
		}
		return store.KVLayout(kv, nil), nil

	case config.ModeSQLite, config.ModeFile:
		if err := os.MkdirAll(st.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		kv, err := backend.OpenSQLite(s.cfg.SQLitePath())
		if err != nil {
			return nil, err
		}
		s.addCloser(kv.Close)
		secrets, err := s.secretsBackend(kv)
		if err != nil {
			return nil, err
		}
		if st.Mode == config.ModeSQLite {
			return store.KVLayout(kv, secrets), nil
		}
		return filestore.NewLayout(st.DataDir, kv, secrets), nil

	case config.ModeRedis:
		kv, err := backend.DialRedis(ctx, st.RedisAddr, st.RedisPass, st.RedisDB, "cellstore:")
		if err != nil {
			return nil, err
		}
		s.addCloser(kv.Close)
		secrets, err := s.secretsBackend(kv)
		if err != nil {
			return nil, err
		}
		return filestore.NewLayout(st.DataDir, kv, secrets), nil

	case config.ModePostgres:
		db, err := pg.OpenDB(ctx, st.PostgresDSN)
		if err != nil {
			return nil, err
		}
		s.addCloser(db.Close)
		return pg.NewLayout(ctx, db, pg.DefaultTable, s.secretsBackend)
	}
	return nil, fmt.Errorf("unsupported storage mode %q", st.Mode)
}

// secretsBackend keeps secrets encrypted in kv when an encryption key is
// configured, in the OS keyring otherwise.
func (s *session) secretsBackend(kv backend.KV) (backend.Backend, error) {
	sc := s.cfg.Secrets
	if sc.EncryptionKey != "" {
		return backend.Encrypted(backend.Key(kv, store.NameSecrets), sc.EncryptionKey)
	}
	return backend.Key(backend.NewKeyring(sc.KeyringService), store.NameSecrets), nil
}

func isNetworkMode(mode string) bool {
	return mode == config.ModePostgres || mode == config.ModeRedis
}
