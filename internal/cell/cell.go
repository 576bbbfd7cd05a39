// Package cell implements a persisted, observable value.
//
// A Cell holds one value in memory, notifies subscribers synchronously on
// every change and mirrors the value into a backend.Backend. Construction
// starts an asynchronous hydration from the backend; only after it settles
// does the cell begin writing changes back, so a slow load can never be
// clobbered by the initial value.
//
// Writes are immediate, or coalesced when Config.Debounce is set: the value
// current when the timer fires is written, never the intermediate ones.
// Flush and SetAndFlush bypass the timer and report write errors to the
// caller; background writes only log them.
package cell

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/nextlevelbuilder/cellstore/internal/backend"
	"github.com/nextlevelbuilder/cellstore/internal/codec"
)

const (
	// DefaultExportName is used by ExportToFile/ImportFromFile when neither the
	// caller nor the config names a file.
	DefaultExportName = "state.json"

	defaultIOTimeout = 30 * time.Second
)

// Config configures a Cell. Backend is required.
type Config struct {
	Name     string          // for logs and reports; defaults to Backend.Name()
	Backend  backend.Backend // where the value is persisted
	Debounce time.Duration   // 0 writes on every change

	Dir        string // base directory for relative export/import names
	ExportName string // default export/import file name

	Reporter  Reporter      // receives hydration failures; defaults to SlogReporter
	Registry  *Registry     // optional; the cell registers itself
	Clock     Clock         // defaults to the wall clock
	IOTimeout time.Duration // bound on hydration and background writes (default 30s)
}

// Option customizes the typed parts of a Cell.
type Option[T any] func(*Cell[T])

// WithCodec replaces the default JSON codec.
func WithCodec[T any](c codec.Codec[T]) Option[T] {
	return func(cl *Cell[T]) { cl.codec = c }
}

// WithEqual makes Set a no-op when eq(current, next) is true.
func WithEqual[T any](eq func(a, b T) bool) Option[T] {
	return func(cl *Cell[T]) { cl.equal = eq }
}

// Cell is a persisted, observable value of type T. It is safe for concurrent
// use.
type Cell[T any] struct {
	name       string
	backend    backend.Backend
	codec      codec.Codec[T]
	equal      func(a, b T) bool
	debounce   time.Duration
	dir        string
	exportName string
	reporter   Reporter
	clock      Clock
	ioTimeout  time.Duration

	mu         sync.Mutex
	value      T
	version    uint64
	subs       []subscriber[T]
	nextSubID  uint64
	persisting bool // write path attached (after hydration, before Close)
	closed     bool
	timer      Timer
	timerGen   uint64
	hydrateErr error

	// writeMu serializes backend writes so an older value never lands after a
	// newer one.
	writeMu       sync.Mutex
	written       uint64
	lastPersisted string
	hasPersisted  bool

	inflight sync.WaitGroup
	ready    chan struct{}
}

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

// New creates a cell holding initial and starts hydrating it from
// cfg.Backend. It does not block on the backend.
func New[T any](initial T, cfg Config, opts ...Option[T]) (*Cell[T], error) {
	if cfg.Backend == nil {
		return nil, errors.New("cell: backend is required")
	}

	c := &Cell[T]{
		name:       cfg.Name,
		backend:    cfg.Backend,
		codec:      codec.JSON[T](),
		debounce:   cfg.Debounce,
		dir:        cfg.Dir,
		exportName: cfg.ExportName,
		reporter:   cfg.Reporter,
		clock:      cfg.Clock,
		ioTimeout:  cfg.IOTimeout,
		value:      initial,
		ready:      make(chan struct{}),
	}
	if c.name == "" {
		c.name = cfg.Backend.Name()
	}
	if c.exportName == "" {
		c.exportName = DefaultExportName
		if f, ok := cfg.Backend.(*backend.File); ok {
			c.exportName = filepath.Base(f.Path())
		}
	}
	if c.reporter == nil {
		c.reporter = SlogReporter{}
	}
	if c.clock == nil {
		c.clock = realClock{}
	}
	if c.ioTimeout <= 0 {
		c.ioTimeout = defaultIOTimeout
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.codec == nil {
		c.codec = codec.JSON[T]()
	}

	if cfg.Registry != nil {
		cfg.Registry.Register(c)
	}

	go c.hydrate()
	return c, nil
}

// Name identifies the cell in logs and reports.
func (c *Cell[T]) Name() string { return c.name }

// Get returns the current value.
func (c *Cell[T]) Get() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Set replaces the value, notifies subscribers and, once hydrated, schedules
// a write. It never blocks on the backend.
func (c *Cell[T]) Set(next T) {
	c.set(next, true)
}

// Subscribe registers fn to receive every committed value, in Set order. fn
// runs on the goroutine that called Set and must not call Set itself. The
// returned func removes the subscription.
func (c *Cell[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	c.mu.Lock()
	c.nextSubID++
	id := c.nextSubID
	subs := make([]subscriber[T], len(c.subs), len(c.subs)+1)
	copy(subs, c.subs)
	c.subs = append(subs, subscriber[T]{id: id, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			subs := make([]subscriber[T], 0, len(c.subs))
			for _, s := range c.subs {
				if s.id != id {
					subs = append(subs, s)
				}
			}
			c.subs = subs
		})
	}
}

// Ready is closed once hydration has settled, successfully or not.
func (c *Cell[T]) Ready() <-chan struct{} { return c.ready }

// WaitReady blocks until hydration settles or ctx ends.
func (c *Cell[T]) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cell %s: waiting for hydration: %w", c.name, ctx.Err())
	}
}

// Hydrated reports whether hydration has settled.
func (c *Cell[T]) Hydrated() bool {
	select {
	case <-c.ready:
		return true
	default:
		return false
	}
}

// HydrationErr returns the failure that made the cell fall back to its
// initial value, or nil.
func (c *Cell[T]) HydrationErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hydrateErr
}

// Flush cancels a pending debounced write and writes the current value now.
// It waits for hydration first so it cannot overwrite persisted state that is
// still loading.
func (c *Cell[T]) Flush(ctx context.Context) error {
	if err := c.WaitReady(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.stopTimerLocked()
	v, ver := c.value, c.version
	c.mu.Unlock()

	return c.write(ctx, v, ver)
}

// SetAndFlush sets next and returns once it is durable, or with the write
// error. It waits for hydration before setting so the hydrated value cannot
// replace next.
func (c *Cell[T]) SetAndFlush(ctx context.Context, next T) error {
	if err := c.WaitReady(ctx); err != nil {
		return err
	}
	c.Set(next)
	return c.Flush(ctx)
}

// ExportToFile writes the current value to name (relative to Config.Dir).
// The file is independent of the cell's backend and never hydrates it.
func (c *Cell[T]) ExportToFile(ctx context.Context, name string) error {
	return c.ExportAs(ctx, name, c.codec)
}

// ExportAs is ExportToFile with an explicit codec, for exporting in a format
// other than the one the backend stores.
func (c *Cell[T]) ExportAs(ctx context.Context, name string, cd codec.Codec[T]) error {
	path := c.resolvePath(name)
	data, err := cd.Encode(c.Get())
	if err != nil {
		return fmt.Errorf("export %s: %w", c.name, err)
	}
	if err := backend.NewFile(path).Write(ctx, data); err != nil {
		return fmt.Errorf("export %s: %w", c.name, err)
	}
	slog.Debug("cell: exported", "cell", c.name, "path", path)
	return nil
}

// ImportFromFile reads name (relative to Config.Dir), decodes it and sets the
// result. Unlike hydration, a missing or corrupt file is an error and the
// current value is kept.
func (c *Cell[T]) ImportFromFile(ctx context.Context, name string) error {
	return c.ImportAs(ctx, name, c.codec)
}

// ImportAs is ImportFromFile with an explicit codec.
func (c *Cell[T]) ImportAs(ctx context.Context, name string, cd codec.Codec[T]) error {
	path := c.resolvePath(name)
	data, ok, err := backend.NewFile(path).Read(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrImport, c.name, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s: %s: %w", ErrImport, c.name, path, fs.ErrNotExist)
	}
	v, err := cd.Decode(data)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrImport, c.name, err)
	}
	c.Set(v)
	slog.Debug("cell: imported", "cell", c.name, "path", path)
	return nil
}

// Reload re-reads the backend after an external change and adopts its value
// without writing it back. Content identical to the last value this cell
// persisted is ignored.
func (c *Cell[T]) Reload(ctx context.Context) error {
	if err := c.WaitReady(ctx); err != nil {
		return err
	}
	data, ok, err := c.backend.Read(ctx)
	if err != nil {
		return fmt.Errorf("reload %s: %w", c.name, err)
	}
	if !ok {
		return nil
	}

	c.writeMu.Lock()
	same := c.hasPersisted && data == c.lastPersisted
	c.writeMu.Unlock()
	if same {
		return nil
	}

	v, err := c.codec.Decode(data)
	if err != nil {
		return fmt.Errorf("reload %s: %w", c.name, err)
	}
	c.rememberPersisted(data)
	c.markPersisted(c.set(v, false))
	slog.Info("cell: reloaded from backend", "cell", c.name)
	return nil
}

// Close waits for hydration, detaches the write path and writes the current
// value if it is newer than what the backend holds. That covers a pending
// debounced write, a Set made before hydration settled and an earlier failed
// background write. Later Sets only change memory.
func (c *Cell[T]) Close(ctx context.Context) error {
	readyErr := c.WaitReady(ctx)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.persisting = false
	c.stopTimerLocked()
	v, ver := c.value, c.version
	c.mu.Unlock()

	c.inflight.Wait()
	if readyErr != nil {
		return fmt.Errorf("close %s: %w", c.name, readyErr)
	}
	if !c.unpersisted(ver) {
		return nil
	}
	return c.write(ctx, v, ver)
}

func (c *Cell[T]) hydrate() {
	defer func() {
		c.mu.Lock()
		if !c.closed {
			c.persisting = true
		}
		c.mu.Unlock()
		close(c.ready)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), c.ioTimeout)
	defer cancel()

	v, found, err := c.load(ctx)
	if err != nil {
		c.mu.Lock()
		c.hydrateErr = fmt.Errorf("%w: %s: %w", ErrHydration, c.name, err)
		c.mu.Unlock()
		slog.Warn("cell: hydration failed, keeping initial value", "cell", c.name, "error", err)
		c.reporter.Report(c.name, err)
		return
	}
	if found {
		c.markPersisted(c.set(v, false))
		slog.Debug("cell: hydrated", "cell", c.name)
	}
}

// load reads and decodes the persisted value. A panicking codec counts as a
// decode failure.
func (c *Cell[T]) load(ctx context.Context) (v T, found bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decode panic: %v", r)
		}
	}()

	data, ok, err := c.backend.Read(ctx)
	if err != nil || !ok {
		return v, false, err
	}
	v, err = c.codec.Decode(data)
	if err != nil {
		return v, false, err
	}
	c.rememberPersisted(data)
	return v, true, nil
}

// set commits next and returns its version, or 0 when equality made it a
// no-op.
func (c *Cell[T]) set(next T, persist bool) uint64 {
	changed, subs, immediate, ver := c.commit(next, persist)
	if !changed {
		return 0
	}
	if immediate {
		// Deferred so the write starts after subscribers, even if one panics.
		defer func() {
			go func() {
				defer c.inflight.Done()
				c.writeBackground(next, ver)
			}()
		}()
	}
	for _, s := range subs {
		s.fn(next)
	}
	return ver
}

// commit applies next under the lock and decides what to schedule. It runs
// the equality predicate under the lock; a panicking predicate propagates to
// the caller with the lock released.
func (c *Cell[T]) commit(next T, persist bool) (changed bool, subs []subscriber[T], immediate bool, ver uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.equal != nil && c.equal(c.value, next) {
		return false, nil, false, 0
	}
	c.value = next
	c.version++
	ver = c.version
	subs = c.subs

	if !persist || !c.persisting {
		return true, subs, false, ver
	}
	if c.debounce <= 0 {
		c.inflight.Add(1)
		return true, subs, true, ver
	}

	c.stopTimerLocked()
	c.timerGen++
	gen := c.timerGen
	c.timer = c.clock.AfterFunc(c.debounce, func() { c.fire(gen) })
	return true, subs, false, ver
}

// fire runs when a debounce timer expires and writes the value current at
// that moment.
func (c *Cell[T]) fire(gen uint64) {
	c.mu.Lock()
	if c.timer == nil || gen != c.timerGen {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	v, ver := c.value, c.version
	c.inflight.Add(1)
	c.mu.Unlock()

	defer c.inflight.Done()
	c.writeBackground(v, ver)
}

func (c *Cell[T]) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Cell[T]) writeBackground(v T, ver uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), c.ioTimeout)
	defer cancel()
	if err := c.write(ctx, v, ver); err != nil {
		slog.Error("cell: background write failed", "cell", c.name, "error", err)
	}
}

func (c *Cell[T]) write(ctx context.Context, v T, ver uint64) error {
	data, err := c.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWrite, c.name, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if ver < c.written {
		return nil
	}
	if err := c.backend.Write(ctx, data); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWrite, c.name, err)
	}
	c.written = ver
	c.lastPersisted = data
	c.hasPersisted = true
	return nil
}

// markPersisted records that version ver came from the backend.
func (c *Cell[T]) markPersisted(ver uint64) {
	c.writeMu.Lock()
	if ver > c.written {
		c.written = ver
	}
	c.writeMu.Unlock()
}

func (c *Cell[T]) unpersisted(ver uint64) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ver > c.written
}

func (c *Cell[T]) rememberPersisted(data string) {
	c.writeMu.Lock()
	c.lastPersisted = data
	c.hasPersisted = true
	c.writeMu.Unlock()
}

func (c *Cell[T]) resolvePath(name string) string {
	if name == "" {
		name = c.exportName
	}
	if filepath.IsAbs(name) || c.dir == "" {
		return name
	}
	return filepath.Join(c.dir, name)
}
