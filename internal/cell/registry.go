package cell

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Member is the type-erased view of a Cell the Registry works with.
type Member interface {
	Name() string
	WaitReady(ctx context.Context) error
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
}

// Registry tracks the cells of one process so they can be flushed together,
// typically right before exit.
type Registry struct {
	mu      sync.Mutex
	members []Member
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds m. Cells created with Config.Registry register themselves.
func (r *Registry) Register(m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members = append(r.members, m)
}

// Names lists registered members in registration order.
func (r *Registry) Names() []string {
	members := r.snapshot()
	names := make([]string, len(members))
	for i, m := range members {
		names[i] = m.Name()
	}
	return names
}

// WaitReady blocks until every member has hydrated or ctx ends.
func (r *Registry) WaitReady(ctx context.Context) error {
	for _, m := range r.snapshot() {
		if err := m.WaitReady(ctx); err != nil {
			return err
		}
	}
	return nil
}

// FlushAll flushes every member concurrently and joins their errors.
func (r *Registry) FlushAll(ctx context.Context) error {
	return r.each(ctx, Member.Flush)
}

// Close closes every member concurrently and joins their errors.
func (r *Registry) Close(ctx context.Context) error {
	return r.each(ctx, Member.Close)
}

// FlushOnSignal flushes all members when one of sigs arrives (SIGINT and
// SIGTERM by default), then calls onExit if set. The flush is best effort and
// bounded by timeout. It stops listening when ctx ends or stop is called.
func (r *Registry) FlushOnSignal(ctx context.Context, timeout time.Duration, onExit func(), sigs ...os.Signal) (stop func()) {
	if len(sigs) == 0 {
		sigs = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	done := make(chan struct{})

	go func() {
		defer signal.Stop(ch)
		select {
		case sig := <-ch:
			slog.Info("cell: flushing before exit", "signal", sig.String())
			fctx, cancel := context.WithTimeout(context.Background(), timeout)
			if err := r.FlushAll(fctx); err != nil {
				slog.Warn("cell: flush on exit incomplete", "error", err)
			}
			cancel()
			if onExit != nil {
				onExit()
			}
		case <-ctx.Done():
		case <-done:
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

func (r *Registry) each(ctx context.Context, fn func(Member, context.Context) error) error {
	members := r.snapshot()
	errs := make([]error, len(members))

	var wg sync.WaitGroup
	for i, m := range members {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = fn(m, ctx)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (r *Registry) snapshot() []Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Member(nil), r.members...)
}
