package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Fallback reads from primary first and only consults secondary when primary
// has nothing. Writes go to both in parallel.
//
// Reads and writes are asymmetric: a reader of secondary alone can observe data
// older than a hand-edited primary until the next write lands.
func Fallback(primary, secondary Backend) Backend {
	return &fallback{primary: primary, secondary: secondary}
}

type fallback struct {
	primary   Backend
	secondary Backend
}

func (f *fallback) Name() string {
	return f.primary.Name() + "+" + f.secondary.Name()
}

// Read returns the primary's data when it has any. A primary error is logged
// and the secondary consulted; if the secondary has nothing either, the
// primary error is returned so the caller still sees the failure.
func (f *fallback) Read(ctx context.Context) (string, bool, error) {
	data, ok, perr := f.primary.Read(ctx)
	if perr == nil && ok {
		return data, true, nil
	}
	if perr != nil {
		slog.Warn("backend: primary read failed, trying secondary",
			"primary", f.primary.Name(), "error", perr)
	}

	data, ok, serr := f.secondary.Read(ctx)
	switch {
	case serr != nil:
		return "", false, errors.Join(perr, serr)
	case ok:
		return data, true, nil
	case perr != nil:
		return "", false, fmt.Errorf("%s: %w", f.primary.Name(), perr)
	}
	return "", false, nil
}

// Write fans out to both backends. A failure on one side is logged and
// returned but never undoes the other side.
func (f *fallback) Write(ctx context.Context, data string) error {
	targets := []Backend{f.primary, f.secondary}
	errs := make([]error, len(targets))

	var wg sync.WaitGroup
	for i, b := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.Write(ctx, data); err != nil {
				slog.Error("backend: write failed", "backend", b.Name(), "error", err)
				errs[i] = fmt.Errorf("%s: %w", b.Name(), err)
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}
