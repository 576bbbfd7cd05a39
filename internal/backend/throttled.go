package backend

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Throttled limits how often writes reach b. Reads are not limited. A write
// waits for a token or fails when ctx ends first.
func Throttled(b Backend, limiter *rate.Limiter) Backend {
	if limiter == nil {
		return b
	}
	return &throttled{inner: b, limiter: limiter}
}

type throttled struct {
	inner   Backend
	limiter *rate.Limiter
}

func (t *throttled) Name() string { return t.inner.Name() }

func (t *throttled) Read(ctx context.Context) (string, bool, error) {
	return t.inner.Read(ctx)
}

func (t *throttled) Write(ctx context.Context, data string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("throttle %s: %w", t.inner.Name(), err)
	}
	return t.inner.Write(ctx, data)
}
