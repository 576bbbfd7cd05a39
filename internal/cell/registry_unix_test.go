//go:build unix

package cell

import (
	"context"
	"slices"
	"syscall"
	"testing"
	"time"
)

func TestRegistry_FlushOnSignal(t *testing.T) {
	reg := NewRegistry()
	clock := &manualClock{}
	b := &memBackend{}
	c := newTestCell(t, 0, Config{Backend: b, Debounce: time.Minute, Clock: clock, Registry: reg})
	waitReady(t, c)

	exited := make(chan struct{})
	stop := reg.FlushOnSignal(context.Background(), time.Second, func() { close(exited) }, syscall.SIGUSR1)
	defer stop()

	c.Set(42)
	if err := syscall.Kill(syscall.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("kill: %v", err)
	}

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("onExit not called")
	}
	if !slices.Equal(b.Writes(), []string{"42"}) {
		t.Errorf("writes = %v", b.Writes())
	}
}
