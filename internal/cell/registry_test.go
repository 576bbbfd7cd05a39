package cell

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func TestRegistry_FlushAll(t *testing.T) {
	reg := NewRegistry()
	clock := &manualClock{}
	a, b := &memBackend{}, &memBackend{}
	ca := newTestCell(t, 0, Config{Name: "a", Backend: a, Debounce: time.Minute, Clock: clock, Registry: reg})
	cb := newTestCell(t, "", Config{Name: "b", Backend: b, Debounce: time.Minute, Clock: clock, Registry: reg})

	if err := reg.WaitReady(context.Background()); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	if got := reg.Names(); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("Names = %v", got)
	}

	ca.Set(1)
	cb.Set("x")
	if err := reg.FlushAll(context.Background()); err != nil {
		t.Fatalf("FlushAll: %v", err)
	}
	if !slices.Equal(a.Writes(), []string{"1"}) || !slices.Equal(b.Writes(), []string{`"x"`}) {
		t.Errorf("writes a=%v b=%v", a.Writes(), b.Writes())
	}
}

func TestRegistry_FlushAllJoinsErrors(t *testing.T) {
	reg := NewRegistry()
	boom := errors.New("boom")
	newTestCell(t, 0, Config{Name: "ok", Backend: &memBackend{}, Registry: reg})
	newTestCell(t, 0, Config{Name: "bad", Backend: &memBackend{writeErr: boom}, Registry: reg})

	err := reg.FlushAll(context.Background())
	if !errors.Is(err, boom) || !errors.Is(err, ErrWrite) {
		t.Errorf("FlushAll = %v", err)
	}
}

func TestRegistry_Close(t *testing.T) {
	reg := NewRegistry()
	clock := &manualClock{}
	b := &memBackend{}
	c := newTestCell(t, 0, Config{Backend: b, Debounce: time.Minute, Clock: clock, Registry: reg})
	waitReady(t, c)

	c.Set(3)
	if err := reg.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !slices.Equal(b.Writes(), []string{"3"}) {
		t.Errorf("writes = %v", b.Writes())
	}
}
