package cron

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nextlevelbuilder/cellstore/internal/backend"
	"github.com/nextlevelbuilder/cellstore/internal/cell"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.Local)

func newStateCell(t *testing.T, path string) *cell.Cell[State] {
	t.Helper()
	c, err := cell.New(State{}, cell.Config{Name: "schedule-state", Backend: backend.NewFile(path)})
	if err != nil {
		t.Fatalf("cell.New: %v", err)
	}
	t.Cleanup(func() { c.Close(context.Background()) })
	return c
}

func newTestService(t *testing.T, persist *cell.Cell[State], now time.Time) *Service {
	t.Helper()
	s := NewService(persist)
	s.now = func() time.Time { return now }
	s.tick = time.Hour // checks are driven by the test
	s.SetRetryConfig(RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
	t.Cleanup(s.Stop)
	return s
}

func TestAddJob_Validation(t *testing.T) {
	s := NewService(nil)
	run := func(context.Context) (string, error) { return "", nil }

	if err := s.AddJob(Job{Name: "backup", Expr: "not a cron", Run: run}); err == nil {
		t.Error("invalid expression accepted")
	}
	if err := s.AddJob(Job{Name: "backup", Expr: "0 3 * * *"}); err == nil {
		t.Error("job without run func accepted")
	}
	if err := s.AddJob(Job{Name: "backup", Expr: "0 3 * * *", Run: run}); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	if err := s.AddJob(Job{Name: "backup", Expr: "0 4 * * *", Run: run}); !errors.Is(err, ErrJobExists) {
		t.Errorf("duplicate AddJob = %v, want ErrJobExists", err)
	}
}

func TestCheckJobs_RunsDueJobs(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, nil, epoch)

	var runs atomic.Int32
	err := s.AddJob(Job{Name: "hourly", Expr: "0 * * * *", Run: func(context.Context) (string, error) {
		runs.Add(1)
		return "done", nil
	}})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}

	st := s.State()["hourly"]
	if st.NextRunAtMS == nil || *st.NextRunAtMS != epoch.Add(time.Hour).UnixMilli() {
		t.Fatalf("next run = %v, want %v", st.NextRunAtMS, epoch.Add(time.Hour))
	}

	s.checkJobs(ctx, epoch.Add(30*time.Minute))
	if runs.Load() != 0 {
		t.Fatal("job ran before it was due")
	}

	s.checkJobs(ctx, epoch.Add(time.Hour))
	if runs.Load() != 1 {
		t.Fatalf("runs = %d, want 1", runs.Load())
	}
	st = s.State()["hourly"]
	if st.LastStatus != "ok" || st.Summary != "done" || st.NextRunAtMS == nil {
		t.Errorf("state after run = %+v", st)
	}

	log := s.GetRunLog("hourly", 10)
	if len(log) != 1 || log[0].Status != "ok" || log[0].Attempts != 1 {
		t.Errorf("run log = %+v", log)
	}
}

func TestRunJob_RecordsFailure(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, nil, epoch)

	calls := 0
	s.AddJob(Job{Name: "flaky", Expr: "0 0 * * *", Run: func(context.Context) (string, error) {
		calls++
		return "", errors.New("disk full")
	}})

	if _, err := s.RunJob(ctx, "flaky"); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("RunJob = %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (one retry)", calls)
	}
	st := s.State()["flaky"]
	if st.LastStatus != "error" || st.LastError != "disk full" {
		t.Errorf("state = %+v", st)
	}

	if _, err := s.RunJob(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("RunJob(missing) = %v, want ErrJobNotFound", err)
	}
}

func TestState_PersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "schedule-state.json")

	first := newStateCell(t, path)
	s := newTestService(t, first, epoch)
	s.AddJob(Job{Name: "nightly", Expr: "0 3 * * *", Run: func(context.Context) (string, error) { return "", nil }})
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	s.Stop()
	if err := first.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Restart well after the persisted due time: the missed run fires on
	// the next check instead of waiting for tomorrow.
	later := epoch.Add(48 * time.Hour)
	second := newStateCell(t, path)
	var runs atomic.Int32
	s2 := newTestService(t, second, later)
	s2.AddJob(Job{Name: "nightly", Expr: "0 3 * * *", Run: func(context.Context) (string, error) {
		runs.Add(1)
		return "", nil
	}})
	if err := s2.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if got := s2.State()["nightly"].NextRunAtMS; got == nil || *got != epoch.Add(3*time.Hour).UnixMilli() {
		t.Fatalf("persisted next run = %v, want %v", got, epoch.Add(3*time.Hour))
	}

	s2.checkJobs(ctx, later)
	if runs.Load() != 1 {
		t.Errorf("missed job runs = %d, want 1", runs.Load())
	}
	if err := second.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if st := second.Get()["nightly"]; st.LastStatus != "ok" {
		t.Errorf("persisted state = %+v", st)
	}
}
