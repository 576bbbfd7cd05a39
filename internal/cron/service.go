package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/cellstore/internal/cell"
)

var (
	ErrJobNotFound = errors.New("cron: job not found")
	ErrJobExists   = errors.New("cron: job already registered")
)

// Service fires registered jobs when their cron expression comes due.
type Service struct {
	mu       sync.Mutex
	jobs     []Job
	state    State
	persist  *cell.Cell[State] // optional
	retryCfg RetryConfig
	now      func() time.Time
	tick     time.Duration
	running  bool
	busy     map[string]bool
	stopChan chan struct{}
	done     chan struct{}
	runLog   []RunLogEntry // last 200 runs
}

// NewService creates a service. When persist is non-nil, job state is
// loaded from it on Start and written back after every run.
func NewService(persist *cell.Cell[State]) *Service {
	return &Service{
		state:    State{},
		persist:  persist,
		retryCfg: DefaultRetryConfig(),
		now:      time.Now,
		tick:     time.Second,
		busy:     map[string]bool{},
	}
}

// SetRetryConfig overrides the default retry configuration.
func (cs *Service) SetRetryConfig(cfg RetryConfig) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.retryCfg = cfg
}

// AddJob registers a job. The expression is validated with gronx.
func (cs *Service) AddJob(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("cron: job needs a name and a run func")
	}
	if !gronx.New().IsValid(job.Expr) {
		return fmt.Errorf("cron: invalid expression %q for %s", job.Expr, job.Name)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if slices.ContainsFunc(cs.jobs, func(j Job) bool { return j.Name == job.Name }) {
		return fmt.Errorf("%w: %s", ErrJobExists, job.Name)
	}
	cs.jobs = append(cs.jobs, job)
	if cs.running {
		cs.scheduleMissingLocked()
		cs.saveLocked()
	}
	slog.Info("cron job added", "name", job.Name, "expr", job.Expr)
	return nil
}

// Start loads persisted state and begins the scheduling loop. A job whose
// persisted next run is already past fires on the first tick.
func (cs *Service) Start(ctx context.Context) error {
	if cs.persist != nil {
		if err := cs.persist.WaitReady(ctx); err != nil {
			return err
		}
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.running {
		return nil
	}

	if cs.persist != nil {
		cs.state = cs.persist.Get().clone()
	}
	cs.scheduleMissingLocked()
	cs.saveLocked()

	cs.stopChan = make(chan struct{})
	cs.done = make(chan struct{})
	cs.running = true
	go cs.runLoop(ctx, cs.stopChan, cs.done)

	slog.Info("cron service started", "jobs", len(cs.jobs))
	return nil
}

// Stop halts the scheduling loop and waits for a running check to finish.
func (cs *Service) Stop() {
	cs.mu.Lock()
	if !cs.running {
		cs.mu.Unlock()
		return
	}
	close(cs.stopChan)
	cs.running = false
	done := cs.done
	cs.mu.Unlock()

	<-done
	slog.Info("cron service stopped")
}

// RunJob runs a job immediately regardless of its schedule.
func (cs *Service) RunJob(ctx context.Context, name string) (string, error) {
	cs.mu.Lock()
	i := slices.IndexFunc(cs.jobs, func(j Job) bool { return j.Name == name })
	if i < 0 {
		cs.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	job := cs.jobs[i]
	cs.mu.Unlock()

	slog.Info("cron manual run", "name", name)
	return cs.execute(ctx, job)
}

// State returns a copy of every job's state.
func (cs *Service) State() State {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.state.clone()
}

// GetRunLog returns recent runs, newest first, optionally for one job.
func (cs *Service) GetRunLog(name string, limit int) []RunLogEntry {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}
	var result []RunLogEntry
	for i := len(cs.runLog) - 1; i >= 0 && len(result) < limit; i-- {
		if name == "" || cs.runLog[i].Job == name {
			result = append(result, cs.runLog[i])
		}
	}
	return result
}

func (cs *Service) runLoop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(cs.tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			cs.checkJobs(ctx, cs.now())
		}
	}
}

func (cs *Service) checkJobs(ctx context.Context, now time.Time) {
	cs.mu.Lock()
	var due []Job
	for _, job := range cs.jobs {
		st := cs.state[job.Name]
		if cs.busy[job.Name] || st.NextRunAtMS == nil || *st.NextRunAtMS > now.UnixMilli() {
			continue
		}
		// Cleared so a slow run is not picked up again by the next tick.
		st.NextRunAtMS = nil
		cs.state[job.Name] = st
		due = append(due, job)
	}
	cs.mu.Unlock()

	for _, job := range due {
		slog.Info("cron executing job", "name", job.Name)
		cs.execute(ctx, job)
	}
}

func (cs *Service) execute(ctx context.Context, job Job) (string, error) {
	cs.mu.Lock()
	if cs.busy[job.Name] {
		cs.mu.Unlock()
		return "", fmt.Errorf("cron: %s is already running", job.Name)
	}
	cs.busy[job.Name] = true
	retryCfg := cs.retryCfg
	cs.mu.Unlock()

	result, attempts, err := ExecuteWithRetry(ctx, job.Run, retryCfg)
	if attempts > 1 {
		slog.Info("cron job retried", "name", job.Name, "attempts", attempts, "success", err == nil)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	delete(cs.busy, job.Name)

	now := cs.now()
	nowMS := now.UnixMilli()
	st := cs.state[job.Name]
	st.LastRunAtMS = &nowMS
	entry := RunLogEntry{Ts: nowMS, Job: job.Name, Attempts: attempts}
	if err != nil {
		st.LastStatus, st.LastError, st.Summary = "error", err.Error(), ""
		entry.Status, entry.Error = "error", err.Error()
		slog.Error("cron job failed", "name", job.Name, "error", err)
	} else {
		st.LastStatus, st.LastError, st.Summary = "ok", "", TruncateOutput(result)
		entry.Status, entry.Summary = "ok", st.Summary
		slog.Info("cron job completed", "name", job.Name, "result", result)
	}
	st.NextRunAtMS = nextRun(job.Expr, now)
	cs.state[job.Name] = st
	cs.saveLocked()

	cs.runLog = append(cs.runLog, entry)
	if len(cs.runLog) > 200 {
		cs.runLog = cs.runLog[len(cs.runLog)-200:]
	}
	return result, err
}

// scheduleMissingLocked computes next runs for jobs that have none, and
// drops state for jobs no longer registered.
func (cs *Service) scheduleMissingLocked() {
	now := cs.now()
	for _, job := range cs.jobs {
		st := cs.state[job.Name]
		if st.NextRunAtMS == nil && !cs.busy[job.Name] {
			st.NextRunAtMS = nextRun(job.Expr, now)
			cs.state[job.Name] = st
		}
	}
	for name := range cs.state {
		if !slices.ContainsFunc(cs.jobs, func(j Job) bool { return j.Name == name }) {
			delete(cs.state, name)
		}
	}
}

func (cs *Service) saveLocked() {
	if cs.persist != nil {
		cs.persist.Set(cs.state.clone())
	}
}

func nextRun(expr string, now time.Time) *int64 {
	next, err := gronx.NextTickAfter(expr, now, false)
	if err != nil {
		slog.Error("cron: failed to compute next run", "expr", expr, "error", err)
		return nil
	}
	ms := next.UnixMilli()
	return &ms
}
