// Package cron runs maintenance jobs, such as scheduled backups, on 5-field
// cron expressions parsed by gronx.
//
// A job's outcome is recorded in a State value. When the service is given a
// cell, that state is persisted so the last run and the next due time
// survive restarts.
package cron

import (
	"context"
	"maps"
)

// Job is a named unit of work fired on a cron expression.
type Job struct {
	Name string
	Expr string // e.g. "0 3 * * *"
	Run  func(ctx context.Context) (string, error)
}

// JobState tracks runtime state for a job.
type JobState struct {
	NextRunAtMS *int64 `json:"nextRunAtMs,omitempty"`
	LastRunAtMS *int64 `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"` // "ok" or "error"
	LastError   string `json:"lastError,omitempty"`
	Summary     string `json:"summary,omitempty"`
}

// State is the persisted job state keyed by job name.
type State map[string]JobState

func (s State) clone() State {
	if s == nil {
		return State{}
	}
	return maps.Clone(s)
}

// RunLogEntry is an in-memory record of a job execution.
type RunLogEntry struct {
	Ts       int64  `json:"ts"`
	Job      string `json:"job"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Summary  string `json:"summary,omitempty"`
	Attempts int    `json:"attempts"`
}
