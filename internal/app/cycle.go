package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrCycleInProgress  = errors.New("a reminder cycle is already running")
	ErrSchedulerStopped = errors.New("scheduler is stopped")
)

// CycleReport summarizes one full cycle: reminder dispatch followed by expiry reconciliation.
type CycleReport struct {
	RunID       uuid.UUID     `json:"run_id"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration_ns"`
	Due         int           `json:"due"`
	Sent        int           `json:"sent"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	Deactivated int64         `json:"deactivated"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
}

// CycleRunner triggers a cycle outside the regular schedule.
type CycleRunner interface {
	RunCycleNow(ctx context.Context) (CycleReport, error)
}
