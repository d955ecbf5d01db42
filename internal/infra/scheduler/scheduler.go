package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"subscription_reminder_bot/internal/app"
	"subscription_reminder_bot/internal/infra/lock"
	"subscription_reminder_bot/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ErrCycleLocked means another instance holds the cycle lock.
var ErrCycleLocked = errors.New("reminder cycle is running on another instance")

// ReminderProcessor dispatches the reminders due at now.
type ReminderProcessor interface {
	ProcessCycle(ctx context.Context, now time.Time) (app.CycleResult, error)
}

// Reconciler retires subscriptions that expired before now.
type Reconciler interface {
	Reconcile(ctx context.Context, now time.Time) (int64, error)
}

type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

const (
	triggerSchedule = "schedule"
	triggerManual   = "manual"
)

// ReminderScheduler runs a reminder cycle (dispatch, then expiry reconciliation)
// on a fixed interval. At most one cycle runs at a time; a tick that arrives
// while a cycle is running is dropped.
type ReminderScheduler struct {
	cronEngine   *cron.Cron
	reminders    ReminderProcessor
	lifecycle    Reconciler
	locker       lock.Locker // nil when running a single instance
	metrics      *metrics.Collector
	logger       *logrus.Entry
	interval     time.Duration
	cycleTimeout time.Duration
	now          func() time.Time

	guard    sync.Mutex
	state    atomic.Int32
	stopOnce sync.Once
}

func NewReminderScheduler(
	reminders ReminderProcessor,
	lifecycle Reconciler,
	locker lock.Locker,
	m *metrics.Collector,
	logger *logrus.Entry,
	interval time.Duration,
	cycleTimeout time.Duration,
) *ReminderScheduler {
	cronLogger := cron.PrintfLogger(logger)
	return &ReminderScheduler{
		cronEngine: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger)),
		),
		reminders:    reminders,
		lifecycle:    lifecycle,
		locker:       locker,
		metrics:      m,
		logger:       logger,
		interval:     interval,
		cycleTimeout: cycleTimeout,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Start registers the periodic job and starts the cron engine.
func (s *ReminderScheduler) Start() error {
	if s.interval <= 0 {
		return fmt.Errorf("invalid reminder interval %s", s.interval)
	}
	if s.State() == StateStopped {
		return app.ErrSchedulerStopped
	}

	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cronEngine.AddFunc(spec, s.tick); err != nil {
		return fmt.Errorf("could not add reminder cron job %q: %w", spec, err)
	}
	s.cronEngine.Start()
	s.logger.WithField("interval", s.interval.String()).Info("Reminder scheduler started")
	return nil
}

func (s *ReminderScheduler) tick() {
	_, err := s.runCycle(context.Background(), triggerSchedule)
	switch {
	case errors.Is(err, app.ErrCycleInProgress):
		s.logger.Warn("Previous reminder cycle still running, skipping this tick")
		s.metrics.Cycle("skipped_busy", 0)
	case errors.Is(err, ErrCycleLocked):
		s.logger.Info("Reminder cycle held by another instance, skipping this tick")
	case err != nil && !errors.Is(err, app.ErrSchedulerStopped):
		s.logger.WithError(err).Error("Scheduled reminder cycle failed")
	}
}

// RunCycleNow runs a cycle immediately, outside the schedule.
func (s *ReminderScheduler) RunCycleNow(ctx context.Context) (app.CycleReport, error) {
	report, err := s.runCycle(ctx, triggerManual)
	if errors.Is(err, app.ErrCycleInProgress) {
		s.metrics.Cycle("skipped_busy", 0)
	}
	return report, err
}

func (s *ReminderScheduler) runCycle(parent context.Context, trigger string) (app.CycleReport, error) {
	if s.State() == StateStopped {
		return app.CycleReport{}, app.ErrSchedulerStopped
	}
	if !s.guard.TryLock() {
		return app.CycleReport{}, app.ErrCycleInProgress
	}
	defer s.guard.Unlock()
	// Stop may have completed between the check above and TryLock.
	if s.State() == StateStopped {
		return app.CycleReport{}, app.ErrSchedulerStopped
	}

	s.state.Store(int32(StateRunning))
	defer s.state.CompareAndSwap(int32(StateRunning), int32(StateIdle))

	// A cycle is never cut short by shutdown or by a caller going away;
	// only the cycle timeout bounds it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.cycleTimeout)
	defer cancel()

	started := time.Now()
	report := app.CycleReport{RunID: uuid.New(), StartedAt: s.now()}
	log := s.logger.WithFields(logrus.Fields{
		"run_id":  report.RunID.String(),
		"trigger": trigger,
	})

	if s.locker != nil {
		token, ok, err := s.locker.Acquire(ctx)
		if err != nil {
			log.WithError(err).Error("Could not acquire cycle lock, not running")
			s.metrics.Cycle("failed", time.Since(started))
			return report, fmt.Errorf("acquire cycle lock: %w", err)
		}
		if !ok {
			s.metrics.Cycle("skipped_locked", 0)
			return report, ErrCycleLocked
		}
		defer func() {
			if err := s.locker.Release(context.Background(), token); err != nil {
				log.WithError(err).Warn("Could not release cycle lock")
			}
		}()
	}

	log.Info("Reminder cycle started")

	var errs []error
	result, err := s.reminders.ProcessCycle(ctx, report.StartedAt)
	report.Due, report.Sent, report.Failed, report.Skipped = result.Due, result.Sent, result.Failed, result.Skipped
	if err != nil {
		errs = append(errs, err)
	}

	// Reconciliation runs even when dispatch failed.
	deactivated, err := s.lifecycle.Reconcile(ctx, s.now())
	report.Deactivated = deactivated
	if err != nil {
		errs = append(errs, err)
	}

	report.Duration = time.Since(started)
	report.Success = len(errs) == 0
	if !report.Success {
		report.Error = errors.Join(errs...).Error()
	}

	fields := logrus.Fields{
		"due":         report.Due,
		"sent":        report.Sent,
		"failed":      report.Failed,
		"skipped":     report.Skipped,
		"deactivated": report.Deactivated,
		"duration_ms": report.Duration.Milliseconds(),
	}
	if report.Success {
		s.metrics.Cycle("ok", report.Duration)
		log.WithFields(fields).Info("Reminder cycle finished")
	} else {
		s.metrics.Cycle("failed", report.Duration)
		log.WithFields(fields).WithField("error", report.Error).Error("Reminder cycle finished with errors")
	}
	return report, nil
}

func (s *ReminderScheduler) State() State {
	return State(s.state.Load())
}

// Stop halts the schedule and waits for an in-flight cycle to finish.
// After Stop returns no further cycles start.
func (s *ReminderScheduler) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping reminder scheduler...")
		ctx := s.cronEngine.Stop() // Stops new ticks, waits for a running tick.
		<-ctx.Done()

		// A manual cycle may still hold the guard.
		s.guard.Lock()
		s.state.Store(int32(StateStopped))
		s.guard.Unlock()
		s.logger.Info("Reminder scheduler gracefully stopped")
	})
}
