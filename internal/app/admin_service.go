package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"subscription_reminder_bot/internal/domain/subscription"
	"subscription_reminder_bot/internal/domain/user"
)

// Custom application-level errors for admin service
var ErrAdminNotAuthorized = errors.New("performing user is not authorized as an admin")

// Stats is the operator overview of the user base.
type Stats struct {
	TotalUsers          int64   `json:"total_users"`
	ElevatedUsers       int64   `json:"elevated_users"`
	ActiveSubscriptions int64   `json:"active_subscriptions"`
	ConversionRate      float64 `json:"conversion_rate"` // Percent of users on the elevated plan
}

type AdminService struct {
	subRepo         subscription.Repository
	userRepo        user.Repository
	reminders       *ReminderService
	runner          CycleRunner
	adminTelegramID int64
	now             func() time.Time
}

func NewAdminService(
	sr subscription.Repository,
	ur user.Repository,
	reminders *ReminderService,
	runner CycleRunner,
	adminID int64,
) *AdminService {
	return &AdminService{
		subRepo:         sr,
		userRepo:        ur,
		reminders:       reminders,
		runner:          runner,
		adminTelegramID: adminID,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// IsAdmin reports whether telegramID belongs to the configured operator.
func (s *AdminService) IsAdmin(telegramID int64) bool {
	return s.adminTelegramID != 0 && telegramID == s.adminTelegramID
}

// AdminID is the configured operator's Telegram ID.
func (s *AdminService) AdminID() int64 {
	return s.adminTelegramID
}

// RunCycleNow runs a full reminder cycle immediately.
func (s *AdminService) RunCycleNow(ctx context.Context, performingAdminID int64) (CycleReport, error) {
	if !s.IsAdmin(performingAdminID) {
		return CycleReport{}, ErrAdminNotAuthorized
	}
	return s.runner.RunCycleNow(ctx)
}

// RemindSubscription sends the reminder for one subscription right away.
func (s *AdminService) RemindSubscription(ctx context.Context, performingAdminID, subscriptionID int64) (Outcome, error) {
	if !s.IsAdmin(performingAdminID) {
		return Outcome{}, ErrAdminNotAuthorized
	}
	return s.reminders.DispatchOne(ctx, subscriptionID, s.now())
}

// GrantElevated moves a registered user to the elevated plan.
func (s *AdminService) GrantElevated(ctx context.Context, performingAdminID, targetTelegramID int64) error {
	if !s.IsAdmin(performingAdminID) {
		return ErrAdminNotAuthorized
	}
	if err := s.userRepo.SetPlan(ctx, targetTelegramID, user.PlanElevated); err != nil {
		return fmt.Errorf("failed to grant elevated plan to user %d: %w", targetTelegramID, err)
	}
	return nil
}

// Stats collects user and subscription totals.
func (s *AdminService) Stats(ctx context.Context, performingAdminID int64) (*Stats, error) {
	if !s.IsAdmin(performingAdminID) {
		return nil, ErrAdminNotAuthorized
	}

	total, err := s.userRepo.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}
	elevated, err := s.userRepo.CountByPlan(ctx, user.PlanElevated)
	if err != nil {
		return nil, fmt.Errorf("failed to count elevated users: %w", err)
	}
	active, err := s.subRepo.CountActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count active subscriptions: %w", err)
	}

	stats := &Stats{TotalUsers: total, ElevatedUsers: elevated, ActiveSubscriptions: active}
	if total > 0 {
		stats.ConversionRate = float64(elevated) / float64(total) * 100
	}
	return stats, nil
}
