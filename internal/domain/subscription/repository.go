package subscription

import (
	"context"
	"errors"
	"time"

	"subscription_reminder_bot/internal/domain/user"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrAlreadyReminded is returned by MarkReminderAttempted and MarkReminded
	// when reminded_at was set by an earlier write.
	ErrAlreadyReminded = errors.New("subscription already reminded")
)

// Candidate is an active, not yet reminded subscription joined with its owner.
type Candidate struct {
	Subscription *Subscription
	Owner        *user.User
}

// Repository defines the store operations the reminder engine needs.
type Repository interface {
	Create(ctx context.Context, s *Subscription) error
	GetByID(ctx context.Context, id int64) (*Subscription, error)

	// FindCandidates returns active subscriptions with reminded_at NULL and
	// end_date <= horizon, owned by active users. The exact trigger check is
	// left to the caller.
	FindCandidates(ctx context.Context, horizon time.Time) ([]Candidate, error)
	// FindExpired lists active subscriptions with end_date < now.
	FindExpired(ctx context.Context, now time.Time) ([]*Subscription, error)

	// FindByUser lists the active subscriptions of userID ordered by end date.
	FindByUser(ctx context.Context, userID int64) ([]*Subscription, error)

	// MarkReminderAttempted records that a send is about to happen. It only
	// touches rows with reminded_at NULL.
	MarkReminderAttempted(ctx context.Context, id int64, at time.Time) error
	// ClearReminderAttempt drops the attempt marker of a row that is still not reminded.
	ClearReminderAttempt(ctx context.Context, id int64) error
	// MarkReminded sets reminded_at only where it is still NULL.
	MarkReminded(ctx context.Context, id int64, at time.Time) error

	// DeactivateExpired flips is_active for every active subscription with end_date < now.
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
	// Deactivate soft deletes one subscription owned by userID.
	Deactivate(ctx context.Context, id int64, userID int64) error

	CountActive(ctx context.Context) (int64, error)
}
