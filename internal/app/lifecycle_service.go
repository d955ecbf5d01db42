// internal/app/lifecycle_service.go
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"subscription_reminder_bot/internal/domain/subscription"
	"subscription_reminder_bot/internal/infra/metrics"

	"github.com/sirupsen/logrus"
)

// ErrNotSubscriptionOwner is returned when a user acts on a subscription they do not own.
var ErrNotSubscriptionOwner = errors.New("subscription not found for this user")

// LifecycleService moves subscriptions out of the active set.
type LifecycleService struct {
	subRepo subscription.Repository
	logger  *logrus.Entry
	metrics *metrics.Collector
}

func NewLifecycleService(sr subscription.Repository, logger *logrus.Entry, m *metrics.Collector) *LifecycleService {
	return &LifecycleService{subRepo: sr, logger: logger, metrics: m}
}

// Reconcile deactivates every active subscription whose end date is before now
// and returns how many were changed. Running it twice in a row changes nothing
// the second time.
func (s *LifecycleService) Reconcile(ctx context.Context, now time.Time) (int64, error) {
	if s.logger.Logger.IsLevelEnabled(logrus.DebugLevel) {
		expired, err := s.subRepo.FindExpired(ctx, now)
		if err != nil {
			s.logger.WithError(err).Debug("Could not list expired subscriptions")
		} else {
			ids := make([]int64, 0, len(expired))
			for _, sub := range expired {
				ids = append(ids, sub.ID)
			}
			s.logger.WithField("subscription_ids", ids).Debug("Expired subscriptions found")
		}
	}

	n, err := s.subRepo.DeactivateExpired(ctx, now)
	if err != nil {
		s.logger.WithError(err).Error("Failed to deactivate expired subscriptions")
		return 0, fmt.Errorf("failed to deactivate expired subscriptions: %w", err)
	}
	s.metrics.Deactivated(n)
	if n > 0 {
		s.logger.WithField("deactivated", n).Info("Deactivated expired subscriptions")
	}
	return n, nil
}

// ListSubscriptions returns the user's active subscriptions, soonest end first.
func (s *LifecycleService) ListSubscriptions(ctx context.Context, userID int64) ([]*subscription.Subscription, error) {
	subs, err := s.subRepo.FindByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions of user %d: %w", userID, err)
	}
	return subs, nil
}

// CancelSubscription deactivates a subscription at its owner's request.
func (s *LifecycleService) CancelSubscription(ctx context.Context, userID, subscriptionID int64) (*subscription.Subscription, error) {
	sub, err := s.subRepo.GetByID(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, subscription.ErrSubscriptionNotFound) {
			return nil, ErrNotSubscriptionOwner
		}
		return nil, fmt.Errorf("failed to load subscription %d: %w", subscriptionID, err)
	}
	if sub.UserID != userID {
		return nil, ErrNotSubscriptionOwner
	}
	if !sub.IsActive {
		return sub, nil
	}

	if err := s.subRepo.Deactivate(ctx, subscriptionID, userID); err != nil {
		if errors.Is(err, subscription.ErrSubscriptionNotFound) {
			return nil, ErrNotSubscriptionOwner
		}
		return nil, fmt.Errorf("failed to deactivate subscription %d: %w", subscriptionID, err)
	}
	sub.IsActive = false
	s.logger.WithFields(logrus.Fields{
		"subscription_id": subscriptionID,
		"user_id":         userID,
	}).Info("Subscription canceled by user")
	return sub, nil
}
