package memstore

import (
	"context"
	"testing"
	"time"

	"subscription_reminder_bot/internal/domain/subscription"
	"subscription_reminder_bot/internal/domain/user"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ subscription.Repository = (*SubscriptionRepository)(nil)
	_ user.Repository         = (*UserRepository)(nil)
)

func TestStore_CreateAndGet(t *testing.T) {
	s := New()
	ctx := context.Background()
	end := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)

	sub := &subscription.Subscription{UserID: 1, ServiceName: "Netflix", StartDate: end.AddDate(0, -1, 0), EndDate: end, IsActive: true}
	require.NoError(t, s.Subscriptions().Create(ctx, sub))
	assert.Equal(t, int64(1), sub.ID)

	got, err := s.Subscriptions().GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "Netflix", got.ServiceName)

	// Returned values are copies.
	got.ServiceName = "Changed"
	again, err := s.Subscriptions().GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "Netflix", again.ServiceName)

	invalid := &subscription.Subscription{UserID: 1, ServiceName: "Bad", StartDate: end, EndDate: end}
	assert.ErrorIs(t, s.Subscriptions().Create(ctx, invalid), subscription.ErrEndNotAfterStart)
}

func TestStore_MarkRemindedOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	end := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)
	sub := &subscription.Subscription{UserID: 1, ServiceName: "Netflix", StartDate: end.AddDate(0, -1, 0), EndDate: end, IsActive: true}
	s.PutSubscription(sub)

	first := time.Date(2024, 2, 13, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Subscriptions().MarkReminded(ctx, sub.ID, first))
	assert.ErrorIs(t, s.Subscriptions().MarkReminded(ctx, sub.ID, first.Add(time.Hour)), subscription.ErrAlreadyReminded)
	assert.ErrorIs(t, s.Subscriptions().MarkReminded(ctx, 99, first), subscription.ErrSubscriptionNotFound)

	got, err := s.Subscriptions().GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, first, got.RemindedAt.Time)
}

func TestStore_UpsertKeepsPlan(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.PutUser(&user.User{TelegramID: 7, Plan: user.PlanElevated, IsActive: false})

	u := &user.User{TelegramID: 7, Plan: user.PlanStandard}
	require.NoError(t, s.Users().Upsert(ctx, u))
	assert.Equal(t, user.PlanElevated, u.Plan)
	assert.False(t, u.IsActive)

	fresh := &user.User{TelegramID: 8}
	require.NoError(t, s.Users().Upsert(ctx, fresh))
	assert.Equal(t, user.PlanStandard, fresh.Plan)
	assert.True(t, fresh.IsActive)

	n, err := s.Users().CountByPlan(ctx, user.PlanElevated)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestStore_ReminderAttempt(t *testing.T) {
	s := New()
	ctx := context.Background()
	end := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)
	sub := &subscription.Subscription{UserID: 1, ServiceName: "Netflix", StartDate: end.AddDate(0, -1, 0), EndDate: end, IsActive: true}
	s.PutSubscription(sub)
	at := time.Date(2024, 2, 13, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Subscriptions().MarkReminderAttempted(ctx, sub.ID, at))
	require.NoError(t, s.Subscriptions().ClearReminderAttempt(ctx, sub.ID))
	got, err := s.Subscriptions().GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.False(t, got.ReminderAttemptedAt.Valid)

	require.NoError(t, s.Subscriptions().MarkReminderAttempted(ctx, sub.ID, at))
	require.NoError(t, s.Subscriptions().MarkReminded(ctx, sub.ID, at))
	assert.ErrorIs(t, s.Subscriptions().MarkReminderAttempted(ctx, sub.ID, at.Add(time.Hour)), subscription.ErrAlreadyReminded)
	assert.ErrorIs(t, s.Subscriptions().MarkReminderAttempted(ctx, 99, at), subscription.ErrSubscriptionNotFound)

	// A reminded row keeps its attempt stamp.
	require.NoError(t, s.Subscriptions().ClearReminderAttempt(ctx, sub.ID))
	got, err = s.Subscriptions().GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, at, got.ReminderAttemptedAt.Time)
}

func TestStore_FindByUserAndSetPlan(t *testing.T) {
	s := New()
	ctx := context.Background()
	end := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)
	later := &subscription.Subscription{UserID: 1, ServiceName: "Spotify", EndDate: end.AddDate(0, 0, 5), IsActive: true}
	sooner := &subscription.Subscription{UserID: 1, ServiceName: "Netflix", EndDate: end, IsActive: true}
	other := &subscription.Subscription{UserID: 2, ServiceName: "Hulu", EndDate: end, IsActive: true}
	canceled := &subscription.Subscription{UserID: 1, ServiceName: "Disney", EndDate: end, IsActive: false}
	for _, sub := range []*subscription.Subscription{later, sooner, other, canceled} {
		s.PutSubscription(sub)
	}

	got, err := s.Subscriptions().FindByUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Netflix", got[0].ServiceName)
	assert.Equal(t, "Spotify", got[1].ServiceName)

	s.PutUser(&user.User{TelegramID: 1, Plan: user.PlanStandard, IsActive: true})
	require.NoError(t, s.Users().SetPlan(ctx, 1, user.PlanElevated))
	u, err := s.Users().GetByTelegramID(ctx, 1)
	require.NoError(t, err)
	assert.True(t, u.IsElevated())
	assert.ErrorIs(t, s.Users().SetPlan(ctx, 2, user.PlanElevated), user.ErrUserNotFound)
}
