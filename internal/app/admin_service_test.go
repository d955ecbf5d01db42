package app

import (
	"context"
	"testing"
	"time"

	"subscription_reminder_bot/internal/domain/subscription"
	"subscription_reminder_bot/internal/domain/user"
	"subscription_reminder_bot/internal/infra/memstore"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const adminID int64 = 1

type stubRunner struct {
	calls  int
	report CycleReport
	err    error
}

func (r *stubRunner) RunCycleNow(context.Context) (CycleReport, error) {
	r.calls++
	return r.report, r.err
}

func newAdminFixture(t *testing.T) (*memstore.Store, *mockTelegramClient, *stubRunner, *AdminService) {
	t.Helper()
	store := memstore.New()
	seedUsers(store)
	tc := &mockTelegramClient{}
	logger, _ := newTestLogger()
	reminders := NewReminderService(store.Subscriptions(), store.Users(), tc, logger, nil, DispatchSettings{})
	runner := &stubRunner{report: CycleReport{RunID: uuid.New(), Sent: 3, Success: true}}
	return store, tc, runner, NewAdminService(store.Subscriptions(), store.Users(), reminders, runner, adminID)
}

func TestAdminService_RejectsNonAdmin(t *testing.T) {
	_, _, runner, svc := newAdminFixture(t)
	ctx := context.Background()

	_, err := svc.RunCycleNow(ctx, standardUserID)
	assert.ErrorIs(t, err, ErrAdminNotAuthorized)
	_, err = svc.RemindSubscription(ctx, standardUserID, 1)
	assert.ErrorIs(t, err, ErrAdminNotAuthorized)
	_, err = svc.Stats(ctx, standardUserID)
	assert.ErrorIs(t, err, ErrAdminNotAuthorized)
	assert.ErrorIs(t, svc.GrantElevated(ctx, standardUserID, standardUserID), ErrAdminNotAuthorized)

	assert.Zero(t, runner.calls)
}

func TestAdminService_NoAdminConfigured(t *testing.T) {
	svc := NewAdminService(nil, nil, nil, &stubRunner{}, 0)
	assert.False(t, svc.IsAdmin(0))
	_, err := svc.RunCycleNow(context.Background(), 0)
	assert.ErrorIs(t, err, ErrAdminNotAuthorized)
}

func TestAdminService_RunCycleNow(t *testing.T) {
	_, _, runner, svc := newAdminFixture(t)

	report, err := svc.RunCycleNow(context.Background(), adminID)
	require.NoError(t, err)
	assert.Equal(t, 1, runner.calls)
	assert.Equal(t, 3, report.Sent)
	assert.True(t, report.Success)

	runner.err = ErrCycleInProgress
	_, err = svc.RunCycleNow(context.Background(), adminID)
	assert.ErrorIs(t, err, ErrCycleInProgress)
}

func TestAdminService_RemindSubscription(t *testing.T) {
	store, tc, _, svc := newAdminFixture(t)
	sub := newSub(standardUserID, "Netflix", time.Now().AddDate(0, 0, 20), subscription.LeadTwoDays)
	store.PutSubscription(sub)

	tc.On("SendMessage", mock.Anything, standardUserID, mock.Anything, mock.Anything).Return(nil).Once()

	out, err := svc.RemindSubscription(context.Background(), adminID, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, out.Status)

	out, err = svc.RemindSubscription(context.Background(), adminID, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, out.Status)

	tc.AssertExpectations(t)
}

func TestAdminService_GrantElevated(t *testing.T) {
	store, _, _, svc := newAdminFixture(t)
	ctx := context.Background()

	require.NoError(t, svc.GrantElevated(ctx, adminID, standardUserID))
	u, err := store.Users().GetByTelegramID(ctx, standardUserID)
	require.NoError(t, err)
	assert.Equal(t, user.PlanElevated, u.Plan)

	// Granting twice is harmless.
	require.NoError(t, svc.GrantElevated(ctx, adminID, standardUserID))

	err = svc.GrantElevated(ctx, adminID, 424242)
	assert.ErrorIs(t, err, user.ErrUserNotFound)
}

func TestAdminService_Stats(t *testing.T) {
	store, _, _, svc := newAdminFixture(t)
	end := time.Now().AddDate(0, 1, 0)
	store.PutSubscription(newSub(standardUserID, "Netflix", end, subscription.LeadTwoDays))
	store.PutSubscription(newSub(elevatedUserID, "Spotify", end, subscription.LeadTwoDays))
	inactive := newSub(elevatedUserID, "Hulu", end, subscription.LeadTwoDays)
	inactive.IsActive = false
	store.PutSubscription(inactive)

	stats, err := svc.Stats(context.Background(), adminID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalUsers)
	assert.Equal(t, int64(1), stats.ElevatedUsers)
	assert.Equal(t, int64(2), stats.ActiveSubscriptions)
	assert.InDelta(t, 33.33, stats.ConversionRate, 0.01)
}

func TestAdminService_StatsEmpty(t *testing.T) {
	store := memstore.New()
	svc := NewAdminService(store.Subscriptions(), store.Users(), nil, &stubRunner{}, adminID)

	stats, err := svc.Stats(context.Background(), adminID)
	require.NoError(t, err)
	assert.Zero(t, stats.ConversionRate)
}
