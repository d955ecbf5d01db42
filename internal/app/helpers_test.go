package app

import (
	"context"
	"time"

	"subscription_reminder_bot/internal/domain/subscription"
	"subscription_reminder_bot/internal/domain/user"
	"subscription_reminder_bot/internal/infra/memstore"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/mock"
	"gopkg.in/telebot.v3"
)

type mockTelegramClient struct {
	mock.Mock
}

func (m *mockTelegramClient) SendMessage(ctx context.Context, recipientChatID int64, text string, options *telebot.SendOptions) error {
	args := m.Called(ctx, recipientChatID, text, options)
	return args.Error(0)
}

func newTestLogger() (*logrus.Entry, *logtest.Hook) {
	l, hook := logtest.NewNullLogger()
	l.SetLevel(logrus.DebugLevel)
	return logrus.NewEntry(l), hook
}

const (
	standardUserID int64 = 100
	elevatedUserID int64 = 200
	inactiveUserID int64 = 300
)

func seedUsers(store *memstore.Store) {
	store.PutUser(&user.User{TelegramID: standardUserID, Plan: user.PlanStandard, IsActive: true})
	store.PutUser(&user.User{TelegramID: elevatedUserID, Plan: user.PlanElevated, IsActive: true})
	store.PutUser(&user.User{TelegramID: inactiveUserID, Plan: user.PlanStandard, IsActive: false})
}

func newSub(owner int64, name string, end time.Time, lead subscription.ReminderLead) *subscription.Subscription {
	return &subscription.Subscription{
		UserID:       owner,
		ServiceName:  name,
		StartDate:    end.AddDate(0, -1, 0),
		EndDate:      end,
		ReminderLead: lead,
		IsActive:     true,
	}
}

// failingSubRepo wraps a repository and injects errors into selected calls.
type failingSubRepo struct {
	subscription.Repository
	findErr       error
	expiredErr    error
	attemptErr    error
	markErr       error
	deactivateErr error
}

func (r *failingSubRepo) FindCandidates(ctx context.Context, horizon time.Time) ([]subscription.Candidate, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	return r.Repository.FindCandidates(ctx, horizon)
}

func (r *failingSubRepo) FindExpired(ctx context.Context, now time.Time) ([]*subscription.Subscription, error) {
	if r.expiredErr != nil {
		return nil, r.expiredErr
	}
	return r.Repository.FindExpired(ctx, now)
}

func (r *failingSubRepo) MarkReminderAttempted(ctx context.Context, id int64, at time.Time) error {
	if r.attemptErr != nil {
		return r.attemptErr
	}
	return r.Repository.MarkReminderAttempted(ctx, id, at)
}

func (r *failingSubRepo) MarkReminded(ctx context.Context, id int64, at time.Time) error {
	if r.markErr != nil {
		return r.markErr
	}
	return r.Repository.MarkReminded(ctx, id, at)
}

func (r *failingSubRepo) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	if r.deactivateErr != nil {
		return 0, r.deactivateErr
	}
	return r.Repository.DeactivateExpired(ctx, now)
}
