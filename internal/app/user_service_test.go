package app

import (
	"context"
	"testing"
	"time"

	"subscription_reminder_bot/internal/domain/user"
	"subscription_reminder_bot/internal/infra/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserService_Register(t *testing.T) {
	store := memstore.New()
	svc := NewUserService(store.Users())
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }

	u, err := svc.Register(context.Background(), 555, "alice", "Alice")
	require.NoError(t, err)
	assert.Equal(t, user.PlanStandard, u.Plan)
	assert.True(t, u.IsActive)
	assert.Equal(t, "alice", u.Username.String)

	// An operator upgraded the user; registering again must not downgrade them.
	store.PutUser(&user.User{TelegramID: 555, Plan: user.PlanElevated, IsActive: true})
	u, err = svc.Register(context.Background(), 555, "", "Alice")
	require.NoError(t, err)
	assert.Equal(t, user.PlanElevated, u.Plan)
	assert.False(t, u.Username.Valid)
}

func TestUserService_Touch(t *testing.T) {
	store := memstore.New()
	seedUsers(store)
	svc := NewUserService(store.Users())
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return at }

	require.NoError(t, svc.Touch(context.Background(), standardUserID))
	got, err := store.Users().GetByTelegramID(context.Background(), standardUserID)
	require.NoError(t, err)
	assert.Equal(t, at, got.LastInteraction)

	assert.NoError(t, svc.Touch(context.Background(), 424242))
}
