package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"subscription_reminder_bot/internal/domain/user"
)

// UserService registers bot users and tracks their activity.
type UserService struct {
	userRepo user.Repository
	now      func() time.Time
}

func NewUserService(ur user.Repository) *UserService {
	return &UserService{userRepo: ur, now: func() time.Time { return time.Now().UTC() }}
}

// Register creates the user on first contact or refreshes their profile.
// Plan and active flag of an existing user are left untouched.
func (s *UserService) Register(ctx context.Context, telegramID int64, username, firstName string) (*user.User, error) {
	u := &user.User{
		TelegramID:      telegramID,
		Username:        sql.NullString{String: username, Valid: username != ""},
		FirstName:       sql.NullString{String: firstName, Valid: firstName != ""},
		LastInteraction: s.now(),
	}
	if err := s.userRepo.Upsert(ctx, u); err != nil {
		return nil, fmt.Errorf("failed to register user %d: %w", telegramID, err)
	}
	return u, nil
}

// Touch records an interaction. Unknown users are ignored.
func (s *UserService) Touch(ctx context.Context, telegramID int64) error {
	err := s.userRepo.TouchInteraction(ctx, telegramID, s.now())
	if err != nil && !errors.Is(err, user.ErrUserNotFound) {
		return fmt.Errorf("failed to touch user %d: %w", telegramID, err)
	}
	return nil
}
