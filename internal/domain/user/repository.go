package user

import (
	"context"
	"errors"
	"time"
)

var ErrUserNotFound = errors.New("user not found")

// Repository defines the operations for persisting and retrieving User entities.
type Repository interface {
	GetByTelegramID(ctx context.Context, telegramID int64) (*User, error)
	// Upsert creates the user or refreshes username/first name and last interaction.
	// Plan and active flag of an existing user are left untouched.
	Upsert(ctx context.Context, u *User) error
	TouchInteraction(ctx context.Context, telegramID int64, at time.Time) error
	SetPlan(ctx context.Context, telegramID int64, plan Plan) error
	Count(ctx context.Context) (int64, error)
	CountByPlan(ctx context.Context, plan Plan) (int64, error)
}
