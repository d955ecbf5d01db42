package user

import (
	"database/sql"
	"time"
)

// Plan is the account tier of a user.
type Plan string

const (
	PlanStandard Plan = "standard"
	PlanElevated Plan = "elevated"
)

// User is a bot user, identified by their Telegram ID.
type User struct {
	TelegramID      int64
	Username        sql.NullString
	FirstName       sql.NullString
	Plan            Plan
	IsActive        bool
	LastInteraction time.Time
	CreatedAt       time.Time
}

// IsElevated reports whether the user is on the elevated plan.
func (u *User) IsElevated() bool {
	return u.Plan == PlanElevated
}
