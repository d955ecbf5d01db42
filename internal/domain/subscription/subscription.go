package subscription

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// MaxServiceNameLength is the longest service name a subscription may carry.
const MaxServiceNameLength = 50

var (
	ErrEmptyServiceName    = errors.New("service name is empty")
	ErrServiceNameTooLong  = fmt.Errorf("service name exceeds %d characters", MaxServiceNameLength)
	ErrEndNotAfterStart    = errors.New("end date must be after start date")
	ErrUnknownReminderLead = errors.New("unknown reminder lead")
)

// Subscription is a tracked service subscription that expires at EndDate.
// Corresponds to the 'subscriptions' table.
type Subscription struct {
	ID                  int64
	UserID              int64 // Owner's Telegram ID (users.telegram_id)
	ServiceName         string
	Cost                sql.NullString // Free text, e.g. "$9.99/month"
	StartDate           time.Time
	EndDate             time.Time
	ReminderLead        ReminderLead
	Notes               sql.NullString // Shown to elevated users only
	IsActive            bool
	RemindedAt          sql.NullTime // Set once, after a confirmed send
	ReminderAttemptedAt sql.NullTime // Set right before a send is attempted
	CreatedAt           time.Time
}

// Validate checks the invariants a subscription must satisfy at creation time.
func (s *Subscription) Validate() error {
	if s.ServiceName == "" {
		return ErrEmptyServiceName
	}
	if utf8.RuneCountInString(s.ServiceName) > MaxServiceNameLength {
		return ErrServiceNameTooLong
	}
	if !s.EndDate.After(s.StartDate) {
		return ErrEndNotAfterStart
	}
	return nil
}

// TriggerAt is the instant the subscription becomes eligible for a reminder.
func (s *Subscription) TriggerAt() time.Time {
	return s.EndDate.AddDate(0, 0, -s.ReminderLead.Days())
}

// IsDue reports whether a reminder should be sent at now.
func (s *Subscription) IsDue(now time.Time) bool {
	return s.IsActive && !s.RemindedAt.Valid && !now.Before(s.TriggerAt())
}

// IsExpired reports whether the subscription has run past its end date.
func (s *Subscription) IsExpired(now time.Time) bool {
	return s.IsActive && !now.Before(s.EndDate)
}

// DaysRemaining is the whole number of days from now until EndDate, rounded down.
func (s *Subscription) DaysRemaining(now time.Time) int {
	d := s.EndDate.Sub(now)
	days := int(d / (24 * time.Hour))
	if d < 0 && d%(24*time.Hour) != 0 {
		days-- // floor for negative durations
	}
	return days
}
