package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"subscription_reminder_bot/internal/domain/subscription"
	"subscription_reminder_bot/internal/domain/user"
)

const subscriptionColumns = `s.id, s.user_id, s.service_name, s.cost, s.start_date, s.end_date,
	s.reminder_lead, s.notes, s.is_active, s.reminded_at, s.reminder_attempted_at, s.created_at`

type PostgresSubscriptionRepository struct {
	db *sql.DB
}

func NewPostgresSubscriptionRepository(db *sql.DB) *PostgresSubscriptionRepository {
	return &PostgresSubscriptionRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner, dest ...any) (*subscription.Subscription, error) {
	s := &subscription.Subscription{}
	fields := []any{
		&s.ID, &s.UserID, &s.ServiceName, &s.Cost, &s.StartDate, &s.EndDate,
		&s.ReminderLead, &s.Notes, &s.IsActive, &s.RemindedAt, &s.ReminderAttemptedAt, &s.CreatedAt,
	}
	if err := row.Scan(append(fields, dest...)...); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PostgresSubscriptionRepository) Create(ctx context.Context, s *subscription.Subscription) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid subscription: %w", err)
	}
	query := `INSERT INTO subscriptions (user_id, service_name, cost, start_date, end_date, reminder_lead, notes, is_active)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
               RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query,
		s.UserID, s.ServiceName, s.Cost, s.StartDate, s.EndDate, s.ReminderLead, s.Notes, s.IsActive,
	).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return fmt.Errorf("error creating subscription: %w", err)
	}
	return nil
}

func (r *PostgresSubscriptionRepository) GetByID(ctx context.Context, id int64) (*subscription.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions s WHERE s.id = $1`
	s, err := scanSubscription(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, subscription.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("error getting subscription by ID: %w", err)
	}
	return s, nil
}

func (r *PostgresSubscriptionRepository) FindCandidates(ctx context.Context, horizon time.Time) ([]subscription.Candidate, error) {
	query := `SELECT ` + subscriptionColumns + `,
	                 u.telegram_id, u.username, u.first_name, u.plan, u.is_active, u.last_interaction, u.created_at
               FROM subscriptions s
               JOIN users u ON u.telegram_id = s.user_id
               WHERE s.is_active = TRUE
                 AND s.reminded_at IS NULL
                 AND u.is_active = TRUE
                 AND s.end_date <= $1
               ORDER BY s.end_date ASC, s.id ASC`
	rows, err := r.db.QueryContext(ctx, query, horizon)
	if err != nil {
		return nil, fmt.Errorf("error querying reminder candidates: %w", err)
	}
	defer rows.Close()

	candidates := make([]subscription.Candidate, 0)
	for rows.Next() {
		u := &user.User{}
		s, err := scanSubscription(rows,
			&u.TelegramID, &u.Username, &u.FirstName, &u.Plan, &u.IsActive, &u.LastInteraction, &u.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning reminder candidate: %w", err)
		}
		candidates = append(candidates, subscription.Candidate{Subscription: s, Owner: u})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reminder candidates: %w", err)
	}
	return candidates, nil
}

func (r *PostgresSubscriptionRepository) FindByUser(ctx context.Context, userID int64) ([]*subscription.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions s
               WHERE s.user_id = $1 AND s.is_active = TRUE
               ORDER BY s.end_date ASC, s.id ASC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("error querying user subscriptions: %w", err)
	}
	defer rows.Close()

	subs := make([]*subscription.Subscription, 0)
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning user subscription: %w", err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user subscriptions: %w", err)
	}
	return subs, nil
}

func (r *PostgresSubscriptionRepository) FindExpired(ctx context.Context, now time.Time) ([]*subscription.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions s
               WHERE s.is_active = TRUE AND s.end_date < $1
               ORDER BY s.end_date ASC, s.id ASC`
	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("error querying expired subscriptions: %w", err)
	}
	defer rows.Close()

	subs := make([]*subscription.Subscription, 0)
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning expired subscription: %w", err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating expired subscriptions: %w", err)
	}
	return subs, nil
}

// MarkReminderAttempted stamps reminder_attempted_at on a row that is not yet
// reminded. It returns ErrAlreadyReminded when reminded_at is already set.
func (r *PostgresSubscriptionRepository) MarkReminderAttempted(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE subscriptions SET reminder_attempted_at = $2 WHERE id = $1 AND reminded_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("error marking reminder attempt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading affected rows: %w", err)
	}
	if n > 0 {
		return nil
	}
	return r.notUpdatedReason(ctx, id)
}

func (r *PostgresSubscriptionRepository) ClearReminderAttempt(ctx context.Context, id int64) error {
	query := `UPDATE subscriptions SET reminder_attempted_at = NULL WHERE id = $1 AND reminded_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("error clearing reminder attempt: %w", err)
	}
	return nil
}

// MarkReminded writes reminded_at once. A second call for the same row
// returns ErrAlreadyReminded and leaves the stored value untouched.
func (r *PostgresSubscriptionRepository) MarkReminded(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE subscriptions SET reminded_at = $2 WHERE id = $1 AND reminded_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("error marking subscription reminded: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading affected rows: %w", err)
	}
	if n > 0 {
		return nil
	}
	return r.notUpdatedReason(ctx, id)
}

// notUpdatedReason tells a missing row from one already reminded after a
// conditional update matched nothing.
func (r *PostgresSubscriptionRepository) notUpdatedReason(ctx context.Context, id int64) error {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM subscriptions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("error checking subscription existence: %w", err)
	}
	if !exists {
		return subscription.ErrSubscriptionNotFound
	}
	return subscription.ErrAlreadyReminded
}

func (r *PostgresSubscriptionRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `UPDATE subscriptions SET is_active = FALSE WHERE is_active = TRUE AND end_date < $1`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("error deactivating expired subscriptions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error reading affected rows: %w", err)
	}
	return n, nil
}

func (r *PostgresSubscriptionRepository) Deactivate(ctx context.Context, id int64, userID int64) error {
	query := `UPDATE subscriptions SET is_active = FALSE WHERE id = $1 AND user_id = $2`
	res, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("error deactivating subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading affected rows: %w", err)
	}
	if n == 0 {
		return subscription.ErrSubscriptionNotFound
	}
	return nil
}

func (r *PostgresSubscriptionRepository) CountActive(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscriptions WHERE is_active = TRUE`).Scan(&n); err != nil {
		return 0, fmt.Errorf("error counting active subscriptions: %w", err)
	}
	return n, nil
}
