package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"subscription_reminder_bot/internal/domain/user"
)

type PostgresUserRepository struct {
	db *sql.DB
}

func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*user.User, error) {
	query := `SELECT telegram_id, username, first_name, plan, is_active, last_interaction, created_at
               FROM users WHERE telegram_id = $1`
	u := &user.User{}
	err := r.db.QueryRowContext(ctx, query, telegramID).Scan(
		&u.TelegramID, &u.Username, &u.FirstName, &u.Plan, &u.IsActive, &u.LastInteraction, &u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, user.ErrUserNotFound
		}
		return nil, fmt.Errorf("error getting user by Telegram ID: %w", err)
	}
	return u, nil
}

func (r *PostgresUserRepository) Upsert(ctx context.Context, u *user.User) error {
	if u.Plan == "" {
		u.Plan = user.PlanStandard
	}
	if u.LastInteraction.IsZero() {
		u.LastInteraction = time.Now().UTC()
	}
	query := `INSERT INTO users (telegram_id, username, first_name, plan, is_active, last_interaction)
               VALUES ($1, $2, $3, $4, TRUE, $5)
               ON CONFLICT (telegram_id) DO UPDATE
               SET username = EXCLUDED.username,
                   first_name = EXCLUDED.first_name,
                   last_interaction = EXCLUDED.last_interaction
               RETURNING plan, is_active, created_at`
	err := r.db.QueryRowContext(ctx, query, u.TelegramID, u.Username, u.FirstName, u.Plan, u.LastInteraction).
		Scan(&u.Plan, &u.IsActive, &u.CreatedAt)
	if err != nil {
		return fmt.Errorf("error upserting user: %w", err)
	}
	return nil
}

func (r *PostgresUserRepository) TouchInteraction(ctx context.Context, telegramID int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET last_interaction = $2 WHERE telegram_id = $1`, telegramID, at)
	if err != nil {
		return fmt.Errorf("error updating last interaction: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return user.ErrUserNotFound
	}
	return nil
}

func (r *PostgresUserRepository) SetPlan(ctx context.Context, telegramID int64, plan user.Plan) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET plan = $2 WHERE telegram_id = $1`, telegramID, plan)
	if err != nil {
		return fmt.Errorf("error updating user plan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading affected rows: %w", err)
	}
	if n == 0 {
		return user.ErrUserNotFound
	}
	return nil
}

func (r *PostgresUserRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("error counting users: %w", err)
	}
	return n, nil
}

func (r *PostgresUserRepository) CountByPlan(ctx context.Context, plan user.Plan) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE plan = $1`, plan).Scan(&n); err != nil {
		return 0, fmt.Errorf("error counting users by plan: %w", err)
	}
	return n, nil
}
