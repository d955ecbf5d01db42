// Package memstore keeps subscriptions and users in process memory.
// It implements the same repository interfaces as the Postgres store and is
// used for local development without a database and in service tests.
package memstore

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"subscription_reminder_bot/internal/domain/subscription"
	"subscription_reminder_bot/internal/domain/user"
)

// Store holds both tables behind one mutex so joins see a consistent view.
type Store struct {
	mu     sync.RWMutex
	nextID int64
	subs   map[int64]*subscription.Subscription
	users  map[int64]*user.User
}

func New() *Store {
	return &Store{
		subs:  make(map[int64]*subscription.Subscription),
		users: make(map[int64]*user.User),
	}
}

// Subscriptions returns a view of the store implementing subscription.Repository.
func (s *Store) Subscriptions() *SubscriptionRepository {
	return &SubscriptionRepository{store: s}
}

// Users returns a view of the store implementing user.Repository.
func (s *Store) Users() *UserRepository {
	return &UserRepository{store: s}
}

func copySub(in *subscription.Subscription) *subscription.Subscription {
	out := *in
	return &out
}

func copyUser(in *user.User) *user.User {
	out := *in
	return &out
}

type SubscriptionRepository struct {
	store *Store
}

func (r *SubscriptionRepository) Create(_ context.Context, sub *subscription.Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	r.store.nextID++
	sub.ID = r.store.nextID
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	r.store.subs[sub.ID] = copySub(sub)
	return nil
}

func (r *SubscriptionRepository) GetByID(_ context.Context, id int64) (*subscription.Subscription, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	sub, ok := r.store.subs[id]
	if !ok {
		return nil, subscription.ErrSubscriptionNotFound
	}
	return copySub(sub), nil
}

func (r *SubscriptionRepository) FindCandidates(_ context.Context, horizon time.Time) ([]subscription.Candidate, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	candidates := make([]subscription.Candidate, 0)
	for _, sub := range r.store.subs {
		if !sub.IsActive || sub.RemindedAt.Valid || sub.EndDate.After(horizon) {
			continue
		}
		owner, ok := r.store.users[sub.UserID]
		if !ok || !owner.IsActive {
			continue
		}
		candidates = append(candidates, subscription.Candidate{Subscription: copySub(sub), Owner: copyUser(owner)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i].Subscription, candidates[j].Subscription
		if !a.EndDate.Equal(b.EndDate) {
			return a.EndDate.Before(b.EndDate)
		}
		return a.ID < b.ID
	})
	return candidates, nil
}

func (r *SubscriptionRepository) FindByUser(_ context.Context, userID int64) ([]*subscription.Subscription, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	subs := make([]*subscription.Subscription, 0)
	for _, sub := range r.store.subs {
		if sub.IsActive && sub.UserID == userID {
			subs = append(subs, copySub(sub))
		}
	}
	sort.Slice(subs, func(i, j int) bool {
		if !subs[i].EndDate.Equal(subs[j].EndDate) {
			return subs[i].EndDate.Before(subs[j].EndDate)
		}
		return subs[i].ID < subs[j].ID
	})
	return subs, nil
}

func (r *SubscriptionRepository) FindExpired(_ context.Context, now time.Time) ([]*subscription.Subscription, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	expired := make([]*subscription.Subscription, 0)
	for _, sub := range r.store.subs {
		if sub.IsActive && sub.EndDate.Before(now) {
			expired = append(expired, copySub(sub))
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ID < expired[j].ID })
	return expired, nil
}

func (r *SubscriptionRepository) MarkReminderAttempted(_ context.Context, id int64, at time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	sub, ok := r.store.subs[id]
	if !ok {
		return subscription.ErrSubscriptionNotFound
	}
	if sub.RemindedAt.Valid {
		return subscription.ErrAlreadyReminded
	}
	sub.ReminderAttemptedAt = sql.NullTime{Time: at, Valid: true}
	return nil
}

func (r *SubscriptionRepository) ClearReminderAttempt(_ context.Context, id int64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	sub, ok := r.store.subs[id]
	if !ok {
		return subscription.ErrSubscriptionNotFound
	}
	if !sub.RemindedAt.Valid {
		sub.ReminderAttemptedAt = sql.NullTime{}
	}
	return nil
}

func (r *SubscriptionRepository) MarkReminded(_ context.Context, id int64, at time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	sub, ok := r.store.subs[id]
	if !ok {
		return subscription.ErrSubscriptionNotFound
	}
	if sub.RemindedAt.Valid {
		return subscription.ErrAlreadyReminded
	}
	sub.RemindedAt = sql.NullTime{Time: at, Valid: true}
	return nil
}

func (r *SubscriptionRepository) DeactivateExpired(_ context.Context, now time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var n int64
	for _, sub := range r.store.subs {
		if sub.IsActive && sub.EndDate.Before(now) {
			sub.IsActive = false
			n++
		}
	}
	return n, nil
}

func (r *SubscriptionRepository) Deactivate(_ context.Context, id int64, userID int64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	sub, ok := r.store.subs[id]
	if !ok || sub.UserID != userID {
		return subscription.ErrSubscriptionNotFound
	}
	sub.IsActive = false
	return nil
}

func (r *SubscriptionRepository) CountActive(_ context.Context) (int64, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var n int64
	for _, sub := range r.store.subs {
		if sub.IsActive {
			n++
		}
	}
	return n, nil
}

type UserRepository struct {
	store *Store
}

func (r *UserRepository) GetByTelegramID(_ context.Context, telegramID int64) (*user.User, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	u, ok := r.store.users[telegramID]
	if !ok {
		return nil, user.ErrUserNotFound
	}
	return copyUser(u), nil
}

func (r *UserRepository) Upsert(_ context.Context, u *user.User) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if u.LastInteraction.IsZero() {
		u.LastInteraction = time.Now().UTC()
	}
	if existing, ok := r.store.users[u.TelegramID]; ok {
		existing.Username = u.Username
		existing.FirstName = u.FirstName
		existing.LastInteraction = u.LastInteraction
		*u = *copyUser(existing)
		return nil
	}

	if u.Plan == "" {
		u.Plan = user.PlanStandard
	}
	u.IsActive = true
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	r.store.users[u.TelegramID] = copyUser(u)
	return nil
}

func (r *UserRepository) TouchInteraction(_ context.Context, telegramID int64, at time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	u, ok := r.store.users[telegramID]
	if !ok {
		return user.ErrUserNotFound
	}
	u.LastInteraction = at
	return nil
}

func (r *UserRepository) SetPlan(_ context.Context, telegramID int64, plan user.Plan) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	u, ok := r.store.users[telegramID]
	if !ok {
		return user.ErrUserNotFound
	}
	u.Plan = plan
	return nil
}

func (r *UserRepository) Count(_ context.Context) (int64, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return int64(len(r.store.users)), nil
}

func (r *UserRepository) CountByPlan(_ context.Context, plan user.Plan) (int64, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var n int64
	for _, u := range r.store.users {
		if u.Plan == plan {
			n++
		}
	}
	return n, nil
}

// PutUser stores u as is, including plan and active flag.
// Upsert never changes those, so tests and seeding go through here.
func (s *Store) PutUser(u *user.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.TelegramID] = copyUser(u)
}

// PutSubscription stores sub as is, skipping validation. It assigns an ID when sub.ID is zero.
func (s *Store) PutSubscription(sub *subscription.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.ID == 0 {
		s.nextID++
		sub.ID = s.nextID
	} else if sub.ID > s.nextID {
		s.nextID = sub.ID
	}
	s.subs[sub.ID] = copySub(sub)
}
