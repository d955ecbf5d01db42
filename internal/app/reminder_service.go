// internal/app/reminder_service.go
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"html"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"subscription_reminder_bot/internal/domain/subscription"
	domainTelegram "subscription_reminder_bot/internal/domain/telegram"
	"subscription_reminder_bot/internal/domain/user"
	"subscription_reminder_bot/internal/infra/metrics"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"gopkg.in/telebot.v3"
)

// CancelSubscriptionUnique identifies the "Mark as canceled" inline button.
const CancelSubscriptionUnique = "cancel_sub"

const (
	DefaultSendDelay   = 100 * time.Millisecond
	DefaultSendTimeout = 10 * time.Second
)

// OutcomeStatus is the result of one dispatch attempt.
type OutcomeStatus string

const (
	OutcomeSent    OutcomeStatus = "sent"
	OutcomeFailed  OutcomeStatus = "failed"
	OutcomeSkipped OutcomeStatus = "skipped"
)

// Outcome describes what happened to a single subscription's reminder.
type Outcome struct {
	SubscriptionID int64
	Status         OutcomeStatus
	Reason         string
}

// DueReminder is a subscription whose trigger instant has passed, with its owner.
type DueReminder struct {
	Subscription *subscription.Subscription
	Owner        *user.User
	TriggerAt    time.Time
}

// CycleResult aggregates the dispatch outcomes of one batch.
type CycleResult struct {
	Due     int
	Sent    int
	Failed  int
	Skipped int
}

// DispatchSettings tunes delivery pacing.
type DispatchSettings struct {
	SendDelay   time.Duration // Pause between consecutive sends; 0 disables pacing
	SendTimeout time.Duration // Upper bound for one send
}

// ReminderService selects due subscriptions and delivers their reminders.
type ReminderService struct {
	subRepo        subscription.Repository
	userRepo       user.Repository
	telegramClient domainTelegram.Client
	logger         *logrus.Entry
	metrics        *metrics.Collector
	settings       DispatchSettings

	inFlight sync.Map // subscription ID -> struct{} while a send is running
}

func NewReminderService(
	sr subscription.Repository,
	ur user.Repository,
	tc domainTelegram.Client,
	logger *logrus.Entry,
	m *metrics.Collector,
	settings DispatchSettings,
) *ReminderService {
	if settings.SendTimeout <= 0 {
		settings.SendTimeout = DefaultSendTimeout
	}
	if settings.SendDelay < 0 {
		settings.SendDelay = 0
	}
	return &ReminderService{
		subRepo:        sr,
		userRepo:       ur,
		telegramClient: tc,
		logger:         logger,
		metrics:        m,
		settings:       settings,
	}
}

// SelectDue returns every active, not yet reminded subscription whose trigger
// instant is at or before now, owned by an active user, ordered by trigger instant.
func (s *ReminderService) SelectDue(ctx context.Context, now time.Time) ([]DueReminder, error) {
	candidates, err := s.subRepo.FindCandidates(ctx, now.AddDate(0, 0, subscription.MaxLeadDays))
	if err != nil {
		return nil, fmt.Errorf("failed to load reminder candidates: %w", err)
	}

	due := make([]DueReminder, 0, len(candidates))
	for _, c := range candidates {
		sub := c.Subscription
		if c.Owner == nil || !c.Owner.IsActive {
			continue
		}
		if !sub.EndDate.After(sub.StartDate) {
			s.logger.WithFields(logrus.Fields{
				"subscription_id": sub.ID,
				"start_date":      sub.StartDate,
				"end_date":        sub.EndDate,
			}).Warn("Skipping subscription with end date not after start date")
			continue
		}
		if !sub.IsDue(now) {
			continue
		}
		if sub.ReminderAttemptedAt.Valid {
			s.logger.WithFields(logrus.Fields{
				"subscription_id": sub.ID,
				"attempted_at":    sub.ReminderAttemptedAt.Time,
			}).Warn("Previous reminder attempt was not confirmed; the user may receive a duplicate")
		}
		due = append(due, DueReminder{Subscription: sub, Owner: c.Owner, TriggerAt: sub.TriggerAt()})
	}

	sort.SliceStable(due, func(i, j int) bool {
		if !due[i].TriggerAt.Equal(due[j].TriggerAt) {
			return due[i].TriggerAt.Before(due[j].TriggerAt)
		}
		return due[i].Subscription.ID < due[j].Subscription.ID
	})
	return due, nil
}

// Dispatch sends one reminder and records it. The send and the following
// writes are detached from ctx cancellation so a send is never cut in half.
// A subscription that is already reminded, or being dispatched by another
// caller in this process, is skipped without a send.
func (s *ReminderService) Dispatch(ctx context.Context, d DueReminder, now time.Time) Outcome {
	sub, owner := d.Subscription, d.Owner
	log := s.logger.WithFields(logrus.Fields{
		"subscription_id": sub.ID,
		"user_id":         owner.TelegramID,
	})

	if sub.RemindedAt.Valid {
		log.Debug("Subscription already reminded, not sending again")
		return s.outcome(sub.ID, OutcomeSkipped, "already reminded")
	}
	if _, busy := s.inFlight.LoadOrStore(sub.ID, struct{}{}); busy {
		log.Info("Reminder is already being sent, skipping")
		return s.outcome(sub.ID, OutcomeSkipped, "dispatch in progress")
	}
	defer s.inFlight.Delete(sub.ID)

	writeCtx := context.WithoutCancel(ctx)
	if err := s.subRepo.MarkReminderAttempted(writeCtx, sub.ID, now); err != nil {
		if errors.Is(err, subscription.ErrAlreadyReminded) {
			log.Debug("Subscription was reminded since it was selected, not sending again")
			return s.outcome(sub.ID, OutcomeSkipped, "already reminded")
		}
		log.WithError(err).Error("Failed to record reminder attempt; not sending")
		return s.outcome(sub.ID, OutcomeFailed, fmt.Sprintf("record attempt: %v", err))
	}

	text, opts := composeReminder(sub, owner, now)

	sendCtx, cancel := context.WithTimeout(writeCtx, s.settings.SendTimeout)
	err := s.telegramClient.SendMessage(sendCtx, owner.TelegramID, text, opts)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			// The message may still arrive; the attempt marker stays so the
			// next cycle reports the retry as unconfirmed.
			log.WithError(err).WithField("duplicate_risk", true).
				Warn("Reminder send timed out; delivery unknown, will retry next cycle")
			return s.outcome(sub.ID, OutcomeFailed, err.Error())
		}
		log.WithError(err).Warn("Failed to send reminder; will retry next cycle")
		if clearErr := s.subRepo.ClearReminderAttempt(writeCtx, sub.ID); clearErr != nil {
			log.WithError(clearErr).Warn("Failed to clear reminder attempt")
		}
		return s.outcome(sub.ID, OutcomeFailed, err.Error())
	}

	if err := s.subRepo.MarkReminded(writeCtx, sub.ID, now); err != nil {
		if errors.Is(err, subscription.ErrAlreadyReminded) {
			log.Warn("Reminder sent but subscription was already marked reminded by another writer")
		} else {
			log.WithError(err).WithField("duplicate_risk", true).
				Error("Reminder sent but reminded_at could not be recorded; the user may be reminded again")
		}
	} else {
		log.Info("Reminder sent")
	}
	sub.RemindedAt = sql.NullTime{Time: now, Valid: true}
	return s.outcome(sub.ID, OutcomeSent, "")
}

func (s *ReminderService) outcome(id int64, status OutcomeStatus, reason string) Outcome {
	s.metrics.ReminderOutcome(string(status))
	return Outcome{SubscriptionID: id, Status: status, Reason: reason}
}

// ProcessCycle selects due reminders and dispatches them one by one with pacing.
// Only a failure to read the store is returned as an error; per-item failures
// are counted and the batch continues. Cancelling ctx stops the batch at the
// next pacing wait.
func (s *ReminderService) ProcessCycle(ctx context.Context, now time.Time) (CycleResult, error) {
	var result CycleResult

	due, err := s.SelectDue(ctx, now)
	if err != nil {
		s.logger.WithError(err).Error("Reminder cycle aborted: could not read subscriptions")
		return result, err
	}
	result.Due = len(due)
	if len(due) == 0 {
		s.logger.Debug("No reminders due")
		return result, nil
	}
	s.logger.WithField("due", len(due)).Info("Dispatching due reminders")

	pacer := newPacer(s.settings.SendDelay)
	for _, d := range due {
		if err := pacer.Wait(ctx); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"sent":      result.Sent,
				"remaining": len(due) - (result.Sent + result.Failed + result.Skipped),
			}).Warn("Reminder cycle interrupted")
			return result, fmt.Errorf("reminder cycle interrupted: %w", err)
		}

		switch s.Dispatch(ctx, d, now).Status {
		case OutcomeSent:
			result.Sent++
		case OutcomeFailed:
			result.Failed++
		default:
			result.Skipped++
		}
	}

	s.logger.WithFields(logrus.Fields{
		"sent":    result.Sent,
		"failed":  result.Failed,
		"skipped": result.Skipped,
	}).Info("Processed reminders")
	return result, nil
}

// DispatchOne reminds a single subscription on demand, regardless of its
// trigger instant. Subscriptions already reminded are skipped.
func (s *ReminderService) DispatchOne(ctx context.Context, subscriptionID int64, now time.Time) (Outcome, error) {
	sub, err := s.subRepo.GetByID(ctx, subscriptionID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to load subscription %d: %w", subscriptionID, err)
	}
	if !sub.IsActive {
		return s.outcome(sub.ID, OutcomeSkipped, "subscription inactive"), nil
	}
	if sub.RemindedAt.Valid {
		return s.outcome(sub.ID, OutcomeSkipped, "already reminded"), nil
	}

	owner, err := s.userRepo.GetByTelegramID(ctx, sub.UserID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to load owner of subscription %d: %w", subscriptionID, err)
	}
	if !owner.IsActive {
		return s.outcome(sub.ID, OutcomeSkipped, "owner inactive"), nil
	}

	return s.Dispatch(ctx, DueReminder{Subscription: sub, Owner: owner, TriggerAt: sub.TriggerAt()}, now), nil
}

func newPacer(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

func composeReminder(sub *subscription.Subscription, owner *user.User, now time.Time) (string, *telebot.SendOptions) {
	var b strings.Builder
	name := html.EscapeString(sub.ServiceName)

	b.WriteString("🚨 <b>Subscription Reminder</b>\n\n")
	switch days := sub.DaysRemaining(now); {
	case days < 0:
		fmt.Fprintf(&b, "⚠️ <b>%s</b> has expired!\n\n", name)
	case days == 0:
		fmt.Fprintf(&b, "⚠️ <b>%s</b> expires today!\n\n", name)
	case days == 1:
		fmt.Fprintf(&b, "⚠️ <b>%s</b> expires in 1 day!\n\n", name)
	default:
		fmt.Fprintf(&b, "⚠️ <b>%s</b> expires in %d days!\n\n", name, days)
	}

	fmt.Fprintf(&b, "📅 <b>Expiry Date</b>: %s\n", sub.EndDate.UTC().Format("2006-01-02"))
	cost := "Not specified"
	if sub.Cost.Valid && sub.Cost.String != "" {
		cost = html.EscapeString(sub.Cost.String)
	}
	fmt.Fprintf(&b, "💰 <b>Cost</b>: %s\n", cost)

	if owner.IsElevated() && sub.Notes.Valid && sub.Notes.String != "" {
		fmt.Fprintf(&b, "📝 <b>Your Notes</b>: %s\n", html.EscapeString(sub.Notes.String))
	}

	b.WriteString("\n<b>Don't forget to cancel if you don't want to continue!</b>")

	markup := &telebot.ReplyMarkup{}
	btnCancel := markup.Data("✅ Mark as Canceled", CancelSubscriptionUnique, strconv.FormatInt(sub.ID, 10))
	markup.Inline(markup.Row(btnCancel))

	return b.String(), &telebot.SendOptions{ReplyMarkup: markup, ParseMode: telebot.ModeHTML}
}
