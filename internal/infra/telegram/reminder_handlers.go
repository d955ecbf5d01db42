package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"subscription_reminder_bot/internal/app"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// ReminderHandlers lists a user's subscriptions and reacts to the
// "Mark as canceled" buttons.
type ReminderHandlers struct {
	ctx       context.Context
	lifecycle *app.LifecycleService
	logger    *logrus.Entry
}

func RegisterReminderHandlers(ctx context.Context, b *telebot.Bot, lifecycle *app.LifecycleService, baseLogger *logrus.Entry) {
	h := &ReminderHandlers{ctx: ctx, lifecycle: lifecycle, logger: baseLogger}
	b.Handle("/list", h.List)
	b.Handle(&telebot.Btn{Unique: app.CancelSubscriptionUnique}, h.CancelSubscription)
}

func (h *ReminderHandlers) List(c telebot.Context) error {
	senderID := c.Sender().ID
	handlerLogger := h.logger.WithFields(logrus.Fields{
		"handler":   "/list",
		"sender_id": senderID,
	})

	subs, err := h.lifecycle.ListSubscriptions(h.ctx, senderID)
	if err != nil {
		handlerLogger.WithError(err).Error("Failed to list subscriptions")
		return c.Send("Something went wrong. Please try again later.")
	}
	if len(subs) == 0 {
		return c.Send("📭 You have no active subscriptions.")
	}

	now := time.Now().UTC()
	var response strings.Builder
	fmt.Fprintf(&response, "📋 <b>Your Subscriptions</b> (%d)\n\n", len(subs))

	markup := &telebot.ReplyMarkup{}
	rows := make([]telebot.Row, 0, len(subs))
	for _, sub := range subs {
		days := sub.DaysRemaining(now)
		status := "🟢"
		switch {
		case days <= 2:
			status = "🔴"
		case days <= 7:
			status = "🟡"
		}
		name := html.EscapeString(sub.ServiceName)
		fmt.Fprintf(&response, "%s <b>%s</b>\n", status, name)
		fmt.Fprintf(&response, "   📅 Expires: %s\n", sub.EndDate.UTC().Format("2006-01-02"))
		fmt.Fprintf(&response, "   ⏰ Days left: %d\n", days)
		if sub.Cost.Valid && sub.Cost.String != "" {
			fmt.Fprintf(&response, "   💰 Cost: %s\n", html.EscapeString(sub.Cost.String))
		}
		response.WriteString("\n")

		rows = append(rows, markup.Row(
			markup.Data("🗑 Delete "+sub.ServiceName, app.CancelSubscriptionUnique, strconv.FormatInt(sub.ID, 10)),
		))
	}
	markup.Inline(rows...)

	handlerLogger.WithField("count", len(subs)).Info("Listed subscriptions")
	return c.Send(response.String(), &telebot.SendOptions{ParseMode: telebot.ModeHTML, ReplyMarkup: markup})
}

func (h *ReminderHandlers) CancelSubscription(c telebot.Context) error {
	data := c.Data()
	handlerLogger := h.logger.WithFields(logrus.Fields{
		"handler":   app.CancelSubscriptionUnique,
		"sender_id": c.Sender().ID,
	})

	subscriptionID, err := strconv.ParseInt(data, 10, 64)
	if err != nil {
		handlerLogger.WithField("data", data).Warn("Invalid subscription ID in callback")
		return c.Respond(&telebot.CallbackResponse{Text: "Invalid subscription."})
	}
	handlerLogger = handlerLogger.WithField("subscription_id", subscriptionID)

	sub, err := h.lifecycle.CancelSubscription(h.ctx, c.Sender().ID, subscriptionID)
	if err != nil {
		if errors.Is(err, app.ErrNotSubscriptionOwner) {
			handlerLogger.Warn("Cancel requested for a subscription the sender does not own")
			return c.Respond(&telebot.CallbackResponse{Text: "Subscription not found."})
		}
		handlerLogger.WithError(err).Error("Failed to cancel subscription")
		return c.Respond(&telebot.CallbackResponse{Text: "Something went wrong. Please try again."})
	}

	handlerLogger.Info("Subscription marked as canceled")
	if err := c.Respond(&telebot.CallbackResponse{Text: "Marked as canceled."}); err != nil {
		handlerLogger.WithError(err).Warn("Could not answer callback")
	}
	return c.Edit(fmt.Sprintf("✅ %s is marked as canceled. You will not get further reminders for it.", sub.ServiceName))
}
