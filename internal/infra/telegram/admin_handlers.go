package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"subscription_reminder_bot/internal/app"
	"subscription_reminder_bot/internal/domain/subscription"
	"subscription_reminder_bot/internal/domain/user"
	"subscription_reminder_bot/internal/infra/scheduler"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const msgNotAuthorized = "Error: you are not allowed to run this command."

// AdminHandlers serves the operator commands.
type AdminHandlers struct {
	ctx          context.Context
	adminService *app.AdminService
	logger       *logrus.Entry
}

// RegisterAdminHandlers registers handlers for admin commands.
func RegisterAdminHandlers(ctx context.Context, b *telebot.Bot, adminService *app.AdminService, baseLogger *logrus.Entry) {
	h := &AdminHandlers{ctx: ctx, adminService: adminService, logger: baseLogger}
	b.Handle("/run_reminders", h.RunReminders)
	b.Handle("/remind", h.Remind)
	b.Handle("/stats", h.Stats)
	b.Handle("/grant_elevated", h.GrantElevated)
}

func (h *AdminHandlers) handlerLogger(c telebot.Context, handler string) *logrus.Entry {
	return h.logger.WithFields(logrus.Fields{
		"handler":   handler,
		"sender_id": c.Sender().ID,
	})
}

func (h *AdminHandlers) RunReminders(c telebot.Context) error {
	handlerLogger := h.handlerLogger(c, "/run_reminders")
	handlerLogger.Info("Command received")

	report, err := h.adminService.RunCycleNow(h.ctx, c.Sender().ID)
	if err != nil {
		logWithError := handlerLogger.WithError(err)
		switch {
		case errors.Is(err, app.ErrAdminNotAuthorized):
			logWithError.Warn("Unauthorized access attempt")
			return c.Send(msgNotAuthorized)
		case errors.Is(err, app.ErrCycleInProgress):
			logWithError.Info("Cycle already running")
			return c.Send("A reminder cycle is already running. Try again later.")
		case errors.Is(err, scheduler.ErrCycleLocked):
			logWithError.Info("Cycle held by another instance")
			return c.Send("Another instance is running a reminder cycle right now.")
		case errors.Is(err, app.ErrSchedulerStopped):
			return c.Send("The scheduler is shutting down.")
		default:
			logWithError.Error("Manual cycle failed")
			return c.Send(fmt.Sprintf("Reminder cycle failed: %s", err.Error()))
		}
	}

	handlerLogger.WithField("run_id", report.RunID.String()).Info("Manual cycle finished")

	var response strings.Builder
	fmt.Fprintf(&response, "Cycle %s finished in %s\n", report.RunID.String()[:8], report.Duration.Round(time.Millisecond))
	fmt.Fprintf(&response, "Due: %d\nSent: %d\nFailed: %d\nSkipped: %d\nDeactivated: %d",
		report.Due, report.Sent, report.Failed, report.Skipped, report.Deactivated)
	if !report.Success {
		fmt.Fprintf(&response, "\n\nErrors: %s", report.Error)
	}
	return c.Send(response.String())
}

func (h *AdminHandlers) Remind(c telebot.Context) error {
	handlerLogger := h.handlerLogger(c, "/remind")
	handlerLogger.Info("Command received")

	if !h.adminService.IsAdmin(c.Sender().ID) {
		handlerLogger.Warn("Unauthorized access attempt")
		return c.Send(msgNotAuthorized)
	}

	args := c.Args()
	// Expected format: /remind <SubscriptionID>
	if len(args) != 1 {
		return c.Send("Invalid format. Use: /remind <SubscriptionID>")
	}
	subscriptionID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || subscriptionID <= 0 {
		handlerLogger.WithField("arg", args[0]).Warn("Invalid subscription ID format")
		return c.Send("Error: subscription ID must be a positive number.")
	}
	handlerLogger = handlerLogger.WithField("subscription_id", subscriptionID)

	outcome, err := h.adminService.RemindSubscription(h.ctx, c.Sender().ID, subscriptionID)
	if err != nil {
		logWithError := handlerLogger.WithError(err)
		switch {
		case errors.Is(err, app.ErrAdminNotAuthorized):
			logWithError.Warn("Admin not authorized (service level)")
			return c.Send(msgNotAuthorized)
		case errors.Is(err, subscription.ErrSubscriptionNotFound):
			logWithError.Warn("Subscription not found")
			return c.Send(fmt.Sprintf("Subscription %d not found.", subscriptionID))
		default:
			logWithError.Error("Failed to send reminder")
			return c.Send(fmt.Sprintf("Could not send the reminder: %s", err.Error()))
		}
	}

	handlerLogger.WithField("outcome", outcome.Status).Info("Manual reminder processed")
	switch outcome.Status {
	case app.OutcomeSent:
		return c.Send(fmt.Sprintf("Reminder for subscription %d sent.", subscriptionID))
	case app.OutcomeSkipped:
		return c.Send(fmt.Sprintf("Reminder for subscription %d skipped: %s.", subscriptionID, outcome.Reason))
	default:
		return c.Send(fmt.Sprintf("Reminder for subscription %d failed: %s", subscriptionID, outcome.Reason))
	}
}

func (h *AdminHandlers) Stats(c telebot.Context) error {
	handlerLogger := h.handlerLogger(c, "/stats")

	stats, err := h.adminService.Stats(h.ctx, c.Sender().ID)
	if err != nil {
		if errors.Is(err, app.ErrAdminNotAuthorized) {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send(msgNotAuthorized)
		}
		handlerLogger.WithError(err).Error("Failed to collect stats")
		return c.Send(fmt.Sprintf("Could not collect stats: %s", err.Error()))
	}

	var response strings.Builder
	response.WriteString("📊 <b>Bot Statistics</b>\n\n")
	fmt.Fprintf(&response, "👥 Total users: %d\n", stats.TotalUsers)
	fmt.Fprintf(&response, "⭐ Elevated users: %d\n", stats.ElevatedUsers)
	fmt.Fprintf(&response, "📋 Active subscriptions: %d\n", stats.ActiveSubscriptions)
	fmt.Fprintf(&response, "📈 Conversion rate: %.1f%%", stats.ConversionRate)
	return c.Send(response.String(), &telebot.SendOptions{ParseMode: telebot.ModeHTML})
}

func (h *AdminHandlers) GrantElevated(c telebot.Context) error {
	handlerLogger := h.handlerLogger(c, "/grant_elevated")
	handlerLogger.Info("Command received")

	if !h.adminService.IsAdmin(c.Sender().ID) {
		handlerLogger.Warn("Unauthorized access attempt")
		return c.Send(msgNotAuthorized)
	}

	args := c.Args()
	// Expected format: /grant_elevated <TelegramID>
	if len(args) != 1 {
		return c.Send("Invalid format. Use: /grant_elevated <TelegramID>")
	}
	targetID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || targetID <= 0 {
		handlerLogger.WithField("arg", args[0]).Warn("Invalid user ID format")
		return c.Send("Error: user ID must be a positive number.")
	}
	handlerLogger = handlerLogger.WithField("target_id", targetID)

	if err := h.adminService.GrantElevated(h.ctx, c.Sender().ID, targetID); err != nil {
		logWithError := handlerLogger.WithError(err)
		switch {
		case errors.Is(err, app.ErrAdminNotAuthorized):
			logWithError.Warn("Admin not authorized (service level)")
			return c.Send(msgNotAuthorized)
		case errors.Is(err, user.ErrUserNotFound):
			logWithError.Warn("User not found")
			return c.Send(fmt.Sprintf("User %d not found. They need to /start the bot first.", targetID))
		default:
			logWithError.Error("Failed to grant elevated plan")
			return c.Send(fmt.Sprintf("Could not update the plan: %s", err.Error()))
		}
	}

	handlerLogger.Info("Elevated plan granted")
	return c.Send(fmt.Sprintf("✅ User %d is now on the elevated plan.", targetID))
}
