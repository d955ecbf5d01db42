// internal/infra/telegram/bot_commands_handler.go
package telegram

import (
	"context"
	"fmt"
	"html"
	"strings"

	"subscription_reminder_bot/internal/app"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// BotCommands serves /start and /help.
type BotCommands struct {
	ctx          context.Context
	userService  *app.UserService
	adminService *app.AdminService
	logger       *logrus.Entry
}

func RegisterBotCommands(
	ctx context.Context,
	b *telebot.Bot,
	userService *app.UserService,
	adminService *app.AdminService,
	baseLogger *logrus.Entry, // For contextual logging
) {
	h := &BotCommands{
		ctx:          ctx,
		userService:  userService,
		adminService: adminService,
		logger:       baseLogger.WithField("handler_group", "start_help"),
	}
	b.Handle("/start", h.Start)
	b.Handle("/help", h.Help)
}

func (h *BotCommands) Start(c telebot.Context) error {
	sender := c.Sender()
	logCtx := h.logger.WithField("command", "/start").WithField("sender_id", sender.ID)
	logCtx.Info("Processing /start command")

	u, err := h.userService.Register(h.ctx, sender.ID, sender.Username, sender.FirstName)
	if err != nil {
		logCtx.WithError(err).Error("Error registering user for /start command")
		return c.Send("Something went wrong while setting up your account. Please try again later.")
	}
	if !u.IsActive {
		logCtx.Info("User is deactivated")
		return c.Send("Your account is deactivated. Please contact support.")
	}

	name := sender.FirstName
	if name == "" {
		name = "there"
	}
	var msg strings.Builder
	fmt.Fprintf(&msg, "👋 Hi, %s!\n\n", html.EscapeString(name))
	msg.WriteString("I keep track of your subscriptions and remind you before they renew, ")
	msg.WriteString("so you have time to cancel the ones you no longer need.\n\n")
	if u.IsElevated() {
		msg.WriteString("⭐ You are on the elevated plan: pick reminders 1, 2, 3 or 7 days ahead and keep notes on each subscription.\n\n")
	} else {
		msg.WriteString("You get a reminder 2 days before each subscription ends.\n\n")
	}
	msg.WriteString("Use /help to see what I can do.")

	if h.adminService.IsAdmin(sender.ID) {
		logCtx.Info("User identified as Admin")
	}
	return c.Send(msg.String(), &telebot.SendOptions{ParseMode: telebot.ModeHTML})
}

func (h *BotCommands) Help(c telebot.Context) error {
	senderID := c.Sender().ID
	logCtx := h.logger.WithField("command", "/help").WithField("sender_id", senderID)
	logCtx.Info("Processing /help command")

	if err := h.userService.Touch(h.ctx, senderID); err != nil {
		logCtx.WithError(err).Warn("Could not record interaction")
	}

	var helpText strings.Builder
	helpText.WriteString("Available commands:\n\n")
	helpText.WriteString("/start - Register and show the welcome message\n")
	helpText.WriteString("/list - Show your active subscriptions\n")
	helpText.WriteString("/help - Show this message\n\n")
	helpText.WriteString("When a subscription is about to end I send you a reminder. ")
	helpText.WriteString("Press \"Mark as Canceled\" under it once you have canceled, and I will stop tracking that subscription.")

	if h.adminService.IsAdmin(senderID) {
		logCtx.Info("User identified as Admin, sending admin help.")
		helpText.WriteString("\n\nAdmin commands:\n\n")
		helpText.WriteString("/run_reminders - Run a reminder cycle now\n")
		helpText.WriteString("/remind <SubscriptionID> - Send one subscription's reminder now\n")
		helpText.WriteString("/stats - Show user and subscription totals\n")
		helpText.WriteString("/grant_elevated <TelegramID> - Move a user to the elevated plan")
	}
	return c.Send(helpText.String())
}
