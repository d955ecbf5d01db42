package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"subscription_reminder_bot/internal/app"
	"subscription_reminder_bot/internal/domain/subscription"
	"subscription_reminder_bot/internal/domain/user"
	"subscription_reminder_bot/internal/infra/config"
	idb "subscription_reminder_bot/internal/infra/database"
	"subscription_reminder_bot/internal/infra/httpserver"
	"subscription_reminder_bot/internal/infra/lock"
	"subscription_reminder_bot/internal/infra/logger"
	"subscription_reminder_bot/internal/infra/memstore"
	"subscription_reminder_bot/internal/infra/metrics"
	"subscription_reminder_bot/internal/infra/scheduler"
	"subscription_reminder_bot/internal/infra/telegram"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatalf("FATAL: Could not load application configuration: %v", err)
	}
	logger.Init(cfg)
	mainLogger := logger.Component("main")

	mainLogger.WithFields(logrus.Fields{
		"environment":       cfg.Environment,
		"log_level":         cfg.LogLevel,
		"admin_id":          cfg.AdminTelegramID,
		"reminder_interval": cfg.ReminderInterval.String(),
		"send_delay":        cfg.SendDelay.String(),
	}).Info("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store
	var (
		subRepo  subscription.Repository
		userRepo user.Repository
		pinger   httpserver.Pinger
	)
	if cfg.DatabaseURL != "" {
		db, err := idb.NewPostgresConnection(cfg.DatabaseURL)
		if err != nil {
			mainLogger.Fatalf("FATAL: Could not connect to database: %v", err)
		}
		defer db.Close()
		mainLogger.Info("Database connection established successfully.")

		if err := idb.Migrate(ctx, db, logger.Component("migrate")); err != nil {
			mainLogger.Fatalf("FATAL: Could not apply migrations: %v", err)
		}
		subRepo = idb.NewPostgresSubscriptionRepository(db)
		userRepo = idb.NewPostgresUserRepository(db)
		pinger = idb.NewPinger(db)
	} else {
		mainLogger.Warn("DATABASE_URL is not set, using the in-memory store. Data is lost on restart.")
		store := memstore.New()
		subRepo = store.Subscriptions()
		userRepo = store.Users()
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.New(registry)

	// Telegram Bot
	const pollTimeout = 10 * time.Second
	pref := telebot.Settings{
		Token:  cfg.TelegramToken,
		Poller: &telebot.LongPoller{Timeout: pollTimeout},
		Client: &http.Client{Timeout: max(cfg.SendTimeout, pollTimeout) + 5*time.Second},
		OnError: func(err error, c telebot.Context) { // Global error handler
			entry := logger.Component("telebot").WithError(err)
			if c != nil && c.Sender() != nil {
				entry = entry.WithField("sender_id", c.Sender().ID)
			}
			entry.Error("Telegram handler error")
		},
	}
	bot, err := telebot.NewBot(pref)
	if err != nil {
		mainLogger.Fatalf("FATAL: Could not create Telegram bot: %v", err)
	}
	telegramClient := telegram.NewTelebotAdapter(bot)

	// Services
	reminderService := app.NewReminderService(subRepo, userRepo, telegramClient, logger.Component("reminders"), collector,
		app.DispatchSettings{SendDelay: cfg.SendDelay, SendTimeout: cfg.SendTimeout})
	lifecycleService := app.NewLifecycleService(subRepo, logger.Component("lifecycle"), collector)
	userService := app.NewUserService(userRepo)

	// Optional cross-instance lock
	var cycleLock lock.Locker
	if cfg.RedisURL != "" {
		redisClient, err := lock.Connect(ctx, cfg.RedisURL)
		if err != nil {
			mainLogger.Fatalf("FATAL: Could not connect to Redis: %v", err)
		}
		defer redisClient.Close()
		cycleLock = lock.NewRedisLocker(redisClient, lock.DefaultKey, cfg.CycleLockTTL)
		mainLogger.Info("Distributed cycle lock enabled.")
	}

	reminderScheduler := scheduler.NewReminderScheduler(
		reminderService,
		lifecycleService,
		cycleLock,
		collector,
		logger.Component("scheduler"),
		cfg.ReminderInterval,
		cfg.CycleTimeout,
	)
	adminService := app.NewAdminService(subRepo, userRepo, reminderService, reminderScheduler, cfg.AdminTelegramID)

	// Register Handlers
	handlerLogger := logger.Component("telegram")
	telegram.RegisterBotCommands(ctx, bot, userService, adminService, handlerLogger)
	telegram.RegisterAdminHandlers(ctx, bot, adminService, handlerLogger)
	telegram.RegisterReminderHandlers(ctx, bot, lifecycleService, handlerLogger)
	mainLogger.Info("Telegram handlers registered.")

	if err := reminderScheduler.Start(); err != nil {
		mainLogger.Fatalf("FATAL: Could not start reminder scheduler: %v", err)
	}

	// HTTP
	if cfg.AdminAPIToken == "" {
		mainLogger.Info("ADMIN_API_TOKEN is not set, admin HTTP routes are disabled.")
	}
	srv := httpserver.New(cfg.HTTPAddr,
		httpserver.NewRouter(adminService, pinger, registry, cfg.AdminAPIToken, logger.Component("http")))
	go func() {
		mainLogger.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			mainLogger.WithError(err).Error("HTTP server failed")
			stop()
		}
	}()

	// Start bot in a goroutine so it doesn't block graceful shutdown handling
	go bot.Start()
	mainLogger.Info("Application setup complete. Bot and scheduler are running.")

	<-ctx.Done() // Block until a signal is received

	mainLogger.Info("Shutting down application...")
	bot.Stop()
	reminderScheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		mainLogger.WithError(err).Warn("HTTP server did not shut down cleanly")
	}
	mainLogger.Info("Application shut down gracefully.")
}
