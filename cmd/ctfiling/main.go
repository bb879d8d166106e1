package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Spok95/ct-filing/internal/app"
	"github.com/Spok95/ct-filing/internal/config"
	"github.com/Spok95/ct-filing/internal/db"
	"github.com/Spok95/ct-filing/internal/export"
	"github.com/Spok95/ct-filing/internal/filing"
	"github.com/Spok95/ct-filing/internal/jobs"
	"github.com/Spok95/ct-filing/internal/logging"
	"github.com/Spok95/ct-filing/internal/observability"
	"github.com/Spok95/ct-filing/internal/tg"
)

var release = "dev"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Не удалось загрузить .env файл, используем переменные окружения")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	lg, err := logging.Init(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer lg.Closer()
	logger := lg.Base

	flush, err := observability.InitSentry(cfg.SentryDSN, cfg.Env, release)
	if err != nil {
		logger.Warn("sentry init failed", zap.Error(err))
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db open", zap.Error(err))
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	store := db.NewStore(database)
	svc := filing.New(store, export.NewWorkbookExporter(cfg.Location), logger)

	if cfg.SkipAuth() {
		logger.Warn("JWT_SECRET is empty: API runs without authentication (dev)")
	}
	router := app.NewRouter(app.Deps{
		Engine: svc,
		DB:     store,
		Auth:   app.NewAuth(cfg.JWTSecret, cfg.SkipAuth()),
		Log:    logger,
	})
	app.StartHTTP(ctx, cfg.HTTPAddr, router, logger)
	logger.Info("http server started", zap.String("addr", cfg.HTTPAddr))

	runner := jobs.New(ctx, logger, cfg.Location)
	if err := runner.Cron(cfg.OverdueSchedule, "overdue_sweep",
		jobs.OverdueSweep(store, time.Now, cfg.Location, logger)); err != nil {
		logger.Fatal("schedule", zap.Error(err))
	}
	runner.Every(30*time.Second, "db_heartbeat", jobs.DBHeartbeat(store))

	if cfg.BotToken != "" {
		bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
		if err != nil {
			logger.Fatal("telegram bot", zap.Error(err))
		}
		logger.Info("telegram bot started", zap.String("username", bot.Self.UserName))

		notifier := tg.NewNotifier(bot, cfg.NotifyChatIDs)
		if err := runner.Cron(cfg.ReminderSchedule, "due_reminder",
			jobs.DueReminder(store, notifier, cfg.DueSoonDays, time.Now, cfg.Location, logger)); err != nil {
			logger.Fatal("schedule", zap.Error(err))
		}

		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := bot.GetUpdatesChan(u)
		go tg.NewCommands(bot, store, cfg.NotifyChatIDs, cfg.DueSoonDays, cfg.Location, logger).Run(ctx, updates)
		defer bot.StopReceivingUpdates()
	} else {
		logger.Info("BOT_TOKEN is empty: telegram reminders are disabled")
	}

	<-ctx.Done()
	logger.Info("shutting down")
}
