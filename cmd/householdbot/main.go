package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"household-reminders/internal/bot"
	"household-reminders/internal/config"
	"household-reminders/internal/logger"
	"household-reminders/internal/repository"
	"household-reminders/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := logger.Init(cfg.LogDevelopment); err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	db, err := repository.NewDB(cfg.DatabaseURL)
	if err != nil {
		logger.Logger.Fatal("db", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err == nil {
		defer sqlDB.Close()
	}

	chatRepo := repository.NewChatRepository(db)
	reminderRepo := repository.NewReminderRepository(db)

	client, err := bot.NewClient(cfg.TelegramToken)
	if err != nil {
		logger.Logger.Fatal("bot", zap.Error(err))
	}

	catalog := service.NewCatalog(cfg.Templates)
	locks := service.NewRecordLocks()
	recurrence := service.NewRecurrenceService(reminderRepo, chatRepo, catalog, cfg.Location, cfg.RetentionDays)
	scheduler := service.NewSchedulerService(cfg.Location, reminderRepo, chatRepo, catalog, recurrence, locks, cfg.DailyRunAt)
	transitions := service.NewTransitionService(reminderRepo, catalog, scheduler, locks, cfg.Location, cfg.SnoozeInterval)
	reminderSvc := service.NewReminderService(reminderRepo, catalog, scheduler, client, cfg.Location)
	dialogs := service.NewDialogService(reminderSvc, cfg.Location)
	chatSvc := service.NewChatService(chatRepo, reminderRepo, catalog, scheduler, reminderSvc, transitions, dialogs, client)

	scheduler.OnDue(reminderSvc.NotifyDue)
	if err := scheduler.Start(ctx); err != nil {
		logger.Logger.Fatal("scheduler", zap.Error(err))
	}

	telegramBot := bot.New(client, chatSvc)

	logger.Info("household reminder bot started",
		zap.String("timezone", cfg.Location.String()),
		zap.Int("templates", len(cfg.Templates)),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return telegramBot.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		scheduler.Stop()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("bot stopped with error", err)
	}
	logger.Info("shutdown complete")
}
