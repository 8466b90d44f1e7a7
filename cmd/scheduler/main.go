package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Freeeeeet/appointment_scheduler/internal/access"
	"github.com/Freeeeeet/appointment_scheduler/internal/app"
	"github.com/Freeeeeet/appointment_scheduler/internal/config"
	"github.com/Freeeeeet/appointment_scheduler/internal/controller"
	"github.com/Freeeeeet/appointment_scheduler/internal/notify"
	"github.com/Freeeeeet/appointment_scheduler/internal/repository"
	"github.com/Freeeeeet/appointment_scheduler/internal/service"
	"github.com/go-telegram/bot"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := app.NewLogger(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("Scheduler stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	pool, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return err
	}
	logger.Info("Connected to database")

	if cfg.MigrateOnStart {
		migrator, err := app.NewMigrator(pool, logger)
		if err != nil {
			return err
		}
		err = migrator.Run(ctx)
		migrator.Close()
		if err != nil {
			return err
		}
	}

	repo := repository.NewPostgres(pool)
	gate := access.NewGrantGate(repo.Grants, logger)

	dispatchers := notify.Multi{notify.NewLogDispatcher(logger)}

	var tg *bot.Bot
	if cfg.TelegramToken != "" {
		tg, err = bot.New(cfg.TelegramToken)
		if err != nil {
			return err
		}
		if cfg.NotifyChatID != 0 {
			dispatchers = append(dispatchers, notify.NewTelegramDispatcher(tg, cfg.NotifyChatID))
		}
	}

	notifier := notify.NewAsync(dispatchers, cfg.NotifyQueue, logger)
	notifier.Start(ctx)
	defer notifier.Stop()

	services := service.New(repo, gate, notifier, service.Options{Location: loc}, logger)

	logger.Info("Starting appointment scheduler",
		zap.String("environment", cfg.Environment),
		zap.String("timezone", loc.String()),
		zap.Bool("telegram", tg != nil))

	if tg == nil {
		<-ctx.Done()
		logger.Info("Shutting down")
		return nil
	}

	botController := controller.NewBotController(tg, services.Availability, controller.Options{Location: loc}, logger)
	if err := botController.RegisterHandlers(ctx); err != nil {
		logger.Warn("Failed to register bot commands", zap.Error(err))
	}

	botController.Start(ctx)
	logger.Info("Shutting down")
	return nil
}
