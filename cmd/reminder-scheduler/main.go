package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/qqbot-delivery/internal/account"
	"github.com/example/qqbot-delivery/internal/config"
	"github.com/example/qqbot-delivery/internal/delivery"
	"github.com/example/qqbot-delivery/internal/directory"
	"github.com/example/qqbot-delivery/internal/kafka/producer"
	kafkapublisher "github.com/example/qqbot-delivery/internal/kafka/publisher"
	"github.com/example/qqbot-delivery/internal/logger"
	"github.com/example/qqbot-delivery/internal/scheduler"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fail("config load", err)
	}
	if cfg.Redis.Addr == "" {
		fail("config load", errors.New("REDIS_ADDR is required for the reminder scheduler"))
	}

	baseLogger, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		fail("logger init", err)
	}
	log := logger.ForService(baseLogger, "reminder-scheduler")

	roster, err := account.LoadRoster(cfg.Accounts.File)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.Accounts.File).Msg("failed to load account roster")
	}
	if cfg.Accounts.Watch {
		go func() {
			if err := account.Watch(ctx, roster, log.With().Str("component", "roster-watcher").Logger()); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("roster watcher stopped")
			}
		}()
	}

	dir := directory.NewRedis(cfg.Redis.Addr)
	defer func() {
		if err := dir.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close directory store")
		}
	}()

	store := scheduler.NewRedisStore(cfg.Redis.Addr)
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close reminder store")
		}
	}()

	kafkaLogger := log.With().Str("component", "kafka").Logger()
	prod, err := producer.New(cfg.Kafka.Brokers, kafkaLogger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create kafka producer")
	}
	defer func() {
		if err := prod.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close kafka producer")
		}
	}()

	statusPublisher := kafkapublisher.NewStatusPublisher(prod, cfg.Topics.Status, log.With().Str("component", "status-publisher").Logger())

	var provider delivery.Provider
	if cfg.Provider.Name == "mock" {
		log.Warn().Msg("PROVIDER=mock; deliveries are acknowledged without calling the platform")
		provider = delivery.NewMockProvider()
	} else {
		provider = delivery.NewQQProvider(
			time.Duration(cfg.Timeouts.ProviderTimeoutSeconds)*time.Second,
			log.With().Str("component", "qq-provider").Logger(),
		)
	}
	adapter, err := delivery.NewAdapter(roster, provider, log.With().Str("component", "delivery-adapter").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise delivery adapter")
	}

	dispatcher, err := scheduler.NewDispatcher(scheduler.Config{
		PollInterval: time.Duration(cfg.Scheduler.PollIntervalSeconds) * time.Second,
		BatchLimit:   cfg.Scheduler.BatchLimit,
	}, scheduler.Dependencies{
		Store:           store,
		Sender:          adapter,
		Directory:       dir,
		StatusPublisher: statusPublisher,
		Logger:          log.With().Str("component", "dispatcher").Logger(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise dispatcher")
	}

	log.Info().
		Int("poll_interval_seconds", cfg.Scheduler.PollIntervalSeconds).
		Int("batch_limit", cfg.Scheduler.BatchLimit).
		Msg("reminder scheduler started")

	if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("dispatcher terminated with error")
	}
	log.Info().Msg("shutdown complete")
}

func fail(stage string, err error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	logger.Fatal().Err(err).Str("stage", stage).Msg("reminder scheduler init failed")
}
