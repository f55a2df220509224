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
	"github.com/example/qqbot-delivery/internal/kafka/consumer"
	"github.com/example/qqbot-delivery/internal/kafka/producer"
	kafkapublisher "github.com/example/qqbot-delivery/internal/kafka/publisher"
	"github.com/example/qqbot-delivery/internal/logger"
	"github.com/example/qqbot-delivery/internal/scheduler"
	"github.com/example/qqbot-delivery/internal/worker"
	outboundvalidator "github.com/example/qqbot-delivery/internal/worker/validator/outbound"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fail("config load", err)
	}

	baseLogger, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		fail("logger init", err)
	}
	log := logger.ForService(baseLogger, "relay-worker")

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

	var dir directory.Directory
	var store scheduler.Store
	if cfg.Redis.Addr != "" {
		redisDir := directory.NewRedis(cfg.Redis.Addr)
		defer func() {
			if err := redisDir.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close directory store")
			}
		}()
		redisStore := scheduler.NewRedisStore(cfg.Redis.Addr)
		defer func() {
			if err := redisStore.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close reminder store")
			}
		}()
		dir = redisDir
		store = redisStore
	} else {
		log.Warn().Msg("REDIS_ADDR not set; using in-memory directory and reminder store")
		dir = directory.NewMemory()
		store = scheduler.NewMemoryStore()
	}

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

	consumerLogger := log.With().Str("component", "consumer").Logger()
	cons, err := consumer.New(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, consumerLogger, cfg.Retry.CommitOnSuccessOnly)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create kafka consumer")
	}
	defer func() {
		if err := cons.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close kafka consumer")
		}
	}()

	statusPublisher := kafkapublisher.NewStatusPublisher(prod, cfg.Topics.Status, log.With().Str("component", "status-publisher").Logger())
	dlqPublisher := kafkapublisher.NewDLQPublisher(prod, cfg.Topics.DLQ, log.With().Str("component", "dlq-publisher").Logger())

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

	validator := outboundvalidator.New(log.With().Str("component", "outbound-validator").Logger())

	engineCfg := worker.Config{
		MsgMaxBytes:       cfg.Limits.MsgMaxBytes,
		MaxAttempts:       cfg.Retry.MaxAttempts,
		BaseBackoff:       time.Duration(cfg.Retry.BaseBackoffSeconds) * time.Second,
		MaxBackoff:        time.Duration(cfg.Retry.MaxBackoffSeconds) * time.Second,
		WorkerConcurrency: cfg.Retry.WorkerConcurrency,
	}

	engine, err := worker.NewEngine(engineCfg, worker.Dependencies{
		Validator:       validator,
		Deliverer:       adapter,
		Scheduler:       store,
		Directory:       dir,
		StatusPublisher: statusPublisher,
		DLQPublisher:    dlqPublisher,
		Logger:          log.With().Str("component", "worker-engine").Logger(),
		Now:             time.Now,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise worker engine")
	}

	topics := []string{cfg.Topics.Outbound}
	handler := worker.KafkaHandler(engine, cons)

	errCh := make(chan error, 1)
	go func() {
		if err := cons.Consume(ctx, topics, handler); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
		close(errCh)
	}()

	log.Info().
		Str("outbound_topic", cfg.Topics.Outbound).
		Int("accounts", roster.Len()).
		Msg("relay worker started")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("consumer terminated with error")
		}
	}
}

func fail(stage string, err error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	logger.Fatal().Err(err).Str("stage", stage).Msg("relay worker init failed")
}
