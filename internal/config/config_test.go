package config_test

import (
	"reflect"
	"strings"
	"testing"

	"github.com/example/qqbot-delivery/internal/config"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("KAFKA_BROKERS", "broker-a:9092")
	t.Setenv("RELAY_CONSUMER_GROUP", "relay-consumer")
	t.Setenv("KAFKA_OUTBOUND_TOPIC", "chat.outbound")
	t.Setenv("KAFKA_STATUS_TOPIC", "chat.status")
	t.Setenv("KAFKA_DLQ_TOPIC", "chat.dlq")
	t.Setenv("ACCOUNTS_FILE", "/etc/qqbot/accounts.hujson")
}

func TestLoadSuccess(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("KAFKA_BROKERS", "broker-a:9092, broker-b:9093")
	t.Setenv("MAX_ATTEMPTS", "5")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("SCHEDULER_POLL_INTERVAL_SECONDS", "2")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantBrokers := []string{"broker-a:9092", "broker-b:9093"}
	if !reflect.DeepEqual(cfg.Kafka.Brokers, wantBrokers) {
		t.Fatalf("expected brokers %v, got %v", wantBrokers, cfg.Kafka.Brokers)
	}

	if cfg.App.Env != "production" {
		t.Fatalf("expected app env production, got %s", cfg.App.Env)
	}
	if cfg.App.LogLevel != "warn" {
		t.Fatalf("expected log level warn, got %s", cfg.App.LogLevel)
	}
	if cfg.Kafka.ConsumerGroup != "relay-consumer" {
		t.Fatalf("expected consumer group relay-consumer, got %s", cfg.Kafka.ConsumerGroup)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Fatalf("expected max attempts 5, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Redis.Addr != "redis:6379" {
		t.Fatalf("expected redis addr redis:6379, got %s", cfg.Redis.Addr)
	}
	if cfg.Scheduler.PollIntervalSeconds != 2 {
		t.Fatalf("expected poll interval 2, got %d", cfg.Scheduler.PollIntervalSeconds)
	}
	if cfg.Accounts.File != "/etc/qqbot/accounts.hujson" {
		t.Fatalf("unexpected accounts file %s", cfg.Accounts.File)
	}
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.App.Env != "development" {
		t.Fatalf("expected default env development, got %s", cfg.App.Env)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Fatalf("expected default max attempts 3, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.BaseBackoffSeconds != 10 || cfg.Retry.MaxBackoffSeconds != 120 {
		t.Fatalf("unexpected default backoff: %+v", cfg.Retry)
	}
	if !cfg.Retry.CommitOnSuccessOnly {
		t.Fatal("expected commit-on-success-only to default to true")
	}
	if cfg.Limits.MsgMaxBytes != 65536 {
		t.Fatalf("expected default msg max bytes 65536, got %d", cfg.Limits.MsgMaxBytes)
	}
	if cfg.Redis.Addr != "" {
		t.Fatalf("expected redis addr to default empty, got %s", cfg.Redis.Addr)
	}
	if !cfg.Accounts.Watch {
		t.Fatal("expected accounts watch to default to true")
	}
	if cfg.Scheduler.PollIntervalSeconds != 5 || cfg.Scheduler.BatchLimit != 50 {
		t.Fatalf("unexpected scheduler defaults: %+v", cfg.Scheduler)
	}
	if cfg.Timeouts.ProviderTimeoutSeconds != 30 {
		t.Fatalf("expected default provider timeout 30, got %d", cfg.Timeouts.ProviderTimeoutSeconds)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("RELAY_CONSUMER_GROUP", "relay-consumer")
	t.Setenv("KAFKA_OUTBOUND_TOPIC", "chat.outbound")
	t.Setenv("KAFKA_STATUS_TOPIC", "chat.status")
	t.Setenv("KAFKA_DLQ_TOPIC", "chat.dlq")
	t.Setenv("ACCOUNTS_FILE", "/etc/qqbot/accounts.hujson")
	t.Setenv("KAFKA_BROKERS", "")

	_, err := config.Load()
	if err == nil {
		t.Fatalf("expected error when KAFKA_BROKERS is missing")
	}
	if !strings.Contains(err.Error(), "KAFKA_BROKERS is required") {
		t.Fatalf("expected error message to mention missing brokers, got %q", err.Error())
	}
}

func TestLoadInvalidProvider(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PROVIDER", "smtp")

	_, err := config.Load()
	if err == nil {
		t.Fatalf("expected error for unsupported provider")
	}
	if !strings.Contains(err.Error(), "PROVIDER must be one of") {
		t.Fatalf("expected provider validation error, got %q", err.Error())
	}
}

func TestLoadAccumulatesErrors(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "broker-a:9092")
	t.Setenv("RELAY_CONSUMER_GROUP", "relay-consumer")
	t.Setenv("KAFKA_OUTBOUND_TOPIC", "chat.outbound")
	t.Setenv("KAFKA_STATUS_TOPIC", "")
	t.Setenv("KAFKA_DLQ_TOPIC", "")
	t.Setenv("ACCOUNTS_FILE", "/etc/qqbot/accounts.hujson")
	t.Setenv("MAX_ATTEMPTS", "not-a-number")

	_, err := config.Load()
	if err == nil {
		t.Fatalf("expected accumulated validation error")
	}

	msg := err.Error()
	for _, want := range []string{
		"KAFKA_STATUS_TOPIC is required",
		"KAFKA_DLQ_TOPIC is required",
		"MAX_ATTEMPTS must be a valid integer",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected error to contain %q, got %q", want, msg)
		}
	}
}
