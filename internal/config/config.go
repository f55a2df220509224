package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config captures all runtime configuration for the relay and scheduler
// binaries.
type Config struct {
	App       AppConfig
	Kafka     KafkaConfig
	Topics    TopicConfig
	Retry     RetryConfig
	Limits    LimitConfig
	Redis     RedisConfig
	Accounts  AccountConfig
	Scheduler SchedulerConfig
	Timeouts  TimeoutConfig
	Provider  ProviderConfig
}

// AppConfig contains generic application level settings.
type AppConfig struct {
	Env      string
	LogLevel string
}

// KafkaConfig defines broker information for the outbound event stream.
type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
}

// TopicConfig enumerates the topics the relay reads from and writes to.
type TopicConfig struct {
	Outbound string
	Status   string
	DLQ      string
}

// RetryConfig controls worker retry and backoff behaviour.
type RetryConfig struct {
	MaxAttempts         int
	BaseBackoffSeconds  int
	MaxBackoffSeconds   int
	WorkerConcurrency   int
	CommitOnSuccessOnly bool
}

// LimitConfig bounds inbound record sizes before the payload codec runs.
type LimitConfig struct {
	MsgMaxBytes int
}

// RedisConfig points at the store backing the directory and the reminder
// schedule. An empty address selects the in-memory implementations.
type RedisConfig struct {
	Addr string
}

// AccountConfig locates the bot-account roster file.
type AccountConfig struct {
	File  string
	Watch bool
}

// SchedulerConfig controls reminder polling.
type SchedulerConfig struct {
	PollIntervalSeconds int
	BatchLimit          int
}

// TimeoutConfig contains timeout thresholds for the platform provider.
type TimeoutConfig struct {
	ProviderTimeoutSeconds int
}

// ProviderConfig selects the platform provider implementation.
type ProviderConfig struct {
	Name string
}

// Load reads environment variables, applies defaults, validates required
// values and returns a populated Config instance.
func Load() (*Config, error) {
	_ = godotenv.Load()

	ldr := &envLoader{}

	cfg := &Config{}
	cfg.App.Env = ldr.getString("APP_ENV", "development", false)
	cfg.App.LogLevel = ldr.getString("LOG_LEVEL", "info", false)

	cfg.Kafka.Brokers = ldr.getStringSlice("KAFKA_BROKERS", true)
	cfg.Kafka.ConsumerGroup = ldr.getString("RELAY_CONSUMER_GROUP", "", true)

	cfg.Topics.Outbound = ldr.getString("KAFKA_OUTBOUND_TOPIC", "", true)
	cfg.Topics.Status = ldr.getString("KAFKA_STATUS_TOPIC", "", true)
	cfg.Topics.DLQ = ldr.getString("KAFKA_DLQ_TOPIC", "", true)

	cfg.Retry.MaxAttempts = ldr.getInt("MAX_ATTEMPTS", 3, false)
	cfg.Retry.BaseBackoffSeconds = ldr.getInt("BASE_BACKOFF_SECONDS", 10, false)
	cfg.Retry.MaxBackoffSeconds = ldr.getInt("MAX_BACKOFF_SECONDS", 120, false)
	cfg.Retry.WorkerConcurrency = ldr.getInt("WORKER_CONCURRENCY", 10, false)
	cfg.Retry.CommitOnSuccessOnly = ldr.getBool("COMMIT_ON_SUCCESS_ONLY", true, false)

	cfg.Limits.MsgMaxBytes = ldr.getInt("MSG_MAX_BYTES", 65536, false)

	cfg.Redis.Addr = ldr.getString("REDIS_ADDR", "", false)

	cfg.Accounts.File = ldr.getString("ACCOUNTS_FILE", "", true)
	cfg.Accounts.Watch = ldr.getBool("ACCOUNTS_WATCH", true, false)

	cfg.Scheduler.PollIntervalSeconds = ldr.getInt("SCHEDULER_POLL_INTERVAL_SECONDS", 5, false)
	cfg.Scheduler.BatchLimit = ldr.getInt("SCHEDULER_BATCH_LIMIT", 50, false)

	cfg.Timeouts.ProviderTimeoutSeconds = ldr.getInt("PROVIDER_TIMEOUT_SECONDS", 30, false)

	cfg.Provider.Name = strings.ToLower(ldr.getString("PROVIDER", "qq", false))
	switch cfg.Provider.Name {
	case "qq", "mock":
	default:
		ldr.addError("PROVIDER must be one of qq, mock")
	}

	if err := ldr.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

type envLoader struct {
	errs []string
}

func (l *envLoader) validate() error {
	if len(l.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(l.errs, "; "))
}

func (l *envLoader) getString(key, def string, required bool) string {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val == "" {
			if required {
				l.addError(fmt.Sprintf("%s is required", key))
			}
			return def
		}
		return val
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

func (l *envLoader) getInt(key string, def int, required bool) int {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val == "" {
			if required {
				l.addError(fmt.Sprintf("%s is required", key))
			}
			return def
		}
		i, err := strconv.Atoi(val)
		if err != nil {
			l.addError(fmt.Sprintf("%s must be a valid integer", key))
			return def
		}
		return i
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

func (l *envLoader) getBool(key string, def bool, required bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val == "" {
			if required {
				l.addError(fmt.Sprintf("%s is required", key))
			}
			return def
		}
		parsed, err := strconv.ParseBool(val)
		if err != nil {
			l.addError(fmt.Sprintf("%s must be a valid boolean", key))
			return def
		}
		return parsed
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

func (l *envLoader) getStringSlice(key string, required bool) []string {
	raw := l.getString(key, "", required)
	if raw == "" {
		if required {
			return nil
		}
		return []string{}
	}
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if required && len(out) == 0 {
		l.addError(fmt.Sprintf("%s must contain at least one entry", key))
	}
	return out
}

func (l *envLoader) addError(err string) {
	l.errs = append(l.errs, err)
}
