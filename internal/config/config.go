package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the orchestration service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogLevel         string

	AllowAnyOrigin bool

	// Empty DatabaseURL selects the in-memory stores.
	DatabaseURL string

	BusPartitions   int
	BusQueueSize    int
	BusMaxAttempts  int
	BusRetryBackoff time.Duration

	OutboxRelayInterval time.Duration

	ReminderPollInterval time.Duration
	ReminderClaimTTL     time.Duration

	NotifyQueueSize int

	ConversationHistoryLimit int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "donna"),
		LogLevel:                 envOrDefault("APP_LOG_LEVEL", "info"),
		DatabaseURL:              strings.TrimSpace(os.Getenv("DATABASE_URL")),
		ShutdownTimeout:          15 * time.Second,
		AllowAnyOrigin:           false,
		BusPartitions:            8,
		BusQueueSize:             256,
		BusMaxAttempts:           3,
		BusRetryBackoff:          100 * time.Millisecond,
		OutboxRelayInterval:      250 * time.Millisecond,
		ReminderPollInterval:     10 * time.Second,
		ReminderClaimTTL:         30 * time.Second,
		NotifyQueueSize:          64,
		ConversationHistoryLimit: 50,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.BusPartitions, err = intFromEnv("BUS_PARTITIONS", cfg.BusPartitions)
	if err != nil {
		return Config{}, err
	}
	cfg.BusQueueSize, err = intFromEnv("BUS_QUEUE_SIZE", cfg.BusQueueSize)
	if err != nil {
		return Config{}, err
	}
	cfg.BusMaxAttempts, err = intFromEnv("BUS_MAX_ATTEMPTS", cfg.BusMaxAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.BusRetryBackoff, err = durationFromEnv("BUS_RETRY_BACKOFF", cfg.BusRetryBackoff)
	if err != nil {
		return Config{}, err
	}
	cfg.OutboxRelayInterval, err = durationFromEnv("OUTBOX_RELAY_INTERVAL", cfg.OutboxRelayInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.ReminderPollInterval, err = durationFromEnv("REMINDER_POLL_INTERVAL", cfg.ReminderPollInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.ReminderClaimTTL, err = durationFromEnv("REMINDER_CLAIM_TTL", cfg.ReminderClaimTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.NotifyQueueSize, err = intFromEnv("NOTIFY_QUEUE_SIZE", cfg.NotifyQueueSize)
	if err != nil {
		return Config{}, err
	}
	cfg.ConversationHistoryLimit, err = intFromEnv("CONVERSATION_HISTORY_LIMIT", cfg.ConversationHistoryLimit)
	if err != nil {
		return Config{}, err
	}

	if cfg.BusPartitions <= 0 {
		return Config{}, fmt.Errorf("BUS_PARTITIONS must be positive")
	}
	if cfg.BusMaxAttempts <= 0 {
		return Config{}, fmt.Errorf("BUS_MAX_ATTEMPTS must be positive")
	}
	if cfg.ReminderPollInterval < time.Second {
		return Config{}, fmt.Errorf("REMINDER_POLL_INTERVAL must be at least 1s")
	}
	if cfg.ReminderClaimTTL < cfg.ReminderPollInterval {
		return Config{}, fmt.Errorf("REMINDER_CLAIM_TTL must be at least the poll interval")
	}
	if cfg.NotifyQueueSize <= 0 {
		return Config{}, fmt.Errorf("NOTIFY_QUEUE_SIZE must be positive")
	}
	if cfg.ConversationHistoryLimit <= 0 {
		return Config{}, fmt.Errorf("CONVERSATION_HISTORY_LIMIT must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
