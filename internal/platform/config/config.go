package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process-level configuration. Optional subsystems (Postgres,
// Redis, Kafka, mail provider) stay disabled when their URL is empty.
type Server struct {
	Addr          string
	DatabaseURL   string
	RedisURL      string
	KafkaBrokers  []string
	SessionTTL    time.Duration
	LoginPath     string
	JWTSigningKey string

	// Mail provider (HTTP API)
	MailBaseURL string
	MailAPIKey  string
	MailFrom    string

	// Lifecycle checker
	CheckInterval       time.Duration
	OutboxPollInterval  time.Duration
	OutboxBatchSize     int
	OutboxRetentionDays int
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	cfg := Server{
		Addr:                envOr("CALNIQ_ADDR", ":8080"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		SessionTTL:          durationOr("SESSION_TTL", 24*time.Hour),
		LoginPath:           envOr("LOGIN_PATH", "/login"),
		JWTSigningKey:       os.Getenv("JWT_SIGNING_KEY"),
		MailBaseURL:         os.Getenv("MAIL_BASE_URL"),
		MailAPIKey:          os.Getenv("MAIL_API_KEY"),
		MailFrom:            envOr("MAIL_FROM", "no-reply@calniq.io"),
		CheckInterval:       durationOr("LIFECYCLE_INTERVAL", time.Hour),
		OutboxPollInterval:  durationOr("OUTBOX_POLL_INTERVAL", 5*time.Second),
		OutboxBatchSize:     intOr("OUTBOX_BATCH_SIZE", 100),
		OutboxRetentionDays: intOr("OUTBOX_RETENTION_DAYS", 30),
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	if cfg.JWTSigningKey == "" {
		// Use a default for development - should be overridden in production
		cfg.JWTSigningKey = "dev-secret-key-change-in-production"
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func intOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
