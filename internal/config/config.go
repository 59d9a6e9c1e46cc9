// Package config loads commerce-core's configuration from environment
// variables via struct tags, so every knob has one documented default
// and one place it's parsed.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for the service.
type Config struct {
	Service     ServiceConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	HTTP        HTTPConfig
	Logging     LoggingConfig
	Idempotency IdempotencyConfig
	Outbox      OutboxConfig
	Reservation ReservationConfig
	Tracing     TracingConfig
}

type ServiceConfig struct {
	Name        string `env:"SERVICE_NAME" envDefault:"commerce-core"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

type DatabaseConfig struct {
	Host            string        `env:"DB_HOST" envDefault:"localhost"`
	Port            int           `env:"DB_PORT" envDefault:"5432"`
	User            string        `env:"DB_USER" envDefault:"postgres"`
	Password        string        `env:"DB_PASSWORD" envDefault:"postgres"`
	Database        string        `env:"DB_NAME" envDefault:"commerce"`
	MaxConns        int32         `env:"DB_MAX_CONNS" envDefault:"20"`
	MinConns        int32         `env:"DB_MIN_CONNS" envDefault:"2"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
}

func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", d.User, d.Password, d.Host, d.Port, d.Database)
}

// RedisConfig configures the distributed idempotency lock backend.
// Enabled toggles between PostgresStore (single instance) and
// RedisStore (multi-instance) in main.go's wiring.
type RedisConfig struct {
	Enabled bool   `env:"REDIS_ENABLED" envDefault:"false"`
	Addr    string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB      int    `env:"REDIS_DB" envDefault:"0"`
}

type KafkaConfig struct {
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
}

type HTTPConfig struct {
	Port int `env:"HTTP_PORT" envDefault:"8080"`
}

type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type IdempotencyConfig struct {
	ResponseTTL time.Duration `env:"IDEMPOTENCY_RESPONSE_TTL" envDefault:"10m"`
	LockTTL     time.Duration `env:"IDEMPOTENCY_LOCK_TTL" envDefault:"60s"`
}

type OutboxConfig struct {
	PollInterval        time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"200ms"`
	BatchSize           int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
	MaxAttempts         int           `env:"OUTBOX_MAX_ATTEMPTS" envDefault:"10"`
	Workers             int           `env:"OUTBOX_WORKERS" envDefault:"4"`
	StuckAfter          time.Duration `env:"OUTBOX_STUCK_AFTER" envDefault:"5m"`
	CleanupAfter        time.Duration `env:"OUTBOX_CLEANUP_AFTER" envDefault:"72h"`
	CleanupInterval     time.Duration `env:"OUTBOX_CLEANUP_INTERVAL" envDefault:"1h"`
}

// ReservationConfig governs the expiry sweep that reclaims stock held
// by Pending/Confirmed reservations past their expires_at.
type ReservationConfig struct {
	SweepInterval time.Duration `env:"RESERVATION_SWEEP_INTERVAL" envDefault:"30s"`
	SweepBatch    int           `env:"RESERVATION_SWEEP_BATCH" envDefault:"200"`
	DefaultTTL    time.Duration `env:"RESERVATION_DEFAULT_TTL" envDefault:"30m"`
}

type TracingConfig struct {
	Enabled     bool   `env:"TRACING_ENABLED" envDefault:"false"`
	OTLPEndpoint string `env:"OTLP_ENDPOINT" envDefault:"localhost:4317"`
}

// Load reads Config from the environment, applying the envDefault tags
// above wherever a variable is unset.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment config: %w", err)
	}
	return cfg, nil
}
