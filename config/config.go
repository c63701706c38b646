package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env  string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port string `env:"PORT" envDefault:"8080" validate:"required"`

	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`
	RedisURL    string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0" validate:"required"`

	// BirthdayMessageHour is the local hour (0-23) at which a birthday
	// message becomes due (spec §4.1/§6, default 09:00 recipient-local).
	BirthdayMessageHour int `env:"BIRTHDAY_MESSAGE_HOUR" envDefault:"9" validate:"min=0,max=23"`

	// QueueMaxRetries bounds Dispatcher retry attempts before a job is
	// marked terminally FAILED (spec §4.5/§4.6).
	QueueMaxRetries int `env:"QUEUE_MAX_RETRIES" envDefault:"5" validate:"min=1,max=20"`

	// QueueConcurrency is the number of jobs a Delivery Worker processes in
	// parallel per poll (spec §4.6).
	QueueConcurrency int `env:"QUEUE_CONCURRENCY" envDefault:"5" validate:"min=1,max=100"`

	WorkerPollIntervalSec int `env:"WORKER_POLL_INTERVAL_SEC" envDefault:"5" validate:"min=1,max=60"`

	// ReaperIntervalSec is how often the Reaper scans for PROCESSING records
	// abandoned by a crashed worker. ReaperLeaseTimeoutSec is how long a
	// record may sit in PROCESSING with no outcome before it's considered
	// abandoned — comfortably above EmailAPITimeoutMS so an in-flight call
	// is never rescued out from under its own worker.
	ReaperIntervalSec     int `env:"REAPER_INTERVAL_SEC" envDefault:"30" validate:"min=1,max=3600"`
	ReaperLeaseTimeoutSec int `env:"REAPER_LEASE_TIMEOUT_SEC" envDefault:"120" validate:"min=1"`

	// EmailAPIURL is the delivery endpoint invoked by the Delivery Worker
	// (spec §6).
	EmailAPIURL       string `env:"EMAIL_API_URL" envDefault:"https://email-service.digitalenvision.com.au/send-email" validate:"required,url"`
	EmailAPITimeoutMS int    `env:"EMAIL_API_TIMEOUT" envDefault:"10000" validate:"min=1"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`

	// JWTSecret signs/verifies the Manual Trigger's operator bearer tokens
	// (spec §6, HS256 only — no external identity provider in scope).
	JWTSecret string `env:"JWT_SECRET,required" validate:"required"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SlogLevel converts the LOG_LEVEL string to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// EmailAPITimeout converts EmailAPITimeoutMS to a time.Duration.
func (c *Config) EmailAPITimeout() time.Duration {
	return time.Duration(c.EmailAPITimeoutMS) * time.Millisecond
}

// ReaperInterval converts ReaperIntervalSec to a time.Duration.
func (c *Config) ReaperInterval() time.Duration {
	return time.Duration(c.ReaperIntervalSec) * time.Second
}

// ReaperLeaseTimeout converts ReaperLeaseTimeoutSec to a time.Duration.
func (c *Config) ReaperLeaseTimeout() time.Duration {
	return time.Duration(c.ReaperLeaseTimeoutSec) * time.Second
}
