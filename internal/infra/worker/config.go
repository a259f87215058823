package worker

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
)

// Config holds the maintenance worker settings. Loading is fail-open: an
// invalid value falls back to the default with a warning, so a typo in one
// variable never keeps the worker down.
type Config struct {
	// CronSchedule is the digest job schedule. Default: hourly.
	CronSchedule string

	// Timezone is the IANA timezone for the schedule. Default: UTC.
	Timezone string

	// JobTimeout bounds one digest run. Default: 2 minutes.
	JobTimeout time.Duration

	// MirrorRetention is how long stale circuit mirror rows are kept
	// before the prune job removes them. Default: 7 days.
	MirrorRetention time.Duration

	// HealthPort is the health probe listen port. Default: 9091.
	HealthPort int

	// MetricsPort is the Prometheus scrape listen port. Default: 9092.
	MetricsPort int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		CronSchedule:    "0 * * * *",
		Timezone:        "UTC",
		JobTimeout:      2 * time.Minute,
		MirrorRetention: 7 * 24 * time.Hour,
		HealthPort:      9091,
		MetricsPort:     9092,
	}
}

// LoadConfigFromEnv reads the worker configuration from environment
// variables, falling back per field on validation failure. It always returns
// a usable configuration.
//
// Environment variables:
//   - WORKER_CRON_SCHEDULE: standard 5-field cron expression
//   - WORKER_TIMEZONE: IANA timezone name
//   - WORKER_JOB_TIMEOUT: duration string, e.g. "2m"
//   - WORKER_MIRROR_RETENTION: duration string, e.g. "168h"
//   - WORKER_HEALTH_PORT, WORKER_METRICS_PORT: 1024-65535
func LoadConfigFromEnv(logger *slog.Logger, metrics *Metrics) Config {
	cfg := DefaultConfig()

	if raw := os.Getenv("WORKER_CRON_SCHEDULE"); raw != "" {
		if err := validateCronSchedule(raw); err != nil {
			fallback(logger, metrics, "cron_schedule", raw, err)
		} else {
			cfg.CronSchedule = raw
		}
	}

	if raw := os.Getenv("WORKER_TIMEZONE"); raw != "" {
		if _, err := time.LoadLocation(raw); err != nil {
			fallback(logger, metrics, "timezone", raw, err)
		} else {
			cfg.Timezone = raw
		}
	}

	if raw := os.Getenv("WORKER_JOB_TIMEOUT"); raw != "" {
		if val, err := time.ParseDuration(raw); err != nil || val <= 0 {
			fallback(logger, metrics, "job_timeout", raw, fmt.Errorf("must be a positive duration"))
		} else {
			cfg.JobTimeout = val
		}
	}

	if raw := os.Getenv("WORKER_MIRROR_RETENTION"); raw != "" {
		if val, err := time.ParseDuration(raw); err != nil || val <= 0 {
			fallback(logger, metrics, "mirror_retention", raw, fmt.Errorf("must be a positive duration"))
		} else {
			cfg.MirrorRetention = val
		}
	}

	cfg.HealthPort = portFromEnv(logger, metrics, "WORKER_HEALTH_PORT", "health_port", cfg.HealthPort)
	cfg.MetricsPort = portFromEnv(logger, metrics, "WORKER_METRICS_PORT", "metrics_port", cfg.MetricsPort)

	return cfg
}

func portFromEnv(logger *slog.Logger, metrics *Metrics, envKey, field string, def int) int {
	raw := os.Getenv(envKey)
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 1024 || val > 65535 {
		fallback(logger, metrics, field, raw, fmt.Errorf("must be an integer in 1024-65535"))
		return def
	}
	return val
}

func validateCronSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(schedule)
	return err
}

func fallback(logger *slog.Logger, metrics *Metrics, field, value string, err error) {
	logger.Warn("configuration fallback applied",
		slog.String("field", field),
		slog.String("invalid_value", value),
		slog.Any("error", err))
	if metrics != nil {
		metrics.RecordConfigFallback(field)
	}
}
