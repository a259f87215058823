package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.Circuit.FailureThreshold != 3 {
		t.Errorf("FailureThreshold = %d, want 3", cfg.Circuit.FailureThreshold)
	}
	if cfg.Circuit.ResetTimeout != 60*time.Second {
		t.Errorf("ResetTimeout = %v, want 60s", cfg.Circuit.ResetTimeout)
	}
	if cfg.Circuit.HalfOpenMaxAttempts != 1 {
		t.Errorf("HalfOpenMaxAttempts = %d, want 1", cfg.Circuit.HalfOpenMaxAttempts)
	}
	if cfg.Retry.MaxAttempts != 2 {
		t.Errorf("Retry.MaxAttempts = %d, want 2", cfg.Retry.MaxAttempts)
	}
	if cfg.EmailRetry.MaxAttempts != 3 {
		t.Errorf("EmailRetry.MaxAttempts = %d, want 3", cfg.EmailRetry.MaxAttempts)
	}
	if cfg.Health.CacheTTL != 60*time.Second {
		t.Errorf("CacheTTL = %v, want 60s", cfg.Health.CacheTTL)
	}
	if cfg.Health.MinHealthThreshold != 20 {
		t.Errorf("MinHealthThreshold = %v, want 20", cfg.Health.MinHealthThreshold)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CIRCUIT_FAILURE_THRESHOLD", "5")
	t.Setenv("CIRCUIT_RESET_TIMEOUT", "30s")
	t.Setenv("RETRY_MAX_ATTEMPTS", "4")
	t.Setenv("HEALTH_CACHE_TTL", "2m")
	t.Setenv("MIN_HEALTH_THRESHOLD", "50")

	cfg := Load()

	if cfg.Circuit.FailureThreshold != 5 {
		t.Errorf("FailureThreshold = %d, want 5", cfg.Circuit.FailureThreshold)
	}
	if cfg.Circuit.ResetTimeout != 30*time.Second {
		t.Errorf("ResetTimeout = %v, want 30s", cfg.Circuit.ResetTimeout)
	}
	if cfg.Retry.MaxAttempts != 4 {
		t.Errorf("Retry.MaxAttempts = %d, want 4", cfg.Retry.MaxAttempts)
	}
	if cfg.Health.CacheTTL != 2*time.Minute {
		t.Errorf("CacheTTL = %v, want 2m", cfg.Health.CacheTTL)
	}
	if cfg.Health.MinHealthThreshold != 50 {
		t.Errorf("MinHealthThreshold = %v, want 50", cfg.Health.MinHealthThreshold)
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("CIRCUIT_FAILURE_THRESHOLD", "not-a-number")
	t.Setenv("CIRCUIT_RESET_TIMEOUT", "-10s")
	t.Setenv("RETRY_MAX_ATTEMPTS", "0")

	cfg := Load()

	if cfg.Circuit.FailureThreshold != 3 {
		t.Errorf("FailureThreshold = %d, want default 3", cfg.Circuit.FailureThreshold)
	}
	if cfg.Circuit.ResetTimeout != 60*time.Second {
		t.Errorf("ResetTimeout = %v, want default 60s", cfg.Circuit.ResetTimeout)
	}
	if cfg.Retry.MaxAttempts != 2 {
		t.Errorf("Retry.MaxAttempts = %d, want default 2", cfg.Retry.MaxAttempts)
	}
}
