package db

import (
	"database/sql"
)

// MigrateUp creates the orchestrator schema. Every statement is idempotent so
// the migration can run on each startup.
func MigrateUp(db *sql.DB) error {
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS provider_stats (
    provider            VARCHAR(50) PRIMARY KEY,
    total_requests      BIGINT NOT NULL DEFAULT 0,
    successful_requests BIGINT NOT NULL DEFAULT 0,
    failed_requests     BIGINT NOT NULL DEFAULT 0,
    total_latency_ms    BIGINT NOT NULL DEFAULT 0,
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
)`); err != nil {
		return err
	}

	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS provider_circuits (
    provider             VARCHAR(50) PRIMARY KEY,
    state                VARCHAR(10) NOT NULL,
    consecutive_failures BIGINT NOT NULL DEFAULT 0,
    last_failure_at      TIMESTAMPTZ,
    mirrored_at          TIMESTAMPTZ NOT NULL DEFAULT now()
)`); err != nil {
		return err
	}

	indexes := []string{
		// The worker's dashboard query orders by staleness.
		`CREATE INDEX IF NOT EXISTS idx_provider_stats_updated_at ON provider_stats(updated_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_provider_circuits_state ON provider_circuits(state)`,
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return err
		}
	}

	// State constraint uses DO $$ so re-running is harmless; errors are
	// ignored because the constraint may already exist.
	_, _ = db.Exec(`
DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM pg_constraint
        WHERE conname = 'chk_circuit_state'
    ) THEN
        ALTER TABLE provider_circuits ADD CONSTRAINT chk_circuit_state
        CHECK (state IN ('closed', 'open', 'half-open'));
    END IF;
END $$;
`)

	return nil
}

// MigrateDown removes the orchestrator schema. Use with caution: this deletes
// all recorded stats and circuit history.
func MigrateDown(db *sql.DB) error {
	dropStatements := []string{
		`DROP INDEX IF EXISTS idx_provider_stats_updated_at`,
		`DROP INDEX IF EXISTS idx_provider_circuits_state`,
		`DROP TABLE IF EXISTS provider_circuits`,
		`DROP TABLE IF EXISTS provider_stats`,
	}
	for _, stmt := range dropStatements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
