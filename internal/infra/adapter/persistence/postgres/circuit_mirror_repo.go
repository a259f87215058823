package postgres

import (
	"context"
	"fmt"
	"time"

	"outbound-relay/internal/domain/provider"
	"outbound-relay/internal/repository"
	"outbound-relay/internal/resilience/storeguard"
)

// CircuitMirrorRepo implements repository.CircuitMirror on PostgreSQL.
type CircuitMirrorRepo struct {
	db *storeguard.DB
}

var _ repository.CircuitMirror = (*CircuitMirrorRepo)(nil)

// NewCircuitMirrorRepo creates a new PostgreSQL-based CircuitMirror.
func NewCircuitMirrorRepo(db *storeguard.DB) *CircuitMirrorRepo {
	return &CircuitMirrorRepo{db: db}
}

// MirrorCircuit upserts the latest circuit snapshot for a provider.
func (repo *CircuitMirrorRepo) MirrorCircuit(ctx context.Context, id provider.ID, state string, consecutiveFailures uint, lastFailure time.Time) error {
	const query = `
INSERT INTO provider_circuits (provider, state, consecutive_failures, last_failure_at, mirrored_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (provider)
DO UPDATE SET
	state = EXCLUDED.state,
	consecutive_failures = EXCLUDED.consecutive_failures,
	last_failure_at = EXCLUDED.last_failure_at,
	mirrored_at = NOW()`

	var lastFailureArg interface{}
	if !lastFailure.IsZero() {
		lastFailureArg = lastFailure
	}

	_, err := repo.db.ExecContext(ctx, query, string(id), state, int64(consecutiveFailures), lastFailureArg)
	if err != nil {
		return fmt.Errorf("MirrorCircuit: %w", err)
	}
	return nil
}

// PruneStale deletes mirror rows not refreshed within the retention window
// and reports how many were removed. Rows go stale when an instance stops
// flushing, usually because it was decommissioned.
func (repo *CircuitMirrorRepo) PruneStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	const query = `
DELETE FROM provider_circuits
WHERE mirrored_at < NOW() - $1::interval`

	res, err := repo.db.ExecContext(ctx, query, fmt.Sprintf("%d seconds", int64(olderThan.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("PruneStale: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("PruneStale: %w", err)
	}
	return rows, nil
}
