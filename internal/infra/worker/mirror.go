// Package worker holds the background components: the circuit mirror flusher
// that runs inside the API process, and the config, metrics and health pieces
// of the standalone maintenance worker.
package worker

import (
	"context"
	"log/slog"
	"time"

	"outbound-relay/internal/repository"
	"outbound-relay/internal/resilience/circuit"
)

// MirrorFlusher periodically writes every circuit snapshot to the durable
// mirror so other instances and dashboards can see this process's view.
// Writes are best-effort; the in-process registry stays authoritative.
type MirrorFlusher struct {
	circuits *circuit.Registry
	mirror   repository.CircuitMirror
	interval time.Duration
	logger   *slog.Logger
}

// NewMirrorFlusher creates a flusher. A non-positive interval falls back to
// 30 seconds.
func NewMirrorFlusher(circuits *circuit.Registry, mirror repository.CircuitMirror, interval time.Duration, logger *slog.Logger) *MirrorFlusher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &MirrorFlusher{
		circuits: circuits,
		mirror:   mirror,
		interval: interval,
		logger:   logger,
	}
}

// Run flushes on a ticker until ctx is cancelled. Blocking; run it in a
// goroutine.
func (f *MirrorFlusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final flush so the mirror reflects the state at shutdown.
			f.Flush(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			f.Flush(ctx)
		}
	}
}

// Flush mirrors every circuit the registry has seen. Failures are logged per
// provider and never abort the rest of the batch.
func (f *MirrorFlusher) Flush(ctx context.Context) {
	snapshots := f.circuits.SnapshotAll()
	for id, snap := range snapshots {
		err := f.mirror.MirrorCircuit(ctx, id, snap.State.String(), snap.ConsecutiveFailures, snap.LastFailureTime)
		if err != nil {
			f.logger.Warn("circuit mirror write failed",
				slog.String("provider", string(id)),
				slog.Any("error", err))
		}
	}
}
