package compress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"outbound-relay/internal/domain/provider"
	"outbound-relay/internal/observability/metrics"
	"outbound-relay/internal/repository"
	"outbound-relay/internal/resilience/circuit"
	"outbound-relay/internal/resilience/retry"
)

const cleanupTimeout = 30 * time.Second

// Output is the result of a winning compression attempt.
type Output struct {
	// Bytes is the compressed payload.
	Bytes []byte

	// Method is the winning adapter's transform label.
	Method string

	// Provider is the provider that won the race.
	Provider provider.ID
}

// Service races compression providers for each job. Construct one instance
// per process and share it; the circuit registry it holds is the admission
// oracle for every in-flight job.
type Service struct {
	circuits *circuit.Registry
	stats    repository.StatsRepository
	quota    repository.QuotaStore
	adapters []Adapter

	retryCfg       retry.Config
	attemptTimeout time.Duration

	wg sync.WaitGroup
}

// NewService creates a compression race service.
//
// Parameters:
//   - circuits: shared circuit registry consulted before and after every attempt
//   - stats: durable attempt-outcome mirror (writes are best-effort)
//   - quota: daily byte-quota counters (writes are best-effort)
//   - adapters: one adapter per configured provider, in priority order
//   - retryCfg: per-attempt retry budget
//   - attemptTimeout: per-attempt bound used when the caller carries no deadline
func NewService(
	circuits *circuit.Registry,
	stats repository.StatsRepository,
	quota repository.QuotaStore,
	adapters []Adapter,
	retryCfg retry.Config,
	attemptTimeout time.Duration,
) *Service {
	if attemptTimeout <= 0 {
		attemptTimeout = 30 * time.Second
	}
	return &Service{
		circuits:       circuits,
		stats:          stats,
		quota:          quota,
		adapters:       adapters,
		retryCfg:       retryCfg,
		attemptTimeout: attemptTimeout,
	}
}

// attemptOutcome is one provider's final race result.
type attemptOutcome struct {
	id  provider.ID
	res *Result
	err error
}

// Compress races every circuit-eligible provider and returns the first
// successful result. Losing attempts are not cancelled: they run to
// completion in the background and their outcomes still update circuit,
// stats and quota state, but their results are discarded.
//
// Returns ErrNoEligibleProviders without waiting when every circuit rejects,
// and a *RaceError naming each provider's failure when all launched attempts
// fail.
func (s *Service) Compress(ctx context.Context, payload []byte) (*Output, error) {
	if len(payload) == 0 {
		return nil, errors.New("empty payload")
	}

	requestID := uuid.New().String()
	width := targetWidth(len(payload))

	launched := make([]Adapter, 0, len(s.adapters))
	for _, a := range s.adapters {
		if s.circuits.CanAttempt(a.ID()) {
			launched = append(launched, a)
		} else {
			slog.Debug("provider skipped by circuit",
				slog.String("request_id", requestID),
				slog.String("provider", string(a.ID())))
		}
	}

	if len(launched) == 0 {
		metrics.RecordRaceNoEligible()
		slog.Warn("compression race rejected, no eligible providers",
			slog.String("request_id", requestID),
			slog.Int("configured", len(s.adapters)))
		return nil, ErrNoEligibleProviders
	}

	slog.Info("starting compression race",
		slog.String("request_id", requestID),
		slog.Int("input_bytes", len(payload)),
		slog.Int("target_width", width),
		slog.Int("providers", len(launched)))

	// Detach from the caller's cancellation so losers run to completion
	// and still report their outcomes. Each attempt carries its own
	// bounded timeout instead.
	raceCtx := context.WithoutCancel(ctx)
	timeout := s.attemptTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	results := make(chan attemptOutcome, len(launched))
	start := time.Now()

	for _, a := range launched {
		adapter := a
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					slog.Error("panic in compression attempt",
						slog.String("request_id", requestID),
						slog.String("provider", string(adapter.ID())),
						slog.Any("panic", r),
						slog.String("stack", string(debug.Stack())))
					results <- attemptOutcome{
						id:  adapter.ID(),
						err: provider.Transient(adapter.ID(), fmt.Errorf("adapter panic: %v", r)),
					}
				}
			}()
			res, err := s.runAttempt(raceCtx, requestID, adapter, payload, width, timeout)
			results <- attemptOutcome{id: adapter.ID(), res: res, err: err}
		}()
	}

	var failures []error
	for remaining := len(launched); remaining > 0; remaining-- {
		select {
		case out := <-results:
			if out.err != nil {
				failures = append(failures, out.err)
				continue
			}
			metrics.RecordRaceWin(string(out.id), time.Since(start))
			slog.Info("compression race won",
				slog.String("request_id", requestID),
				slog.String("provider", string(out.id)),
				slog.String("method", out.res.Method),
				slog.Duration("elapsed", time.Since(start)))
			s.drain(requestID, results, remaining-1)
			s.scheduleCleanup(requestID, out.id, out.res)
			return &Output{Bytes: out.res.Bytes, Method: out.res.Method, Provider: out.id}, nil

		case <-ctx.Done():
			// The caller gave up. Stragglers still record their
			// outcomes through the drain path.
			s.drain(requestID, results, remaining)
			return nil, fmt.Errorf("compression race abandoned: %w", ctx.Err())
		}
	}

	metrics.RecordRaceExhausted()
	slog.Warn("compression race exhausted, all providers failed",
		slog.String("request_id", requestID),
		slog.Int("providers", len(launched)))
	return nil, &RaceError{Failures: failures}
}

// runAttempt executes one provider's retry-wrapped attempt and feeds the
// outcome into circuit, stats and quota bookkeeping. The attempt counts as a
// single circuit observation regardless of how many retries it burned.
func (s *Service) runAttempt(ctx context.Context, requestID string, adapter Adapter, payload []byte, width int, timeout time.Duration) (*Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	id := adapter.ID()
	start := time.Now()

	var res *Result
	err := retry.Do(attemptCtx, s.retryCfg, id, func() error {
		r, callErr := adapter.Compress(attemptCtx, payload, width)
		if callErr != nil {
			return callErr
		}
		res = r
		return nil
	})
	elapsed := time.Since(start)

	if err != nil {
		if provider.CountsAgainstCircuit(err) {
			s.circuits.RecordFailure(id)
		}
		metrics.RecordProviderAttempt(string(id), false, elapsed)
		s.recordStats(ctx, requestID, id, false, elapsed)
		return nil, err
	}

	s.circuits.RecordSuccess(id)
	metrics.RecordProviderAttempt(string(id), true, elapsed)
	s.recordStats(ctx, requestID, id, true, elapsed)
	s.recordQuota(ctx, requestID, id, int64(len(payload)))
	return res, nil
}

// recordStats mirrors one attempt outcome to the durable store. Best-effort:
// a failed write is logged and never fails the job.
func (s *Service) recordStats(ctx context.Context, requestID string, id provider.ID, success bool, latency time.Duration) {
	if s.stats == nil {
		return
	}
	if err := s.stats.RecordAttempt(ctx, id, success, latency); err != nil {
		slog.Warn("stats mirror write failed",
			slog.String("request_id", requestID),
			slog.String("provider", string(id)),
			slog.Any("error", err))
	}
}

// recordQuota charges the provider's daily byte budget for a successful
// attempt. Best-effort like the stats mirror.
func (s *Service) recordQuota(ctx context.Context, requestID string, id provider.ID, units int64) {
	if s.quota == nil {
		return
	}
	if err := s.quota.Add(ctx, id, units); err != nil {
		slog.Warn("quota counter write failed",
			slog.String("request_id", requestID),
			slog.String("provider", string(id)),
			slog.Any("error", err))
		return
	}
	metrics.RecordQuotaUnits(string(id), units)
}

// drain consumes the remaining race outcomes in the background after a
// winner is known or the caller abandoned the race. Late successes get their
// temporary artifacts cleaned up; their results are otherwise discarded.
func (s *Service) drain(requestID string, results <-chan attemptOutcome, remaining int) {
	if remaining == 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for i := 0; i < remaining; i++ {
			out := <-results
			if out.err != nil {
				continue
			}
			slog.Debug("late race success discarded",
				slog.String("request_id", requestID),
				slog.String("provider", string(out.id)))
			s.scheduleCleanup(requestID, out.id, out.res)
		}
	}()
}

// scheduleCleanup runs the result's cleanup hook in the background. Never
// awaited by the caller; failures are logged and dropped.
func (s *Service) scheduleCleanup(requestID string, id provider.ID, res *Result) {
	if res == nil || res.Cleanup == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if err := res.Cleanup(ctx); err != nil {
			slog.Warn("provider artifact cleanup failed",
				slog.String("request_id", requestID),
				slog.String("provider", string(id)),
				slog.Any("error", err))
		}
	}()
}

// Shutdown waits for background race participants and cleanup tasks to
// finish, or for ctx to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("compression service shutdown: %w", ctx.Err())
	}
}
