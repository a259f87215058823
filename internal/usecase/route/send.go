package route

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"outbound-relay/internal/domain/provider"
	"outbound-relay/internal/observability/metrics"
	"outbound-relay/internal/repository"
	"outbound-relay/internal/resilience/circuit"
	"outbound-relay/internal/resilience/retry"
)

// Message is an outbound email.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
	Text    string
}

// Sender is a provider-specific email delivery implementation. Errors must
// carry the provider error classification; all methods must be safe for
// concurrent use.
type Sender interface {
	// ID returns the provider this sender delivers through.
	ID() provider.ID

	// Send delivers one message.
	Send(ctx context.Context, msg Message) error
}

// SendOutcome reports a successful delivery.
type SendOutcome struct {
	// Provider is the provider that accepted the message.
	Provider provider.ID

	// Degraded is true when the delivery went through the degraded
	// fallback recommendation rather than a healthy candidate.
	Degraded bool
}

// Service is the email routing and delivery service. It asks the health
// aggregator and selector for a recommendation, then walks primary plus
// alternates in order until one provider accepts the message. No racing:
// email delivery is not idempotent enough to send speculatively.
type Service struct {
	health   *HealthAggregator
	selector *Selector
	circuits *circuit.Registry
	stats    repository.StatsRepository
	quota    repository.QuotaStore
	senders  map[provider.ID]Sender

	retryCfg retry.Config
}

// NewService creates the routing service.
func NewService(
	health *HealthAggregator,
	selector *Selector,
	circuits *circuit.Registry,
	stats repository.StatsRepository,
	quota repository.QuotaStore,
	senders []Sender,
	retryCfg retry.Config,
) *Service {
	byID := make(map[provider.ID]Sender, len(senders))
	for _, s := range senders {
		byID[s.ID()] = s
	}
	return &Service{
		health:   health,
		selector: selector,
		circuits: circuits,
		stats:    stats,
		quota:    quota,
		senders:  byID,
		retryCfg: retryCfg,
	}
}

// Recommend returns the current recommendation and health snapshot for a job
// type without sending anything. Backs the routing endpoint.
func (s *Service) Recommend(ctx context.Context, jobType provider.JobType) (Selection, []View) {
	views := s.health.Views(ctx)
	return s.selector.Select(jobType, views), views
}

// Health returns the current per-provider health views. Backs the provider
// health endpoint.
func (s *Service) Health(ctx context.Context) []View {
	return s.health.Views(ctx)
}

// Send routes and delivers one message. Candidates are tried strictly in the
// recommended order; each candidate gets its own retry budget and its outcome
// feeds circuit, stats and quota bookkeeping.
//
// Returns ErrUnknownJobType for a job type outside the fixed set, and
// ErrNoEligibleProviders when every candidate was circuit-rejected before a
// single attempt.
func (s *Service) Send(ctx context.Context, rawJobType string, msg Message) (*SendOutcome, error) {
	jobType, ok := provider.ParseJobType(rawJobType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, rawJobType)
	}

	requestID := uuid.New().String()
	selection, _ := s.Recommend(ctx, jobType)
	candidates := append([]provider.ID{selection.Provider}, selection.Alternates...)

	slog.Info("routing email",
		slog.String("request_id", requestID),
		slog.String("job_type", string(jobType)),
		slog.String("primary", string(selection.Provider)),
		slog.Int("alternates", len(selection.Alternates)),
		slog.Bool("degraded", selection.Degraded))

	var failures []string
	attempted := false

	for _, id := range candidates {
		sender, ok := s.senders[id]
		if !ok {
			slog.Error("no sender registered for provider",
				slog.String("request_id", requestID),
				slog.String("provider", string(id)))
			continue
		}
		if !s.circuits.CanAttempt(id) {
			slog.Debug("candidate skipped by circuit",
				slog.String("request_id", requestID),
				slog.String("provider", string(id)))
			continue
		}
		attempted = true

		start := time.Now()
		err := retry.Do(ctx, s.retryCfg, id, func() error {
			return sender.Send(ctx, msg)
		})
		elapsed := time.Since(start)

		if err != nil {
			if provider.CountsAgainstCircuit(err) {
				s.circuits.RecordFailure(id)
			}
			metrics.RecordProviderAttempt(string(id), false, elapsed)
			s.recordStats(ctx, requestID, id, false, elapsed)
			failures = append(failures, failureLine(id, err))
			slog.Warn("email candidate failed, trying next",
				slog.String("request_id", requestID),
				slog.String("provider", string(id)),
				slog.Any("error", err))
			continue
		}

		s.circuits.RecordSuccess(id)
		metrics.RecordProviderAttempt(string(id), true, elapsed)
		s.recordStats(ctx, requestID, id, true, elapsed)
		s.recordQuota(ctx, requestID, id)

		slog.Info("email delivered",
			slog.String("request_id", requestID),
			slog.String("provider", string(id)),
			slog.Duration("elapsed", elapsed))
		return &SendOutcome{Provider: id, Degraded: selection.Degraded}, nil
	}

	if !attempted {
		return nil, ErrNoEligibleProviders
	}
	return nil, fmt.Errorf("all providers failed: %s", strings.Join(failures, "; "))
}

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

// recordQuota charges one unit per accepted message.
func (s *Service) recordQuota(ctx context.Context, requestID string, id provider.ID) {
	if s.quota == nil {
		return
	}
	if err := s.quota.Add(ctx, id, 1); err != nil {
		slog.Warn("quota counter write failed",
			slog.String("request_id", requestID),
			slog.String("provider", string(id)),
			slog.Any("error", err))
		return
	}
	metrics.RecordQuotaUnits(string(id), 1)
}

// failureLine renders one failure as "provider: reason", stripping retry
// wrapping when the tagged provider error is available.
func failureLine(id provider.ID, err error) string {
	var pe *provider.Error
	if errors.As(err, &pe) {
		return pe.Error()
	}
	return fmt.Sprintf("%s: %v", id, err)
}
