package route

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"outbound-relay/internal/domain/provider"
	"outbound-relay/internal/resilience/circuit"
	"outbound-relay/internal/resilience/retry"
)

// fakeSender is a scriptable email sender.
type fakeSender struct {
	id    provider.ID
	err   error
	calls atomic.Int32
}

func (f *fakeSender) ID() provider.ID { return f.id }

func (f *fakeSender) Send(context.Context, Message) error {
	f.calls.Add(1)
	return f.err
}

func newSendService(circuits *circuit.Registry, senders ...Sender) *Service {
	stats := &fakeStats{}
	quota := &fakeQuota{}
	agg := NewHealthAggregator(stats, quota, circuits, testTable(), provider.EmailProviders(), time.Minute)
	sel := NewSelector(testTable(), 20)
	cfg := retry.Config{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	return NewService(agg, sel, circuits, stats, quota, senders, cfg)
}

func testMessage() Message {
	return Message{
		From:    "noreply@example.com",
		To:      "user@example.com",
		Subject: "Verify your account",
		Text:    "click the link",
	}
}

func TestSend_UnknownJobType(t *testing.T) {
	svc := newSendService(circuit.NewRegistry(circuit.DefaultConfig()))

	_, err := svc.Send(context.Background(), "newsletter", testMessage())
	if !errors.Is(err, ErrUnknownJobType) {
		t.Fatalf("err = %v, want ErrUnknownJobType", err)
	}
}

func TestSend_DeliversThroughPrimary(t *testing.T) {
	sg := &fakeSender{id: provider.SendGrid}
	mg := &fakeSender{id: provider.Mailgun}
	ses := &fakeSender{id: provider.SES}
	circuits := circuit.NewRegistry(circuit.DefaultConfig())
	svc := newSendService(circuits, sg, mg, ses)

	out, err := svc.Send(context.Background(), "auth", testMessage())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if out.Provider != provider.SendGrid {
		t.Errorf("delivered via %q, want %q", out.Provider, provider.SendGrid)
	}
	if out.Degraded {
		t.Error("delivery should not be degraded")
	}
	if mg.calls.Load() != 0 || ses.calls.Load() != 0 {
		t.Error("alternates should not be invoked when the primary succeeds")
	}
}

func TestSend_FallsBackToAlternate(t *testing.T) {
	sg := &fakeSender{id: provider.SendGrid, err: provider.Transient(provider.SendGrid, errors.New("503"))}
	mg := &fakeSender{id: provider.Mailgun}
	ses := &fakeSender{id: provider.SES}
	circuits := circuit.NewRegistry(circuit.DefaultConfig())
	svc := newSendService(circuits, sg, mg, ses)

	out, err := svc.Send(context.Background(), "auth", testMessage())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	// Auth priority is sendgrid, ses, mailgun.
	if out.Provider != provider.SES {
		t.Errorf("delivered via %q, want %q", out.Provider, provider.SES)
	}

	// The primary's failure still counts against its circuit.
	if snap := circuits.Snapshot(provider.SendGrid); snap.ConsecutiveFailures != 1 {
		t.Errorf("sendgrid consecutive failures = %d, want 1", snap.ConsecutiveFailures)
	}
}

func TestSend_ChargesOneQuotaUnit(t *testing.T) {
	sg := &fakeSender{id: provider.SendGrid}
	circuits := circuit.NewRegistry(circuit.DefaultConfig())

	stats := &fakeStats{}
	quota := &fakeQuota{}
	agg := NewHealthAggregator(stats, quota, circuits, testTable(), provider.EmailProviders(), time.Minute)
	sel := NewSelector(testTable(), 20)
	cfg := retry.Config{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	svc := NewService(agg, sel, circuits, stats, quota, []Sender{sg}, cfg)

	if _, err := svc.Send(context.Background(), "auth", testMessage()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	used, err := quota.Used(context.Background(), provider.SendGrid)
	if err != nil {
		t.Fatalf("Used: %v", err)
	}
	if used != 1 {
		t.Errorf("quota used = %d, want 1", used)
	}
}

func TestSend_AllCandidatesFail(t *testing.T) {
	sg := &fakeSender{id: provider.SendGrid, err: provider.Transient(provider.SendGrid, errors.New("timeout"))}
	mg := &fakeSender{id: provider.Mailgun, err: provider.Transient(provider.Mailgun, errors.New("refused"))}
	ses := &fakeSender{id: provider.SES, err: provider.Transient(provider.SES, errors.New("throttled"))}
	circuits := circuit.NewRegistry(circuit.DefaultConfig())
	svc := newSendService(circuits, sg, mg, ses)

	_, err := svc.Send(context.Background(), "auth", testMessage())
	if err == nil {
		t.Fatal("expected failure")
	}
	msg := err.Error()
	for _, want := range []string{"sendgrid: timeout", "ses: throttled", "mailgun: refused"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q should contain %q", msg, want)
		}
	}
}

func TestSend_NoEligibleProviders(t *testing.T) {
	sg := &fakeSender{id: provider.SendGrid}
	mg := &fakeSender{id: provider.Mailgun}
	ses := &fakeSender{id: provider.SES}
	circuits := circuit.NewRegistry(circuit.DefaultConfig())
	for _, id := range provider.EmailProviders() {
		for i := 0; i < 3; i++ {
			circuits.RecordFailure(id)
		}
	}
	svc := newSendService(circuits, sg, mg, ses)

	_, err := svc.Send(context.Background(), "auth", testMessage())
	if !errors.Is(err, ErrNoEligibleProviders) {
		t.Fatalf("err = %v, want ErrNoEligibleProviders", err)
	}
	if sg.calls.Load()+mg.calls.Load()+ses.calls.Load() != 0 {
		t.Error("no sender should have been invoked")
	}
}

func TestSend_DegradedFallbackStillDelivers(t *testing.T) {
	sg := &fakeSender{id: provider.SendGrid}
	circuits := circuit.NewRegistry(circuit.DefaultConfig())

	svc := newSendServiceWithExhaustedQuota(t, circuits, sg)

	out, err := svc.Send(context.Background(), "auth", testMessage())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !out.Degraded {
		t.Error("delivery through the fallback should be tagged degraded")
	}
	if out.Provider != provider.SendGrid {
		t.Errorf("fallback = %q, want first-priority %q", out.Provider, provider.SendGrid)
	}
}

// newSendServiceWithExhaustedQuota builds a service whose quota counters show
// every provider exhausted, forcing the selector into the degraded fallback.
func newSendServiceWithExhaustedQuota(t *testing.T, circuits *circuit.Registry, senders ...Sender) *Service {
	t.Helper()
	table := testTable()
	quota := &fakeQuota{used: map[provider.ID]int64{}}
	for id, limit := range table.DailyLimits {
		quota.used[id] = limit
	}
	stats := &fakeStats{}
	agg := NewHealthAggregator(stats, quota, circuits, table, provider.EmailProviders(), time.Minute)
	sel := NewSelector(table, 20)
	cfg := retry.Config{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	return NewService(agg, sel, circuits, stats, quota, senders, cfg)
}
