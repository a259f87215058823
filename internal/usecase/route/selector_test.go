package route

import (
	"strings"
	"testing"

	"outbound-relay/internal/config"
	"outbound-relay/internal/domain/provider"
	"outbound-relay/internal/resilience/circuit"
)

func healthyView(id provider.ID) View {
	return View{
		Provider:       id,
		HealthScore:    100,
		QuotaRemaining: 50,
		DailyLimit:     100,
		CircuitState:   circuit.StateClosed,
	}
}

func newTestSelector() *Selector {
	return NewSelector(config.DefaultRoutingTable(), 20)
}

func TestSelect_PicksPriorityOrderWhenAllHealthy(t *testing.T) {
	sel := newTestSelector()
	views := []View{
		healthyView(provider.SendGrid),
		healthyView(provider.Mailgun),
		healthyView(provider.SES),
	}

	got := sel.Select(provider.JobAuth, views)
	if got.Provider != provider.SendGrid {
		t.Errorf("primary = %q, want %q", got.Provider, provider.SendGrid)
	}
	if len(got.Alternates) != 2 || got.Alternates[0] != provider.SES || got.Alternates[1] != provider.Mailgun {
		t.Errorf("alternates = %v, want [ses mailgun]", got.Alternates)
	}
	if got.Degraded {
		t.Error("selection should not be degraded")
	}
}

func TestSelect_SkipsExhaustedQuota(t *testing.T) {
	sel := newTestSelector()
	exhausted := healthyView(provider.SendGrid)
	exhausted.QuotaRemaining = 0
	views := []View{
		exhausted,
		healthyView(provider.Mailgun),
		healthyView(provider.SES),
	}

	got := sel.Select(provider.JobAuth, views)
	if got.Provider != provider.SES {
		t.Errorf("primary = %q, want %q (next in auth priority)", got.Provider, provider.SES)
	}
	for _, alt := range got.Alternates {
		if alt == provider.SendGrid {
			t.Error("exhausted provider must never appear as an alternate")
		}
	}
}

func TestSelect_SkipsOpenCircuit(t *testing.T) {
	sel := newTestSelector()
	open := healthyView(provider.SendGrid)
	open.CircuitState = circuit.StateOpen
	views := []View{open, healthyView(provider.SES)}

	got := sel.Select(provider.JobAuth, views)
	if got.Provider != provider.SES {
		t.Errorf("primary = %q, want %q", got.Provider, provider.SES)
	}
}

func TestSelect_SkipsLowScore(t *testing.T) {
	sel := newTestSelector()
	sick := healthyView(provider.SendGrid)
	sick.HealthScore = 19.9
	views := []View{sick, healthyView(provider.SES)}

	got := sel.Select(provider.JobAuth, views)
	if got.Provider != provider.SES {
		t.Errorf("primary = %q, want %q", got.Provider, provider.SES)
	}
}

func TestSelect_HalfOpenIsEligible(t *testing.T) {
	sel := newTestSelector()
	probing := healthyView(provider.SendGrid)
	probing.CircuitState = circuit.StateHalfOpen
	views := []View{probing, healthyView(provider.SES)}

	got := sel.Select(provider.JobAuth, views)
	if got.Provider != provider.SendGrid {
		t.Errorf("half-open provider should stay eligible, got %q", got.Provider)
	}
}

func TestSelect_DegradedFallbackWhenNothingHealthy(t *testing.T) {
	sel := newTestSelector()
	var views []View
	for _, id := range provider.EmailProviders() {
		v := healthyView(id)
		v.CircuitState = circuit.StateOpen
		views = append(views, v)
	}

	got := sel.Select(provider.JobAuth, views)
	if got.Provider != provider.SendGrid {
		t.Errorf("fallback = %q, want first-priority %q", got.Provider, provider.SendGrid)
	}
	if !got.Degraded {
		t.Error("fallback selection must be tagged degraded")
	}
	if !strings.Contains(got.Reason, "degraded") {
		t.Errorf("reason %q should mention the degraded fallback", got.Reason)
	}
	if len(got.Alternates) != 0 {
		t.Errorf("degraded fallback should carry no alternates, got %v", got.Alternates)
	}
}

func TestSelect_ReasonDescribesPrimary(t *testing.T) {
	sel := newTestSelector()
	v := healthyView(provider.SendGrid)
	v.HealthScore = 87.5
	v.QuotaRemaining = 62

	got := sel.Select(provider.JobAuth, []View{v})
	if !strings.Contains(got.Reason, "87.5") || !strings.Contains(got.Reason, "62") {
		t.Errorf("reason %q should carry score and quota", got.Reason)
	}
}
