package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"outbound-relay/internal/config"
	"outbound-relay/internal/domain/provider"
	"outbound-relay/internal/repository"
	"outbound-relay/internal/resilience/circuit"
	"outbound-relay/internal/resilience/retry"
	"outbound-relay/internal/usecase/compress"
	"outbound-relay/internal/usecase/route"
)

type fakeStats struct {
	mu       sync.Mutex
	counters map[provider.ID]repository.ProviderCounters
}

func (s *fakeStats) RecordAttempt(context.Context, provider.ID, bool, time.Duration) error {
	return nil
}

func (s *fakeStats) FetchCounters(context.Context) (map[provider.ID]repository.ProviderCounters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[provider.ID]repository.ProviderCounters, len(s.counters))
	for id, c := range s.counters {
		out[id] = c
	}
	return out, nil
}

type fakeQuota struct {
	mu   sync.Mutex
	used map[provider.ID]int64
}

func (q *fakeQuota) Add(_ context.Context, id provider.ID, units int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.used == nil {
		q.used = make(map[provider.ID]int64)
	}
	q.used[id] += units
	return nil
}

func (q *fakeQuota) Used(_ context.Context, id provider.ID) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.used[id], nil
}

type fakeAdapter struct {
	id  provider.ID
	out []byte
	err error
}

func (a *fakeAdapter) ID() provider.ID { return a.id }

func (a *fakeAdapter) Compress(context.Context, []byte, int) (*compress.Result, error) {
	if a.err != nil {
		return nil, a.err
	}
	return &compress.Result{Bytes: a.out, Method: "fake"}, nil
}

type fakeSender struct {
	id  provider.ID
	err error
}

func (s *fakeSender) ID() provider.ID { return s.id }

func (s *fakeSender) Send(context.Context, route.Message) error { return s.err }

type routerFixture struct {
	handler  http.Handler
	circuits *circuit.Registry
	compress *compress.Service
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	stats := &fakeStats{counters: map[provider.ID]repository.ProviderCounters{}}
	quota := &fakeQuota{}
	circuits := circuit.NewRegistry(circuit.DefaultConfig())
	table := config.DefaultRoutingTable()

	adapters := []compress.Adapter{
		&fakeAdapter{id: provider.TinyPNG, out: []byte("small")},
		&fakeAdapter{id: provider.Kraken, out: []byte("smaller")},
	}
	fastRetry := retry.Config{MaxAttempts: 1}
	compressSvc := compress.NewService(circuits, stats, quota, adapters, fastRetry, time.Second)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = compressSvc.Shutdown(ctx)
	})

	providers := provider.EmailProviders()
	health := route.NewHealthAggregator(stats, quota, circuits, table, providers, time.Minute)
	selector := route.NewSelector(table, 20)
	senders := []route.Sender{
		&fakeSender{id: provider.SendGrid},
		&fakeSender{id: provider.Mailgun},
		&fakeSender{id: provider.SES},
	}
	routeSvc := route.NewService(health, selector, circuits, stats, quota, senders, fastRetry)

	handler := NewRouter(RouterDeps{
		Logger:   slog.Default(),
		Compress: compressSvc,
		Route:    routeSvc,
		Circuits: circuits,
		Health:   health,
		Version:  "test",
	})

	return &routerFixture{handler: handler, circuits: circuits, compress: compressSvc}
}

func (f *routerFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func openCircuit(reg *circuit.Registry, id provider.ID) {
	for i := 0; i < 3; i++ {
		reg.RecordFailure(id)
	}
}

func TestRouter_CompressSuccess(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodPost, "/jobs/compress",
		strings.NewReader("raw image bytes")))

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, body %s", rec.Code, rec.Body)
	}
	var resp compressResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Provider != string(provider.TinyPNG) && resp.Provider != string(provider.Kraken) {
		t.Errorf("provider = %q", resp.Provider)
	}
	data, err := base64.StdEncoding.DecodeString(resp.Data)
	if err != nil {
		t.Fatalf("data is not base64: %v", err)
	}
	if len(data) != resp.SizeBytes {
		t.Errorf("size_bytes = %d, payload %d", resp.SizeBytes, len(data))
	}
}

func TestRouter_CompressRejectsEmptyBody(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodPost, "/jobs/compress", nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("code = %d, want 400", rec.Code)
	}
}

func TestRouter_CompressNoEligibleProviders(t *testing.T) {
	f := newRouterFixture(t)
	openCircuit(f.circuits, provider.TinyPNG)
	openCircuit(f.circuits, provider.Kraken)

	rec := f.do(httptest.NewRequest(http.MethodPost, "/jobs/compress",
		strings.NewReader("raw image bytes")))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503, body %s", rec.Code, rec.Body)
	}
}

func TestRouter_RecommendRejectsUnknownType(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/routing/email?type=bulk", nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("code = %d, want 400", rec.Code)
	}
}

func TestRouter_Recommend(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/routing/email?type=auth", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, body %s", rec.Code, rec.Body)
	}
	var resp recommendResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Recommended != string(provider.SendGrid) {
		t.Errorf("recommended = %q, want sendgrid", resp.Recommended)
	}
	if resp.Degraded {
		t.Error("fresh providers should not be degraded")
	}
	if len(resp.Providers) == 0 {
		t.Error("expected provider views in response")
	}
}

func TestRouter_SendValidatesBody(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodPost, "/routing/email/send",
		strings.NewReader(`{"type":"auth","to":"a@example.com","subject":"hi","text":"hello"}`)))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("code = %d, want 400 for missing from", rec.Code)
	}
}

func TestRouter_Send(t *testing.T) {
	f := newRouterFixture(t)

	body := `{"type":"auth","from":"noreply@example.com","to":"a@example.com","subject":"hi","text":"hello"}`
	rec := f.do(httptest.NewRequest(http.MethodPost, "/routing/email/send", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, body %s", rec.Code, rec.Body)
	}
	var resp sendResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Provider != string(provider.SendGrid) {
		t.Errorf("provider = %q, want sendgrid", resp.Provider)
	}
}

func TestRouter_ProvidersHealth(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/providers/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, body %s", rec.Code, rec.Body)
	}
	var resp struct {
		Providers []healthView `json:"providers"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Providers) != len(provider.EmailProviders()) {
		t.Errorf("providers = %d, want %d", len(resp.Providers), len(provider.EmailProviders()))
	}
	for _, v := range resp.Providers {
		if v.HealthScore != 100 {
			t.Errorf("%s: score = %v, want 100 with no history", v.Provider, v.HealthScore)
		}
	}
}

func TestRouter_AdminResetRequiresToken(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodPost, "/admin/circuits/tinypng/reset", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("code = %d, want 401", rec.Code)
	}
}

func adminToken(t *testing.T, f *routerFixture) string {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("ADMIN_USERNAME", "admin")
	t.Setenv("ADMIN_PASSWORD", "hunter2")

	rec := f.do(httptest.NewRequest(http.MethodPost, "/auth/token",
		strings.NewReader(`{"username":"admin","password":"hunter2"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("token code = %d, body %s", rec.Code, rec.Body)
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode token: %v", err)
	}
	return resp.Token
}

func TestRouter_AdminResetUnknownProvider(t *testing.T) {
	f := newRouterFixture(t)
	token := adminToken(t, f)

	req := httptest.NewRequest(http.MethodPost, "/admin/circuits/imaginary/reset", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := f.do(req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("code = %d, want 404", rec.Code)
	}
}

func TestRouter_AdminResetClosesCircuit(t *testing.T) {
	f := newRouterFixture(t)
	token := adminToken(t, f)
	openCircuit(f.circuits, provider.TinyPNG)

	req := httptest.NewRequest(http.MethodPost, "/admin/circuits/tinypng/reset", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := f.do(req)

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, body %s", rec.Code, rec.Body)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["previous_state"] != "open" {
		t.Errorf("previous_state = %q, want open", resp["previous_state"])
	}
	if snap := f.circuits.Snapshot(provider.TinyPNG); snap.State != circuit.StateClosed {
		t.Errorf("state after reset = %v, want closed", snap.State)
	}
}

func TestRouter_HealthzReportsUnconfiguredDeps(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d, want 503 with no DB or redis", rec.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "unhealthy" {
		t.Errorf("status = %q, want unhealthy", resp.Status)
	}
	if resp.Checks["database"].Status != "unhealthy" {
		t.Errorf("database check = %+v", resp.Checks["database"])
	}
}

func TestRouter_EchoesRequestID(t *testing.T) {
	f := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/providers/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := f.do(req)

	if got := rec.Header().Get("X-Request-ID"); got != "req-123" {
		t.Errorf("X-Request-ID = %q, want req-123", got)
	}
}

func TestRouter_MintsRequestID(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/providers/health", nil))

	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated X-Request-ID")
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("code = %d, want 200", rec.Code)
	}
}

func TestRecover_TurnsPanicInto500(t *testing.T) {
	handler := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), Recover(slog.Default()))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("code = %d, want 500", rec.Code)
	}
}

func TestLimitRequestBody(t *testing.T) {
	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}), LimitRequestBody(8))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/",
		strings.NewReader("well over eight bytes")))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("code = %d, want 413", rec.Code)
	}
}
