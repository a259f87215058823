package circuit

import (
	"sync"
	"testing"
	"time"

	"outbound-relay/internal/domain/provider"
)

// fakeClock is a manually advanced Clock for deterministic tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestState_String(t *testing.T) {
	tests := []struct {
		name  string
		state State
		want  string
	}{
		{"closed state", StateClosed, "closed"},
		{"open state", StateOpen, "open"},
		{"half-open state", StateHalfOpen, "half-open"},
		{"unknown state", State(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRegistry_OpensAfterThresholdFailures(t *testing.T) {
	reg := NewRegistry(Config{FailureThreshold: 3, ResetTimeout: time.Minute}, WithClock(newFakeClock()))

	for i := 0; i < 2; i++ {
		reg.RecordFailure(provider.TinyPNG)
		if !reg.CanAttempt(provider.TinyPNG) {
			t.Fatalf("circuit opened after %d failures, threshold is 3", i+1)
		}
	}

	reg.RecordFailure(provider.TinyPNG)

	if reg.CanAttempt(provider.TinyPNG) {
		t.Error("CanAttempt() should return false after threshold failures")
	}
	snap := reg.Snapshot(provider.TinyPNG)
	if snap.State != StateOpen {
		t.Errorf("state = %v, want %v", snap.State, StateOpen)
	}
	if snap.ConsecutiveFailures != 3 {
		t.Errorf("consecutiveFailures = %d, want 3", snap.ConsecutiveFailures)
	}
}

func TestRegistry_SuccessResetsFailureCount(t *testing.T) {
	reg := NewRegistry(DefaultConfig(), WithClock(newFakeClock()))

	reg.RecordFailure(provider.Kraken)
	reg.RecordFailure(provider.Kraken)
	reg.RecordSuccess(provider.Kraken)
	reg.RecordFailure(provider.Kraken)
	reg.RecordFailure(provider.Kraken)

	snap := reg.Snapshot(provider.Kraken)
	if snap.State != StateClosed {
		t.Errorf("state = %v, want closed (failures were not consecutive)", snap.State)
	}
	if snap.ConsecutiveFailures != 2 {
		t.Errorf("consecutiveFailures = %d, want 2", snap.ConsecutiveFailures)
	}
}

func TestRegistry_OpenTransitionsToHalfOpenAfterTimeout(t *testing.T) {
	clock := newFakeClock()
	reg := NewRegistry(Config{FailureThreshold: 1, ResetTimeout: time.Minute, HalfOpenMaxAttempts: 1}, WithClock(clock))

	reg.RecordFailure(provider.SendGrid)
	if reg.CanAttempt(provider.SendGrid) {
		t.Fatal("circuit should be open")
	}

	// Just short of the timeout: still open.
	clock.Advance(59 * time.Second)
	if reg.CanAttempt(provider.SendGrid) {
		t.Error("circuit should still be open before the reset timeout")
	}

	clock.Advance(time.Second)
	snap := reg.Snapshot(provider.SendGrid)
	if snap.State != StateHalfOpen {
		t.Errorf("state = %v, want half-open after reset timeout", snap.State)
	}
	if snap.HalfOpenProbesUsed != 0 {
		t.Errorf("halfOpenProbesUsed = %d, want 0 after transition", snap.HalfOpenProbesUsed)
	}
}

func TestRegistry_HalfOpenAdmitsLimitedProbes(t *testing.T) {
	clock := newFakeClock()
	reg := NewRegistry(Config{FailureThreshold: 1, ResetTimeout: time.Minute, HalfOpenMaxAttempts: 2}, WithClock(clock))

	reg.RecordFailure(provider.Mailgun)
	clock.Advance(time.Minute)

	if !reg.CanAttempt(provider.Mailgun) {
		t.Fatal("first half-open probe should be admitted")
	}
	if !reg.CanAttempt(provider.Mailgun) {
		t.Fatal("second half-open probe should be admitted")
	}
	if reg.CanAttempt(provider.Mailgun) {
		t.Error("third probe should be rejected, cap is 2")
	}
}

func TestRegistry_HalfOpenProbeCapUnderConcurrency(t *testing.T) {
	clock := newFakeClock()
	reg := NewRegistry(Config{FailureThreshold: 1, ResetTimeout: time.Minute, HalfOpenMaxAttempts: 1}, WithClock(clock))

	reg.RecordFailure(provider.TinyPNG)
	clock.Advance(time.Minute)

	const callers = 50
	admitted := make(chan struct{}, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if reg.CanAttempt(provider.TinyPNG) {
				admitted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(admitted)

	count := 0
	for range admitted {
		count++
	}
	if count != 1 {
		t.Errorf("admitted %d concurrent half-open probes, want exactly 1", count)
	}
}

func TestRegistry_HalfOpenSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	reg := NewRegistry(Config{FailureThreshold: 1, ResetTimeout: time.Minute, HalfOpenMaxAttempts: 1}, WithClock(clock))

	reg.RecordFailure(provider.SES)
	clock.Advance(time.Minute)
	if !reg.CanAttempt(provider.SES) {
		t.Fatal("probe should be admitted")
	}

	reg.RecordSuccess(provider.SES)

	snap := reg.Snapshot(provider.SES)
	if snap.State != StateClosed {
		t.Errorf("state = %v, want closed after half-open success", snap.State)
	}
	if snap.ConsecutiveFailures != 0 {
		t.Errorf("consecutiveFailures = %d, want 0", snap.ConsecutiveFailures)
	}
}

func TestRegistry_HalfOpenFailureReopensAndRestartsTimer(t *testing.T) {
	clock := newFakeClock()
	reg := NewRegistry(Config{FailureThreshold: 1, ResetTimeout: time.Minute, HalfOpenMaxAttempts: 1}, WithClock(clock))

	reg.RecordFailure(provider.Kraken)
	clock.Advance(time.Minute)
	if !reg.CanAttempt(provider.Kraken) {
		t.Fatal("probe should be admitted")
	}

	reg.RecordFailure(provider.Kraken)

	if reg.Snapshot(provider.Kraken).State != StateOpen {
		t.Fatal("failed probe should reopen the circuit")
	}

	// The timer restarted at the probe failure, so half the original
	// timeout is not enough.
	clock.Advance(30 * time.Second)
	if reg.CanAttempt(provider.Kraken) {
		t.Error("circuit should still be open, reset timer was restarted")
	}
	clock.Advance(30 * time.Second)
	if reg.Snapshot(provider.Kraken).State != StateHalfOpen {
		t.Error("circuit should be half-open after the restarted timeout elapses")
	}
}

func TestRegistry_StragglerOutcomesWhileOpen(t *testing.T) {
	clock := newFakeClock()
	reg := NewRegistry(Config{FailureThreshold: 2, ResetTimeout: time.Minute, HalfOpenMaxAttempts: 1}, WithClock(clock))

	reg.RecordFailure(provider.TinyPNG)
	reg.RecordFailure(provider.TinyPNG)
	if reg.Snapshot(provider.TinyPNG).State != StateOpen {
		t.Fatal("circuit should be open")
	}

	// A race loser reporting a late failure must not push recovery out.
	clock.Advance(30 * time.Second)
	reg.RecordFailure(provider.TinyPNG)
	clock.Advance(30 * time.Second)

	if reg.Snapshot(provider.TinyPNG).State != StateHalfOpen {
		t.Error("late failures while open must not restart the reset timer")
	}
}

func TestRegistry_ResetForcesClosed(t *testing.T) {
	reg := NewRegistry(Config{FailureThreshold: 1, ResetTimeout: time.Hour}, WithClock(newFakeClock()))

	reg.RecordFailure(provider.SendGrid)
	if reg.CanAttempt(provider.SendGrid) {
		t.Fatal("circuit should be open")
	}

	reg.Reset(provider.SendGrid)

	if !reg.CanAttempt(provider.SendGrid) {
		t.Error("CanAttempt() should return true after manual reset")
	}
	snap := reg.Snapshot(provider.SendGrid)
	if snap.State != StateClosed || snap.ConsecutiveFailures != 0 {
		t.Errorf("snapshot after reset = %+v, want closed with zero failures", snap)
	}
}

func TestRegistry_ProvidersAreIndependent(t *testing.T) {
	reg := NewRegistry(Config{FailureThreshold: 1, ResetTimeout: time.Hour}, WithClock(newFakeClock()))

	reg.RecordFailure(provider.TinyPNG)

	if reg.CanAttempt(provider.TinyPNG) {
		t.Error("tinypng circuit should be open")
	}
	if !reg.CanAttempt(provider.Kraken) {
		t.Error("kraken circuit should be unaffected")
	}
}

func TestRegistry_StateChangeHook(t *testing.T) {
	type change struct {
		name     string
		from, to State
	}
	var (
		mu      sync.Mutex
		changes []change
	)
	clock := newFakeClock()
	reg := NewRegistry(
		Config{FailureThreshold: 1, ResetTimeout: time.Minute, HalfOpenMaxAttempts: 1},
		WithClock(clock),
		WithStateChangeHook(func(name string, from, to State) {
			mu.Lock()
			changes = append(changes, change{name, from, to})
			mu.Unlock()
		}),
	)

	reg.RecordFailure(provider.SES)
	clock.Advance(time.Minute)
	reg.CanAttempt(provider.SES)
	reg.RecordSuccess(provider.SES)

	mu.Lock()
	defer mu.Unlock()
	want := []change{
		{"ses", StateClosed, StateOpen},
		{"ses", StateOpen, StateHalfOpen},
		{"ses", StateHalfOpen, StateClosed},
	}
	if len(changes) != len(want) {
		t.Fatalf("got %d transitions, want %d: %+v", len(changes), len(want), changes)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("transition[%d] = %+v, want %+v", i, changes[i], want[i])
		}
	}
}

func TestRegistry_ConcurrentMixedTraffic(t *testing.T) {
	reg := NewRegistry(DefaultConfig(), WithClock(newFakeClock()))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := provider.TinyPNG
			if n%2 == 0 {
				id = provider.Kraken
			}
			reg.CanAttempt(id)
			if n%3 == 0 {
				reg.RecordFailure(id)
			} else {
				reg.RecordSuccess(id)
			}
			reg.Snapshot(id)
		}(i)
	}
	wg.Wait()

	// No assertion beyond the race detector and that all circuits are in
	// a defined state.
	for id, snap := range reg.SnapshotAll() {
		if snap.State != StateClosed && snap.State != StateOpen && snap.State != StateHalfOpen {
			t.Errorf("provider %s in undefined state %v", id, snap.State)
		}
	}
}
