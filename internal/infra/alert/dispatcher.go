package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Dispatcher fans transition events out to every configured alerter.
//
// Notify is non-blocking: the circuit registry invokes its state change hook
// while holding its lock, so delivery runs on background goroutines with
// their own deadline. Errors are logged by the alerters themselves; a failed
// alert never affects routing.
type Dispatcher struct {
	alerters []Alerter
	timeout  time.Duration
	logger   *slog.Logger

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher over the given alerters. A non-positive
// timeout falls back to 30 seconds.
func NewDispatcher(alerters []Alerter, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		alerters: alerters,
		timeout:  timeout,
		logger:   logger,
	}
}

// Notify delivers the event to every alerter asynchronously and returns
// immediately.
func (d *Dispatcher) Notify(e Event) {
	for _, a := range d.alerters {
		d.wg.Add(1)
		go func(a Alerter) {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()
			if err := a.CircuitTransition(ctx, e); err != nil {
				d.logger.Warn("circuit alert delivery failed",
					slog.String("provider", string(e.Provider)),
					slog.String("to_state", e.To),
					slog.Any("error", err))
			}
		}(a)
	}
}

// Wait blocks until all in-flight deliveries finish. Called during shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
