// Package circuitbreaker wraps the delivery endpoint call in a gobreaker
// circuit breaker (spec §4.10): once the failure rate counted since the
// breaker last closed (over at least MinRequests calls) crosses the
// configured threshold, calls fail fast without hitting the network until a
// single probe request succeeds. The counts are not a rolling time window.
package circuitbreaker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/rhewin/birthday-notifier/internal/metrics"
)

// ErrOpen is gobreaker.ErrOpenState, returned when the breaker is open and
// rejecting calls without attempting delivery.
var ErrOpen = gobreaker.ErrOpenState

type Config struct {
	Name                string
	FailureRateThreshold float64 // e.g. 0.5 for 50%
	MinRequests          uint32  // minimum requests in a window before tripping can occur
	OpenDuration         time.Duration
	RequestTimeout       time.Duration
}

func DefaultConfig(name string) Config {
	return Config{
		Name:                 name,
		FailureRateThreshold: 0.5,
		MinRequests:          5,
		OpenDuration:         30 * time.Second,
		RequestTimeout:       10 * time.Second,
	}
}

// Breaker guards calls to the external delivery endpoint.
type Breaker struct {
	cb     *gobreaker.CircuitBreaker
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Breaker {
	logger = logger.With("component", "circuitbreaker", "breaker", cfg.Name)

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1, // single probe allowed through while half-open
		Interval:    0, // never reset counts while closed; only the trip window matters
		Timeout:     cfg.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRate >= cfg.FailureRateThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "from", from, "to", to)
			metrics.CircuitBreakerStateChangesTotal.WithLabelValues(to.String()).Inc()
		},
	}

	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings), cfg: cfg, logger: logger}
}

// Execute runs fn under the breaker with a per-call timeout. A fn that
// returns an error counts as a breaker failure; ctx.Err() deadline or
// cancellation also counts as a failure.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, b.cfg.RequestTimeout)
	defer cancel()

	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn(callCtx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			return ErrOpen
		}
		return err
	}
	return nil
}

// State reports the breaker's current state, for health/metrics reporting.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
