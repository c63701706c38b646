// Package reaper rescues ScheduledSend records left stranded in PROCESSING
// by a Delivery Worker that crashed (or was killed) between claiming a job
// and recording its outcome (spec §1, "exactly-once delivery despite
// crashes, restarts").
package reaper

import (
	"context"
	"log/slog"
	"time"
)

// Rescuer is the Schedule Store slice the Reaper needs.
type Rescuer interface {
	RescheduleStale(ctx context.Context, staleCutoff time.Time, maxAttempts, limit int) (int, error)
	FailStale(ctx context.Context, staleCutoff time.Time, maxAttempts, limit int) (int, error)
}

const batchLimit = 100

type Reaper struct {
	store        Rescuer
	logger       *slog.Logger
	interval     time.Duration
	leaseTimeout time.Duration
	maxAttempts  int
}

func New(store Rescuer, logger *slog.Logger, interval, leaseTimeout time.Duration, maxAttempts int) *Reaper {
	return &Reaper{
		store:        store,
		logger:       logger.With("component", "reaper"),
		interval:     interval,
		leaseTimeout: leaseTimeout,
		maxAttempts:  maxAttempts,
	}
}

// Start runs the scan loop until ctx is cancelled.
func (r *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reaper started", "interval", r.interval, "lease_timeout", r.leaseTimeout)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper shut down")
			return
		case <-ticker.C:
			r.reap(ctx)
		}
	}
}

func (r *Reaper) reap(ctx context.Context) {
	staleCutoff := time.Now().Add(-r.leaseTimeout)

	rescued, err := r.store.RescheduleStale(ctx, staleCutoff, r.maxAttempts, batchLimit)
	if err != nil {
		r.logger.Error("reschedule stale", "error", err)
	} else if rescued > 0 {
		r.logger.Warn("rescued abandoned processing records", "count", rescued)
	}

	failed, err := r.store.FailStale(ctx, staleCutoff, r.maxAttempts, batchLimit)
	if err != nil {
		r.logger.Error("fail stale", "error", err)
	} else if failed > 0 {
		r.logger.Warn("permanently failed abandoned processing records", "count", failed)
	}
}
