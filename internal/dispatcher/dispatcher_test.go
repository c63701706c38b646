package dispatcher_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/rhewin/birthday-notifier/internal/dispatcher"
)

func newTestDispatcher(t *testing.T) (*dispatcher.Dispatcher, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := dispatcher.DefaultConfig()
	return dispatcher.New(rdb, cfg, logger), mr
}

func TestEnqueueThenClaimDue_ReturnsJobOnlyOnceDue(t *testing.T) {
	d, mr := newTestDispatcher(t)
	ctx := context.Background()

	future := time.Now().Add(1 * time.Hour)
	if err := d.Enqueue(ctx, "rec-1:birthday:2026-01-01", "rec-1", future, "trace-1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	claimed, err := d.ClaimDue(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("claim due: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("expected no due jobs yet, got %d", len(claimed))
	}

	mr.FastForward(2 * time.Hour)

	claimed, err = d.ClaimDue(ctx, time.Now().Add(2*time.Hour), 10)
	if err != nil {
		t.Fatalf("claim due: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected 1 due job, got %d", len(claimed))
	}
	if claimed[0].IdempotencyKey != "rec-1:birthday:2026-01-01" {
		t.Fatalf("unexpected job: %+v", claimed[0])
	}
}

func TestClaimDue_IsExclusive(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	past := time.Now().Add(-1 * time.Minute)
	if err := d.Enqueue(ctx, "rec-2:birthday:2026-01-01", "rec-2", past, "trace-2"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	first, err := d.ClaimDue(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected 1 job claimed by first caller, got %d", len(first))
	}

	second, err := d.ClaimDue(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("expected second claim to find nothing, got %d", len(second))
	}
}

func TestRemove_PreventsLaterClaim(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	past := time.Now().Add(-1 * time.Minute)
	if err := d.Enqueue(ctx, "rec-3:birthday:2026-01-01", "rec-3", past, "trace-3"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := d.Remove(ctx, "rec-3:birthday:2026-01-01"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	claimed, err := d.ClaimDue(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("claim due: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("expected removed job to never be claimed, got %d", len(claimed))
	}
}

func TestRetry_RespectsMaxAttempts(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	job := dispatcher.Job{IdempotencyKey: "rec-4:birthday:2026-01-01", RecipientID: "rec-4", TraceID: "trace-4"}

	retried, err := d.Retry(ctx, job, 5)
	if err != nil {
		t.Fatalf("retry at max: %v", err)
	}
	if !retried {
		t.Fatal("expected retry to succeed at attempt == MaxAttempts")
	}

	retried, err = d.Retry(ctx, job, 6)
	if err != nil {
		t.Fatalf("retry beyond max: %v", err)
	}
	if retried {
		t.Fatal("expected retry to refuse once attempt exceeds MaxAttempts")
	}
}

func TestQueueDepth_ReflectsUnclaimedJobs(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	if err := d.Enqueue(ctx, "rec-5:birthday:2026-01-01", "rec-5", time.Now(), "trace-5"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := d.Enqueue(ctx, "rec-6:birthday:2026-01-01", "rec-6", time.Now(), "trace-6"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	depth, err := d.QueueDepth(ctx)
	if err != nil {
		t.Fatalf("queue depth: %v", err)
	}
	if depth != 2 {
		t.Fatalf("expected depth 2, got %d", depth)
	}
}
