package reaper

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeRescuer struct {
	mu              sync.Mutex
	rescheduleCalls int
	failCalls       int
	rescheduleN     int
	failN           int
}

func (f *fakeRescuer) RescheduleStale(context.Context, time.Time, int, int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rescheduleCalls++
	return f.rescheduleN, nil
}

func (f *fakeRescuer) FailStale(context.Context, time.Time, int, int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failCalls++
	return f.failN, nil
}

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReaper_ReapCallsBothRescueOperations(t *testing.T) {
	rescuer := &fakeRescuer{rescheduleN: 2, failN: 1}
	r := New(rescuer, silentLogger(), time.Second, time.Minute, 5)

	r.reap(context.Background())

	rescuer.mu.Lock()
	defer rescuer.mu.Unlock()
	if rescuer.rescheduleCalls != 1 {
		t.Fatalf("expected exactly one RescheduleStale call per reap, got %d", rescuer.rescheduleCalls)
	}
	if rescuer.failCalls != 1 {
		t.Fatalf("expected exactly one FailStale call per reap, got %d", rescuer.failCalls)
	}
}

func TestReaper_StartStopsOnContextCancellation(t *testing.T) {
	rescuer := &fakeRescuer{}
	r := New(rescuer, silentLogger(), 5*time.Millisecond, time.Minute, 5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after context cancellation")
	}
}
