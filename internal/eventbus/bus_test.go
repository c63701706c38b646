package eventbus_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/rhewin/birthday-notifier/internal/domain"
	"github.com/rhewin/birthday-notifier/internal/eventbus"
)

func newTestBus() *eventbus.Bus {
	return eventbus.New(slog.New(slog.NewTextHandler(noopWriter{}, nil)))
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestPublish_FansOutToAllSubscribers(t *testing.T) {
	bus := newTestBus()

	var mu sync.Mutex
	var got []string

	var wg sync.WaitGroup
	wg.Add(2)
	bus.Subscribe(domain.TopicRecipientCreated, func(_ context.Context, _ any) error {
		defer wg.Done()
		mu.Lock()
		got = append(got, "first")
		mu.Unlock()
		return nil
	})
	bus.Subscribe(domain.TopicRecipientCreated, func(_ context.Context, _ any) error {
		defer wg.Done()
		mu.Lock()
		got = append(got, "second")
		mu.Unlock()
		return nil
	})

	bus.Publish(context.Background(), domain.TopicRecipientCreated, domain.RecipientCreatedEvent{}, "trace-1")

	waitOrTimeout(t, &wg)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(got))
	}
}

func TestPublish_OneSubscriberFailureDoesNotBlockOthers(t *testing.T) {
	bus := newTestBus()

	var wg sync.WaitGroup
	wg.Add(2)

	var okCalled bool
	var mu sync.Mutex

	bus.Subscribe(domain.TopicRecipientUpdated, func(_ context.Context, _ any) error {
		defer wg.Done()
		panic("boom")
	})
	bus.Subscribe(domain.TopicRecipientUpdated, func(_ context.Context, _ any) error {
		defer wg.Done()
		mu.Lock()
		okCalled = true
		mu.Unlock()
		return errors.New("logged but swallowed")
	})

	bus.Publish(context.Background(), domain.TopicRecipientUpdated, domain.RecipientUpdatedEvent{}, "trace-2")

	waitOrTimeout(t, &wg)

	mu.Lock()
	defer mu.Unlock()
	if !okCalled {
		t.Fatal("expected second subscriber to run despite first panicking")
	}
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscribers")
	}
}
