package event

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMatchPattern(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pattern   string
		eventType string
		want      bool
	}{
		{"*", "job.started", true},
		{"job.started", "job.started", true},
		{"job.started", "job.completed", false},
		{"job.*", "job.exposed", true},
		{"job.*", "episode.reset", false},
		{"*.completed", "job.completed", true},
		{"*.completed", "episode.completed", true},
		{"*.completed", "tick.started", false},
		{"job", "job.started", false},
		{"job.*", "job", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.eventType, func(t *testing.T) {
			t.Parallel()
			if got := matchPattern(tt.pattern, tt.eventType); got != tt.want {
				t.Errorf("matchPattern(%q, %q) = %v, want %v", tt.pattern, tt.eventType, got, tt.want)
			}
		})
	}
}

func receive(t *testing.T, ch <-chan *StreamEvent) *StreamEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return nil
	}
}

func expectNone(t *testing.T, ch <-chan *StreamEvent) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %q", ev.Type)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestPublishFiltersByPattern(t *testing.T) {
	t.Parallel()

	router := NewEventRouter(10, nil)
	defer router.Close()

	jobs, unsubscribe := router.Subscribe(context.Background(), SubscribeOptions{EventTypes: []string{"job.*"}})
	defer unsubscribe()

	router.Publish(NewEpisodeResetEvent(nil, 4))
	router.Publish(NewJobStartedEvent(nil, 4))

	ev := receive(t, jobs)
	if ev.Type != EventTypeJobStarted || ev.Tick != 4 {
		t.Errorf("got %q at tick %d, want %q at tick 4", ev.Type, ev.Tick, EventTypeJobStarted)
	}
	payload, ok := ev.Payload.(*JobPayload)
	if !ok || payload.StartTick != 4 {
		t.Errorf("payload = %#v", ev.Payload)
	}
	expectNone(t, jobs)
}

func TestPublishFiltersByEpisode(t *testing.T) {
	t.Parallel()

	router := NewEventRouter(10, nil)
	defer router.Close()

	episode := uuid.New()
	other := uuid.New()

	ch, unsubscribe := router.Subscribe(context.Background(), SubscribeOptions{EpisodeID: episode.String()})
	defer unsubscribe()

	router.Publish(NewTickCompletedEvent(&other, 1, "U", 0, false))
	router.Publish(NewTickCompletedEvent(nil, 1, "D", 0, false))
	router.Publish(NewTickCompletedEvent(&episode, 1, "S", 1, false))

	ev := receive(t, ch)
	if got := ev.Payload.(*TickPayload).Action; got != "S" {
		t.Errorf("action = %q, want S", got)
	}
	expectNone(t, ch)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	router := NewEventRouter(10, nil)
	defer router.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := router.Subscribe(ctx, SubscribeOptions{})
	if router.SubscriptionCount() != 1 {
		t.Fatalf("SubscriptionCount() = %d, want 1", router.SubscriptionCount())
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("channel should be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}

	deadline := time.Now().Add(time.Second)
	for router.SubscriptionCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if router.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after cancel", router.SubscriptionCount())
	}
}

func TestCloseAndNilRouter(t *testing.T) {
	t.Parallel()

	router := NewEventRouter(10, nil)
	ch, _ := router.Subscribe(context.Background(), SubscribeOptions{})
	router.Close()

	if _, ok := <-ch; ok {
		t.Error("channel should be closed by Close")
	}
	router.Publish(NewEpisodeResetEvent(nil, 0))

	late, _ := router.Subscribe(context.Background(), SubscribeOptions{})
	if _, ok := <-late; ok {
		t.Error("subscribe after close should yield a closed channel")
	}

	var none *EventRouter
	none.Publish(NewEpisodeResetEvent(nil, 0))
}

func TestDropsOnFullBufferAndCounts(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	router := NewEventRouter(2, registry)
	defer router.Close()

	ch, unsubscribe := router.Subscribe(context.Background(), SubscribeOptions{})
	defer unsubscribe()

	for i := range 5 {
		router.Publish(NewJobExposedEvent(nil, i, JobPayload{Exposed: i}))
	}

	if got := len(ch); got != 2 {
		t.Errorf("buffered = %d, want 2", got)
	}
	if got := testutil.ToFloat64(router.metrics.published.WithLabelValues(EventTypeJobExposed)); got != 5 {
		t.Errorf("published = %v, want 5", got)
	}
	if got := testutil.ToFloat64(router.metrics.dropped.WithLabelValues(EventTypeJobExposed)); got != 3 {
		t.Errorf("dropped = %v, want 3", got)
	}
}
