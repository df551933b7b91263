package event

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultChannelBufferSize is the default buffer size for subscriber channels.
	DefaultChannelBufferSize = 100
)

// StreamEvent is a scheduler event as delivered to subscribers.
type StreamEvent struct {
	// Type is the event type string (e.g., "job.started", "tick.completed").
	Type string

	Timestamp time.Time

	// EpisodeID is the optional episode scope for filtering. Nil for events
	// that are not tied to one episode.
	EpisodeID *uuid.UUID

	// Tick is the environment tick the event was raised on.
	Tick int

	Payload any
}

// SubscribeOptions configures subscription filtering.
type SubscribeOptions struct {
	// EventTypes specifies which event types to receive using glob patterns.
	// Supports: "*" (all), "job.*", "*.completed", or exact match.
	// Empty slice subscribes to all events.
	EventTypes []string

	// EpisodeID filters events to those of one episode.
	EpisodeID string
}

type eventSubscription struct {
	id         uuid.UUID
	patterns   []string
	episodeID  *uuid.UUID
	channel    chan *StreamEvent
	cancelFunc context.CancelFunc
}

// EventRouter fans scheduler events out to subscribers.
type EventRouter struct {
	eventSubscriptions map[uuid.UUID]*eventSubscription
	mu                 sync.RWMutex
	bufferSize         int
	closed             bool
	metrics            *routerMetrics
}

// NewEventRouter creates a new EventRouter with the specified channel buffer
// size. A nil registry disables metrics.
func NewEventRouter(bufferSize int, registry *prometheus.Registry) *EventRouter {
	if bufferSize <= 0 {
		bufferSize = DefaultChannelBufferSize
	}
	return &EventRouter{
		eventSubscriptions: make(map[uuid.UUID]*eventSubscription),
		bufferSize:         bufferSize,
		metrics:            newRouterMetrics(registry),
	}
}

// Subscribe creates a new subscription and returns a channel for receiving
// events. Call the returned cancel function to unsubscribe and close the
// channel. The channel is also closed if ctx is cancelled.
func (r *EventRouter) Subscribe(ctx context.Context, opts SubscribeOptions) (<-chan *StreamEvent, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		ch := make(chan *StreamEvent)
		close(ch)
		return ch, func() {}
	}

	patterns := opts.EventTypes
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}

	var episodeID *uuid.UUID
	if opts.EpisodeID != "" {
		parsed, err := uuid.Parse(opts.EpisodeID)
		if err == nil {
			episodeID = &parsed
		}
	}

	subCtx, cancel := context.WithCancel(ctx)
	ch := make(chan *StreamEvent, r.bufferSize)

	sub := &eventSubscription{
		id:         uuid.New(),
		patterns:   patterns,
		episodeID:  episodeID,
		channel:    ch,
		cancelFunc: cancel,
	}

	r.eventSubscriptions[sub.id] = sub

	go func() {
		<-subCtx.Done()
		r.unsubscribe(sub.id)
	}()

	return ch, cancel
}

func (r *EventRouter) unsubscribe(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub, ok := r.eventSubscriptions[id]; ok {
		close(sub.channel)
		delete(r.eventSubscriptions, id)
	}
}

// Publish sends an event to all matching subscribers. Delivery never blocks:
// if a subscriber's channel is full, the event is dropped for it. Publishing
// on a nil router is a no-op.
func (r *EventRouter) Publish(event *StreamEvent) {
	if r == nil {
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return
	}

	r.metrics.IncrementPublished(event.Type)
	for _, sub := range r.eventSubscriptions {
		if !r.matches(sub, event) {
			continue
		}
		select {
		case sub.channel <- event:
			r.metrics.IncrementDelivered(event.Type)
		default:
			r.metrics.IncrementDropped(event.Type)
			slog.Debug("dropped event due to full channel buffer",
				"event_type", event.Type,
				"subscription_id", sub.id,
			)
		}
	}
}

func (r *EventRouter) matches(sub *eventSubscription, event *StreamEvent) bool {
	if sub.episodeID != nil {
		if event.EpisodeID == nil || *event.EpisodeID != *sub.episodeID {
			return false
		}
	}

	for _, pattern := range sub.patterns {
		if matchPattern(pattern, event.Type) {
			return true
		}
	}

	return false
}

// matchPattern checks if an event type matches a glob pattern.
// Supported patterns:
//   - "*" matches all event types
//   - "entity.*" matches all events for that entity (e.g., "job.*" matches "job.started")
//   - "*.action" matches that action across all entities (e.g., "*.completed")
//   - Exact strings match exactly
func matchPattern(pattern, eventType string) bool {
	if pattern == "*" {
		return true
	}

	if pattern == eventType {
		return true
	}

	patternParts := strings.SplitN(pattern, ".", 2)
	eventParts := strings.SplitN(eventType, ".", 2)

	if len(patternParts) != 2 || len(eventParts) != 2 {
		return false
	}

	patternEntity, patternAction := patternParts[0], patternParts[1]
	eventEntity, eventAction := eventParts[0], eventParts[1]

	if patternAction == "*" && patternEntity == eventEntity {
		return true
	}

	if patternEntity == "*" && patternAction == eventAction {
		return true
	}

	return false
}

// Close shuts down the router and closes all subscription channels.
func (r *EventRouter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	r.closed = true

	for id, sub := range r.eventSubscriptions {
		sub.cancelFunc()
		close(sub.channel)
		delete(r.eventSubscriptions, id)
	}
}

// SubscriptionCount returns the number of active subscriptions.
func (r *EventRouter) SubscriptionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.eventSubscriptions)
}
