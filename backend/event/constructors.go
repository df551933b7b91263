package event

import (
	"time"

	"github.com/google/uuid"
)

// Event type constants
const (
	// Slow job lifecycle
	EventTypeJobStarted   = "job.started"
	EventTypeJobExposed   = "job.exposed"
	EventTypeJobCompleted = "job.completed"
	EventTypeJobDrained   = "job.drained"

	EventTypeForcerFallback = "forcer.fallback"

	// Episode lifecycle
	EventTypeEpisodeStarted   = "episode.started"
	EventTypeEpisodeReset     = "episode.reset"
	EventTypeEpisodeCompleted = "episode.completed"

	EventTypeTickCompleted = "tick.completed"
)

// JobPayload describes a slow job at the time of the event.
type JobPayload struct {
	StartTick int
	// Units is the job's unit count as reported by the provider.
	Units int
	// Exposed is the length of the text exposed so far.
	Exposed int
	// Accumulated is the token ledger of the job; zero in time mode.
	Accumulated int
}

type ForcerFallbackPayload struct {
	DefaultAction string
	Attempts      int
}

type TickPayload struct {
	Action string
	Reward float64
	Done   bool
}

type EpisodePayload struct {
	Seed   int64
	Reward float64
	Turns  int
}

func newEvent(eventType string, episodeID *uuid.UUID, tick int, payload any) *StreamEvent {
	return &StreamEvent{
		Type:      eventType,
		Timestamp: time.Now(),
		EpisodeID: episodeID,
		Tick:      tick,
		Payload:   payload,
	}
}

func NewJobStartedEvent(episodeID *uuid.UUID, tick int) *StreamEvent {
	return newEvent(EventTypeJobStarted, episodeID, tick, &JobPayload{StartTick: tick})
}

func NewJobExposedEvent(episodeID *uuid.UUID, tick int, job JobPayload) *StreamEvent {
	return newEvent(EventTypeJobExposed, episodeID, tick, &job)
}

func NewJobCompletedEvent(episodeID *uuid.UUID, tick int, job JobPayload) *StreamEvent {
	return newEvent(EventTypeJobCompleted, episodeID, tick, &job)
}

func NewJobDrainedEvent(episodeID *uuid.UUID, tick int, job JobPayload) *StreamEvent {
	return newEvent(EventTypeJobDrained, episodeID, tick, &job)
}

func NewForcerFallbackEvent(episodeID *uuid.UUID, tick int, defaultAction string, attempts int) *StreamEvent {
	return newEvent(EventTypeForcerFallback, episodeID, tick, &ForcerFallbackPayload{
		DefaultAction: defaultAction,
		Attempts:      attempts,
	})
}

func NewEpisodeStartedEvent(episodeID *uuid.UUID, seed int64) *StreamEvent {
	return newEvent(EventTypeEpisodeStarted, episodeID, 0, &EpisodePayload{Seed: seed})
}

func NewEpisodeResetEvent(episodeID *uuid.UUID, tick int) *StreamEvent {
	return newEvent(EventTypeEpisodeReset, episodeID, tick, nil)
}

func NewEpisodeCompletedEvent(episodeID *uuid.UUID, seed int64, reward float64, turns int) *StreamEvent {
	return newEvent(EventTypeEpisodeCompleted, episodeID, turns, &EpisodePayload{
		Seed:   seed,
		Reward: reward,
		Turns:  turns,
	})
}

func NewTickCompletedEvent(episodeID *uuid.UUID, tick int, action string, reward float64, done bool) *StreamEvent {
	return newEvent(EventTypeTickCompleted, episodeID, tick, &TickPayload{
		Action: action,
		Reward: reward,
		Done:   done,
	})
}
