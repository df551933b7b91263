// Package exposure decides, tick by tick, how much of the slow model's
// output the fast controller is allowed to see.
package exposure

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/furisto/cadence/backend/budget"
	"github.com/furisto/cadence/backend/event"
	"github.com/furisto/cadence/backend/model"
	"github.com/furisto/cadence/backend/producer"
)

// ErrJobActive is returned when a new job is requested while the previous
// one has not been fully exposed yet.
var ErrJobActive = errors.New("slow job still active")

// Exposure is the state of the slow job as seen after one tick.
type Exposure struct {
	// Text is everything exposed from the current job so far. It never
	// shrinks within a job.
	Text string
	// FromTick is the tick the exposed job was launched on.
	FromTick int
	// Fresh reports whether Text grew on this tick.
	Fresh bool
	// Launched reports whether a job was started on this tick.
	Launched bool
	// Cleared reports whether the job was retired on this tick.
	Cleared bool
	// Units is what the provider reported as produced on this tick.
	Units int
	// Accumulated is the token ledger after this tick; zero in time mode.
	Accumulated int
}

// Controller owns at most one slow job at a time.
type Controller interface {
	// Idle reports whether a new job may be launched.
	Idle() bool
	// Advance runs one tick with allotment as the tick's budget, in the
	// limits' unit. Non-nil messages launch a new job first and fail with
	// ErrJobActive unless the controller is idle. With no job and no
	// messages the zero Exposure is returned.
	Advance(ctx context.Context, tick int, allotment float64, messages []model.Message) (Exposure, error)
	// Reset retires the current job. Token mode drains it to completion,
	// time mode abandons the worker and discards its output.
	Reset(ctx context.Context) error
}

type Options struct {
	Events    *event.EventRouter
	EpisodeID *uuid.UUID
}

type Option func(*Options)

func WithEvents(router *event.EventRouter, episodeID *uuid.UUID) Option {
	return func(o *Options) {
		o.Events = router
		o.EpisodeID = episodeID
	}
}

func buildOptions(opts []Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New picks the controller matching the limits' unit. decoder is only used in
// token mode and may be nil.
func New(provider model.Provider, modelName string, params model.SamplingParams, limits budget.Limits, decoder budget.Decoder, opts ...Option) Controller {
	if limits.Unit == budget.UnitTime {
		return NewTimeController(producer.NewStreaming(provider, modelName, params), limits, opts...)
	}
	return NewTokenController(producer.NewBlocking(provider, modelName, params), limits, decoder, opts...)
}
