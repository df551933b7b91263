// Package agent composes the slow and fast controllers into agents that
// produce one action per tick.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/furisto/cadence/backend/budget"
	"github.com/furisto/cadence/backend/checkpoint"
	"github.com/furisto/cadence/backend/env"
	"github.com/furisto/cadence/backend/event"
	"github.com/furisto/cadence/backend/exposure"
	"github.com/furisto/cadence/backend/prompt"
	"github.com/furisto/cadence/shared"
)

// reactivePlan is logged as the plan of agents without a slow controller.
const reactivePlan = "N/A"

var (
	ErrMissingSlowController = errors.New("mode requires a slow controller")
	ErrMissingFastController = errors.New("mode requires a fast controller")
)

// Agent is driven by the runner once per tick: Observe, Think, Act, then
// Log once the environment has stepped.
type Agent interface {
	Observe(obs env.Observation)
	// Think spends at most budget, in the agent's unit, deciding the action.
	Think(ctx context.Context, budget float64) error
	Act() string
	// Log appends the tick to the episode log. reset reports that the
	// environment restarted its board; all guidance is dropped.
	Log(ctx context.Context, reward float64, reset bool) error
	// ResumeFromCheckpoint replays the log in ckpt into the fresh
	// environment e and rewrites the agent's own log to the replayed prefix.
	ResumeFromCheckpoint(ctx context.Context, e env.Environment, ckpt checkpoint.Store) (env.Step, error)
	State() SchedulerState
}

type Config struct {
	Mode     budget.Mode
	Limits   budget.Limits
	Template *prompt.Template
	Store    checkpoint.Store
	// Slow is nil in reactive mode.
	Slow exposure.Controller
	// Fast is nil in planning mode.
	Fast *FastController
	// SkipAction drops the plan steps that elapsed while the plan was
	// being computed. Planning mode only.
	SkipAction bool
}

type AgentOptions struct {
	Events    *event.EventRouter
	EpisodeID *uuid.UUID
}

func DefaultAgentOptions() *AgentOptions {
	return &AgentOptions{}
}

type AgentOption func(*AgentOptions)

func WithEvents(router *event.EventRouter, episodeID *uuid.UUID) AgentOption {
	return func(o *AgentOptions) {
		o.Events = router
		o.EpisodeID = episodeID
	}
}

func New(cfg Config, opts ...AgentOption) (Agent, error) {
	if err := cfg.Limits.Validate(cfg.Mode); err != nil {
		return nil, err
	}
	if cfg.Template == nil || cfg.Store == nil {
		return nil, shared.Errorf(shared.ErrorSourceConfig, "agent needs a prompt template and a log store")
	}

	options := DefaultAgentOptions()
	for _, opt := range opts {
		opt(options)
	}
	b := &base{
		template: cfg.Template,
		store:    cfg.Store,
		slow:     cfg.Slow,
		opts:     options,
		state:    SchedulerState{Action: cfg.Template.DefaultAction},
	}

	switch cfg.Mode {
	case budget.ModeAgile:
		if cfg.Slow == nil {
			return nil, shared.Wrap(shared.ErrorSourceConfig, ErrMissingSlowController, "mode %s", cfg.Mode)
		}
		if cfg.Fast == nil {
			return nil, shared.Wrap(shared.ErrorSourceConfig, ErrMissingFastController, "mode %s", cfg.Mode)
		}
		return &DualCadence{base: b, fast: cfg.Fast}, nil
	case budget.ModeReactive:
		if cfg.Fast == nil {
			return nil, shared.Wrap(shared.ErrorSourceConfig, ErrMissingFastController, "mode %s", cfg.Mode)
		}
		b.slow = nil
		return &Reactive{base: b, fast: cfg.Fast}, nil
	case budget.ModePlanning:
		if cfg.Slow == nil {
			return nil, shared.Wrap(shared.ErrorSourceConfig, ErrMissingSlowController, "mode %s", cfg.Mode)
		}
		return &Planning{base: b, skipAction: cfg.SkipAction}, nil
	default:
		return nil, shared.Errorf(shared.ErrorSourceConfig, "unknown agent mode %q", cfg.Mode)
	}
}

// base carries what every agent does outside of Think.
type base struct {
	template *prompt.Template
	store    checkpoint.Store
	slow     exposure.Controller
	opts     *AgentOptions

	state  SchedulerState
	obs    env.Observation
	record checkpoint.Record
}

func (b *base) Observe(obs env.Observation) {
	b.obs = obs
	b.state.Tick = obs.Turn
	b.record = checkpoint.Record{Render: obs.StateString}
}

func (b *base) Act() string {
	return b.state.Action
}

func (b *base) State() SchedulerState {
	return b.state
}

func (b *base) Log(ctx context.Context, reward float64, reset bool) error {
	b.record.Action = b.state.Action
	b.record.Reward = reward
	if err := b.store.Append(ctx, b.record); err != nil {
		return shared.Wrap(shared.ErrorSourceCheckpoint, err, "appending tick %d to %s", b.state.Tick, b.store.Path())
	}
	b.record = checkpoint.Record{}

	if reset {
		return b.reset(ctx)
	}
	return nil
}

// reset drains the slow job and forgets the episode's guidance and plan.
func (b *base) reset(ctx context.Context) error {
	if b.slow != nil {
		if err := b.slow.Reset(ctx); err != nil {
			return fmt.Errorf("resetting slow controller at tick %d: %w", b.state.Tick, err)
		}
	}
	b.state.clear()
	slog.Debug("scheduler state cleared", "tick", b.state.Tick)
	b.opts.Events.Publish(event.NewEpisodeResetEvent(b.opts.EpisodeID, b.state.Tick))
	return nil
}

func (b *base) resume(ctx context.Context, e env.Environment, ckpt checkpoint.Store) (*checkpoint.Resumed, error) {
	resumed, err := checkpoint.Resume(ctx, ckpt, e)
	if err != nil {
		return nil, shared.Wrap(shared.ErrorSourceCheckpoint, err, "resuming from %s", ckpt.Path())
	}
	if err := b.store.Replace(ctx, resumed.Records); err != nil {
		return nil, shared.Wrap(shared.ErrorSourceCheckpoint, err, "rewriting %s", b.store.Path())
	}
	b.state.Tick = e.Turn()
	return resumed, nil
}

func (b *base) ResumeFromCheckpoint(ctx context.Context, e env.Environment, ckpt checkpoint.Store) (env.Step, error) {
	resumed, err := b.resume(ctx, e, ckpt)
	if err != nil {
		return env.Step{}, err
	}
	return resumed.Step, nil
}
