// Package runner plays episodes of a game with a scheduler agent and
// records their logs and results.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/afero"

	"github.com/furisto/cadence/backend/agent"
	"github.com/furisto/cadence/backend/budget"
	"github.com/furisto/cadence/backend/checkpoint"
	"github.com/furisto/cadence/backend/env"
	"github.com/furisto/cadence/backend/event"
	"github.com/furisto/cadence/backend/exposure"
	"github.com/furisto/cadence/backend/forcer"
	"github.com/furisto/cadence/backend/model"
	"github.com/furisto/cadence/backend/prompt"
	"github.com/furisto/cadence/shared"
	"github.com/furisto/cadence/shared/config"
)

const timestampLayout = "20060102_150405"

// Endpoint is one configured model.
type Endpoint struct {
	Provider model.Provider
	Model    string
	Params   model.SamplingParams
	// OutputPrice is USD per million output tokens.
	OutputPrice decimal.Decimal
}

// Models are the endpoints the agents of a run talk to. Fast is unused in
// planning mode, Slow in reactive mode.
type Models struct {
	Fast    Endpoint
	Slow    Endpoint
	Decoder budget.Decoder
}

type RunnerOptions struct {
	Fs     afero.Fs
	Events *event.EventRouter
	Now    func() time.Time
}

func DefaultRunnerOptions() *RunnerOptions {
	return &RunnerOptions{
		Fs:  afero.NewOsFs(),
		Now: time.Now,
	}
}

type RunnerOption func(*RunnerOptions)

func WithFs(fs afero.Fs) RunnerOption {
	return func(o *RunnerOptions) {
		o.Fs = fs
	}
}

func WithEvents(router *event.EventRouter) RunnerOption {
	return func(o *RunnerOptions) {
		o.Events = router
	}
}

func WithClock(now func() time.Time) RunnerOption {
	return func(o *RunnerOptions) {
		o.Now = now
	}
}

// Runner plays every episode of one setting.
type Runner struct {
	cfg      *config.Config
	mode     budget.Mode
	limits   budget.Limits
	envID    string
	template *prompt.Template
	models   Models
	opts     *RunnerOptions

	dir    string
	argsMu sync.Mutex
}

func New(cfg *config.Config, models Models, opts ...RunnerOption) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	options := DefaultRunnerOptions()
	for _, opt := range opts {
		opt(options)
	}

	mode, err := budget.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	unit, err := budget.ParseUnit(cfg.Budget.Unit)
	if err != nil {
		return nil, err
	}
	limits, err := budget.NewLimits(mode, unit, cfg.Budget.PerTick, cfg.Budget.Internal)
	if err != nil {
		return nil, err
	}
	load, err := env.ParseCognitiveLoad(cfg.CognitiveLoad)
	if err != nil {
		return nil, shared.Wrap(shared.ErrorSourceConfig, err, "cognitive load")
	}
	template, err := prompt.Load(cfg.Game)
	if err != nil {
		return nil, shared.Wrap(shared.ErrorSourceConfig, err, "game %s", cfg.Game)
	}

	if mode != budget.ModeReactive && models.Slow.Provider == nil {
		return nil, shared.Wrap(shared.ErrorSourceConfig, agent.ErrMissingSlowController, "mode %s", mode)
	}
	if mode != budget.ModePlanning && models.Fast.Provider == nil {
		return nil, shared.Wrap(shared.ErrorSourceConfig, agent.ErrMissingFastController, "mode %s", mode)
	}

	started := options.Now()
	return &Runner{
		cfg:      cfg,
		mode:     mode,
		limits:   limits,
		envID:    env.ID(cfg.Game, load),
		template: template,
		models:   models,
		opts:     options,
		dir:      filepath.Join(cfg.Log.Dir, cfg.Setting()+"_"+started.Format(timestampLayout)),
	}, nil
}

// Dir is the directory the run's logs are written to.
func (r *Runner) Dir() string {
	return r.dir
}

// Episodes lists every seed and repeat of the run.
func (r *Runner) Episodes() []Episode {
	episodes := make([]Episode, 0, r.cfg.Seeds*r.cfg.Repeats)
	for seed := range r.cfg.Seeds {
		for repeat := range r.cfg.Repeats {
			episodes = append(episodes, Episode{Seed: seed, Repeat: repeat})
		}
	}
	return episodes
}

// Run plays all episodes on the worker pool and returns their results in
// episode order. Failed episodes carry their error in the result.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	if err := r.writeArgs(); err != nil {
		return nil, err
	}

	episodes := r.Episodes()
	workers := r.cfg.Workers
	if workers == 0 {
		workers = len(episodes)
	}

	results, err := NewPool(workers).Run(ctx, episodes, r.Play)
	if err != nil {
		return nil, err
	}
	return newSummary(r.cfg.Setting(), r.dir, results), nil
}

// Play runs one episode to completion.
func (r *Runner) Play(ctx context.Context, ep Episode) Result {
	result := Result{Episode: ep}
	start := time.Now()

	episodeID := uuid.New()
	defer func() {
		if result.Err != nil {
			slog.Error("episode failed", "seed", ep.Seed, "repeat", ep.Repeat, "error", result.Err)
		}
		if err := r.appendResult(result); err != nil {
			slog.Warn("failed to record episode result", "error", err)
		}
	}()

	e, seed, err := env.Make(r.envID, ep.Seed)
	if err != nil {
		result.Err = shared.Wrap(shared.ErrorSourceEnvironment, err, "making %s", r.envID)
		return result
	}
	result.Seed = seed
	result.LogPath = filepath.Join(r.dir, ep.fileName(r.cfg.Log.Format))

	store, err := checkpoint.Open(ctx, r.opts.Fs, result.LogPath)
	if err != nil {
		result.Err = shared.Wrap(shared.ErrorSourceCheckpoint, err, "opening log %s", result.LogPath)
		return result
	}
	defer store.Close()

	a, err := r.newAgent(store, &episodeID)
	if err != nil {
		result.Err = err
		return result
	}
	r.opts.Events.Publish(event.NewEpisodeStartedEvent(&episodeID, seed))

	obs := e.Observe()
	if r.cfg.Checkpoint != "" {
		step, finished, err := r.resume(ctx, ep, a, e)
		if err != nil {
			result.Err = err
			return result
		}
		result.Resumed = true
		if finished != nil {
			result.Reward = finished.Reward()
			result.Turns = finished.Turn()
			return result
		}
		obs = step.Observation
	}

	for done := e.Done(); !done; {
		if err := ctx.Err(); err != nil {
			result.Err = err
			return result
		}

		a.Observe(obs)
		if err := a.Think(ctx, r.limits.PerTick); err != nil {
			result.Err = shared.Wrap(shared.ErrorSourceScheduler, err, "tick %d", obs.Turn)
			return result
		}
		action := a.Act()
		step := e.Step(action)
		if err := a.Log(ctx, step.Reward, step.Reset); err != nil {
			result.Err = err
			return result
		}

		r.opts.Events.Publish(event.NewTickCompletedEvent(&episodeID, obs.Turn, action, step.Reward, step.Done))
		obs, done = step.Observation, step.Done
	}

	result.Reward = e.Reward()
	result.Turns = e.Turn()
	result.Duration = time.Since(start)
	result.FastUnits, result.SlowUnits = r.units(ctx, store)
	result.Cost = model.Cost(r.models.Fast.OutputPrice, result.FastUnits).
		Add(model.Cost(r.models.Slow.OutputPrice, result.SlowUnits))

	r.opts.Events.Publish(event.NewEpisodeCompletedEvent(&episodeID, seed, result.Reward, result.Turns))
	slog.Info("episode completed",
		"seed", seed,
		"repeat", ep.Repeat,
		"reward", result.Reward,
		"turns", result.Turns,
		"duration", result.Duration,
	)
	return result
}

// resume replays the checkpoint of ep. An episode that already ended in the
// checkpoint is returned as finished; otherwise a is resumed into e.
func (r *Runner) resume(ctx context.Context, ep Episode, a agent.Agent, e env.Environment) (env.Step, env.Environment, error) {
	path := filepath.Join(r.cfg.Checkpoint, ep.fileName(r.cfg.Log.Format))
	ckpt, err := checkpoint.Open(ctx, r.opts.Fs, path)
	if err != nil {
		return env.Step{}, nil, shared.Wrap(shared.ErrorSourceCheckpoint, err, "opening checkpoint %s", path)
	}
	defer ckpt.Close()

	records, err := ckpt.Load(ctx)
	if err != nil {
		return env.Step{}, nil, shared.Wrap(shared.ErrorSourceCheckpoint, err, "loading checkpoint %s", path)
	}
	replayed, _, err := env.Make(r.envID, ep.Seed)
	if err != nil {
		return env.Step{}, nil, err
	}
	step, err := checkpoint.Replay(replayed, records)
	if err != nil {
		return env.Step{}, nil, shared.Wrap(shared.ErrorSourceCheckpoint, err, "replaying %s", path)
	}
	if step.Done {
		slog.Info("checkpoint episode already finished", "path", path, "reward", replayed.Reward())
		return step, replayed, nil
	}

	step, err = a.ResumeFromCheckpoint(ctx, e, ckpt)
	return step, nil, err
}

func (r *Runner) newAgent(store checkpoint.Store, episodeID *uuid.UUID) (agent.Agent, error) {
	cfg := agent.Config{
		Mode:       r.mode,
		Limits:     r.limits,
		Template:   r.template,
		Store:      store,
		SkipAction: r.cfg.SkipsStaleActions(),
	}

	if r.mode != budget.ModeReactive {
		slow := r.models.Slow
		cfg.Slow = exposure.New(slow.Provider, slow.Model, slow.Params, r.limits, r.models.Decoder,
			exposure.WithEvents(r.opts.Events, episodeID))
	}
	if r.mode != budget.ModePlanning {
		fast := r.models.Fast
		f := forcer.New(unwrap(fast.Provider), fast.Model, r.template.Actions, r.template.DefaultAction,
			forcer.WithEvents(r.opts.Events, episodeID))
		cfg.Fast = agent.NewFastController(fast.Provider, fast.Model, fast.Params, r.limits, f)
	}

	return agent.New(cfg, agent.WithEvents(r.opts.Events, episodeID))
}

// units sums the output units logged for both models.
func (r *Runner) units(ctx context.Context, store checkpoint.Store) (fast, slow int64) {
	records, err := store.Load(ctx)
	if err != nil {
		slog.Warn("failed to read back episode log", "path", store.Path(), "error", err)
		return 0, 0
	}
	for _, rec := range records {
		fast += int64(rec.FastUnits)
		slow += int64(rec.SlowUnits)
	}
	return fast, slow
}

// unwrap strips the retry policy so forced decisions stay bounded by the
// forcer's own attempts.
func unwrap(p model.Provider) model.Provider {
	if u, ok := p.(interface{ Unwrap() model.Provider }); ok {
		return u.Unwrap()
	}
	return p
}

func (e Episode) fileName(format string) string {
	ext := ".csv"
	if format == config.LogFormatSQLite {
		ext = ".db"
	}
	return fmt.Sprintf("%d_%d%s", e.Repeat, e.Seed, ext)
}
