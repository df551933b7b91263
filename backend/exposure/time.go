package exposure

import (
	"context"
	"time"

	"github.com/furisto/cadence/backend/budget"
	"github.com/furisto/cadence/backend/event"
	"github.com/furisto/cadence/backend/model"
	"github.com/furisto/cadence/backend/producer"
)

// TimeController exposes whatever a streaming job delivers within the slow
// share of each tick.
type TimeController struct {
	producer producer.Producer
	internal float64
	opts     Options
	now      func() time.Time

	job     *producer.Job
	exposed string
}

func NewTimeController(p producer.Producer, limits budget.Limits, opts ...Option) *TimeController {
	return &TimeController{
		producer: p,
		internal: limits.Internal,
		opts:     buildOptions(opts),
		now:      time.Now,
	}
}

func (c *TimeController) Idle() bool {
	return c.job == nil
}

func (c *TimeController) Advance(ctx context.Context, tick int, allotment float64, messages []model.Message) (Exposure, error) {
	var exp Exposure
	if messages != nil {
		if c.job != nil {
			return Exposure{}, ErrJobActive
		}
		job, err := c.producer.Start(ctx, tick, messages)
		if err != nil {
			return Exposure{}, err
		}
		c.job = job
		c.exposed = ""
		exp.Launched = true
		c.opts.Events.Publish(event.NewJobStartedEvent(c.opts.EpisodeID, tick))
	}
	if c.job == nil {
		return exp, nil
	}

	window := budget.Limits{PerTick: allotment, Internal: c.internal}.SlowWindow()
	update := c.job.PullUntil(ctx, c.now().Add(window))
	c.exposed += update.Text

	exp.Text = c.exposed
	exp.FromTick = c.job.StartTick
	exp.Fresh = update.Text != ""
	if update.Complete {
		exp.Units = update.Units
	}

	payload := event.JobPayload{
		StartTick: c.job.StartTick,
		Units:     update.Units,
		Exposed:   len(c.exposed),
	}
	if exp.Fresh {
		c.opts.Events.Publish(event.NewJobExposedEvent(c.opts.EpisodeID, tick, payload))
	}
	if update.Complete {
		c.opts.Events.Publish(event.NewJobCompletedEvent(c.opts.EpisodeID, tick, payload))
		c.job = nil
		exp.Cleared = true
	}
	return exp, nil
}

func (c *TimeController) Reset(context.Context) error {
	if c.job != nil {
		start := c.job.StartTick
		c.job.Abandon()
		c.job = nil
		c.opts.Events.Publish(event.NewJobDrainedEvent(c.opts.EpisodeID, start, event.JobPayload{StartTick: start}))
	}
	c.exposed = ""
	return nil
}

var _ Controller = (*TimeController)(nil)
