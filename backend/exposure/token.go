package exposure

import (
	"context"
	"log/slog"

	"github.com/furisto/cadence/backend/budget"
	"github.com/furisto/cadence/backend/event"
	"github.com/furisto/cadence/backend/model"
	"github.com/furisto/cadence/backend/producer"
)

// drainAllotment is charged per tick while draining a job on reset.
const drainAllotment = 32768

// TokenController reveals a blocking job as the per-tick token allotment
// pays for it.
type TokenController struct {
	producer   producer.Producer
	accountant *budget.TokenAccountant
	decoder    budget.Decoder
	opts       Options

	job     *producer.Job
	ledger  budget.Ledger
	units   []int
	exposed string
}

func NewTokenController(p producer.Producer, limits budget.Limits, decoder budget.Decoder, opts ...Option) *TokenController {
	return &TokenController{
		producer:   p,
		accountant: budget.NewTokenAccountant(limits, decoder != nil),
		decoder:    decoder,
		opts:       buildOptions(opts),
	}
}

func (c *TokenController) Idle() bool {
	return c.job == nil
}

func (c *TokenController) Advance(ctx context.Context, tick int, allotment float64, messages []model.Message) (Exposure, error) {
	var exp Exposure
	if messages != nil {
		if err := c.launch(ctx, tick, messages); err != nil {
			return Exposure{}, err
		}
		exp.Launched = true
		exp.Units = c.job.Units()
	}
	if c.job == nil {
		return exp, nil
	}

	c.charge(tick, int(allotment), &exp)
	return exp, nil
}

func (c *TokenController) launch(ctx context.Context, tick int, messages []model.Message) error {
	if c.job != nil {
		return ErrJobActive
	}

	job, err := c.producer.Start(ctx, tick, messages)
	if err != nil {
		return err
	}
	// The ledger needs the final unit count before the first charge.
	if !job.Complete() {
		job.Wait(ctx)
		if err := ctx.Err(); err != nil {
			job.Abandon()
			return err
		}
	}

	c.job = job
	c.ledger = c.accountant.Open()
	c.exposed = ""
	c.units = nil
	if c.decoder != nil {
		c.units = c.decoder.Encode(job.Raw())
	}

	c.opts.Events.Publish(event.NewJobStartedEvent(c.opts.EpisodeID, tick))
	slog.Debug("slow job started", "tick", tick, "units", job.Units())
	return nil
}

func (c *TokenController) charge(tick, allotment int, exp *Exposure) {
	admission := c.accountant.Admit(&c.ledger, allotment, c.job.Units())

	if admission.CanReveal {
		var text string
		if admission.Caught {
			text = c.job.Raw()
		} else {
			text = c.decoder.Decode(c.units[:min(admission.RevealUnits, len(c.units))])
		}
		if len(text) > len(c.exposed) {
			c.exposed = text
			exp.Fresh = true
		}
	}

	exp.Text = c.exposed
	exp.FromTick = c.job.StartTick
	exp.Accumulated = c.ledger.Accumulated

	payload := event.JobPayload{
		StartTick:   c.job.StartTick,
		Units:       c.job.Units(),
		Exposed:     len(c.exposed),
		Accumulated: c.ledger.Accumulated,
	}
	if exp.Fresh {
		c.opts.Events.Publish(event.NewJobExposedEvent(c.opts.EpisodeID, tick, payload))
	}
	if admission.Caught {
		c.opts.Events.Publish(event.NewJobCompletedEvent(c.opts.EpisodeID, tick, payload))
		c.job = nil
		exp.Cleared = true
	}
}

func (c *TokenController) Reset(ctx context.Context) error {
	for c.job != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		var exp Exposure
		start := c.job.StartTick
		c.charge(start, drainAllotment, &exp)
		if exp.Cleared {
			c.opts.Events.Publish(event.NewJobDrainedEvent(c.opts.EpisodeID, start, event.JobPayload{StartTick: start}))
		}
	}
	c.exposed = ""
	c.units = nil
	return nil
}

var _ Controller = (*TokenController)(nil)
