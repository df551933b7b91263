package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/furisto/cadence/backend/checkpoint"
	"github.com/furisto/cadence/backend/env"
	"github.com/furisto/cadence/backend/forcer"
	"github.com/furisto/cadence/backend/model"
)

// Planning acts from an action sequence computed by the slow model, one
// step per tick, and falls back to the default action once it runs dry.
type Planning struct {
	*base
	skipAction bool
}

func (a *Planning) Think(ctx context.Context, allotment float64) error {
	tick := a.obs.Turn

	var messages []model.Message
	if a.slow.Idle() {
		p, err := a.template.Slow(a.obs, true)
		if err != nil {
			return err
		}
		messages = []model.Message{model.UserMessage(p)}
		a.record.SlowPrompt = p
	}

	exp, err := a.slow.Advance(ctx, tick, allotment, messages)
	if err != nil {
		return fmt.Errorf("advancing slow job at tick %d: %w", tick, err)
	}
	a.state.expose(exp)
	if exp.Fresh {
		a.record.SlowResponse = exp.Text
	}
	a.record.SlowUnits = exp.Units

	if exp.Fresh {
		if boxed := forcer.ExtractBoxed(exp.Text, ""); boxed != "" {
			a.state.Plan = a.plan(boxed, tick-exp.FromTick)
			slog.Debug("plan updated", "tick", tick, "from_tick", exp.FromTick, "plan", a.state.Plan)
		}
	}
	a.record.Plan = a.state.Plan

	if a.state.Plan == "" {
		a.state.Action = a.template.DefaultAction
		return nil
	}
	a.state.Action = a.state.Plan[:1]
	a.state.Plan = a.state.Plan[1:]
	return nil
}

// plan sanitizes a boxed action sequence and, with skipAction, drops the
// elapsed steps.
func (a *Planning) plan(boxed string, elapsed int) string {
	plan := forcer.Sanitize(boxed, a.template.Actions)
	if !a.skipAction {
		return plan
	}
	if elapsed >= len(plan) {
		return ""
	}
	return plan[max(elapsed, 0):]
}

// ResumeFromCheckpoint also restores the plan that was left when the last
// slow prompt was issued.
func (a *Planning) ResumeFromCheckpoint(ctx context.Context, e env.Environment, ckpt checkpoint.Store) (env.Step, error) {
	resumed, err := a.resume(ctx, e, ckpt)
	if err != nil {
		return env.Step{}, err
	}
	a.state.Plan = resumed.Plan
	return resumed.Step, nil
}

var _ Agent = (*Planning)(nil)
