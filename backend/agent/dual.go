package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/furisto/cadence/backend/model"
	"github.com/furisto/cadence/backend/prompt"
)

// DualCadence runs a slow job in the background and lets the fast model act
// every tick, guided by whatever of the slow output the budget exposed.
type DualCadence struct {
	*base
	fast *FastController
}

func (a *DualCadence) Think(ctx context.Context, allotment float64) error {
	tick := a.obs.Turn

	var messages []model.Message
	if a.slow.Idle() {
		p, err := a.template.Slow(a.obs, false)
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

	a.state.Plan = ""
	if a.state.Guidance != "" {
		a.state.Plan = prompt.Guidance(a.state.GuidanceTick, a.state.Guidance)
	}
	a.record.Plan = a.state.Plan

	fastPrompt, err := a.template.Fast(a.obs, a.state.Plan)
	if err != nil {
		return err
	}
	text, units, err := a.fast.Respond(ctx, tick, []model.Message{model.UserMessage(fastPrompt)})
	if err != nil {
		return fmt.Errorf("fast response at tick %d: %w", tick, err)
	}
	a.state.Action = a.fast.Action(text)

	a.record.FastPrompt = fastPrompt
	a.record.FastResponse = text
	a.record.FastUnits = units

	slog.Debug("tick decided",
		"tick", tick,
		"phase", a.state.Phase,
		"guidance_tick", a.state.GuidanceTick,
		"action", a.state.Action,
	)
	return nil
}

var _ Agent = (*DualCadence)(nil)
