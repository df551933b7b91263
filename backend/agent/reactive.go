package agent

import (
	"context"
	"fmt"

	"github.com/furisto/cadence/backend/model"
)

// Reactive answers every tick with the fast model alone.
type Reactive struct {
	*base
	fast *FastController
}

func (a *Reactive) Think(ctx context.Context, _ float64) error {
	tick := a.obs.Turn

	p, err := a.template.Fast(a.obs, "")
	if err != nil {
		return err
	}
	text, units, err := a.fast.Respond(ctx, tick, []model.Message{model.UserMessage(p)})
	if err != nil {
		return fmt.Errorf("fast response at tick %d: %w", tick, err)
	}

	a.state.Action = a.fast.Action(text)
	a.state.Plan = reactivePlan
	a.record.Plan = reactivePlan
	a.record.FastPrompt = p
	a.record.FastResponse = text
	a.record.FastUnits = units
	return nil
}

var _ Agent = (*Reactive)(nil)
