package agent

import (
	"context"
	"time"

	"github.com/furisto/cadence/backend/budget"
	"github.com/furisto/cadence/backend/forcer"
	"github.com/furisto/cadence/backend/model"
	"github.com/furisto/cadence/backend/producer"
)

// timeModeMaxTokens caps fast responses whose real bound is the clock.
const timeModeMaxTokens = 8192

// FastController answers within the internal budget and always returns a
// response that carries a decision.
type FastController struct {
	provider model.Provider
	model    string
	params   model.SamplingParams
	// window bounds a streamed response in time mode; zero means a blocking
	// call capped at the internal token budget.
	window time.Duration
	forcer *forcer.Forcer
}

// NewFastController derives the sampling limits from limits: the internal
// budget becomes max_tokens in token mode and a streaming deadline in time
// mode. params supplies temperature and top_p.
func NewFastController(provider model.Provider, modelName string, params model.SamplingParams, limits budget.Limits, f *forcer.Forcer) *FastController {
	c := &FastController{provider: provider, model: modelName, params: params, forcer: f}
	if limits.Unit == budget.UnitTime {
		c.window = limits.FastWindow()
		c.params.MaxTokens = timeModeMaxTokens
	} else {
		c.params.MaxTokens = limits.InternalTokens()
	}
	return c
}

func (c *FastController) Respond(ctx context.Context, tick int, messages []model.Message) (string, int, error) {
	var (
		text  string
		units int
	)
	if c.window > 0 {
		text, units = producer.Collect(ctx, c.provider, c.model, messages, c.params, c.window)
	} else {
		resp, err := c.provider.Generate(ctx, c.model, messages, c.params)
		if err != nil {
			return "", 0, err
		}
		text, units = resp.Text(), int(resp.Usage.OutputTokens)
	}
	return c.forcer.Enforce(ctx, tick, text, messages), units, nil
}

// Action reduces a response to one valid action.
func (c *FastController) Action(text string) string {
	return c.forcer.Action(text)
}
