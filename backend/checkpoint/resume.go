package checkpoint

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/furisto/cadence/backend/env"
)

// Replay steps e through the actions of records. The episode may only end
// on the last record and every step must reproduce the logged reward.
func Replay(e env.Environment, records []Record) (env.Step, error) {
	step := env.Step{Observation: e.Observe(), Reward: e.Reward()}
	for i, r := range records {
		if step.Done {
			return step, fmt.Errorf("%w: episode ended at tick %d of %d", ErrDesync, i, len(records))
		}
		step = e.Step(r.Action)
		if step.Reward != r.Reward {
			return step, fmt.Errorf("%w: tick %d reward %v, logged %v", ErrDesync, i, step.Reward, r.Reward)
		}
	}
	return step, nil
}

// Resumed is the scheduler state rebuilt from a log.
type Resumed struct {
	Records []Record
	Plan    string
	Step    env.Step
}

// Resume loads the log in store, cuts it back to the last slow prompt and
// replays the remainder into the fresh environment e. The replayed episode
// must still be running.
func Resume(ctx context.Context, store Store, e env.Environment) (*Resumed, error) {
	records, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint %s: %w", store.Path(), err)
	}

	kept, plan := Truncate(records)
	step, err := Replay(e, kept)
	if err != nil {
		return nil, err
	}
	if step.Done {
		return nil, fmt.Errorf("%w: episode already ended after %d ticks", ErrDesync, len(kept))
	}

	slog.Info("resumed from checkpoint",
		"path", store.Path(),
		"logged_ticks", len(records),
		"replayed_ticks", len(kept),
		"turn", e.Turn(),
	)
	return &Resumed{Records: kept, Plan: plan, Step: step}, nil
}
