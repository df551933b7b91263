package agent_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"go.uber.org/mock/gomock"

	"github.com/furisto/cadence/backend/agent"
	"github.com/furisto/cadence/backend/budget"
	"github.com/furisto/cadence/backend/checkpoint"
	"github.com/furisto/cadence/backend/env"
	"github.com/furisto/cadence/backend/exposure"
	"github.com/furisto/cadence/backend/forcer"
	"github.com/furisto/cadence/backend/model"
	"github.com/furisto/cadence/backend/model/mocks"
	"github.com/furisto/cadence/backend/prompt"
)

const guidanceText = "<think>lane 4 clears next turn\n</think>\nwait, then go up"

// guidanceQuote opens the quoted guidance block of a fast prompt. The fast
// template itself mentions guidance, so the quote is what tells them apart.
const guidanceQuote = "> **Guidance from a Previous Thinking Model:**"

func response(text string, units int64) *model.Response {
	return &model.Response{
		Content: []model.ContentBlock{&model.TextBlock{Text: text}},
		Usage:   model.Usage{OutputTokens: units},
	}
}

type fixture struct {
	template *prompt.Template
	store    checkpoint.Store
	obs      env.Observation
	// fastPrompts collects the user prompt of every fast call.
	fastPrompts []string
	fastParams  []model.SamplingParams
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	template, err := prompt.Load("freeway")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	store, err := checkpoint.OpenCSV(afero.NewMemMapFs(), "/logs/0_0.csv")
	if err != nil {
		t.Fatalf("OpenCSV: %v", err)
	}
	e, _, err := env.Make("Freeway-v0", 0)
	if err != nil {
		t.Fatalf("Make: %v", err)
	}
	return &fixture{template: template, store: store, obs: e.Observe()}
}

func (f *fixture) slowProvider(t *testing.T, text string, units int64) model.Provider {
	t.Helper()
	provider := mocks.NewMockProvider(gomock.NewController(t))
	provider.EXPECT().Generate(gomock.Any(), "slow", gomock.Any(), gomock.Any()).
		Return(response(text, units), nil).AnyTimes()
	return provider
}

func (f *fixture) fastController(t *testing.T, limits budget.Limits, reply string) *agent.FastController {
	t.Helper()
	provider := mocks.NewMockProvider(gomock.NewController(t))
	provider.EXPECT().Generate(gomock.Any(), "fast", gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, messages []model.Message, params model.SamplingParams) (*model.Response, error) {
			f.fastPrompts = append(f.fastPrompts, messages[0].Content)
			f.fastParams = append(f.fastParams, params)
			return response(reply, 7), nil
		}).AnyTimes()

	fc := forcer.New(provider, "fast", f.template.Actions, f.template.DefaultAction)
	return agent.NewFastController(provider, "fast", model.SamplingParams{Temperature: 1, TopP: 1}, limits, fc)
}

func (f *fixture) tick(t *testing.T, a agent.Agent, turn int, allotment float64) {
	t.Helper()
	obs := f.obs
	obs.Turn = turn
	a.Observe(obs)
	if err := a.Think(context.Background(), allotment); err != nil {
		t.Fatalf("Think at tick %d: %v", turn, err)
	}
}

func limits(t *testing.T, mode budget.Mode, perTick, internal float64) budget.Limits {
	t.Helper()
	l, err := budget.NewLimits(mode, budget.UnitToken, perTick, internal)
	if err != nil {
		t.Fatalf("NewLimits: %v", err)
	}
	return l
}

func newDualCadence(t *testing.T, f *fixture) agent.Agent {
	t.Helper()
	l := limits(t, budget.ModeAgile, 50, 50)
	a, err := agent.New(agent.Config{
		Mode:     budget.ModeAgile,
		Limits:   l,
		Template: f.template,
		Store:    f.store,
		Slow:     exposure.New(f.slowProvider(t, guidanceText, 120), "slow", model.SamplingParams{}, l, nil),
		Fast:     f.fastController(t, l, "\\boxed{S}"),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestDualCadenceWaitsForFullReveal(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := newDualCadence(t, f)

	wantPhases := []agent.Phase{agent.PhaseAwaitingSlow, agent.PhaseAwaitingSlow, agent.PhaseAwaitingSlow, agent.PhaseGuided}
	for turn := range 4 {
		f.tick(t, a, turn, 50)
		if got := a.State().Phase; got != wantPhases[turn] {
			t.Errorf("tick %d phase = %v, want %v", turn, got, wantPhases[turn])
		}
		if a.Act() != "S" {
			t.Errorf("tick %d action = %q, want S", turn, a.Act())
		}
		if err := a.Log(context.Background(), 0, false); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	for turn, p := range f.fastPrompts[:3] {
		if strings.Contains(p, guidanceQuote) {
			t.Errorf("tick %d fast prompt leaked guidance before the reveal", turn)
		}
	}
	if !strings.Contains(f.fastPrompts[3], "> wait, then go up\n") {
		t.Errorf("tick 3 fast prompt lacks quoted guidance:\n%s", f.fastPrompts[3])
	}
	if f.fastParams[0].MaxTokens != 50 {
		t.Errorf("fast max tokens = %d, want the internal budget 50", f.fastParams[0].MaxTokens)
	}

	records, err := f.store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	var plans, slowPrompts, slowResponses []string
	for _, r := range records {
		plans = append(plans, r.Plan)
		slowPrompts = append(slowPrompts, r.SlowPrompt)
		slowResponses = append(slowResponses, r.SlowResponse)
	}
	wantPlans := []string{"", "", "", prompt.Guidance(0, guidanceText)}
	if diff := cmp.Diff(wantPlans, plans); diff != "" {
		t.Errorf("logged plans mismatch (-want +got):\n%s", diff)
	}
	wantResponses := []string{"", "", "", guidanceText}
	if diff := cmp.Diff(wantResponses, slowResponses); diff != "" {
		t.Errorf("logged slow responses mismatch (-want +got):\n%s", diff)
	}
	if slowPrompts[0] == "" || slowPrompts[1] != "" || slowPrompts[3] != "" {
		t.Errorf("slow prompt should only be logged on launch, got %q", slowPrompts)
	}
}

func TestResetNeverLeaksGuidance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		// resetAfter is the last tick before the reset. The job launched on
		// tick 0 is revealed on tick 3.
		resetAfter int
		// revealTick is when the first job after the reset is revealed.
		revealTick int
	}{
		{name: "job in flight", resetAfter: 1, revealTick: 5},
		{name: "job already revealed", resetAfter: 3, revealTick: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			a := newDualCadence(t, f)
			ctx := context.Background()

			for turn := 0; turn <= tt.resetAfter; turn++ {
				f.tick(t, a, turn, 50)
				if err := a.Log(ctx, 0, turn == tt.resetAfter); err != nil {
					t.Fatalf("Log at tick %d: %v", turn, err)
				}
			}
			state := a.State()
			if state.Phase != agent.PhaseIdle || state.Guidance != "" || state.Plan != "" {
				t.Fatalf("state after reset = %+v", state)
			}

			restart := tt.resetAfter + 1
			for turn := restart; turn <= tt.revealTick; turn++ {
				f.tick(t, a, turn, 50)
				last := f.fastPrompts[len(f.fastPrompts)-1]
				if turn < tt.revealTick && strings.Contains(last, guidanceQuote) {
					t.Errorf("tick %d fast prompt carries guidance after the reset:\n%s", turn, last)
				}
				if err := a.Log(ctx, 0, false); err != nil {
					t.Fatalf("Log at tick %d: %v", turn, err)
				}
			}

			want := "> " + strings.SplitN(prompt.Guidance(restart, guidanceText), "\n", 2)[0] + "\n"
			if last := f.fastPrompts[len(f.fastPrompts)-1]; !strings.Contains(last, want) {
				t.Errorf("tick %d fast prompt lacks guidance from tick %d:\n%s", tt.revealTick, restart, last)
			}
			if got := a.State().GuidanceTick; got != restart {
				t.Errorf("guidance tick = %d, want %d", got, restart)
			}

			records, err := f.store.Load(ctx)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if records[restart].SlowPrompt == "" {
				t.Errorf("tick %d should launch a new slow job", restart)
			}
		})
	}
}

func TestReactiveLogsNoPlan(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	l := limits(t, budget.ModeReactive, 100, 40)
	a, err := agent.New(agent.Config{
		Mode:     budget.ModeReactive,
		Limits:   l,
		Template: f.template,
		Store:    f.store,
		Fast:     f.fastController(t, l, "\\boxed{D}"),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	f.tick(t, a, 0, 100)
	if a.Act() != "D" {
		t.Errorf("action = %q, want D", a.Act())
	}
	if err := a.Log(context.Background(), 1, false); err != nil {
		t.Fatalf("Log: %v", err)
	}

	records, _ := f.store.Load(context.Background())
	want := []checkpoint.Record{{
		Render:       f.obs.StateString,
		Action:       "D",
		Reward:       1,
		Plan:         "N/A",
		FastPrompt:   f.fastPrompts[0],
		FastResponse: "\\boxed{D}",
		FastUnits:    7,
	}}
	if diff := cmp.Diff(want, records); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func newPlanning(t *testing.T, f *fixture, slowText string, skip bool) agent.Agent {
	t.Helper()
	l := limits(t, budget.ModePlanning, 50, 0)
	a, err := agent.New(agent.Config{
		Mode:       budget.ModePlanning,
		Limits:     l,
		Template:   f.template,
		Store:      f.store,
		Slow:       exposure.New(f.slowProvider(t, slowText, 120), "slow", model.SamplingParams{}, l, nil),
		SkipAction: skip,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestPlanningFollowsPlan(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		skip    bool
		actions string
	}{
		// Revealed on tick 2 of a job launched on tick 0.
		{name: "skip elapsed steps", skip: true, actions: "UU" + "DSU"},
		{name: "keep whole plan", skip: false, actions: "UU" + "UUD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			a := newPlanning(t, f, "\\boxed{U, U, D, S, U}", tt.skip)

			var got strings.Builder
			for turn := range len(tt.actions) {
				f.tick(t, a, turn, 50)
				got.WriteString(a.Act())
			}
			if got.String() != tt.actions {
				t.Errorf("actions = %q, want %q", got.String(), tt.actions)
			}
		})
	}
}

func TestPlanningResumeRestoresPlan(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	twin, _, err := env.Make("Freeway-v0", 0)
	if err != nil {
		t.Fatalf("Make: %v", err)
	}
	var logged []checkpoint.Record
	for i, p := range []struct{ action, plan, slowPrompt string }{
		{"S", "SS", "first"},
		{"S", "S", ""},
		{"S", "SUD", "second"},
		{"U", "UD", ""},
	} {
		step := twin.Step(p.action)
		logged = append(logged, checkpoint.Record{Render: "tick", Action: p.action, Reward: step.Reward, Plan: p.plan, SlowPrompt: p.slowPrompt})
		if step.Done {
			t.Fatalf("twin episode ended at tick %d", i)
		}
	}

	ckpt, err := checkpoint.OpenCSV(afero.NewMemMapFs(), "/ckpt/0_0.csv")
	if err != nil {
		t.Fatalf("OpenCSV: %v", err)
	}
	if err := ckpt.Replace(ctx, logged); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	fresh, _, err := env.Make("Freeway-v0", 0)
	if err != nil {
		t.Fatalf("Make: %v", err)
	}
	a := newPlanning(t, f, "\\boxed{U}", true)
	step, err := a.ResumeFromCheckpoint(ctx, fresh, ckpt)
	if err != nil {
		t.Fatalf("ResumeFromCheckpoint: %v", err)
	}

	if step.Observation.Turn != 2 || fresh.Turn() != 2 {
		t.Errorf("resumed at turn %d (env %d), want 2", step.Observation.Turn, fresh.Turn())
	}
	if plan := a.State().Plan; plan != "UD" {
		t.Errorf("restored plan = %q, want UD", plan)
	}
	rewritten, _ := f.store.Load(ctx)
	if diff := cmp.Diff(logged[:2], rewritten); diff != "" {
		t.Errorf("rewritten log mismatch (-want +got):\n%s", diff)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	agile := limits(t, budget.ModeAgile, 100, 40)
	slow := exposure.New(f.slowProvider(t, "", 1), "slow", model.SamplingParams{}, agile, nil)

	tests := []struct {
		name string
		cfg  agent.Config
		want error
	}{
		{
			name: "planning with internal budget",
			cfg:  agent.Config{Mode: budget.ModePlanning, Limits: agile, Template: f.template, Store: f.store, Slow: slow},
			want: budget.ErrPlanningInternalBudget,
		},
		{
			name: "agile without slow controller",
			cfg:  agent.Config{Mode: budget.ModeAgile, Limits: agile, Template: f.template, Store: f.store, Fast: f.fastController(t, agile, "")},
			want: agent.ErrMissingSlowController,
		},
		{
			name: "reactive without fast controller",
			cfg:  agent.Config{Mode: budget.ModeReactive, Limits: agile, Template: f.template, Store: f.store},
			want: agent.ErrMissingFastController,
		},
		{
			name: "internal above per-tick",
			cfg:  agent.Config{Mode: budget.ModeAgile, Limits: budget.Limits{Unit: budget.UnitToken, PerTick: 10, Internal: 20}, Template: f.template, Store: f.store},
			want: budget.ErrInternalExceedsBudget,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := agent.New(tt.cfg); !errors.Is(err, tt.want) {
				t.Errorf("New error = %v, want %v", err, tt.want)
			}
		})
	}
}

// streamOf delivers chunks and then, with hold, keeps the stream open until
// the caller cancels it.
func streamOf(ctx context.Context, hold bool, chunks ...model.Chunk) <-chan model.Chunk {
	ch := make(chan model.Chunk)
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
		if hold {
			<-ctx.Done()
		}
	}()
	return ch
}

func TestTimeModeResetAbandonsSlowStream(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	l, err := budget.NewLimits(budget.ModeAgile, budget.UnitTime, 0.3, 0.1)
	if err != nil {
		t.Fatalf("NewLimits: %v", err)
	}

	slow := mocks.NewMockProvider(gomock.NewController(t))
	gomock.InOrder(
		slow.EXPECT().Stream(gomock.Any(), "slow", gomock.Any(), gomock.Any()).
			DoAndReturn(func(ctx context.Context, _ string, _ []model.Message, _ model.SamplingParams) <-chan model.Chunk {
				return streamOf(ctx, true, model.Chunk{Block: &model.ReasoningBlock{Text: "old board: go up"}})
			}),
		slow.EXPECT().Stream(gomock.Any(), "slow", gomock.Any(), gomock.Any()).
			DoAndReturn(func(ctx context.Context, _ string, _ []model.Message, _ model.SamplingParams) <-chan model.Chunk {
				return streamOf(ctx, false,
					model.Chunk{Block: &model.TextBlock{Text: "new board: stay"}},
					model.Chunk{OutputTokens: 5},
				)
			}),
	)

	fastProvider := mocks.NewMockProvider(gomock.NewController(t))
	fastProvider.EXPECT().Stream(gomock.Any(), "fast", gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ string, messages []model.Message, _ model.SamplingParams) <-chan model.Chunk {
			f.fastPrompts = append(f.fastPrompts, messages[0].Content)
			return streamOf(ctx, false, model.Chunk{Block: &model.TextBlock{Text: "\\boxed{S}"}})
		}).Times(2)
	fc := forcer.New(fastProvider, "fast", f.template.Actions, f.template.DefaultAction)

	a, err := agent.New(agent.Config{
		Mode:     budget.ModeAgile,
		Limits:   l,
		Template: f.template,
		Store:    f.store,
		Slow:     exposure.New(slow, "slow", model.SamplingParams{}, l, nil),
		Fast:     agent.NewFastController(fastProvider, "fast", model.SamplingParams{}, l, fc),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	f.tick(t, a, 0, 0.3)
	if got := a.State().Guidance; got != "<think>old board: go up" {
		t.Fatalf("guidance before reset = %q", got)
	}
	if err := a.Log(ctx, 0, true); err != nil {
		t.Fatalf("Log with reset: %v", err)
	}

	f.tick(t, a, 1, 0.3)
	state := a.State()
	if state.Guidance != "new board: stay" || state.GuidanceTick != 1 {
		t.Errorf("guidance after reset = %q from tick %d, want the tick 1 job", state.Guidance, state.GuidanceTick)
	}
	last := f.fastPrompts[len(f.fastPrompts)-1]
	if strings.Contains(last, "old board") {
		t.Errorf("fast prompt after reset carries the abandoned stream:\n%s", last)
	}
	if !strings.Contains(last, "> new board: stay\n") {
		t.Errorf("fast prompt after reset lacks the new guidance:\n%s", last)
	}
	if a.Act() != "S" {
		t.Errorf("action = %q, want S", a.Act())
	}
}
