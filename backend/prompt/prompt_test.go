package prompt

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/furisto/cadence/backend/env"
)

func TestLoadTemplates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		game          string
		actions       string
		defaultAction string
	}{
		{"freeway", "UDS", "U"},
		{"Snake", "LRUD", "S"},
	}

	for _, tt := range tests {
		t.Run(tt.game, func(t *testing.T) {
			t.Parallel()
			tmpl, err := Load(tt.game)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			got := []string{tmpl.Actions, tmpl.DefaultAction}
			if diff := cmp.Diff([]string{tt.actions, tt.defaultAction}, got); diff != "" {
				t.Errorf("template mismatch (-want +got):\n%s", diff)
			}
			for name, text := range map[string]string{
				"slow":       tmpl.SlowAgent,
				"fast":       tmpl.FastAgent,
				"action":     tmpl.ActionFormat,
				"conclusion": tmpl.ConclusionFormat,
			} {
				if strings.TrimSpace(text) == "" {
					t.Errorf("%s prompt is empty", name)
				}
			}
			if !strings.Contains(tmpl.ActionFormat, `\boxed{`) {
				t.Error("action format should ask for a boxed answer")
			}
		})
	}

	if _, err := Load("overcooked"); err == nil {
		t.Error("Load of a game without template should fail")
	}
}

func TestDescribeSnake(t *testing.T) {
	t.Parallel()

	obs := env.Observation{State: &env.SnakeState{
		Turn:      4,
		Size:      8,
		Direction: "L",
		Body:      []env.Point{{X: 3, Y: 3}, {X: 4, Y: 3}},
		Food:      []env.Food{{Point: env.Point{X: 1, Y: 6}, Life: 9, Value: 1}},
	}}

	got, err := Describe(obs, FastTurn)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	want := "**Current Turn**: \\( t_0 = 4 \\)\n" +
		"**Cells occupied by walls**:\n" +
		"\t - Border Cells: x=0/x=7 or y=0/y=7.\n" +
		"\t - Internal Obstacles: No internal obstacles\n" +
		"**Snake Positions**:[(3, 3), (4, 3)]\n" +
		"**Snake Head Direction**: L\n" +
		"**Food Positions, Life Span and Value**:\n" +
		"\t- (1, 6, 9, 1)\n"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("description mismatch (-want +got):\n%s", diff)
	}
}

func TestFreewayPrompts(t *testing.T) {
	t.Parallel()

	tmpl, err := Load("freeway")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	e, _, err := env.Make("Freeway-v0", 0)
	if err != nil {
		t.Fatalf("Make: %v", err)
	}
	obs := e.Observe()

	slow, err := tmpl.Slow(obs, false)
	if err != nil {
		t.Fatalf("Slow: %v", err)
	}
	if !strings.HasPrefix(slow, tmpl.SlowAgent+tmpl.ConclusionFormat) || !strings.Contains(slow, "t_1 = 0") {
		t.Errorf("slow prompt not assembled from conclusion format:\n%s", slow)
	}
	if !strings.Contains(slow, "| 8 |") {
		t.Error("slow prompt should list all eight freeways")
	}

	planner, _ := tmpl.Slow(obs, true)
	if !strings.HasPrefix(planner, tmpl.SlowAgent+tmpl.ActionFormat) {
		t.Error("planner prompt should use the action format")
	}

	fast, err := tmpl.Fast(obs, Guidance(0, "go up\n  then wait"))
	if err != nil {
		t.Fatalf("Fast: %v", err)
	}
	wantTail := "> **Guidance from a Previous Thinking Model:** Turn \\( t_1 = 0 \\)\n> go up\n> then wait\n"
	if !strings.HasSuffix(fast, wantTail) || !strings.Contains(fast, "t_0 = 0") {
		t.Errorf("fast prompt tail = %q", fast[max(0, len(fast)-len(wantTail)):])
	}
}

func TestDescribeUnknownState(t *testing.T) {
	t.Parallel()

	if _, err := Describe(env.Observation{State: 42}, SlowTurn); err == nil {
		t.Error("Describe of an unknown state should fail")
	}
}
