// Package prompt renders game observations into model prompts.
package prompt

import (
	"embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/furisto/cadence/backend/env"
)

//go:embed templates/*.yaml
var templates embed.FS

// Template is the prompt set of one game.
type Template struct {
	Game             string `yaml:"game"`
	Actions          string `yaml:"actions"`
	DefaultAction    string `yaml:"default_action"`
	SlowAgent        string `yaml:"slow_agent_prompt"`
	ActionFormat     string `yaml:"action_format_prompt"`
	ConclusionFormat string `yaml:"conclusion_format_prompt"`
	FastAgent        string `yaml:"fast_agent_prompt"`
}

func Load(game string) (*Template, error) {
	data, err := templates.ReadFile("templates/" + strings.ToLower(game) + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("no prompt template for game %q: %w", game, err)
	}

	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing prompt template for %q: %w", game, err)
	}
	if t.Actions == "" || t.DefaultAction == "" {
		return nil, fmt.Errorf("prompt template for %q lacks actions or default action", game)
	}
	return &t, nil
}

// Slow is the slow model's prompt. A planner asks for a bare action
// sequence; the dual-cadence agent also wants a short conclusion the fast
// model can read.
func (t *Template) Slow(obs env.Observation, planner bool) (string, error) {
	desc, err := Describe(obs, SlowTurn)
	if err != nil {
		return "", err
	}
	format := t.ConclusionFormat
	if planner {
		format = t.ActionFormat
	}
	return t.SlowAgent + format + desc, nil
}

// Fast is the fast model's prompt, followed by guidance quoted line by line.
func (t *Template) Fast(obs env.Observation, guidance string) (string, error) {
	desc, err := Describe(obs, FastTurn)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(t.FastAgent)
	b.WriteString(desc)
	if guidance != "" {
		for line := range strings.SplitSeq(guidance, "\n") {
			b.WriteString("> ")
			b.WriteString(strings.TrimSpace(line))
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

// Guidance frames slow-model output computed on turn for the fast model.
func Guidance(turn int, text string) string {
	return fmt.Sprintf("**Guidance from a Previous Thinking Model:** Turn \\( t_1 = %d \\)\n%s", turn, text)
}
