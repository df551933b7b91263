package prompt

import (
	"fmt"
	"strings"

	"github.com/furisto/cadence/backend/env"
)

// TurnLabel is the turn variable a description is written for: t_0 for the
// fast model, t_1 for the slow one.
type TurnLabel string

const (
	FastTurn TurnLabel = "t_0"
	SlowTurn TurnLabel = "t_1"
)

// Describe renders the structured state of obs.
func Describe(obs env.Observation, label TurnLabel) (string, error) {
	switch state := obs.State.(type) {
	case *env.FreewayState:
		return fmt.Sprintf("**Current Turn:** \\( %s = %d \\) \n", label, state.Turn) + describeFreeway(state), nil
	case *env.SnakeState:
		return fmt.Sprintf("**Current Turn**: \\( %s = %d \\)\n", label, state.Turn) + describeSnake(state), nil
	default:
		return "", fmt.Errorf("no description for state %T", obs.State)
	}
}

func describeFreeway(s *env.FreewayState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Player Position:** \\( (0, %d) \\)\n", s.Player)
	b.WriteString("**Car State**:\n")
	b.WriteString("| Freeway \\( k \\) | Cars (head \\( h \\), tail \\( \\tau \\), direction \\( d \\), speed \\( s \\)) |\n")
	b.WriteString("|-----------------|------------------------------------------------------------------------|\n")

	byLane := map[int][]string{}
	for _, c := range s.Cars {
		byLane[c.Lane] = append(byLane[c.Lane], fmt.Sprintf("(%d, %d, %s, %d)", c.Head, c.Tail, c.Direction, c.Speed))
	}
	for lane := 1; lane <= 8; lane++ {
		fmt.Fprintf(&b, "| %d | \\(%s\\) |\n", lane, strings.Join(byLane[lane], ", "))
	}
	return b.String()
}

func describeSnake(s *env.SnakeState) string {
	var b strings.Builder
	b.WriteString("**Cells occupied by walls**:\n")
	fmt.Fprintf(&b, "\t - Border Cells: x=0/x=%d or y=0/y=%d.\n", s.Size-1, s.Size-1)
	if len(s.Obstacles) > 0 {
		fmt.Fprintf(&b, "\t - Internal Obstacles: %s\n", points(s.Obstacles))
	} else {
		b.WriteString("\t - Internal Obstacles: No internal obstacles\n")
	}
	fmt.Fprintf(&b, "**Snake Positions**:%s\n**Snake Head Direction**: %s\n", points(s.Body), s.Direction)
	b.WriteString("**Food Positions, Life Span and Value**:\n")
	for _, f := range s.Food {
		fmt.Fprintf(&b, "\t- (%d, %d, %d, %d)\n", f.X, f.Y, f.Life, f.Value)
	}
	return b.String()
}

func points(ps []env.Point) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = p.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
