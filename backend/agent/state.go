package agent

import "github.com/furisto/cadence/backend/exposure"

type Phase int

const (
	// PhaseIdle: no slow job has been launched since the episode (re)started.
	PhaseIdle Phase = iota
	// PhaseAwaitingSlow: a slow job is in flight and has exposed nothing new.
	PhaseAwaitingSlow
	// PhaseGuided: slow output has been exposed and guides the fast model.
	PhaseGuided
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingSlow:
		return "awaiting_slow"
	case PhaseGuided:
		return "guided"
	default:
		return "unknown"
	}
}

// SchedulerState is the mutable state of one agent. It is owned by the
// goroutine driving the agent's ticks.
type SchedulerState struct {
	Phase  Phase
	Tick   int
	Action string
	// Plan is what the agent logs as its plan: the remaining action queue
	// of a planner, or the guidance block shown to the fast model.
	Plan string
	// Guidance is the most recent non-empty slow exposure and the tick its
	// job was launched on.
	Guidance     string
	GuidanceTick int
}

// expose folds one tick's exposure into the state.
func (s *SchedulerState) expose(exp exposure.Exposure) {
	switch {
	case exp.Fresh && exp.Text != "":
		s.Guidance = exp.Text
		s.GuidanceTick = exp.FromTick
		s.Phase = PhaseGuided
	case exp.Launched:
		s.Phase = PhaseAwaitingSlow
	}
}

// clear forgets everything learned in the current episode.
func (s *SchedulerState) clear() {
	*s = SchedulerState{Phase: PhaseIdle, Tick: s.Tick, Action: s.Action}
}
