// Package budget holds the per-tick budget bookkeeping shared by the
// scheduler: the budget unit, the validated limits of an agent instance and
// the token accountant that decides how much of a slow job may be revealed.
package budget

import (
	"errors"
	"time"

	"github.com/furisto/cadence/shared"
)

// Unit is fixed for the lifetime of an agent. It selects both the accounting
// algorithm and whether providers are called blocking or streaming.
type Unit string

const (
	UnitToken Unit = "token"
	UnitTime  Unit = "time"
)

func ParseUnit(s string) (Unit, error) {
	switch s {
	case "token", "tokens":
		return UnitToken, nil
	case "time", "seconds":
		return UnitTime, nil
	default:
		return "", shared.Errorf(shared.ErrorSourceConfig, "unknown budget unit %q", s)
	}
}

// Mode is the agent composition an instance runs in.
type Mode string

const (
	ModeAgile    Mode = "agile"
	ModeReactive Mode = "reactive"
	ModePlanning Mode = "planning"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAgile, ModeReactive, ModePlanning:
		return Mode(s), nil
	default:
		return "", shared.Errorf(shared.ErrorSourceConfig, "unknown agent mode %q", s)
	}
}

var (
	ErrInternalExceedsBudget  = errors.New("internal budget exceeds per-tick budget")
	ErrPlanningInternalBudget = errors.New("planning mode requires an internal budget of 0")
	ErrMissingInternalBudget  = errors.New("internal budget must be positive when a fast controller is used")
	ErrNonPositiveBudget      = errors.New("per-tick budget must be positive")
)

// Limits is the validated budget configuration of one agent. PerTick is the
// allotment granted each tick; Internal is the cost charged for the fast
// controller's own call, which a fresh slow job must pay back first. Both are
// tokens in UnitToken and seconds in UnitTime.
type Limits struct {
	Unit     Unit
	PerTick  float64
	Internal float64
}

func NewLimits(mode Mode, unit Unit, perTick, internal float64) (Limits, error) {
	limits := Limits{Unit: unit, PerTick: perTick, Internal: internal}
	if err := limits.Validate(mode); err != nil {
		return Limits{}, err
	}
	return limits, nil
}

func (l Limits) Validate(mode Mode) error {
	if l.Unit != UnitToken && l.Unit != UnitTime {
		return shared.Errorf(shared.ErrorSourceConfig, "unknown budget unit %q", l.Unit)
	}
	if l.PerTick <= 0 {
		return shared.Wrap(shared.ErrorSourceConfig, ErrNonPositiveBudget, "per-tick budget %v", l.PerTick)
	}

	switch mode {
	case ModePlanning:
		if l.Internal != 0 {
			return shared.Wrap(shared.ErrorSourceConfig, ErrPlanningInternalBudget, "internal budget %v", l.Internal)
		}
	case ModeAgile, ModeReactive:
		if l.Internal <= 0 {
			return shared.Wrap(shared.ErrorSourceConfig, ErrMissingInternalBudget, "internal budget %v", l.Internal)
		}
	default:
		return shared.Errorf(shared.ErrorSourceConfig, "unknown agent mode %q", mode)
	}

	if l.Internal > l.PerTick {
		return shared.Wrap(shared.ErrorSourceConfig, ErrInternalExceedsBudget,
			"internal %v > per-tick %v", l.Internal, l.PerTick)
	}
	return nil
}

func (l Limits) PerTickTokens() int {
	return int(l.PerTick)
}

func (l Limits) InternalTokens() int {
	return int(l.Internal)
}

// SlowWindow is how long a tick may block draining the slow stream in
// UnitTime: whatever is left of the tick after the fast controller's share.
func (l Limits) SlowWindow() time.Duration {
	return seconds(l.PerTick - l.Internal)
}

// FastWindow bounds a streaming fast call in UnitTime.
func (l Limits) FastWindow() time.Duration {
	return seconds(l.Internal)
}

func seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
