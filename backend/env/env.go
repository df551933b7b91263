// Package env holds the turn-based games the scheduler is evaluated on.
package env

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sort"
	"strings"
)

var ErrUnknownEnvironment = errors.New("unknown environment")

// Observation is what an agent sees at the start of a tick.
type Observation struct {
	Turn        int
	StateString string
	// State is the structured game state, *FreewayState or *SnakeState.
	State any
}

// Step is the outcome of one action.
type Step struct {
	Observation Observation
	Done        bool
	// Reward is the cumulative episode reward after the step.
	Reward float64
	// Reset reports that the game restarted its board mid-episode. Agents
	// must drop guidance computed for the old board.
	Reset bool
}

type Environment interface {
	Game() string
	Seed() int64
	Reset() Observation
	Observe() Observation
	Step(action string) Step
	Turn() int
	Reward() float64
	Done() bool
}

// CognitiveLoad grades how hard an instance is.
type CognitiveLoad string

const (
	LoadEasy   CognitiveLoad = "E"
	LoadMedium CognitiveLoad = "M"
	LoadHard   CognitiveLoad = "H"
)

func ParseCognitiveLoad(s string) (CognitiveLoad, error) {
	switch CognitiveLoad(strings.ToUpper(s)) {
	case LoadEasy:
		return LoadEasy, nil
	case LoadMedium:
		return LoadMedium, nil
	case LoadHard:
		return LoadHard, nil
	}
	return "", fmt.Errorf("unknown cognitive load %q", s)
}

func (l CognitiveLoad) version() int {
	switch l {
	case LoadMedium:
		return 1
	case LoadHard:
		return 2
	default:
		return 0
	}
}

type factory func(seed int64) Environment

type registration struct {
	game  string
	load  CognitiveLoad
	seeds map[int]int64
	build factory
}

var registry = map[string]registration{}

func register(game string, seeds map[CognitiveLoad]map[int]int64, build factory) {
	for _, load := range []CognitiveLoad{LoadEasy, LoadMedium, LoadHard} {
		registry[ID(game, load)] = registration{game: game, load: load, seeds: seeds[load], build: build}
	}
}

// ID names the registry entry of game at load, e.g. "Freeway-v1".
func ID(game string, load CognitiveLoad) string {
	name := strings.ToUpper(game[:1]) + strings.ToLower(game[1:])
	return fmt.Sprintf("%s-v%d", name, load.version())
}

// Info describes one registered environment.
type Info struct {
	ID    string
	Game  string
	Load  CognitiveLoad
	Seeds int
}

func List() []Info {
	infos := make([]Info, 0, len(registry))
	for id, reg := range registry {
		infos = append(infos, Info{ID: id, Game: reg.game, Load: reg.load, Seeds: len(reg.seeds)})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Make builds the environment registered under id for the raw seed index
// and returns it reset, together with the concrete seed the index maps to.
func Make(id string, seed int) (Environment, int64, error) {
	reg, ok := registry[id]
	if !ok {
		ids := make([]string, 0, len(registry))
		for k := range registry {
			ids = append(ids, k)
		}
		slices.Sort(ids)
		return nil, 0, fmt.Errorf("%w %q, available: %s", ErrUnknownEnvironment, id, strings.Join(ids, ", "))
	}
	actual, ok := reg.seeds[seed]
	if !ok {
		return nil, 0, fmt.Errorf("%s has no seed %d (0-%d)", id, seed, len(reg.seeds)-1)
	}

	e := reg.build(actual)
	e.Reset()
	return e, actual, nil
}

func newRand(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
}

func sign(b bool) int {
	if b {
		return 1
	}
	return -1
}
