package env

import (
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
)

const (
	freewayLanes    = 8
	freewayWidth    = 9
	freewayStart    = 9
	freewayColumn   = 4
	freewayMaxTurns = 100
	freewayReward   = 100
	// One grid cell spans this many units in the state handed to models.
	freewayScale = 12
)

var freewaySeeds = map[CognitiveLoad]map[int]int64{
	LoadEasy:   {0: 1000, 1: 1001, 2: 1002, 3: 1003, 4: 1013, 5: 1014, 6: 1016, 7: 1018},
	LoadMedium: {0: 1069, 1: 1093, 2: 1536, 3: 1858, 4: 1338, 5: 2496, 6: 1933, 7: 1863},
	LoadHard:   {0: 1447, 1: 2408, 2: 2418, 3: 2661, 4: 1100, 5: 1944, 6: 1310, 7: 2453},
}

func init() {
	register("freeway", freewaySeeds, func(seed int64) Environment { return NewFreeway(seed) })
}

// car moves either cells squares every turn (cells > 0) or one square every
// period turns.
type car struct {
	x      int
	row    int
	dir    int
	cells  int
	period int
	timer  int
	length int
}

// covers reports whether the car occupies column x. The body trails behind
// the head.
func (c *car) covers(x int) bool {
	for l := 0; l < c.length; l++ {
		if c.x-l*c.dir == x {
			return true
		}
	}
	return false
}

// Freeway: cross eight lanes of traffic from row 9 to row 0 while cars move
// through the player's column. A collision sends the player back to the
// start on a freshly generated board; the turn count and reward carry over.
type Freeway struct {
	seed   int64
	rng    *rand.Rand
	cars   []*car
	pos    int
	turn   int
	reward float64
	done   bool
}

func NewFreeway(seed int64) *Freeway {
	return &Freeway{seed: seed}
}

func (f *Freeway) Game() string    { return "freeway" }
func (f *Freeway) Seed() int64     { return f.seed }
func (f *Freeway) Turn() int       { return f.turn }
func (f *Freeway) Reward() float64 { return f.reward }
func (f *Freeway) Done() bool      { return f.done }

func (f *Freeway) Reset() Observation {
	f.layout()
	f.turn = 0
	f.reward = freewayReward
	f.done = false
	return f.Observe()
}

func (f *Freeway) layout() {
	f.rng = newRand(f.seed)
	f.pos = freewayStart
	f.cars = f.cars[:0]

	var prev []*car
	for i := range freewayLanes {
		dir := sign(f.rng.IntN(2) == 1)
		batched := f.rng.IntN(2) == 1

		if batched && i > 0 {
			// Neighbouring lanes share the same traffic pattern.
			for _, c := range prev {
				clone := *c
				clone.row = i + 1
				f.cars = append(f.cars, &clone)
			}
			continue
		}

		prev = f.laneCars(i+1, dir)
		for _, c := range prev {
			clone := *c
			f.cars = append(f.cars, &clone)
		}
	}
}

func (f *Freeway) laneCars(row, dir int) []*car {
	start := 0
	if dir < 0 {
		start = freewayWidth - 1
	}

	switch f.rng.IntN(3) {
	case 0:
		// Long fast car.
		speed := 2 + f.rng.IntN(3)
		return []*car{{x: start, row: row, dir: dir, cells: speed, length: speed}}
	case 1:
		// Evenly spaced fleet.
		num := 2 + f.rng.IntN(2)
		period := 1 + f.rng.IntN(3)
		fleet := make([]*car, 0, num)
		x := start
		for range num {
			fleet = append(fleet, &car{x: x, row: row, dir: dir, period: period, timer: period - 1, length: 1})
			x = (x + dir*(freewayWidth/num) + freewayWidth) % freewayWidth
		}
		return fleet
	default:
		period := 1 + f.rng.IntN(4)
		return []*car{{x: start, row: row, dir: dir, period: period, timer: period - 1, length: 1}}
	}
}

func (f *Freeway) Observe() Observation {
	return Observation{
		Turn:        f.turn,
		StateString: f.render(),
		State:       f.state(),
	}
}

func (f *Freeway) Step(action string) Step {
	if f.done {
		return Step{Observation: f.Observe(), Done: true, Reward: f.reward}
	}

	f.reward--
	f.turn++
	switch action {
	case "U":
		f.pos = max(0, f.pos-1)
	case "D":
		f.pos = min(freewayStart, f.pos+1)
	}

	if f.pos == 0 {
		f.pos = freewayStart
		f.done = true
		return Step{Observation: f.Observe(), Done: true, Reward: f.reward}
	}

	collided := false
	for _, c := range f.cars {
		switch {
		case c.x < 0:
			c.x = freewayWidth - 1
		case c.x >= freewayWidth:
			c.x = 0
		case c.cells > 0:
			c.x += c.cells * c.dir
		default:
			c.timer--
			if c.timer < 0 {
				c.timer += c.period
				c.x += c.dir
			}
		}
		if c.row == f.pos && c.covers(freewayColumn) {
			collided = true
		}
	}

	f.done = f.turn >= freewayMaxTurns
	if collided && !f.done {
		reward, turn := f.reward, f.turn
		f.Reset()
		f.reward, f.turn = reward, turn
	}
	return Step{Observation: f.Observe(), Done: f.done, Reward: f.reward, Reset: collided}
}

func (f *Freeway) render() string {
	var b strings.Builder
	for row := 0; row <= freewayStart; row++ {
		for x := range freewayWidth {
			cell := ""
			if x == freewayColumn && f.pos == row {
				cell = "P"
			}
			for _, c := range f.cars {
				if c.row != row {
					continue
				}
				if c.x == x {
					if c.dir > 0 {
						cell += c.label() + ">"
					} else {
						cell += "<" + c.label()
					}
				} else if c.covers(x) {
					cell += "x"
				}
			}
			if cell == "" {
				cell = "."
			}
			b.WriteString(cell)
			b.WriteString(strings.Repeat(" ", max(0, 4-len(cell))))
			b.WriteString(" ")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (c *car) label() string {
	if c.cells > 0 {
		return strconv.Itoa(c.cells)
	}
	return "/" + strconv.Itoa(c.period)
}

// FreewayCar is a car in model coordinates: lanes count up from the start,
// positions are scaled and centred on the player's column.
type FreewayCar struct {
	Lane      int
	Head      int
	Tail      int
	Direction string
	Speed     int
}

type FreewayState struct {
	Turn   int
	Player int
	Cars   []FreewayCar
}

func (f *Freeway) state() *FreewayState {
	cars := make([]FreewayCar, 0, len(f.cars))
	for _, c := range f.cars {
		head := freewayScale * (c.x - freewayColumn)
		var speed int
		if c.cells > 0 {
			speed = freewayScale * c.cells
		} else {
			speed = freewayScale / c.period
			// Sub-cell progress of slow cars since their last move.
			head += c.dir * (c.period - c.timer - 1) * speed
		}
		span := c.length*freewayScale - 1

		direction := "right"
		if c.dir < 0 {
			direction = "left"
		}
		cars = append(cars, FreewayCar{
			Lane:      freewayStart - c.row,
			Head:      head,
			Tail:      head - c.dir*span,
			Direction: direction,
			Speed:     speed,
		})
	}
	slices.SortStableFunc(cars, func(a, b FreewayCar) int { return a.Lane - b.Lane })

	return &FreewayState{
		Turn:   f.turn,
		Player: freewayStart - f.pos,
		Cars:   cars,
	}
}

var _ Environment = (*Freeway)(nil)
