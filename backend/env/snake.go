package env

import (
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
)

const (
	snakeBoard     = 8
	snakeMaxTurns  = 100
	snakeFoodLife  = 10
	snakeFoodValue = 1
)

var snakeSeeds = func() map[CognitiveLoad]map[int]int64 {
	seeds := map[CognitiveLoad]map[int]int64{}
	for load, base := range map[CognitiveLoad]int64{LoadEasy: 1000, LoadMedium: 5000, LoadHard: 8000} {
		seeds[load] = map[int]int64{}
		for i := range 32 {
			seeds[load][i] = base + int64(i)
		}
	}
	return seeds
}()

func init() {
	register("snake", snakeSeeds, func(seed int64) Environment { return NewSnake(seed) })
}

type Point struct{ X, Y int }

func (p Point) String() string {
	return "(" + strconv.Itoa(p.X) + ", " + strconv.Itoa(p.Y) + ")"
}

type Food struct {
	Point
	Life  int
	Value int
}

var moves = map[string]Point{
	"L": {-1, 0},
	"R": {1, 0},
	"U": {0, 1},
	"D": {0, -1},
}

var reverse = map[string]string{"L": "R", "R": "L", "U": "D", "D": "U"}

// Snake on an 8x8 board with a wall border. The thousands digit of the seed
// is the number of internal obstacles; the rest seeds the board. Food
// spawns every third turn and expires after its life span.
type Snake struct {
	seed      int64
	rng       *rand.Rand
	body      []Point // tail first
	obstacles []Point
	food      []Food
	spawn     []Point
	next      int
	dir       string
	turn      int
	reward    float64
	done      bool
}

func NewSnake(seed int64) *Snake {
	return &Snake{seed: seed}
}

func (s *Snake) Game() string    { return "snake" }
func (s *Snake) Seed() int64     { return s.seed }
func (s *Snake) Turn() int       { return s.turn }
func (s *Snake) Reward() float64 { return s.reward }
func (s *Snake) Done() bool      { return s.done }

func (s *Snake) Reset() Observation {
	s.rng = newRand(s.seed % 1000)
	start := Point{snakeBoard/2 - 1, snakeBoard/2 - 1}
	s.body = []Point{start}

	s.obstacles = s.obstacles[:0]
	for want := int(s.seed / 1000); len(s.obstacles) < want; {
		p := Point{1 + s.rng.IntN(snakeBoard-2), 1 + s.rng.IntN(snakeBoard-2)}
		if p != start && !slices.Contains(s.obstacles, p) {
			s.obstacles = append(s.obstacles, p)
		}
	}

	s.spawn = s.spawn[:0]
	for x := 1; x < snakeBoard-1; x++ {
		for y := 1; y < snakeBoard-1; y++ {
			p := Point{x, y}
			if p != start && !slices.Contains(s.obstacles, p) {
				s.spawn = append(s.spawn, p)
			}
		}
	}
	s.rng.Shuffle(len(s.spawn), func(i, j int) { s.spawn[i], s.spawn[j] = s.spawn[j], s.spawn[i] })

	s.food = s.food[:0]
	s.next = 0
	s.dir = "L"
	s.turn = 0
	s.reward = 0
	s.done = false
	for range 3 {
		s.spawnFood()
	}
	return s.Observe()
}

func (s *Snake) spawnFood() {
	p := s.spawn[s.next%len(s.spawn)]
	s.next = (s.next + 1) % len(s.spawn)
	if s.foodAt(p) >= 0 {
		return
	}
	s.food = append(s.food, Food{Point: p, Life: snakeFoodLife, Value: snakeFoodValue})
}

func (s *Snake) foodAt(p Point) int {
	return slices.IndexFunc(s.food, func(f Food) bool { return f.Point == p })
}

func (s *Snake) wall(p Point) bool {
	return p.X == 0 || p.Y == 0 || p.X == snakeBoard-1 || p.Y == snakeBoard-1 || slices.Contains(s.obstacles, p)
}

func (s *Snake) Observe() Observation {
	return Observation{
		Turn:        s.turn,
		StateString: s.render(),
		State:       s.state(),
	}
}

// Step moves the snake one cell. Reversing into the body is ignored, as is
// any action outside LRUD: the snake keeps its direction.
func (s *Snake) Step(action string) Step {
	if s.done {
		return Step{Observation: s.Observe(), Done: true, Reward: s.reward}
	}

	s.turn++
	if reverse[action] == s.dir {
		action = s.dir
	}
	if _, ok := moves[action]; ok {
		s.dir = action
	}

	tail := s.body[0]
	head := s.body[len(s.body)-1]
	delta := moves[s.dir]
	next := Point{head.X + delta.X, head.Y + delta.Y}

	// Eating positive food on the tail cell grows the snake into its own head.
	tailFood := next == tail && s.foodAt(next) >= 0 && s.food[s.foodAt(next)].Value > 0
	if s.wall(next) || slices.Contains(s.body[1:], next) || tailFood {
		s.reward--
		s.done = true
		return Step{Observation: s.Observe(), Done: true, Reward: s.reward}
	}

	s.body = append(s.body, next)
	gained := 0
	if i := s.foodAt(next); i >= 0 {
		gained = s.food[i].Value
		s.food = slices.Delete(s.food, i, i+1)
		if gained < 0 {
			s.body = s.body[1:]
		}
	} else {
		s.body = s.body[1:]
	}

	kept := s.food[:0]
	for _, f := range s.food {
		f.Life--
		if f.Life > 0 {
			kept = append(kept, f)
		}
	}
	s.food = kept

	if s.turn%3 == 1 {
		s.spawnFood()
	}
	s.reward += float64(gained)
	s.done = s.turn >= snakeMaxTurns
	return Step{Observation: s.Observe(), Done: s.done, Reward: s.reward}
}

func (s *Snake) render() string {
	var b strings.Builder
	for row := range snakeBoard {
		for x := range snakeBoard {
			p := Point{x, snakeBoard - 1 - row}
			cell := ""
			if slices.Contains(s.obstacles, p) {
				cell += "#"
			}
			if i := slices.Index(s.body, p); i >= 0 {
				cell += string(rune('a' + len(s.body) - 1 - i))
			}
			if i := s.foodAt(p); i >= 0 {
				f := s.food[i]
				if f.Value > 0 {
					cell += "+"
				} else {
					cell += "-"
				}
				cell += strconv.Itoa(f.Life)
			}
			if p.X == 0 || p.Y == 0 || p.X == snakeBoard-1 || p.Y == snakeBoard-1 {
				cell += "#"
			}
			if cell == "" {
				cell = "."
			}
			b.WriteString(cell)
			b.WriteString(strings.Repeat(" ", max(0, 6-len(cell))))
		}
		b.WriteString("\n")
	}
	return b.String()
}

type SnakeState struct {
	Turn      int
	Size      int
	Direction string
	// Body lists the head first.
	Body      []Point
	Obstacles []Point
	Food      []Food
}

func (s *Snake) state() *SnakeState {
	body := slices.Clone(s.body)
	slices.Reverse(body)
	return &SnakeState{
		Turn:      s.turn,
		Size:      snakeBoard,
		Direction: s.dir,
		Body:      body,
		Obstacles: slices.Clone(s.obstacles),
		Food:      slices.Clone(s.food),
	}
}

// Actions are the moves open to the snake: every direction but the reverse.
func (s *Snake) Actions() []string {
	var actions []string
	for _, a := range []string{"L", "R", "U", "D"} {
		if reverse[a] != s.dir {
			actions = append(actions, a)
		}
	}
	return actions
}

var _ Environment = (*Snake)(nil)
