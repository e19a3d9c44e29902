package levels

import (
	"errors"
	"fmt"
	"math"

	"github.com/antibyte/crisisroom/pkg/grid"
	"github.com/antibyte/crisisroom/pkg/logger"
)

var (
	ErrUnknownLevel = errors.New("unknown level")
	ErrInvalidLevel = errors.New("invalid level")
)

// BuiltinCount is the number of levels shipped with the room.
const BuiltinCount = 3

// BugTypes maps each bug type to its default health.
var BugTypes = map[string]int{
	"syntax_error":    30,
	"type_error":      25,
	"logic_error":     40,
	"runtime_error":   50,
	"memory_leak":     60,
	"race_condition":  70,
	"buffer_overflow": 80,
}

// PowerUpTypes maps each power-up type to its default value.
var PowerUpTypes = map[string]int{
	"health_pack":  25,
	"energy_boost": 20,
	"debug_tool":   30,
	"super_debug":  50,
}

type Point struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

// Layout is the placement of everything on one level.
type Layout struct {
	Name        string          `json:"name" yaml:"name"`
	PlayerStart Point           `json:"playerStart" yaml:"playerStart"`
	Bugs        []grid.Bug      `json:"bugs" yaml:"bugs"`
	Obstacles   []grid.Obstacle `json:"obstacles" yaml:"obstacles"`
	PowerUps    []grid.PowerUp  `json:"powerUps" yaml:"powerUps"`
	Difficulty  int             `json:"difficulty,omitempty" yaml:"difficulty,omitempty"`
}

var defaultStart = Point{X: 1, Y: 6}

// Generate returns the built-in layout for level n (1-based).
func Generate(n int) (Layout, error) {
	var l Layout
	switch n {
	case 1:
		l = Layout{
			Name: "Syntax Storm",
			Bugs: []grid.Bug{
				{X: 5, Y: 2, Type: "syntax_error", Health: 30, ID: 1},
				{X: 8, Y: 4, Type: "type_error", Health: 25, ID: 2},
				{X: 3, Y: 6, Type: "syntax_error", Health: 30, ID: 3},
			},
			Obstacles: []grid.Obstacle{
				{X: 4, Y: 3, Type: "wall"},
				{X: 6, Y: 5, Type: "wall"},
				{X: 9, Y: 2, Type: "wall"},
			},
			PowerUps: []grid.PowerUp{
				{X: 10, Y: 1, Type: "energy_boost", Value: 20},
				{X: 2, Y: 4, Type: "health_pack", Value: 25},
			},
		}
	case 2:
		l = Layout{
			Name: "Logic Maze",
			Bugs: []grid.Bug{
				{X: 4, Y: 1, Type: "logic_error", Health: 40, ID: 4},
				{X: 7, Y: 3, Type: "runtime_error", Health: 50, ID: 5},
				{X: 2, Y: 5, Type: "type_error", Health: 25, ID: 6},
				{X: 9, Y: 6, Type: "syntax_error", Health: 30, ID: 7},
			},
			Obstacles: []grid.Obstacle{
				{X: 3, Y: 2, Type: "firewall"},
				{X: 5, Y: 4, Type: "firewall"},
				{X: 8, Y: 1, Type: "wall"},
				{X: 6, Y: 6, Type: "wall"},
			},
			PowerUps: []grid.PowerUp{
				{X: 10, Y: 3, Type: "debug_tool", Value: 30},
				{X: 1, Y: 2, Type: "energy_boost", Value: 25},
			},
		}
	case 3:
		l = Layout{
			Name: "Kernel Panic",
			Bugs: []grid.Bug{
				{X: 3, Y: 1, Type: "memory_leak", Health: 60, ID: 8},
				{X: 6, Y: 2, Type: "race_condition", Health: 70, ID: 9},
				{X: 9, Y: 4, Type: "buffer_overflow", Health: 80, ID: 10},
				{X: 2, Y: 6, Type: "logic_error", Health: 40, ID: 11},
				{X: 8, Y: 7, Type: "runtime_error", Health: 50, ID: 12},
			},
			Obstacles: []grid.Obstacle{
				{X: 4, Y: 3, Type: "encrypted_wall"},
				{X: 7, Y: 5, Type: "encrypted_wall"},
				{X: 5, Y: 1, Type: "firewall"},
				{X: 10, Y: 6, Type: "firewall"},
			},
			PowerUps: []grid.PowerUp{
				{X: 11, Y: 2, Type: "super_debug", Value: 50},
				{X: 1, Y: 7, Type: "health_pack", Value: 40},
			},
		}
	default:
		return Layout{}, fmt.Errorf("%w: %d", ErrUnknownLevel, n)
	}
	l.PlayerStart = defaultStart
	l.Difficulty = Difficulty(l)
	return l, nil
}

// Apply replaces the entities of w with those of l and resets the player
// to the level start.
func Apply(w *grid.World, l Layout) {
	w.Bugs = append([]grid.Bug{}, l.Bugs...)
	w.Obstacles = append([]grid.Obstacle{}, l.Obstacles...)
	w.PowerUps = append([]grid.PowerUp{}, l.PowerUps...)
	w.BugsDefeated = 0
	w.ResetPlayer(l.PlayerStart.X, l.PlayerStart.Y)
	logger.Info(logger.AreaLevels, "applied level %q: %d bugs, %d obstacles, %d power-ups",
		l.Name, len(l.Bugs), len(l.Obstacles), len(l.PowerUps))
}

// Difficulty scores a layout: bug health plus 10 per obstacle minus half
// of each power-up's value, never below zero.
func Difficulty(l Layout) int {
	score := 0.0
	for _, b := range l.Bugs {
		if h, ok := BugTypes[b.Type]; ok {
			score += float64(h)
		} else {
			score += float64(b.Health)
		}
	}
	score += float64(len(l.Obstacles) * 10)
	for _, p := range l.PowerUps {
		if v, ok := PowerUpTypes[p.Type]; ok {
			score -= float64(v) / 2
		} else {
			score -= float64(p.Value) / 2
		}
	}
	return int(math.Max(0, math.Round(score)))
}

// Validate checks a custom layout against a width x height grid and fills
// in default bug health, power-up values, bug IDs and the difficulty.
func Validate(l *Layout, width, height int) error {
	if l.Name == "" {
		return fmt.Errorf("%w: level name is required", ErrInvalidLevel)
	}
	if len(l.Bugs) == 0 {
		return fmt.Errorf("%w: a level needs at least one bug", ErrInvalidLevel)
	}

	occupied := make(map[Point]string)
	claim := func(x, y int, what string) error {
		if x < 0 || x >= width || y < 0 || y >= height {
			return fmt.Errorf("%w: %s at (%d,%d) is outside the %dx%d grid", ErrInvalidLevel, what, x, y, width, height)
		}
		p := Point{x, y}
		if other, taken := occupied[p]; taken {
			return fmt.Errorf("%w: %s at (%d,%d) overlaps %s", ErrInvalidLevel, what, x, y, other)
		}
		occupied[p] = what
		return nil
	}

	if err := claim(l.PlayerStart.X, l.PlayerStart.Y, "player start"); err != nil {
		return err
	}

	nextID := 1
	for _, b := range l.Bugs {
		if b.ID >= nextID {
			nextID = b.ID + 1
		}
	}
	for i := range l.Bugs {
		b := &l.Bugs[i]
		if err := claim(b.X, b.Y, "bug "+b.Type); err != nil {
			return err
		}
		if b.Health <= 0 {
			h, ok := BugTypes[b.Type]
			if !ok {
				return fmt.Errorf("%w: bug type %q needs an explicit health", ErrInvalidLevel, b.Type)
			}
			b.Health = h
		}
		if b.ID == 0 {
			b.ID = nextID
			nextID++
		}
	}

	for _, o := range l.Obstacles {
		if o.Type == "" {
			return fmt.Errorf("%w: obstacle at (%d,%d) has no type", ErrInvalidLevel, o.X, o.Y)
		}
		if err := claim(o.X, o.Y, "obstacle "+o.Type); err != nil {
			return err
		}
	}

	for i := range l.PowerUps {
		p := &l.PowerUps[i]
		if err := claim(p.X, p.Y, "power-up "+p.Type); err != nil {
			return err
		}
		if p.Value <= 0 {
			v, ok := PowerUpTypes[p.Type]
			if !ok {
				return fmt.Errorf("%w: power-up type %q needs an explicit value", ErrInvalidLevel, p.Type)
			}
			p.Value = v
		}
	}

	l.Difficulty = Difficulty(*l)
	return nil
}
