package grid

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
)

const (
	DefaultWidth  = 12
	DefaultHeight = 8

	MaxHealth = 100
	MaxEnergy = 50

	MoveCost   = 2
	AttackCost = 5
	ScanCost   = 3
	WaitGain   = 5
	KillRefund = 10

	MinDamage = 25
	MaxDamage = 40
)

// ErrInvalidDirection is returned by ParseDirection for unknown input.
var ErrInvalidDirection = errors.New("invalid direction")

// Direction is one of the four grid neighbours.
type Direction int

const (
	Up Direction = iota
	Down
	Left
	Right
)

var directionNames = [...]string{"up", "down", "left", "right"}

func (d Direction) String() string {
	if d < Up || d > Right {
		return fmt.Sprintf("Direction(%d)", int(d))
	}
	return directionNames[d]
}

// Delta returns the coordinate offset of one step in direction d.
// Y grows downwards.
func (d Direction) Delta() (int, int) {
	switch d {
	case Up:
		return 0, -1
	case Down:
		return 0, 1
	case Left:
		return -1, 0
	case Right:
		return 1, 0
	}
	return 0, 0
}

// ParseDirection accepts up, down, left or right in any letter case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up":
		return Up, nil
	case "down":
		return Down, nil
	case "left":
		return Left, nil
	case "right":
		return Right, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidDirection, s)
}

// Item is an inventory entry.
type Item struct {
	Type  string `json:"type" yaml:"type"`
	Value int    `json:"value" yaml:"value"`
}

type Player struct {
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Health    int    `json:"health"`
	Energy    int    `json:"energy"`
	Inventory []Item `json:"inventory"`
}

type Bug struct {
	X      int    `json:"x" yaml:"x"`
	Y      int    `json:"y" yaml:"y"`
	Type   string `json:"type" yaml:"type"`
	Health int    `json:"health" yaml:"health"`
	ID     int    `json:"id" yaml:"id"`
}

type Obstacle struct {
	X    int    `json:"x" yaml:"x"`
	Y    int    `json:"y" yaml:"y"`
	Type string `json:"type" yaml:"type"`
}

type PowerUp struct {
	X     int    `json:"x" yaml:"x"`
	Y     int    `json:"y" yaml:"y"`
	Type  string `json:"type" yaml:"type"`
	Value int    `json:"value" yaml:"value"`
}

// World is the grid the player program acts on. It is not safe for
// concurrent use; the interpreter that owns it serialises access.
type World struct {
	Width        int
	Height       int
	Player       Player
	Bugs         []Bug
	Obstacles    []Obstacle
	PowerUps     []PowerUp
	BugsDefeated int

	// Damage rolls the damage of one attack. Nil means uniform in
	// [MinDamage, MaxDamage].
	Damage func() int
}

// NewWorld returns an empty world with a fresh player at (startX, startY).
func NewWorld(width, height, startX, startY int) *World {
	w := &World{Width: width, Height: height}
	w.ResetPlayer(startX, startY)
	return w
}

// ResetPlayer restores full health, the starting energy and an empty inventory.
func (w *World) ResetPlayer(x, y int) {
	w.Player = Player{X: x, Y: y, Health: MaxHealth, Energy: MaxEnergy, Inventory: []Item{}}
}

func (w *World) InBounds(x, y int) bool {
	return x >= 0 && x < w.Width && y >= 0 && y < w.Height
}

func (w *World) BugAt(x, y int) int {
	for i, b := range w.Bugs {
		if b.X == x && b.Y == y {
			return i
		}
	}
	return -1
}

func (w *World) ObstacleAt(x, y int) int {
	for i, o := range w.Obstacles {
		if o.X == x && o.Y == y {
			return i
		}
	}
	return -1
}

func (w *World) PowerUpAt(x, y int) int {
	for i, p := range w.PowerUps {
		if p.X == x && p.Y == y {
			return i
		}
	}
	return -1
}

func (w *World) target(d Direction) (int, int) {
	dx, dy := d.Delta()
	return w.Player.X + dx, w.Player.Y + dy
}

// BugNearby reports whether a bug occupies the neighbouring cell in d.
func (w *World) BugNearby(d Direction) bool {
	x, y := w.target(d)
	return w.BugAt(x, y) >= 0
}

// CanMove reports whether the neighbouring cell in d is inside the grid and free.
func (w *World) CanMove(d Direction) bool {
	x, y := w.target(d)
	return w.InBounds(x, y) && w.ObstacleAt(x, y) < 0 && w.BugAt(x, y) < 0
}

// PowerUpHere reports whether a power-up lies on the player's cell.
func (w *World) PowerUpHere() bool {
	return w.PowerUpAt(w.Player.X, w.Player.Y) >= 0
}

func (w *World) HasItem(itemType string) bool {
	for _, it := range w.Player.Inventory {
		if it.Type == itemType {
			return true
		}
	}
	return false
}

func (w *World) BugsRemaining() int {
	return len(w.Bugs)
}

func (w *World) rollDamage() int {
	if w.Damage != nil {
		return w.Damage()
	}
	return MinDamage + rand.IntN(MaxDamage-MinDamage+1)
}

// Snapshot is a deep copy of the world that renderers may keep.
type Snapshot struct {
	Width        int        `json:"width"`
	Height       int        `json:"height"`
	Player       Player     `json:"player"`
	Bugs         []Bug      `json:"bugs"`
	Obstacles    []Obstacle `json:"obstacles"`
	PowerUps     []PowerUp  `json:"powerUps"`
	BugsDefeated int        `json:"bugsDefeated"`
}

func (w *World) Snapshot() Snapshot {
	p := w.Player
	p.Inventory = append([]Item{}, w.Player.Inventory...)
	return Snapshot{
		Width:        w.Width,
		Height:       w.Height,
		Player:       p,
		Bugs:         append([]Bug{}, w.Bugs...),
		Obstacles:    append([]Obstacle{}, w.Obstacles...),
		PowerUps:     append([]PowerUp{}, w.PowerUps...),
		BugsDefeated: w.BugsDefeated,
	}
}

// Cell symbols used by Cells.
const (
	CellEmpty    = '.'
	CellPlayer   = '@'
	CellBug      = 'B'
	CellObstacle = '#'
	CellPowerUp  = '+'
)

// Cells lays the snapshot out row by row. The player is drawn on top of a
// power-up it stands on.
func (s Snapshot) Cells() [][]rune {
	rows := make([][]rune, s.Height)
	for y := range rows {
		rows[y] = []rune(strings.Repeat(string(CellEmpty), s.Width))
	}
	set := func(x, y int, r rune) {
		if y >= 0 && y < s.Height && x >= 0 && x < s.Width {
			rows[y][x] = r
		}
	}
	for _, p := range s.PowerUps {
		set(p.X, p.Y, CellPowerUp)
	}
	for _, o := range s.Obstacles {
		set(o.X, o.Y, CellObstacle)
	}
	for _, b := range s.Bugs {
		set(b.X, b.Y, CellBug)
	}
	set(s.Player.X, s.Player.Y, CellPlayer)
	return rows
}

// String renders the grid as text, one line per row.
func (s Snapshot) String() string {
	var sb strings.Builder
	for _, row := range s.Cells() {
		sb.WriteString(string(row))
		sb.WriteByte('\n')
	}
	return sb.String()
}
