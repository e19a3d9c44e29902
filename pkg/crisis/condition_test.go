package crisis

import (
	"testing"

	"github.com/antibyte/crisisroom/pkg/grid"
)

func TestConditionEval(t *testing.T) {
	w := grid.NewWorld(grid.DefaultWidth, grid.DefaultHeight, 1, 6)
	w.Player.Energy = 12
	w.Player.Health = 25
	w.Player.Inventory = []grid.Item{{Type: "debug_tool", Value: 30}}
	w.Bugs = []grid.Bug{{X: 2, Y: 6, Type: "syntax_error", Health: 30}}
	w.Obstacles = []grid.Obstacle{{X: 1, Y: 5, Type: "wall"}}
	w.PowerUps = []grid.PowerUp{{X: 1, Y: 6, Type: "health_pack", Value: 25}}

	tests := []struct {
		text  string
		want  bool
		known bool
	}{
		{"True", true, true},
		{"true", true, true},
		{"False", false, true},
		{"false", false, true},
		{"has_energy()", true, true},
		{"health_low()", true, true},
		{"energy_low()", true, true},
		{"bug_nearby('right')", true, true},
		{"bug_nearby(\"left\")", false, true},
		{"bug_nearby(RIGHT)", true, true},
		{"can_move('right')", false, true},
		{"can_move('up')", false, true},
		{"can_move('left')", true, true},
		{"can_move('down')", true, true},
		{"power_up_here()", true, true},
		{"has_item('debug_tool')", true, true},
		{"has_item('health_pack')", false, true},
		{"energy > 10", true, true},
		{"energy>=12", true, true},
		{"energy < 12", false, true},
		{"energy <= 12", true, true},
		{"energy == 12", true, true},
		{"energy != 12", false, true},
		{"health < 30", true, true},
		{"health >= 30", false, true},
		{"energy = 12", false, false},
		{"mana > 3", false, false},
		{"bug_nearby('north')", false, false},
		{"has_energy(1)", false, false},
		{"totally unknown", false, false},
	}

	for _, tt := range tests {
		c := ParseCondition(tt.text)
		if c.Known() != tt.known {
			t.Errorf("%q: known=%v, want %v", tt.text, c.Known(), tt.known)
		}
		if got := c.Eval(w); got != tt.want {
			t.Errorf("%q: got %v, want %v", tt.text, got, tt.want)
		}
	}
}
