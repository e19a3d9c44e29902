package grid

import (
	"fmt"
	"strings"

	"github.com/antibyte/crisisroom/pkg/logger"
)

// Notice kinds understood by the renderers.
const (
	KindSuccess = "success"
	KindInfo    = "info"
	KindWarning = "warning"
	KindError   = "error"
)

// Notice is an informational message produced while an action ran.
type Notice struct {
	Text string `json:"text"`
	Kind string `json:"kind"`
}

// Result is the outcome of one action. Message carries the failure reason
// when Success is false.
type Result struct {
	Success bool
	Message string
	Notices []Notice
}

func fail(msg string) Result {
	return Result{Success: false, Message: msg}
}

func (r *Result) note(kind, format string, args ...interface{}) {
	r.Notices = append(r.Notices, Notice{Text: fmt.Sprintf(format, args...), Kind: kind})
}

// Move steps the player one cell, picking up any power-up on the new cell.
func (w *World) Move(d Direction) Result {
	if w.Player.Energy < MoveCost {
		return fail("Not enough energy to move!")
	}

	x, y := w.target(d)
	if !w.InBounds(x, y) {
		return fail("Cannot move outside the grid!")
	}
	if i := w.ObstacleAt(x, y); i >= 0 {
		return fail(fmt.Sprintf("Cannot move through %s!", w.Obstacles[i].Type))
	}
	if w.BugAt(x, y) >= 0 {
		return fail("Cannot move into a bug! Use attack() instead.")
	}

	w.Player.X, w.Player.Y = x, y
	w.Player.Energy -= MoveCost
	logger.Debug(logger.AreaGrid, "player moved %s to (%d,%d), energy %d", d, x, y, w.Player.Energy)

	res := Result{Success: true}
	if i := w.PowerUpAt(x, y); i >= 0 {
		w.pickUp(i, &res)
	}
	return res
}

// Attack damages the bug in the neighbouring cell. A kill removes the bug
// and refunds energy.
func (w *World) Attack(d Direction) Result {
	if w.Player.Energy < AttackCost {
		return fail("Not enough energy to attack!")
	}

	x, y := w.target(d)
	i := w.BugAt(x, y)
	if i < 0 {
		return fail("No bug found in that direction!")
	}

	damage := w.rollDamage()
	w.Bugs[i].Health -= damage
	w.Player.Energy -= AttackCost
	bug := w.Bugs[i]

	res := Result{Success: true}
	res.note(KindSuccess, "Dealt %d damage to %s!", damage, bug.Type)

	if bug.Health <= 0 {
		w.Bugs = append(w.Bugs[:i], w.Bugs[i+1:]...)
		w.BugsDefeated++
		w.Player.Energy = min(MaxEnergy, w.Player.Energy+KillRefund)
		res.note(KindSuccess, "%s defeated! +%d energy", bug.Type, KillRefund)
		logger.Debug(logger.AreaGrid, "bug %d (%s) defeated, %d remaining", bug.ID, bug.Type, len(w.Bugs))
	}
	return res
}

// Scan lists everything in the 3x3 neighbourhood of the player.
func (w *World) Scan() Result {
	if w.Player.Energy < ScanCost {
		return fail("Not enough energy to scan!")
	}
	w.Player.Energy -= ScanCost

	var sb strings.Builder
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			x, y := w.Player.X+dx, w.Player.Y+dy
			if !w.InBounds(x, y) {
				continue
			}
			if i := w.BugAt(x, y); i >= 0 {
				fmt.Fprintf(&sb, "• Bug at (%d,%d): %s (%d HP)\n", x, y, w.Bugs[i].Type, w.Bugs[i].Health)
			}
			if i := w.ObstacleAt(x, y); i >= 0 {
				fmt.Fprintf(&sb, "• Obstacle at (%d,%d): %s\n", x, y, w.Obstacles[i].Type)
			}
			if i := w.PowerUpAt(x, y); i >= 0 {
				fmt.Fprintf(&sb, "• Power-up at (%d,%d): %s\n", x, y, w.PowerUps[i].Type)
			}
		}
	}

	res := Result{Success: true}
	if sb.Len() == 0 {
		res.note(KindInfo, "No objects detected nearby.")
	} else {
		res.note(KindInfo, "Scan results:\n%s", sb.String())
	}
	return res
}

// Wait restores a little energy.
func (w *World) Wait() Result {
	w.Player.Energy = min(MaxEnergy, w.Player.Energy+WaitGain)
	res := Result{Success: true}
	res.note(KindInfo, "Resting... +%d energy", WaitGain)
	return res
}

// Collect picks up the power-up on the player's cell.
func (w *World) Collect() Result {
	i := w.PowerUpAt(w.Player.X, w.Player.Y)
	if i < 0 {
		return fail("No items to collect at this position!")
	}
	res := Result{Success: true}
	w.pickUp(i, &res)
	return res
}

// UseItem consumes the first inventory item of the given type.
func (w *World) UseItem(name string) Result {
	idx := -1
	for i, it := range w.Player.Inventory {
		if it.Type == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fail(fmt.Sprintf("No %s in inventory!", name))
	}

	item := w.Player.Inventory[idx]
	res := Result{Success: true}
	switch item.Type {
	case "health_pack":
		w.Player.Health = min(MaxHealth, w.Player.Health+item.Value)
		res.note(KindSuccess, "Used %s! +%d health", item.Type, item.Value)
	case "energy_boost":
		w.Player.Energy = min(MaxEnergy, w.Player.Energy+item.Value)
		res.note(KindSuccess, "Used %s! +%d energy", item.Type, item.Value)
	default:
		res.note(KindSuccess, "Used %s!", item.Type)
	}
	w.Player.Inventory = append(w.Player.Inventory[:idx], w.Player.Inventory[idx+1:]...)
	return res
}

func (w *World) pickUp(i int, res *Result) {
	p := w.PowerUps[i]
	w.PowerUps = append(w.PowerUps[:i], w.PowerUps[i+1:]...)
	w.Player.Inventory = append(w.Player.Inventory, Item{Type: p.Type, Value: p.Value})

	switch p.Type {
	case "health_pack":
		res.note(KindSuccess, "Collected health pack (+%d)", p.Value)
	case "energy_boost":
		res.note(KindSuccess, "Collected energy boost (+%d)", p.Value)
	default:
		res.note(KindSuccess, "Collected %s", p.Type)
	}
}
