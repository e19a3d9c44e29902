package crisis

import (
	"strings"

	"github.com/antibyte/crisisroom/pkg/grid"
	"github.com/antibyte/crisisroom/pkg/logger"
)

type condKind int

const (
	condUnknown condKind = iota
	condLiteral
	condHasEnergy
	condHealthLow
	condEnergyLow
	condBugNearby
	condCanMove
	condPowerUpHere
	condHasItem
	condCompare
)

// Condition is a parsed loop or branch condition.
type Condition struct {
	Text string

	kind     condKind
	literal  bool
	dir      grid.Direction
	item     string
	variable string
	op       string
	value    int
}

// Known reports whether the condition belongs to the vocabulary. Unknown
// conditions always evaluate to false.
func (c Condition) Known() bool {
	return c.kind != condUnknown
}

var nullaryConditions = map[string]condKind{
	"has_energy":    condHasEnergy,
	"health_low":    condHealthLow,
	"energy_low":    condEnergyLow,
	"power_up_here": condPowerUpHere,
}

// ParseCondition classifies condition text. It never fails; text outside
// the vocabulary yields an unknown condition.
func ParseCondition(text string) Condition {
	text = strings.TrimSpace(text)
	c := Condition{Text: text}

	switch text {
	case "True", "true":
		c.kind, c.literal = condLiteral, true
		return c
	case "False", "false":
		c.kind, c.literal = condLiteral, false
		return c
	}

	if name, arg, ok := parseCall(text); ok {
		if kind, nullary := nullaryConditions[name]; nullary {
			if arg == "" {
				c.kind = kind
			}
			return c
		}
		switch name {
		case "bug_nearby", "can_move":
			dir, err := grid.ParseDirection(arg)
			if err != nil {
				return c
			}
			c.dir = dir
			c.kind = condCanMove
			if name == "bug_nearby" {
				c.kind = condBugNearby
			}
		case "has_item":
			if arg != "" {
				c.kind, c.item = condHasItem, arg
			}
		}
		return c
	}

	sc := &scanner{s: text}
	variable := sc.ident()
	if variable != "energy" && variable != "health" {
		return c
	}
	sc.skipSpace()
	op := sc.operator()
	if op == "" {
		return c
	}
	sc.skipSpace()
	value, ok := sc.integer()
	sc.skipSpace()
	if !ok || !sc.atEnd() {
		return c
	}
	c.kind, c.variable, c.op, c.value = condCompare, variable, op, value
	return c
}

func (sc *scanner) operator() string {
	for _, op := range []string{"<=", ">=", "==", "!=", "<", ">"} {
		if strings.HasPrefix(sc.rest(), op) {
			sc.pos += len(op)
			return op
		}
	}
	return ""
}

// Eval evaluates the condition against the current world.
func (c Condition) Eval(w *grid.World) bool {
	switch c.kind {
	case condLiteral:
		return c.literal
	case condHasEnergy:
		return w.Player.Energy > 10
	case condHealthLow:
		return w.Player.Health < 30
	case condEnergyLow:
		return w.Player.Energy < 15
	case condBugNearby:
		return w.BugNearby(c.dir)
	case condCanMove:
		return w.CanMove(c.dir)
	case condPowerUpHere:
		return w.PowerUpHere()
	case condHasItem:
		return w.HasItem(c.item)
	case condCompare:
		v := w.Player.Energy
		if c.variable == "health" {
			v = w.Player.Health
		}
		return compare(v, c.op, c.value)
	}
	logger.InterpreterWarn("unknown condition %q evaluates to false", c.Text)
	return false
}

func compare(v int, op string, n int) bool {
	switch op {
	case "<":
		return v < n
	case "<=":
		return v <= n
	case ">":
		return v > n
	case ">=":
		return v >= n
	case "==":
		return v == n
	case "!=":
		return v != n
	}
	return false
}
