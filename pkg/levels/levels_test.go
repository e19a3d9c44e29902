package levels

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/antibyte/crisisroom/pkg/grid"
)

func TestGenerateBuiltinLevels(t *testing.T) {
	tests := []struct {
		level     int
		bugs      int
		obstacles int
		powerUps  int
	}{
		{1, 3, 3, 2},
		{2, 4, 4, 2},
		{3, 5, 4, 2},
	}

	for _, tt := range tests {
		l, err := Generate(tt.level)
		if err != nil {
			t.Fatalf("Generate(%d) failed: %v", tt.level, err)
		}
		if len(l.Bugs) != tt.bugs || len(l.Obstacles) != tt.obstacles || len(l.PowerUps) != tt.powerUps {
			t.Errorf("level %d: got %d/%d/%d entities", tt.level, len(l.Bugs), len(l.Obstacles), len(l.PowerUps))
		}
		if l.PlayerStart != (Point{1, 6}) {
			t.Errorf("level %d: unexpected start %+v", tt.level, l.PlayerStart)
		}
		// Built-in layouts must pass the same checks as custom ones.
		copyL := l
		if err := Validate(&copyL, grid.DefaultWidth, grid.DefaultHeight); err != nil {
			t.Errorf("level %d does not validate: %v", tt.level, err)
		}
	}

	if _, err := Generate(4); !errors.Is(err, ErrUnknownLevel) {
		t.Errorf("expected ErrUnknownLevel, got %v", err)
	}
}

func TestGenerateReturnsFreshSlices(t *testing.T) {
	a, _ := Generate(1)
	a.Bugs[0].Health = 1
	b, _ := Generate(1)
	if b.Bugs[0].Health != 30 {
		t.Error("Generate must not share entity slices between calls")
	}
}

func TestDifficulty(t *testing.T) {
	l, _ := Generate(1)
	// 85 bug health + 30 obstacles - 10 - 12.5 = 92.5, rounded up
	if got := Difficulty(l); got != 93 {
		t.Errorf("expected 93, got %d", got)
	}

	easy := Layout{
		Bugs:     []grid.Bug{{Type: "type_error"}},
		PowerUps: []grid.PowerUp{{Type: "super_debug"}, {Type: "super_debug"}},
	}
	if got := Difficulty(easy); got != 0 {
		t.Errorf("difficulty must not drop below zero, got %d", got)
	}
}

func TestApply(t *testing.T) {
	w := grid.NewWorld(grid.DefaultWidth, grid.DefaultHeight, 0, 0)
	w.Player.Energy = 3
	w.BugsDefeated = 2

	l, _ := Generate(2)
	Apply(w, l)

	if w.Player.X != 1 || w.Player.Y != 6 || w.Player.Energy != grid.MaxEnergy {
		t.Errorf("player not reset: %+v", w.Player)
	}
	if len(w.Bugs) != 4 || w.BugsDefeated != 0 {
		t.Errorf("entities not applied: %d bugs, %d defeated", len(w.Bugs), w.BugsDefeated)
	}

	w.Bugs[0].Health = 0
	if l.Bugs[0].Health != 40 {
		t.Error("Apply must copy the layout entities")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Layout {
		return Layout{
			Name:        "Test",
			PlayerStart: Point{0, 0},
			Bugs:        []grid.Bug{{X: 3, Y: 3, Type: "memory_leak"}},
			Obstacles:   []grid.Obstacle{{X: 4, Y: 4, Type: "wall"}},
			PowerUps:    []grid.PowerUp{{X: 5, Y: 5, Type: "debug_tool"}},
		}
	}

	l := valid()
	if err := Validate(&l, 12, 8); err != nil {
		t.Fatalf("valid layout rejected: %v", err)
	}
	if l.Bugs[0].Health != 60 || l.Bugs[0].ID != 1 {
		t.Errorf("bug defaults not filled: %+v", l.Bugs[0])
	}
	if l.PowerUps[0].Value != 30 {
		t.Errorf("power-up default not filled: %+v", l.PowerUps[0])
	}
	if l.Difficulty != 55 {
		t.Errorf("expected difficulty 55, got %d", l.Difficulty)
	}

	broken := []struct {
		name   string
		mutate func(l *Layout)
	}{
		{"no name", func(l *Layout) { l.Name = "" }},
		{"no bugs", func(l *Layout) { l.Bugs = nil }},
		{"out of bounds", func(l *Layout) { l.Bugs[0].X = 12 }},
		{"overlap", func(l *Layout) { l.Obstacles[0] = grid.Obstacle{X: 3, Y: 3, Type: "wall"} }},
		{"start on bug", func(l *Layout) { l.PlayerStart = Point{3, 3} }},
		{"unknown bug type", func(l *Layout) { l.Bugs[0].Type = "heisenbug" }},
		{"untyped obstacle", func(l *Layout) { l.Obstacles[0].Type = "" }},
	}
	for _, tt := range broken {
		t.Run(tt.name, func(t *testing.T) {
			l := valid()
			tt.mutate(&l)
			if err := Validate(&l, 12, 8); !errors.Is(err, ErrInvalidLevel) {
				t.Errorf("expected ErrInvalidLevel, got %v", err)
			}
		})
	}
}

func TestDecodeYAMLAndJSON(t *testing.T) {
	yamlSrc := `
name: Corridor
playerStart: {x: 0, y: 0}
bugs:
  - {x: 5, y: 0, type: syntax_error}
obstacles:
  - {x: 0, y: 1, type: wall}
`
	l, err := Decode([]byte(yamlSrc))
	if err != nil {
		t.Fatalf("yaml decode failed: %v", err)
	}
	if l.Name != "Corridor" || len(l.Bugs) != 1 || l.Bugs[0].X != 5 || len(l.Obstacles) != 1 {
		t.Errorf("unexpected layout %+v", l)
	}

	jsonSrc := `{"name":"Json","playerStart":{"x":2,"y":3},"bugs":[{"x":1,"y":1,"type":"type_error","health":25}],"obstacles":[],"powerUps":[]}`
	l, err = Decode([]byte(jsonSrc))
	if err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if l.PlayerStart != (Point{2, 3}) || l.Bugs[0].Health != 25 {
		t.Errorf("unexpected layout %+v", l)
	}
}

func TestSaveAndLoadDir(t *testing.T) {
	dir := t.TempDir()

	l, _ := Generate(3)
	l.Name = "Custom Three!"
	path, err := SaveFile(dir, l, "json")
	if err != nil {
		t.Fatalf("SaveFile failed: %v", err)
	}
	if filepath.Base(path) != "custom_three_.json" {
		t.Errorf("unexpected file name %s", filepath.Base(path))
	}

	l.Name = "Yaml Copy"
	if _, err := SaveFile(dir, l, "yaml"); err != nil {
		t.Fatalf("SaveFile failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: \"\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadDir(dir, grid.DefaultWidth, grid.DefaultHeight)
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 levels, got %d", len(loaded))
	}
	if loaded[0].Name != "Custom Three!" || len(loaded[0].Bugs) != 5 {
		t.Errorf("unexpected first level %+v", loaded[0])
	}

	missing, err := LoadDir(filepath.Join(dir, "nope"), 12, 8)
	if err != nil || len(missing) != 0 {
		t.Errorf("missing dir should give no levels, got %v, %v", missing, err)
	}
}
