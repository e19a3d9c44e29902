package tui

import (
	"errors"
	"strings"
	"testing"

	"github.com/antibyte/crisisroom/pkg/crisis"
	"github.com/antibyte/crisisroom/pkg/grid"
	"github.com/antibyte/crisisroom/pkg/room"
	tea "github.com/charmbracelet/bubbletea"
)

func newTestModel(t *testing.T) model {
	t.Helper()
	b := &bridge{}
	r := room.New(b, b, room.Options{Executor: crisis.Options{Speed: 0, MaxExpansions: 100}})
	t.Cleanup(r.Cleanup)
	return newModel(r, "move('up')")
}

func TestModelAppliesRoomMessages(t *testing.T) {
	m := newTestModel(t)

	w := grid.NewWorld(3, 2, 0, 0)
	w.Bugs = []grid.Bug{{X: 2, Y: 1, Type: "syntax_error", Health: 30}}
	next, _ := m.Update(worldMsg(w.Snapshot()))
	next, _ = next.Update(levelMsg{level: 2, name: "Logic Labyrinth"})
	next, _ = next.Update(statusMsg(crisis.Status{State: crisis.StateRunning, CurrentLine: 3}))
	next, _ = next.Update(noticeMsg{"Moved up", grid.KindSuccess})
	m = next.(model)

	if len(m.world.Bugs) != 1 || m.level != 2 || m.status.CurrentLine != 3 {
		t.Errorf("messages not applied: %+v", m)
	}
	if len(m.lines) != 1 || !strings.Contains(m.lines[0], "Moved up") {
		t.Errorf("notice not logged: %v", m.lines)
	}
	view := m.View()
	for _, want := range []string{"LEVEL 2: Logic Labyrinth", "(line 3)", "F5 run"} {
		if !strings.Contains(view, want) {
			t.Errorf("view is missing %q", want)
		}
	}
}

func TestModelFinishAndErrors(t *testing.T) {
	m := newTestModel(t)
	next, _ := m.Update(finishedMsg{"Programming crisis resolved!"})
	next, _ = next.Update(errMsg{errors.New("boom")})
	m = next.(model)
	if m.finished == "" || !strings.Contains(m.View(), "Programming crisis resolved!") {
		t.Error("room completion not shown")
	}
	if !strings.Contains(m.lines[len(m.lines)-1], "boom") {
		t.Error("error not logged")
	}
}

func TestModelLogIsBounded(t *testing.T) {
	m := newTestModel(t)
	for i := 0; i < logLimit+5; i++ {
		m.appendLine("tick", grid.KindInfo)
	}
	if len(m.lines) != logLimit {
		t.Errorf("expected %d lines, got %d", logLimit, len(m.lines))
	}
}

func TestQuitKey(t *testing.T) {
	m := newTestModel(t)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if cmd == nil {
		t.Fatal("esc should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("esc should quit")
	}
}

func TestStepKeyRunsOffLoop(t *testing.T) {
	m := newTestModel(t)
	if err := m.room.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyF6})
	if cmd == nil {
		t.Fatal("F6 should return a command")
	}
	if msg := cmd(); msg != nil {
		t.Fatalf("unexpected message %v", msg)
	}
	if st := m.room.Status().Interpreter; st.State != crisis.StateStepping {
		t.Errorf("program should be loaded in step mode, got %s", st.State)
	}
}

func TestRenderGrid(t *testing.T) {
	w := grid.NewWorld(2, 1, 0, 0)
	w.Obstacles = []grid.Obstacle{{X: 1, Y: 0, Type: "wall"}}
	out := renderGrid(w.Snapshot())
	if !strings.Contains(out, "@") || !strings.Contains(out, "#") {
		t.Errorf("unexpected grid %q", out)
	}
}
