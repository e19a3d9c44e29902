package room

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/antibyte/crisisroom/pkg/crisis"
	"github.com/antibyte/crisisroom/pkg/grid"
	"github.com/antibyte/crisisroom/pkg/levels"
)

type recorder struct {
	mu        sync.Mutex
	levels    []int
	completed []string
	gameOver  []string
	messages  []grid.Notice
	loaded    []int
	statuses  int
}

func (r *recorder) LevelCompleted(level, _ int, _ bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.levels = append(r.levels, level)
}

func (r *recorder) RoomCompleted(summary string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, summary)
}

func (r *recorder) GameOver(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gameOver = append(r.gameOver, msg)
}

func (r *recorder) ShowMessage(text, kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, grid.Notice{Text: text, Kind: kind})
}

func (r *recorder) LevelLoaded(level int, _ levels.Layout) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded = append(r.loaded, level)
}

func (r *recorder) RedrawPlayer(grid.Player)     {}
func (r *recorder) RedrawEntities(grid.Snapshot) {}
func (r *recorder) UpdateStatus(crisis.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses++
}

func (r *recorder) hasMessage(text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.Text == text {
			return true
		}
	}
	return false
}

func newTestRoom(t *testing.T, opts Options) (*Room, *recorder) {
	t.Helper()
	rec := &recorder{}
	opts.Executor = crisis.Options{Speed: 0, MaxExpansions: 1000}
	opts.Damage = func() int { return 15 }
	r := New(rec, rec, opts)
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(r.Cleanup)
	return r, rec
}

func TestStartLoadsFirstLevel(t *testing.T) {
	r, rec := newTestRoom(t, Options{})
	st := r.Status()
	if st.Level != 1 || st.LevelName != "Syntax Storm" || st.MaxLevel != levels.BuiltinCount {
		t.Fatalf("unexpected status %+v", st)
	}
	if len(st.World.Bugs) != 3 || st.World.Player.X != 1 || st.World.Player.Y != 6 {
		t.Errorf("level 1 entities not applied: %+v", st.World)
	}
	if len(rec.loaded) != 1 || rec.loaded[0] != 1 {
		t.Errorf("view should have seen level 1 load, got %v", rec.loaded)
	}
}

func TestLevelCompleteAdvances(t *testing.T) {
	r, rec := newTestRoom(t, Options{})

	r.LevelComplete(3)
	if r.Level() != 2 {
		t.Fatalf("expected level 2, got %d", r.Level())
	}
	if !rec.hasMessage("Level 1 complete! Advancing to level 2...") {
		t.Error("missing advance message")
	}
	if got := len(r.Status().World.Bugs); got != 4 {
		t.Errorf("level 2 should have 4 bugs, got %d", got)
	}

	r.LevelComplete(4)
	r.LevelComplete(5)
	if len(rec.completed) != 1 {
		t.Fatalf("expected one room completion, got %v", rec.completed)
	}
	if len(rec.levels) != 3 || rec.levels[2] != 3 {
		t.Errorf("expected completions of levels 1-3, got %v", rec.levels)
	}
	if !strings.Contains(rec.completed[0], "12 bugs eliminated") {
		t.Errorf("summary should count every bug: %q", rec.completed[0])
	}
	st := r.Status()
	if !st.Completed || st.TotalBugsDefeated != 12 || st.Level != 3 {
		t.Errorf("unexpected final status %+v", st)
	}
}

func TestAdvanceDelay(t *testing.T) {
	r, _ := newTestRoom(t, Options{AdvanceDelay: 20 * time.Millisecond})
	r.LevelComplete(3)
	if r.Level() != 1 {
		t.Fatal("next level should not load before the delay")
	}
	deadline := time.Now().Add(2 * time.Second)
	for r.Level() != 2 {
		if time.Now().After(deadline) {
			t.Fatal("next level never loaded")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestResume(t *testing.T) {
	r, rec := newTestRoom(t, Options{})
	if err := r.Resume(3, 7); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if st := r.Status(); st.Level != 3 || st.TotalBugsDefeated != 7 {
		t.Errorf("unexpected status after resume %+v", st)
	}
	if err := r.Resume(9, 0); !errors.Is(err, ErrNoLevel) {
		t.Errorf("expected ErrNoLevel, got %v", err)
	}
	if r.Level() != 3 {
		t.Error("a failed resume must keep the current level")
	}

	r.LevelComplete(5)
	if len(rec.completed) != 1 || !strings.Contains(rec.completed[0], "12 bugs eliminated") {
		t.Errorf("resumed total should carry into the summary: %v", rec.completed)
	}
}

func TestMaxLevelClamp(t *testing.T) {
	r, _ := newTestRoom(t, Options{MaxLevel: 99})
	if r.Status().MaxLevel != levels.BuiltinCount {
		t.Errorf("max level should be clamped to the available levels")
	}
	if err := r.LoadLevel(4); !errors.Is(err, ErrNoLevel) {
		t.Errorf("expected ErrNoLevel, got %v", err)
	}
}

func TestExtraLevelsFollowBuiltins(t *testing.T) {
	extra := levels.Layout{
		Name:        "Bonus",
		PlayerStart: levels.Point{X: 0, Y: 0},
		Bugs:        []grid.Bug{{X: 1, Y: 0, Type: "syntax_error", Health: 30, ID: 1}},
	}
	r, _ := newTestRoom(t, Options{MaxLevel: 4, Extra: []levels.Layout{extra}})
	if err := r.LoadLevel(4); err != nil {
		t.Fatalf("LoadLevel(4): %v", err)
	}
	if st := r.Status(); st.LevelName != "Bonus" || st.World.Player.X != 0 {
		t.Errorf("extra level not applied: %+v", st)
	}
}

func TestCustomLevelPlaythrough(t *testing.T) {
	r, rec := newTestRoom(t, Options{})
	custom := levels.Layout{
		Name:        "Tiny",
		PlayerStart: levels.Point{X: 1, Y: 6},
		Bugs:        []grid.Bug{{X: 2, Y: 6, Type: "syntax_error", Health: 10}},
	}
	if err := r.LoadCustomLevel(custom); err != nil {
		t.Fatalf("LoadCustomLevel: %v", err)
	}
	if err := r.StepDebug("attack('right')"); err != nil {
		t.Fatalf("StepDebug: %v", err)
	}
	r.Executor().Step()

	if !rec.hasMessage(`Custom level "Tiny" complete! 1 bugs eliminated.`) {
		t.Errorf("missing custom completion message, got %v", rec.messages)
	}
	st := r.Status()
	if !st.Custom || st.Level != 1 || st.Completed {
		t.Errorf("custom completion must not advance the room: %+v", st)
	}
	if len(rec.completed) != 0 {
		t.Error("custom levels never complete the room")
	}
}

func TestCustomLevelRejected(t *testing.T) {
	r, _ := newTestRoom(t, Options{})
	err := r.LoadCustomLevel(levels.Layout{Name: "Empty"})
	if !errors.Is(err, levels.ErrInvalidLevel) {
		t.Errorf("expected ErrInvalidLevel, got %v", err)
	}
	if r.Status().Custom {
		t.Error("a rejected layout must not replace the current level")
	}
}

func TestRestartLevelDiscardsProgress(t *testing.T) {
	r, rec := newTestRoom(t, Options{})
	if err := r.StepDebug("move('up')"); err != nil {
		t.Fatalf("StepDebug: %v", err)
	}
	r.Executor().Step()
	if r.Status().World.Player.Y != 5 {
		t.Fatal("move did not happen")
	}

	r.RestartLevel()
	st := r.Status()
	if st.World.Player.Y != 6 || st.World.Player.Energy != grid.MaxEnergy {
		t.Errorf("restart should reset the player, got %+v", st.World.Player)
	}
	if st.Interpreter.State != crisis.StateIdle {
		t.Errorf("restart should stop the program, state %s", st.Interpreter.State)
	}
	if !rec.hasMessage("Level 1 restarted") {
		t.Error("missing restart message")
	}
}

func TestGameOverForwarded(t *testing.T) {
	r, rec := newTestRoom(t, Options{})
	r.GameOver(crisis.GameOverMessage)
	if len(rec.gameOver) != 1 || rec.gameOver[0] != crisis.GameOverMessage {
		t.Errorf("game not notified: %v", rec.gameOver)
	}
	if !r.Status().GameOver {
		t.Error("status should report game over")
	}
	r.RestartLevel()
	if r.Status().GameOver {
		t.Error("restart should clear game over")
	}
}

func TestMessageFeedBounded(t *testing.T) {
	r, _ := newTestRoom(t, Options{})
	for i := 0; i < feedSize+10; i++ {
		r.ShowMessage("tick", grid.KindInfo)
	}
	msgs := r.Messages()
	if len(msgs) != feedSize {
		t.Errorf("feed should keep %d entries, got %d", feedSize, len(msgs))
	}
}
