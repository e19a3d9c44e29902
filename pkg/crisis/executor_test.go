package crisis

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/antibyte/crisisroom/pkg/grid"
)

// recorder implements Host and Observer and keeps everything it receives.
type recorder struct {
	mu            sync.Mutex
	messages      []grid.Notice
	levelComplete []int
	gameOver      []string
	statuses      []Status
	playerDraws   int
	entityDraws   int
}

func (r *recorder) LevelComplete(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.levelComplete = append(r.levelComplete, n)
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

func (r *recorder) RedrawPlayer(grid.Player) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playerDraws++
}

func (r *recorder) RedrawEntities(grid.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entityDraws++
}

func (r *recorder) UpdateStatus(st Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, st)
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

// newTestWorld returns the standard grid with the player at (1,6) and one
// distant bug so that the level does not complete by accident.
func newTestWorld() *grid.World {
	w := grid.NewWorld(grid.DefaultWidth, grid.DefaultHeight, 1, 6)
	w.Bugs = []grid.Bug{{X: 11, Y: 0, Type: "syntax_error", Health: 30, ID: 1}}
	w.Damage = func() int { return 30 }
	return w
}

func newTestExecutor(w *grid.World) (*Executor, *recorder) {
	rec := &recorder{}
	opts := DefaultOptions()
	opts.Speed = 0
	return NewExecutor(w, rec, rec, opts), rec
}

// runSteps loads src in step mode and steps until the program is no
// longer active.
func runSteps(t *testing.T, e *Executor, src string) {
	t.Helper()
	if err := e.StepDebug(src); err != nil {
		t.Fatalf("StepDebug failed: %v", err)
	}
	for i := 0; e.Status().State.Active(); i++ {
		if i > 1000 {
			t.Fatal("program did not finish")
		}
		e.Step()
	}
}

func TestScenarioMoveMoveScan(t *testing.T) {
	w := newTestWorld()
	e, rec := newTestExecutor(w)

	runSteps(t, e, "move('right')\nmove('right')\nscan()")

	if w.Player.X != 3 || w.Player.Y != 6 {
		t.Errorf("expected player at (3,6), got (%d,%d)", w.Player.X, w.Player.Y)
	}
	if spent := grid.MaxEnergy - w.Player.Energy; spent != 7 {
		t.Errorf("expected 7 energy spent, got %d", spent)
	}
	if e.Err() != nil {
		t.Errorf("unexpected error %v", e.Err())
	}
	if st := e.Status(); st.State != StateCompleted {
		t.Errorf("expected completed state, got %s", st.State)
	}
	if rec.playerDraws != 3 || rec.entityDraws != 3 {
		t.Errorf("expected 3 redraws each, got %d/%d", rec.playerDraws, rec.entityDraws)
	}
}

func TestForLoopUnrolling(t *testing.T) {
	w := newTestWorld()
	e, _ := newTestExecutor(w)

	runSteps(t, e, "for i in range(3):\n    move('right')")

	if w.Player.X != 4 {
		t.Errorf("expected 3 moves to x=4, got x=%d", w.Player.X)
	}
	if v, ok := e.Variable("i"); !ok || v != 2 {
		t.Errorf("expected i == 2 after the loop, got %d (%v)", v, ok)
	}
}

func TestForLoopBindsEachIteration(t *testing.T) {
	w := newTestWorld()
	e, _ := newTestExecutor(w)

	if err := e.StepDebug("for k in range(3):\n    wait()"); err != nil {
		t.Fatal(err)
	}
	for want := 0; want < 3; want++ {
		e.Step()
		if v, _ := e.Variable("k"); v != want {
			t.Errorf("iteration %d: k = %d", want, v)
		}
	}
}

func TestWhileLoopStopsAtWall(t *testing.T) {
	w := newTestWorld()
	w.Obstacles = []grid.Obstacle{{X: 5, Y: 6, Type: "wall"}}
	e, _ := newTestExecutor(w)

	runSteps(t, e, "while can_move('right'):\n    move('right')")

	if w.Player.X != 4 {
		t.Errorf("expected to stop in front of the wall at x=4, got x=%d", w.Player.X)
	}
	if spent := grid.MaxEnergy - w.Player.Energy; spent != 6 {
		t.Errorf("expected exactly 3 moves, energy spent %d", spent)
	}
	if e.Err() != nil {
		t.Errorf("unexpected error %v", e.Err())
	}
}

func TestConditionalRunsOnlyOneBranch(t *testing.T) {
	w := newTestWorld()
	e, _ := newTestExecutor(w)

	runSteps(t, e, "if False:\n    move('up')\nelif True:\n    move('right')\nelse:\n    move('down')")

	if w.Player.X != 2 || w.Player.Y != 6 {
		t.Errorf("only the elif branch should run, player at (%d,%d)", w.Player.X, w.Player.Y)
	}
	if w.Player.Energy != grid.MaxEnergy-grid.MoveCost {
		t.Errorf("exactly one move expected, energy %d", w.Player.Energy)
	}
}

func TestEnergyGating(t *testing.T) {
	w := newTestWorld()
	w.Player.Energy = 1
	e, rec := newTestExecutor(w)

	runSteps(t, e, "move('right')\nwait()")

	if w.Player.X != 1 || w.Player.Energy != 1 {
		t.Errorf("failed move changed the player: %+v", w.Player)
	}
	if !IsCategory(e.Err(), ErrCategoryRuntime) {
		t.Errorf("expected runtime error, got %v", e.Err())
	}
	if st := e.Status(); st.State != StateHaltedError || st.CurrentLine != 1 {
		t.Errorf("expected halt on line 1, got %s on line %d", st.State, st.CurrentLine)
	}
	if !rec.hasMessage("Not enough energy to move!") {
		t.Error("failure message not shown")
	}
}

func TestAttackCompletesLevel(t *testing.T) {
	w := newTestWorld()
	w.Bugs = []grid.Bug{{X: 2, Y: 6, Type: "syntax_error", Health: 30, ID: 1}}
	w.Damage = func() int { return 15 }
	e, rec := newTestExecutor(w)

	runSteps(t, e, "attack('right')\nattack('right')\nwait()")

	if len(w.Bugs) != 0 || w.BugsDefeated != 1 {
		t.Fatalf("bug should be defeated: %+v", w.Bugs)
	}
	if w.Player.Energy != grid.MaxEnergy {
		t.Errorf("expected 50 - 5 - 5 + 10 = 50 energy, got %d", w.Player.Energy)
	}
	if len(rec.levelComplete) != 1 || rec.levelComplete[0] != 1 {
		t.Errorf("expected one level-complete callback with 1 bug, got %v", rec.levelComplete)
	}
	if !rec.hasMessage("syntax_error defeated! +10 energy") {
		t.Error("defeat message not shown")
	}
	if e.Status().QueueLength != 0 {
		t.Error("queue should be cleared when the level completes")
	}
}

func TestGameOverWhenHealthDepleted(t *testing.T) {
	w := newTestWorld()
	w.Player.Health = 0
	e, rec := newTestExecutor(w)

	runSteps(t, e, "wait()\nwait()")

	if len(rec.gameOver) != 1 || rec.gameOver[0] != GameOverMessage {
		t.Errorf("expected game over callback, got %v", rec.gameOver)
	}
	if !errors.Is(e.Err(), ErrGameOver) {
		t.Errorf("expected ErrGameOver, got %v", e.Err())
	}
}

func TestSyntaxErrorHaltsAtLine(t *testing.T) {
	w := newTestWorld()
	before := w.Snapshot()
	e, rec := newTestExecutor(w)

	tokens, err := Tokenize("jump()")
	if err != nil {
		t.Fatal(err)
	}
	if len(tokens) != 1 || tokens[0].Kind != TokenError {
		t.Fatalf("expected one error token, got %+v", tokens)
	}

	runSteps(t, e, "jump()\nmove('right')")

	var ce *CodeError
	if !errors.As(e.Err(), &ce) {
		t.Fatalf("expected *CodeError, got %v", e.Err())
	}
	if ce.Category != ErrCategorySyntax || ce.Line != 1 || ce.Message != "Syntax error on line 1: jump()" {
		t.Errorf("unexpected error %+v", ce)
	}
	if !rec.hasMessage("Syntax error on line 1: jump()") {
		t.Error("syntax error not shown")
	}
	after := w.Snapshot()
	if after.Player.X != before.Player.X || after.Player.Energy != before.Player.Energy {
		t.Error("world must not change before the failing line")
	}
}

func TestSyntaxErrorAfterEffects(t *testing.T) {
	w := newTestWorld()
	e, _ := newTestExecutor(w)

	runSteps(t, e, "move('right')\njump()\nmove('right')")

	if w.Player.X != 2 {
		t.Errorf("the move before the error keeps its effect, x=%d", w.Player.X)
	}
	if st := e.Status(); st.CurrentLine != 2 {
		t.Errorf("expected halt on line 2, got %d", st.CurrentLine)
	}
}

func TestStopKeepsEffectsAndClearsQueue(t *testing.T) {
	w := newTestWorld()
	e, rec := newTestExecutor(w)

	if err := e.StepDebug("move('right')\nmove('right')\nmove('right')"); err != nil {
		t.Fatal(err)
	}
	e.Step()
	e.Stop()
	e.Step()
	e.Step()

	if w.Player.X != 2 || w.Player.Energy != 48 {
		t.Errorf("stop must keep the first move and run nothing else: %+v", w.Player)
	}
	st := e.Status()
	if st.State != StateIdle || st.QueueLength != 0 {
		t.Errorf("expected idle with an empty queue, got %s/%d", st.State, st.QueueLength)
	}
	if !rec.hasMessage("Code execution stopped.") {
		t.Error("stop message not shown")
	}
}

func TestExecuteRejections(t *testing.T) {
	w := newTestWorld()
	e, rec := newTestExecutor(w)

	if err := e.Execute("   \n  "); !errors.Is(err, ErrEmptyProgram) {
		t.Errorf("expected ErrEmptyProgram, got %v", err)
	}
	if !rec.hasMessage("Please enter some code to execute!") {
		t.Error("empty program message not shown")
	}

	if err := e.Execute("# only a comment"); !errors.Is(err, ErrNoCommands) {
		t.Errorf("expected ErrNoCommands, got %v", err)
	}

	err := e.Execute("move('up')\nfor i in range(many):\n    wait()")
	if !IsCategory(err, ErrCategoryParse) {
		t.Errorf("expected parse error, got %v", err)
	}
	if e.Status().State != StateIdle || w.Player.Y != 6 {
		t.Error("a parse error must leave the executor idle and the world untouched")
	}

	if err := e.StepDebug("wait()"); err != nil {
		t.Fatal(err)
	}
	if err := e.Execute("wait()"); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestExpansionGuardHaltsEmptyLoop(t *testing.T) {
	w := newTestWorld()
	rec := &recorder{}
	e := NewExecutor(w, rec, rec, Options{MaxExpansions: 50})

	runSteps(t, e, "while True:\n    if False:\n        move('up')")

	if !IsCategory(e.Err(), ErrCategoryRuntime) {
		t.Fatalf("expected runtime error, got %v", e.Err())
	}
	if !strings.Contains(e.Err().Error(), "more than 50 loop steps") {
		t.Errorf("unexpected message %q", e.Err().Error())
	}
}

func TestUnknownConditionWarnsAndIsFalse(t *testing.T) {
	w := newTestWorld()
	e, rec := newTestExecutor(w)

	runSteps(t, e, "if mystery():\n    move('up')\nelse:\n    move('right')")

	if w.Player.X != 2 {
		t.Errorf("unknown condition should take the else branch, x=%d", w.Player.X)
	}
	found := false
	for _, m := range rec.messages {
		if m.Kind == grid.KindWarning && strings.Contains(m.Text, "mystery()") {
			found = true
		}
	}
	if !found {
		t.Error("expected a warning about the unknown condition")
	}
}

func TestRunningModeRunsToCompletion(t *testing.T) {
	w := newTestWorld()
	e, _ := newTestExecutor(w)

	if err := e.Execute("for i in range(2):\n    move('right')\nwait()"); err != nil {
		t.Fatal(err)
	}

	finished := make(chan struct{})
	go func() {
		e.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("running program did not finish")
	}

	if st := e.Status(); st.State != StateCompleted {
		t.Errorf("expected completed, got %s", st.State)
	}
	if w.Player.X != 3 || w.Player.Energy != grid.MaxEnergy {
		t.Errorf("unexpected player %+v", w.Player)
	}
}

func TestStopInterruptsRunningMode(t *testing.T) {
	w := newTestWorld()
	rec := &recorder{}
	e := NewExecutor(w, rec, rec, Options{Speed: time.Hour})

	if err := e.Execute("move('right')\nmove('right')"); err != nil {
		t.Fatal(err)
	}
	// The first command runs immediately, the second waits for the timer.
	deadline := time.Now().Add(5 * time.Second)
	for e.Status().CurrentLine != 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	e.Stop()
	e.Wait()

	if w.Player.X != 2 {
		t.Errorf("expected exactly one move before stop, x=%d", w.Player.X)
	}
	if e.Status().State != StateIdle {
		t.Errorf("expected idle, got %s", e.Status().State)
	}
}

func TestStepDebugPausesRunningMode(t *testing.T) {
	w := newTestWorld()
	rec := &recorder{}
	e := NewExecutor(w, rec, rec, Options{Speed: time.Hour})

	if err := e.Execute("wait()\nwait()\nwait()"); err != nil {
		t.Fatal(err)
	}
	if err := e.StepDebug(""); err != nil {
		t.Fatal(err)
	}
	st := e.Status()
	if st.State != StateStepping || !st.StepMode {
		t.Errorf("expected stepping, got %s", st.State)
	}
}

func TestStatusQueuePreview(t *testing.T) {
	w := newTestWorld()
	e, _ := newTestExecutor(w)

	if err := e.StepDebug("wait()\nwait()\nwait()\nwait()\nwait()\nwait()\nscan()"); err != nil {
		t.Fatal(err)
	}
	st := e.Status()
	if st.QueueLength != 7 || len(st.Queue) != 6 || st.Queue[5] != "... +2 more" {
		t.Errorf("unexpected preview %v (%d)", st.Queue, st.QueueLength)
	}
	if st.RunID == "" {
		t.Error("a loaded program should carry a run id")
	}
}

func TestSetSpeedWhileRunning(t *testing.T) {
	w := newTestWorld()
	rec := &recorder{}
	e := NewExecutor(w, rec, rec, Options{Speed: time.Millisecond, MaxExpansions: 100})

	if err := e.Execute("for i in range(20):\n    wait()"); err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			e.SetSpeed(time.Duration(i%3) * time.Millisecond)
		}
	}()
	<-done
	e.Wait()

	if st := e.Status(); st.State != StateCompleted {
		t.Errorf("expected completed, got %s", st.State)
	}
	if v, _ := e.Variable("i"); v != 19 {
		t.Errorf("i = %d, want 19", v)
	}
}

func TestRejectedProgramReturnsToIdle(t *testing.T) {
	w := newTestWorld()
	e, _ := newTestExecutor(w)

	runSteps(t, e, "wait()")
	if st := e.Status(); st.State != StateCompleted {
		t.Fatalf("expected completed, got %s", st.State)
	}
	err := e.Execute("for i in range(x):\n    wait()")
	if !IsCategory(err, ErrCategoryParse) {
		t.Fatalf("expected parse error, got %v", err)
	}
	if st := e.Status(); st.State != StateIdle || st.Error == "" {
		t.Errorf("a rejected program should leave the executor idle with the error, got %s %q", st.State, st.Error)
	}

	runSteps(t, e, "jump()")
	if e.Status().State != StateHaltedError {
		t.Fatal("expected a halted run")
	}
	if err := e.Execute("  "); !errors.Is(err, ErrEmptyProgram) {
		t.Fatalf("expected ErrEmptyProgram, got %v", err)
	}
	if st := e.Status(); st.State != StateIdle {
		t.Errorf("expected idle after an empty program, got %s", st.State)
	}
}

// A nested if written in Python layout keeps its own else even though the
// else sits one level below the outer header.
func TestNestedElseBelongsToNestedIf(t *testing.T) {
	w := newTestWorld()
	e, _ := newTestExecutor(w)

	runSteps(t, e, "if True:\n    if False:\n        move('up')\n    else:\n        move('right')")

	if w.Player.X != 2 || w.Player.Y != 6 {
		t.Errorf("expected the nested else to move right, player at (%d,%d)", w.Player.X, w.Player.Y)
	}
}
