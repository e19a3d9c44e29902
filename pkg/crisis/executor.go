package crisis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/antibyte/crisisroom/pkg/configuration"
	"github.com/antibyte/crisisroom/pkg/grid"
	"github.com/antibyte/crisisroom/pkg/logger"
	"github.com/google/uuid"
)

// State is the lifecycle state of an Executor.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStepping
	StateHaltedError
	StateCompleted
)

var stateNames = [...]string{"idle", "running", "stepping", "halted", "completed"}

func (s State) String() string {
	if s < StateIdle || s > StateCompleted {
		return "unknown"
	}
	return stateNames[s]
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Active reports whether a program is loaded and not finished.
func (s State) Active() bool {
	return s == StateRunning || s == StateStepping
}

// Observer receives render hooks after every executed command.
type Observer interface {
	RedrawPlayer(p grid.Player)
	RedrawEntities(s grid.Snapshot)
	UpdateStatus(st Status)
}

// Host receives the outcome of a run and user-facing messages.
type Host interface {
	LevelComplete(bugsDefeated int)
	GameOver(message string)
	ShowMessage(text, kind string)
}

// Status is a snapshot of the executor for display.
type Status struct {
	RunID         string         `json:"runId,omitempty"`
	State         State          `json:"state"`
	StepMode      bool           `json:"stepMode"`
	CurrentLine   int            `json:"currentLine"`
	Variables     map[string]int `json:"variables"`
	Queue         []string       `json:"queue"`
	QueueLength   int            `json:"queueLength"`
	Health        int            `json:"health"`
	Energy        int            `json:"energy"`
	BugsDefeated  int            `json:"bugsDefeated"`
	BugsRemaining int            `json:"bugsRemaining"`
	Error         string         `json:"error,omitempty"`
}

// Options tune an Executor.
type Options struct {
	// Speed is the delay between two commands in running mode.
	Speed time.Duration
	// MaxExpansions bounds how many loop and branch expansions one step may
	// perform before reaching a command.
	MaxExpansions int
	TabWidth      int
}

// DefaultOptions returns the built-in settings.
func DefaultOptions() Options {
	return Options{Speed: 500 * time.Millisecond, MaxExpansions: 10000, TabWidth: DefaultTabWidth}
}

// OptionsFromConfig reads the [Interpreter] section.
func OptionsFromConfig() Options {
	d := DefaultOptions()
	return Options{
		Speed:         configuration.GetDuration("Interpreter", "execution_speed", d.Speed),
		MaxExpansions: configuration.GetInt("Interpreter", "max_expansions_per_step", d.MaxExpansions),
		TabWidth:      configuration.GetInt("Interpreter", "tab_width", d.TabWidth),
	}
}

// GameOverMessage is reported when the player's health runs out.
const GameOverMessage = "Player health depleted! Debugging failed - System remains unstable with critical errors."

// Executor runs one program at a time against a world. Host and observer
// callbacks are invoked without the executor lock held, so they may call
// back into the executor.
type Executor struct {
	mu       sync.Mutex
	world    *grid.World
	host     Host
	observer Observer
	opts     Options

	state       State
	stepMode    bool
	queue       *WorkQueue
	variables   map[string]int
	currentLine int
	lastErr     error
	runID       string

	// generation invalidates the run loop of a stopped program.
	generation int
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewExecutor creates an executor for world. host and observer may be nil.
func NewExecutor(world *grid.World, host Host, observer Observer, opts Options) *Executor {
	if host == nil {
		host = nopHost{}
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if opts.MaxExpansions <= 0 {
		opts.MaxExpansions = DefaultOptions().MaxExpansions
	}
	if opts.Speed < 0 {
		opts.Speed = 0
	}
	return &Executor{
		world:     world,
		host:      host,
		observer:  observer,
		opts:      opts,
		queue:     &WorkQueue{},
		variables: make(map[string]int),
	}
}

// Execute starts source in running mode.
func (e *Executor) Execute(source string) error {
	return e.start(source, false)
}

// StepDebug loads source in step mode when nothing is active; otherwise it
// pauses automatic execution and advances exactly one step.
func (e *Executor) StepDebug(source string) error {
	e.mu.Lock()
	active := e.state.Active()
	e.mu.Unlock()

	if !active {
		return e.start(source, true)
	}
	e.mu.Lock()
	if e.state == StateRunning {
		e.state = StateStepping
		e.stepMode = true
		e.stopLoopLocked()
	}
	e.mu.Unlock()
	e.Step()
	return nil
}

func (e *Executor) start(source string, stepping bool) error {
	var notify []func()
	defer func() { dispatch(notify) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Active() {
		return ErrAlreadyRunning
	}
	if strings.TrimSpace(source) == "" {
		notify = e.rejectLocked("Please enter some code to execute!", ErrEmptyProgram)
		return ErrEmptyProgram
	}

	prog, err := Compile(source, e.opts.TabWidth)
	if err != nil {
		logger.Info(logger.AreaInterpreter, "program rejected: %v", err)
		notify = e.rejectLocked(err.Error(), err)
		return err
	}
	if len(prog.Statements) == 0 {
		notify = e.rejectLocked("No valid commands found!", ErrNoCommands)
		return ErrNoCommands
	}
	for _, w := range prog.Warnings {
		notify = append(notify, e.message(w, grid.KindWarning))
	}

	e.generation++
	e.runID = uuid.NewString()
	e.queue = NewWorkQueue(prog.Statements)
	e.variables = make(map[string]int)
	e.currentLine = 0
	e.lastErr = nil
	e.stepMode = stepping
	if stepping {
		e.state = StateStepping
	} else {
		e.state = StateRunning
	}
	logger.Info(logger.AreaInterpreter, "run %s started (%s, %d statements)", e.runID, e.state, len(prog.Statements))

	notify = append(notify, e.statusNotice())
	if !stepping {
		e.startLoopLocked()
	}
	return nil
}

// rejectLocked returns an inactive executor to idle after a program could
// not be started.
func (e *Executor) rejectLocked(text string, err error) []func() {
	e.state = StateIdle
	e.stepMode = false
	e.queue.Clear()
	e.currentLine = 0
	e.lastErr = err
	return []func(){e.message(text, grid.KindError), e.statusNotice()}
}

func (e *Executor) startLoopLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.cancel = cancel
	e.done = done
	go e.run(ctx, e.generation, done)
}

func (e *Executor) stopLoopLocked() {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

// run advances the program on a timer until it leaves running mode.
func (e *Executor) run(ctx context.Context, generation int, done chan struct{}) {
	defer close(done)
	for {
		cont, delay := e.advance(generation, StateRunning)
		if !cont {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// Step advances a stepping or running program by one command. It is a
// no-op when nothing is active.
func (e *Executor) Step() {
	e.mu.Lock()
	generation := e.generation
	state := e.state
	e.mu.Unlock()
	if state.Active() {
		e.advance(generation, state)
	}
}

// advance executes one step if the program is still the same run in the
// expected state. It reports whether the run loop should continue and the
// delay before the next step.
func (e *Executor) advance(generation int, want State) (bool, time.Duration) {
	e.mu.Lock()
	if e.generation != generation || e.state != want {
		e.mu.Unlock()
		return false, 0
	}
	notify := e.stepLocked()
	cont := e.state == want
	delay := e.opts.Speed
	e.mu.Unlock()

	dispatch(notify)
	return cont, delay
}

// stepLocked pops statements until one command has run, expanding loops
// and conditionals in place. It returns the callbacks to dispatch.
func (e *Executor) stepLocked() []func() {
	var notify []func()
	expansions := 0

	for {
		stmt, ok := e.queue.Pop()
		if !ok {
			e.finishLocked(StateCompleted)
			return append(notify, e.statusNotice())
		}
		e.currentLine = stmt.Line()

		switch s := stmt.(type) {
		case *Action:
			return append(notify, e.runActionLocked(s)...)

		case *ForLoop:
			if s.Count > 0 {
				e.queue.PushFront(&forIteration{loop: s})
			}

		case *forIteration:
			e.variables[s.loop.Variable] = s.index
			if s.index+1 < s.loop.Count {
				e.queue.PushFront(&forIteration{loop: s.loop, index: s.index + 1})
			}
			e.queue.PushFront(s.loop.Body...)

		case *WhileLoop:
			if s.Cond.Eval(e.world) {
				e.queue.PushFront(s)
				e.queue.PushFront(s.Body...)
			}

		case *Conditional:
			e.queue.PushFront(selectBranch(s, e.world)...)
		}

		expansions++
		if expansions > e.opts.MaxExpansions {
			err := newRuntimeError(e.currentLine, fmt.Sprintf(
				"Execution halted on line %d: more than %d loop steps without running a command", e.currentLine, e.opts.MaxExpansions))
			return append(notify, e.haltLocked(err)...)
		}
	}
}

// selectBranch returns the body of the first arm whose condition holds,
// or the else body.
func selectBranch(c *Conditional, w *grid.World) []Statement {
	if c.If.Cond.Eval(w) {
		return c.If.Body
	}
	for _, arm := range c.Elifs {
		if arm.Cond.Eval(w) {
			return arm.Body
		}
	}
	return c.Else
}

func (e *Executor) runActionLocked(a *Action) []func() {
	tok := a.Token
	if tok.Kind == TokenError {
		return e.haltLocked(&CodeError{Category: ErrCategorySyntax, Line: tok.Line, Message: tok.Message})
	}

	var res grid.Result
	switch tok.Kind {
	case TokenMove:
		res = e.world.Move(tok.Direction)
	case TokenAttack:
		res = e.world.Attack(tok.Direction)
	case TokenScan:
		res = e.world.Scan()
	case TokenWait:
		res = e.world.Wait()
	case TokenCollect:
		res = e.world.Collect()
	case TokenUseItem:
		res = e.world.UseItem(tok.Item)
	default:
		return e.haltLocked(newRuntimeError(tok.Line, fmt.Sprintf("Unknown command type: %s. Line: %d", tok.Kind, tok.Line)))
	}
	logger.InterpreterDebug("run %s line %d: %s -> %v", e.runID, tok.Line, a, res.Success)

	var notify []func()
	for _, n := range res.Notices {
		notify = append(notify, e.message(n.Text, n.Kind))
	}
	if !res.Success {
		return append(notify, e.haltLocked(newRuntimeError(tok.Line, res.Message))...)
	}

	player := e.world.Player
	player.Inventory = append([]grid.Item{}, player.Inventory...)
	snap := e.world.Snapshot()
	observer := e.observer
	notify = append(notify,
		func() { observer.RedrawPlayer(player) },
		func() { observer.RedrawEntities(snap) },
	)

	switch {
	case len(e.world.Bugs) == 0:
		defeated := e.world.BugsDefeated
		e.finishLocked(StateCompleted)
		host := e.host
		notify = append(notify, e.statusNotice(), func() { host.LevelComplete(defeated) })
	case e.world.Player.Health <= 0:
		e.lastErr = ErrGameOver
		e.finishLocked(StateHaltedError)
		host := e.host
		notify = append(notify, e.statusNotice(), func() { host.GameOver(GameOverMessage) })
	default:
		if e.queue.Len() == 0 {
			e.finishLocked(StateCompleted)
		}
		notify = append(notify, e.statusNotice())
	}
	return notify
}

func (e *Executor) haltLocked(err *CodeError) []func() {
	logger.Info(logger.AreaInterpreter, "run %s halted on line %d: %s", e.runID, err.Line, err.Message)
	e.lastErr = err
	e.finishLocked(StateHaltedError)
	return []func(){e.message(err.Message, grid.KindError), e.statusNotice()}
}

func (e *Executor) finishLocked(state State) {
	e.state = state
	e.queue.Clear()
	e.stopLoopLocked()
}

// Stop abandons the current program. Effects of commands that already
// ran are kept.
func (e *Executor) Stop() {
	e.mu.Lock()
	e.resetLocked()
	notify := []func(){e.message("Code execution stopped.", grid.KindInfo), e.statusNotice()}
	e.mu.Unlock()
	dispatch(notify)
}

// Reset stops silently and then lets fn modify the world, for example to
// load the next level.
func (e *Executor) Reset(fn func(w *grid.World)) {
	e.mu.Lock()
	e.resetLocked()
	if fn != nil {
		fn(e.world)
	}
	player := e.world.Player
	player.Inventory = append([]grid.Item{}, player.Inventory...)
	snap := e.world.Snapshot()
	observer := e.observer
	notify := []func(){
		func() { observer.RedrawPlayer(player) },
		func() { observer.RedrawEntities(snap) },
		e.statusNotice(),
	}
	e.mu.Unlock()
	dispatch(notify)
}

func (e *Executor) resetLocked() {
	e.generation++
	e.stopLoopLocked()
	e.queue.Clear()
	e.variables = make(map[string]int)
	e.state = StateIdle
	e.stepMode = false
	e.lastErr = nil
	e.runID = ""
}

// SetSpeed changes the delay between commands; it applies from the next step.
func (e *Executor) SetSpeed(d time.Duration) {
	if d < 0 {
		d = 0
	}
	e.mu.Lock()
	e.opts.Speed = d
	e.mu.Unlock()
}

// Wait blocks until the current running-mode loop has exited.
func (e *Executor) Wait() {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Err returns the error that halted the last run, if any.
func (e *Executor) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Variable returns the current value of a loop variable.
func (e *Executor) Variable(name string) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.variables[name]
	return v, ok
}

// Snapshot copies the world under the executor lock.
func (e *Executor) Snapshot() grid.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.world.Snapshot()
}

// Status returns a snapshot for display.
func (e *Executor) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked()
}

func (e *Executor) statusLocked() Status {
	vars := make(map[string]int, len(e.variables))
	for k, v := range e.variables {
		vars[k] = v
	}
	st := Status{
		RunID:         e.runID,
		State:         e.state,
		StepMode:      e.stepMode,
		CurrentLine:   e.currentLine,
		Variables:     vars,
		Queue:         e.queue.Preview(),
		QueueLength:   e.queue.Len(),
		Health:        e.world.Player.Health,
		Energy:        e.world.Player.Energy,
		BugsDefeated:  e.world.BugsDefeated,
		BugsRemaining: len(e.world.Bugs),
	}
	if e.lastErr != nil {
		st.Error = e.lastErr.Error()
	}
	return st
}

func (e *Executor) statusNotice() func() {
	st := e.statusLocked()
	observer := e.observer
	return func() { observer.UpdateStatus(st) }
}

func (e *Executor) message(text, kind string) func() {
	host := e.host
	return func() { host.ShowMessage(text, kind) }
}

func dispatch(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}

type nopHost struct{}

func (nopHost) LevelComplete(int)          {}
func (nopHost) GameOver(string)            {}
func (nopHost) ShowMessage(string, string) {}

type nopObserver struct{}

func (nopObserver) RedrawPlayer(grid.Player)     {}
func (nopObserver) RedrawEntities(grid.Snapshot) {}
func (nopObserver) UpdateStatus(Status)          {}
