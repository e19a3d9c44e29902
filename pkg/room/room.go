// Package room ties the interpreter to the level progression of the
// programming crisis room: it loads levels, advances on completion and
// reports the final outcome to the surrounding game.
package room

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/antibyte/crisisroom/pkg/configuration"
	"github.com/antibyte/crisisroom/pkg/crisis"
	"github.com/antibyte/crisisroom/pkg/grid"
	"github.com/antibyte/crisisroom/pkg/levels"
	"github.com/antibyte/crisisroom/pkg/logger"
)

// ErrNoLevel is returned when a level number is outside the room's range.
var ErrNoLevel = errors.New("no such level")

const summaryFormat = "Programming crisis resolved! System debugged through advanced code-based navigation with loops and conditionals. %d bugs eliminated using Python-like programming commands."

// Game is notified of level completions and of how the room ends.
type Game interface {
	LevelCompleted(level, bugsDefeated int, custom bool)
	RoomCompleted(summary string)
	GameOver(message string)
}

// View renders the room. It receives every interpreter hook plus messages
// and level changes.
type View interface {
	crisis.Observer
	ShowMessage(text, kind string)
	LevelLoaded(level int, layout levels.Layout)
}

// Message is one entry of the room's message feed.
type Message struct {
	Text string    `json:"text"`
	Kind string    `json:"kind"`
	At   time.Time `json:"at"`
}

const feedSize = 50

// Options configure a Room.
type Options struct {
	Width, Height int
	MaxLevel      int
	// Extra levels follow the built-in ones, in order.
	Extra []levels.Layout
	// AdvanceDelay is the pause between finishing a level and loading the
	// next one. Zero loads it immediately.
	AdvanceDelay time.Duration
	Executor     crisis.Options
	// Damage overrides the attack damage roll.
	Damage func() int
}

// OptionsFromConfig reads the [Game] and [Interpreter] sections.
func OptionsFromConfig() Options {
	return Options{
		Width:        configuration.GetInt("Game", "grid_width", grid.DefaultWidth),
		Height:       configuration.GetInt("Game", "grid_height", grid.DefaultHeight),
		MaxLevel:     configuration.GetInt("Game", "max_level", levels.BuiltinCount),
		AdvanceDelay: configuration.GetDuration("Game", "advance_delay", 2*time.Second),
		Executor:     crisis.OptionsFromConfig(),
	}
}

// Status describes the room for display and persistence.
type Status struct {
	Level             int           `json:"level"`
	MaxLevel          int           `json:"maxLevel"`
	LevelName         string        `json:"levelName"`
	Difficulty        int           `json:"difficulty"`
	Custom            bool          `json:"custom"`
	Completed         bool          `json:"completed"`
	GameOver          bool          `json:"gameOver"`
	TotalBugsDefeated int           `json:"totalBugsDefeated"`
	Interpreter       crisis.Status `json:"interpreter"`
	World             grid.Snapshot `json:"world"`
}

// Room owns one world and its interpreter. The room lock is never held
// while calling into the executor, since the executor reports back through
// the room's Host methods.
type Room struct {
	exec *crisis.Executor
	game Game
	view View
	opts Options

	mu        sync.Mutex
	level     int
	layout    levels.Layout
	custom    bool
	total     int
	completed bool
	gameOver  bool
	feed      []Message
	timer     *time.Timer
}

// New creates a room. game and view may be nil. Call Start to load the
// first level.
func New(game Game, view View, opts Options) *Room {
	if opts.Width <= 0 {
		opts.Width = grid.DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = grid.DefaultHeight
	}
	if limit := levels.BuiltinCount + len(opts.Extra); opts.MaxLevel <= 0 || opts.MaxLevel > limit {
		opts.MaxLevel = limit
	}
	r := &Room{game: game, view: view, opts: opts}
	world := grid.NewWorld(opts.Width, opts.Height, 1, opts.Height-2)
	if opts.Damage != nil {
		world.Damage = opts.Damage
	}
	var observer crisis.Observer
	if view != nil {
		observer = view
	}
	r.exec = crisis.NewExecutor(world, r, observer, opts.Executor)
	return r
}

// Start loads level 1.
func (r *Room) Start() error {
	return r.Resume(1, 0)
}

// Resume continues a saved game at level with bugsDefeated already counted.
func (r *Room) Resume(level, bugsDefeated int) error {
	if _, err := r.layoutFor(level); err != nil {
		return err
	}
	r.mu.Lock()
	r.total = bugsDefeated
	r.completed = false
	r.gameOver = false
	r.mu.Unlock()
	return r.LoadLevel(level)
}

func (r *Room) layoutFor(n int) (levels.Layout, error) {
	if n < 1 || n > r.opts.MaxLevel {
		return levels.Layout{}, fmt.Errorf("%w: %d", ErrNoLevel, n)
	}
	if n <= levels.BuiltinCount {
		return levels.Generate(n)
	}
	return r.opts.Extra[n-levels.BuiltinCount-1], nil
}

// LoadLevel stops any running program and loads level n.
func (r *Room) LoadLevel(n int) error {
	l, err := r.layoutFor(n)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.cancelTimerLocked()
	r.level = n
	r.layout = l
	r.custom = false
	r.mu.Unlock()

	r.apply(n, l)
	return nil
}

// LoadCustomLevel validates l and loads it outside the normal progression.
func (r *Room) LoadCustomLevel(l levels.Layout) error {
	if err := levels.Validate(&l, r.opts.Width, r.opts.Height); err != nil {
		return err
	}
	r.mu.Lock()
	r.cancelTimerLocked()
	r.layout = l
	r.custom = true
	level := r.level
	r.mu.Unlock()

	r.apply(level, l)
	r.ShowMessage(fmt.Sprintf("Custom level %q loaded (difficulty %d)", l.Name, l.Difficulty), grid.KindInfo)
	return nil
}

// RestartLevel reloads the current layout. Bugs defeated in the abandoned
// attempt do not count.
func (r *Room) RestartLevel() {
	r.mu.Lock()
	r.cancelTimerLocked()
	level, l := r.level, r.layout
	r.gameOver = false
	r.mu.Unlock()

	r.apply(level, l)
	r.ShowMessage(fmt.Sprintf("Level %d restarted", level), grid.KindInfo)
}

func (r *Room) apply(level int, l levels.Layout) {
	r.exec.Reset(func(w *grid.World) { levels.Apply(w, l) })
	logger.Info(logger.AreaRoom, "level %d loaded: %s", level, l.Name)
	if r.view != nil {
		r.view.LevelLoaded(level, l)
	}
}

func (r *Room) cancelTimerLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// Execute runs source continuously.
func (r *Room) Execute(source string) error { return r.exec.Execute(source) }

// StepDebug loads source in step mode or advances one step.
func (r *Room) StepDebug(source string) error { return r.exec.StepDebug(source) }

// Stop abandons the running program.
func (r *Room) Stop() { r.exec.Stop() }

// SetSpeed changes the delay between commands in running mode.
func (r *Room) SetSpeed(d time.Duration) { r.exec.SetSpeed(d) }

// Executor exposes the interpreter, mainly for tests and tools.
func (r *Room) Executor() *crisis.Executor { return r.exec }

// Cleanup stops the interpreter and any pending level load.
func (r *Room) Cleanup() {
	r.mu.Lock()
	r.cancelTimerLocked()
	r.mu.Unlock()
	r.exec.Reset(nil)
	r.exec.Wait()
}

// LevelComplete is called by the interpreter once the last bug is gone.
func (r *Room) LevelComplete(bugsDefeated int) {
	r.mu.Lock()
	r.total += bugsDefeated
	total := r.total
	level := r.level
	custom := r.custom
	name := r.layout.Name
	last := level >= r.opts.MaxLevel
	if !custom && last {
		r.completed = true
	}
	r.mu.Unlock()

	logger.Info(logger.AreaRoom, "level %d complete, %d bugs defeated (%d total)", level, bugsDefeated, total)
	if r.game != nil {
		r.game.LevelCompleted(level, bugsDefeated, custom)
	}

	switch {
	case custom:
		r.ShowMessage(fmt.Sprintf("Custom level %q complete! %d bugs eliminated.", name, bugsDefeated), grid.KindSuccess)
	case last:
		summary := fmt.Sprintf(summaryFormat, total)
		r.ShowMessage(summary, grid.KindSuccess)
		if r.game != nil {
			r.game.RoomCompleted(summary)
		}
	default:
		next := level + 1
		r.ShowMessage(fmt.Sprintf("Level %d complete! Advancing to level %d...", level, next), grid.KindSuccess)
		r.scheduleLevel(next)
	}
}

func (r *Room) scheduleLevel(n int) {
	load := func() {
		if err := r.LoadLevel(n); err != nil {
			logger.Error(logger.AreaRoom, "loading level %d: %v", n, err)
		}
	}
	if r.opts.AdvanceDelay <= 0 {
		load()
		return
	}
	r.mu.Lock()
	r.cancelTimerLocked()
	r.timer = time.AfterFunc(r.opts.AdvanceDelay, load)
	r.mu.Unlock()
}

// GameOver is called by the interpreter when the player's health runs out.
func (r *Room) GameOver(message string) {
	r.mu.Lock()
	r.gameOver = true
	level := r.level
	r.mu.Unlock()

	logger.Warn(logger.AreaRoom, "game over on level %d", level)
	r.ShowMessage(message, grid.KindError)
	if r.game != nil {
		r.game.GameOver(message)
	}
}

// ShowMessage records a message in the feed and forwards it to the view.
func (r *Room) ShowMessage(text, kind string) {
	r.mu.Lock()
	r.feed = append(r.feed, Message{Text: text, Kind: kind, At: time.Now()})
	if len(r.feed) > feedSize {
		r.feed = r.feed[len(r.feed)-feedSize:]
	}
	r.mu.Unlock()

	if r.view != nil {
		r.view.ShowMessage(text, kind)
	}
}

// Messages returns a copy of the recent message feed, oldest first.
func (r *Room) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.feed...)
}

// Level returns the current level number.
func (r *Room) Level() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.level
}

// Status returns a snapshot of the room.
func (r *Room) Status() Status {
	st := Status{
		Interpreter: r.exec.Status(),
		World:       r.exec.Snapshot(),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	st.Level = r.level
	st.MaxLevel = r.opts.MaxLevel
	st.LevelName = r.layout.Name
	st.Difficulty = r.layout.Difficulty
	st.Custom = r.custom
	st.Completed = r.completed
	st.GameOver = r.gameOver
	st.TotalBugsDefeated = r.total
	return st
}
