// Command crisis-run executes a program against one level without delays
// and prints the trace and the final grid.
//
//	crisis-run -level 2 solution.py
//	cat solution.py | crisis-run -layout my_level.yaml
//	crisis-run -level 3 -export levels
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/antibyte/crisisroom/pkg/configuration"
	"github.com/antibyte/crisisroom/pkg/crisis"
	"github.com/antibyte/crisisroom/pkg/grid"
	"github.com/antibyte/crisisroom/pkg/levels"
	"golang.org/x/term"
)

var errNoProgram = errors.New("no program: pass a file or pipe one on stdin")

// tracer prints interpreter callbacks and remembers how the run ended.
type tracer struct {
	out       io.Writer
	completed bool
	gameOver  bool
}

func (t *tracer) LevelComplete(bugsDefeated int) {
	t.completed = true
	fmt.Fprintf(t.out, "LEVEL COMPLETE: %d bugs defeated\n", bugsDefeated)
}

func (t *tracer) GameOver(message string) {
	t.gameOver = true
	fmt.Fprintf(t.out, "GAME OVER: %s\n", message)
}

func (t *tracer) ShowMessage(text, kind string) {
	fmt.Fprintf(t.out, "[%s] %s\n", kind, text)
}

func (t *tracer) RedrawPlayer(p grid.Player) {
	fmt.Fprintf(t.out, "  player at (%d,%d) health %d energy %d\n", p.X, p.Y, p.Health, p.Energy)
}

func (t *tracer) RedrawEntities(grid.Snapshot) {}
func (t *tracer) UpdateStatus(crisis.Status)   {}

type runConfig struct {
	level  int
	layout string
	damage int
	opts   crisis.Options
}

// exportLevel writes built-in level n into dir as a starting point for a
// custom level.
func exportLevel(dir string, n int) (string, error) {
	l, err := levels.Generate(n)
	if err != nil {
		return "", err
	}
	l.Name += " (copy)"
	return levels.SaveFile(dir, l, "yaml")
}

// run executes source and reports whether the level was completed.
func run(out io.Writer, source string, cfg runConfig) (bool, error) {
	var (
		l   levels.Layout
		err error
	)
	if cfg.layout != "" {
		l, err = levels.LoadFile(cfg.layout, grid.DefaultWidth, grid.DefaultHeight)
	} else {
		l, err = levels.Generate(cfg.level)
	}
	if err != nil {
		return false, err
	}

	world := grid.NewWorld(grid.DefaultWidth, grid.DefaultHeight, l.PlayerStart.X, l.PlayerStart.Y)
	if cfg.damage > 0 {
		world.Damage = func() int { return cfg.damage }
	}
	levels.Apply(world, l)

	t := &tracer{out: out}
	exec := crisis.NewExecutor(world, t, t, cfg.opts)
	fmt.Fprintf(out, "Level: %s\n%s\n", l.Name, world.Snapshot())

	if err := exec.Execute(source); err != nil {
		return false, err
	}
	exec.Wait()

	st := exec.Status()
	fmt.Fprintf(out, "\nFinal state: %s\n%s", st.State, exec.Snapshot())
	fmt.Fprintf(out, "Health %d, energy %d, bugs defeated %d, bugs remaining %d\n",
		st.Health, st.Energy, st.BugsDefeated, st.BugsRemaining)
	return t.completed, nil
}

// readProgram reads the file named by args, or stdin when it is piped.
func readProgram(args []string, stdin *os.File) (string, error) {
	if len(args) > 0 {
		data, err := os.ReadFile(args[0])
		return string(data), err
	}
	if term.IsTerminal(int(stdin.Fd())) {
		return "", errNoProgram
	}
	data, err := io.ReadAll(stdin)
	return string(data), err
}

func main() {
	level := flag.Int("level", 1, "built-in level to run against")
	layout := flag.String("layout", "", "custom level file (YAML or JSON)")
	damage := flag.Int("damage", 0, "fixed attack damage (0 rolls randomly)")
	configPath := flag.String("config", "", "optional configuration file")
	export := flag.String("export", "", "write the built-in level as YAML into this directory and exit")
	flag.Parse()

	if *export != "" {
		path, err := exportLevel(*export, *level)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
		fmt.Println(path)
		return
	}

	if *configPath != "" {
		if err := configuration.Initialize(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing configuration: %v\n", err)
			os.Exit(2)
		}
	}

	source, err := readProgram(flag.Args(), os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	opts := crisis.OptionsFromConfig()
	opts.Speed = 0
	completed, err := run(os.Stdout, source, runConfig{level: *level, layout: *layout, damage: *damage, opts: opts})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if !completed {
		os.Exit(1)
	}
}
