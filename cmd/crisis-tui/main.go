// Command crisis-tui plays the programming crisis room in the terminal.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/antibyte/crisisroom/pkg/configuration"
	"github.com/antibyte/crisisroom/pkg/levels"
	"github.com/antibyte/crisisroom/pkg/logger"
	"github.com/antibyte/crisisroom/pkg/room"
	"github.com/antibyte/crisisroom/pkg/tui"
)

func main() {
	configPath := flag.String("config", "settings.cfg", "configuration file")
	programPath := flag.String("program", "", "file to load into the editor")
	trace := flag.Bool("trace", false, "log every interpreted action")
	flag.Parse()

	if err := configuration.Initialize(*configPath); err != nil {
		fmt.Printf("Error initializing configuration: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Initialize(); err != nil {
		fmt.Printf("Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()
	if *trace {
		logger.EnableArea(logger.AreaInterpreter)
	}
	// The TUI owns the terminal; warnings stay in the log file.
	log.SetOutput(io.Discard)

	opts := room.OptionsFromConfig()
	levelsDir := configuration.GetString("Game", "levels_dir", "levels")
	extra, err := levels.LoadDir(levelsDir, opts.Width, opts.Height)
	if err != nil {
		logger.Error(logger.AreaLevels, "Loading levels from %s failed: %v", levelsDir, err)
	}
	opts.Extra = extra
	opts.MaxLevel += len(extra)

	var source string
	if *programPath != "" {
		data, err := os.ReadFile(*programPath)
		if err != nil {
			fmt.Printf("Error reading program: %v\n", err)
			os.Exit(1)
		}
		source = string(data)
	}

	if err := tui.Run(opts, source); err != nil {
		fmt.Printf("Error running TUI: %v\n", err)
		os.Exit(1)
	}
}
