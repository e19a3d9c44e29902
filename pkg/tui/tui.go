// Package tui plays the crisis room in a terminal: a code editor on the
// left, the grid and player stats on the right, and the message log below.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/antibyte/crisisroom/pkg/crisis"
	"github.com/antibyte/crisisroom/pkg/grid"
	"github.com/antibyte/crisisroom/pkg/levels"
	"github.com/antibyte/crisisroom/pkg/room"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const logLimit = 200

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFA500")).
			Bold(true).
			Underline(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(lipgloss.Color("#3C3C3C")).
			PaddingLeft(2)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Italic(true)

	cellStyles = map[rune]lipgloss.Style{
		grid.CellEmpty:    lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")),
		grid.CellPlayer:   lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF87")).Bold(true),
		grid.CellBug:      lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F")).Bold(true),
		grid.CellObstacle: lipgloss.NewStyle().Foreground(lipgloss.Color("#8A8A8A")),
		grid.CellPowerUp:  lipgloss.NewStyle().Foreground(lipgloss.Color("#5FD7FF")),
	}

	kindStyles = map[string]lipgloss.Style{
		grid.KindSuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("#00D75F")),
		grid.KindError:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F")),
		grid.KindWarning: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD700")),
		grid.KindInfo:    lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA")),
	}
)

// Messages sent by the room to the program.
type (
	worldMsg    grid.Snapshot
	statusMsg   crisis.Status
	noticeMsg   struct{ text, kind string }
	finishedMsg struct{ text string }
	errMsg      struct{ err error }
)

type levelMsg struct {
	level int
	name  string
}

// bridge forwards room callbacks into the running program.
type bridge struct {
	program *tea.Program
}

func (b *bridge) send(msg tea.Msg) {
	if b.program != nil {
		b.program.Send(msg)
	}
}

func (b *bridge) RedrawPlayer(grid.Player)           {}
func (b *bridge) RedrawEntities(s grid.Snapshot)     { b.send(worldMsg(s)) }
func (b *bridge) UpdateStatus(st crisis.Status)      { b.send(statusMsg(st)) }
func (b *bridge) ShowMessage(text, kind string)      { b.send(noticeMsg{text, kind}) }
func (b *bridge) LevelCompleted(int, int, bool)      {}
func (b *bridge) RoomCompleted(summary string)       { b.send(finishedMsg{summary}) }
func (b *bridge) GameOver(string)                    {}
func (b *bridge) LevelLoaded(n int, l levels.Layout) { b.send(levelMsg{n, l.Name}) }

type model struct {
	room     *room.Room
	editor   textarea.Model
	log      viewport.Model
	lines    []string
	world    grid.Snapshot
	status   crisis.Status
	level    int
	name     string
	finished string
	width    int
	height   int
}

func newModel(r *room.Room, source string) model {
	ed := textarea.New()
	ed.Placeholder = "for i in range(3):\n    move('right')"
	ed.ShowLineNumbers = true
	ed.SetWidth(48)
	ed.SetHeight(14)
	ed.SetValue(source)
	ed.Focus()

	return model{
		room:   r,
		editor: ed,
		log:    viewport.New(80, 6),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.call(m.room.Start))
}

// call runs fn off the event loop, since the room reports back through
// Program.Send.
func (m model) call(fn func() error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "f5":
			src := m.editor.Value()
			return m, m.call(func() error { return m.room.Execute(src) })
		case "f6":
			src := m.editor.Value()
			return m, m.call(func() error { return m.room.StepDebug(src) })
		case "f7":
			return m, m.call(func() error { m.room.Stop(); return nil })
		case "f8":
			m.finished = ""
			return m, m.call(func() error { m.room.RestartLevel(); return nil })
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.log.Width = msg.Width
		if h := msg.Height - m.editor.Height() - 6; h > 3 {
			m.log.Height = h
		}
		m.log.SetContent(strings.Join(m.lines, "\n"))
		return m, nil

	case worldMsg:
		m.world = grid.Snapshot(msg)
		return m, nil

	case statusMsg:
		m.status = crisis.Status(msg)
		return m, nil

	case levelMsg:
		m.level, m.name = msg.level, msg.name
		return m, nil

	case noticeMsg:
		m.appendLine(msg.text, msg.kind)
		return m, nil

	case finishedMsg:
		m.finished = msg.text
		return m, nil

	case errMsg:
		m.appendLine(msg.err.Error(), grid.KindError)
		return m, nil
	}

	var cmd tea.Cmd
	m.editor, cmd = m.editor.Update(msg)
	return m, cmd
}

func (m *model) appendLine(text, kind string) {
	style, ok := kindStyles[kind]
	if !ok {
		style = kindStyles[grid.KindInfo]
	}
	m.lines = append(m.lines, style.Render(time.Now().Format("15:04:05")+" "+text))
	if len(m.lines) > logLimit {
		m.lines = m.lines[len(m.lines)-logLimit:]
	}
	m.log.SetContent(strings.Join(m.lines, "\n"))
	m.log.GotoBottom()
}

func (m model) View() string {
	side := panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(fmt.Sprintf("LEVEL %d: %s", m.level, m.name)),
		"",
		renderGrid(m.world),
		"",
		renderStats(m.world, m.status),
	))
	top := lipgloss.JoinHorizontal(lipgloss.Top, m.editor.View(), side)

	parts := []string{top, m.log.View()}
	if m.finished != "" {
		parts = append(parts, kindStyles[grid.KindSuccess].Bold(true).Render(m.finished))
	}
	parts = append(parts, helpStyle.Render("F5 run  F6 step  F7 stop  F8 restart  Esc quit"))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func renderGrid(s grid.Snapshot) string {
	var sb strings.Builder
	for y, row := range s.Cells() {
		if y > 0 {
			sb.WriteByte('\n')
		}
		for _, c := range row {
			sb.WriteString(cellStyles[c].Render(string(c)))
			sb.WriteByte(' ')
		}
	}
	return sb.String()
}

func renderStats(s grid.Snapshot, st crisis.Status) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Health: %d/%d\n", s.Player.Health, grid.MaxHealth)
	fmt.Fprintf(&sb, "Energy: %d/%d\n", s.Player.Energy, grid.MaxEnergy)
	fmt.Fprintf(&sb, "Bugs:   %d left, %d defeated\n", len(s.Bugs), s.BugsDefeated)
	if len(s.Player.Inventory) > 0 {
		items := make([]string, len(s.Player.Inventory))
		for i, it := range s.Player.Inventory {
			items[i] = it.Type
		}
		fmt.Fprintf(&sb, "Items:  %s\n", strings.Join(items, ", "))
	}
	fmt.Fprintf(&sb, "State:  %s", st.State)
	if st.CurrentLine > 0 {
		fmt.Fprintf(&sb, " (line %d)", st.CurrentLine)
	}
	if len(st.Queue) > 0 {
		fmt.Fprintf(&sb, "\nNext:   %s", strings.Join(st.Queue, " | "))
	}
	return sb.String()
}

// Run plays the room until the user quits. source pre-fills the editor.
func Run(opts room.Options, source string) error {
	b := &bridge{}
	r := room.New(b, b, opts)
	defer r.Cleanup()

	p := tea.NewProgram(newModel(r, source), tea.WithAltScreen())
	b.program = p
	_, err := p.Run()
	return err
}
