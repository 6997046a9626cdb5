package tui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/justapithecus/spawnwire/cli/render"
	"github.com/justapithecus/spawnwire/types"
)

// ErrInterrupted is returned by RunConsole when the console was closed while
// the worker still owed an answer. No quit verb was sent.
var ErrInterrupted = errors.New("console closed while waiting for the worker")

// Exchanger is the part of a worker session the console drives.
// runtime.Session implements it.
type Exchanger interface {
	Exchange(verb any, groups ...types.Group) (*types.ResultBatch, error)
	Quit() error
	DiagnosticContents() (string, bool)
}

type entryKind int

const (
	entryInfo entryKind = iota
	entrySent
	entryReceived
	entryDiagnostic
	entryError
)

// entry is one line of console history.
type entry struct {
	kind entryKind
	text string
}

// exchangeDoneMsg carries the outcome of one exchange.
type exchangeDoneMsg struct {
	batch *types.ResultBatch
	err   error
}

// quitDoneMsg reports that the quit verb was sent.
type quitDoneMsg struct {
	err error
}

// keyMap defines key bindings.
type keyMap struct {
	Send  key.Binding
	Quit  key.Binding
	Prev  key.Binding
	Next  key.Binding
	Clear key.Binding
}

var keys = keyMap{
	Send: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "send"),
	),
	Quit: key.NewBinding(
		key.WithKeys("ctrl+c", "esc"),
		key.WithHelp("esc", "quit"),
	),
	Prev: key.NewBinding(
		key.WithKeys("up"),
		key.WithHelp("↑", "previous input"),
	),
	Next: key.NewBinding(
		key.WithKeys("down"),
		key.WithHelp("↓", "next input"),
	),
	Clear: key.NewBinding(
		key.WithKeys("ctrl+l"),
		key.WithHelp("ctrl+l", "clear"),
	),
}

// ConsoleModel is a Bubble Tea model for an interactive worker session.
// Exchanges run one at a time; input other than quit is ignored while one is
// in flight.
type ConsoleModel struct {
	title   string
	session Exchanger
	input   textinput.Model

	history []entry
	inputs  []string
	recall  int

	busy     bool
	quitting bool
	err      error

	width  int
	height int
}

// NewConsoleModel creates a console bound to session.
func NewConsoleModel(title string, session Exchanger) ConsoleModel {
	ti := textinput.New()
	ti.Placeholder = `PING [1, 2] ["x"]`
	ti.Prompt = "› "
	ti.Focus()

	return ConsoleModel{
		title:   title,
		session: session,
		input:   ti,
		history: []entry{{kind: entryInfo, text: "type " + metaHelp + " for syntax"}},
	}
}

// Init implements tea.Model.
func (m ConsoleModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model.
func (m ConsoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(msg.Width-4, 10)
		return m, nil

	case exchangeDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.appendEntry(entryError, msg.err.Error())
		} else {
			m.appendEntry(entryReceived, formatBatch(msg.batch))
		}
		return m, nil

	case quitDoneMsg:
		m.busy = false
		m.quitting = true
		m.err = msg.err
		return m, tea.Quit

	case tea.KeyMsg:
		if m.busy {
			// Only quit gets through, leaving the worker to the caller.
			if key.Matches(msg, keys.Quit) {
				m.quitting = true
				m.err = ErrInterrupted
				return m, tea.Quit
			}
			return m, nil
		}
		switch {
		case key.Matches(msg, keys.Quit):
			return m.startQuit()
		case key.Matches(msg, keys.Send):
			return m.submit()
		case key.Matches(msg, keys.Prev):
			m.recallInput(-1)
			return m, nil
		case key.Matches(msg, keys.Next):
			m.recallInput(1)
			return m, nil
		case key.Matches(msg, keys.Clear):
			m.history = nil
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit handles the current input line.
func (m ConsoleModel) submit() (tea.Model, tea.Cmd) {
	line := m.input.Value()
	in, err := ParseInput(line)
	if err != nil {
		m.appendEntry(entryError, err.Error())
		return m, nil
	}
	if in.Kind != InputEmpty {
		m.inputs = append(m.inputs, line)
	}
	m.recall = len(m.inputs)
	m.input.SetValue("")

	switch in.Kind {
	case InputQuit:
		return m.startQuit()
	case InputHelp:
		m.appendEntry(entryInfo, helpText)
	case InputDiagnostics:
		text, capturing := m.session.DiagnosticContents()
		switch {
		case !capturing:
			m.appendEntry(entryInfo, "worker stderr is not captured")
		case text == "":
			m.appendEntry(entryInfo, "(no diagnostic output)")
		default:
			m.appendEntry(entryDiagnostic, text)
		}
	case InputCommand:
		m.busy = true
		m.appendEntry(entrySent, formatCommand(in.Verb, in.Groups))
		session := m.session
		return m, func() tea.Msg {
			batch, err := session.Exchange(in.Verb, in.Groups...)
			return exchangeDoneMsg{batch: batch, err: err}
		}
	}
	return m, nil
}

func (m ConsoleModel) startQuit() (tea.Model, tea.Cmd) {
	m.busy = true
	session := m.session
	return m, func() tea.Msg {
		return quitDoneMsg{err: session.Quit()}
	}
}

// recallInput moves through previously submitted lines.
func (m *ConsoleModel) recallInput(delta int) {
	if len(m.inputs) == 0 {
		return
	}
	m.recall = min(max(m.recall+delta, 0), len(m.inputs))
	if m.recall == len(m.inputs) {
		m.input.SetValue("")
		return
	}
	m.input.SetValue(m.inputs[m.recall])
	m.input.CursorEnd()
}

func (m *ConsoleModel) appendEntry(kind entryKind, text string) {
	m.history = append(m.history, entry{kind: kind, text: text})
}

// Err returns the error of the final quit, if any.
func (m ConsoleModel) Err() error {
	return m.err
}

// View implements tea.Model.
func (m ConsoleModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(m.title))
	b.WriteString("\n")

	lines := m.historyLines()
	if limit := m.historyHeight(); limit > 0 && len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	b.WriteString(BoxStyle.Render(strings.Join(lines, "\n")))
	b.WriteString("\n")

	if m.busy {
		b.WriteString(LabelStyle.Render("waiting for worker…"))
	} else {
		b.WriteString(m.input.View())
	}

	help := HelpStyle.Render("enter send • ↑/↓ history • ctrl+l clear • esc quit")
	return b.String() + "\n" + help
}

// historyHeight is the number of history lines that fit the window.
func (m ConsoleModel) historyHeight() int {
	if m.height == 0 {
		return 0
	}
	// title, margin, box borders, prompt, help
	return max(m.height-8, 3)
}

func (m ConsoleModel) historyLines() []string {
	var lines []string
	for _, e := range m.history {
		prefix := ""
		switch e.kind {
		case entrySent:
			prefix = "→ "
		case entryReceived:
			prefix = "← "
		case entryDiagnostic:
			prefix = "! "
		case entryError:
			prefix = "✗ "
		}
		for _, line := range strings.Split(e.text, "\n") {
			lines = append(lines, kindStyle(e.kind).Render(prefix+line))
			prefix = strings.Repeat(" ", len([]rune(prefix)))
		}
	}
	if len(lines) == 0 {
		lines = append(lines, LabelStyle.Render("(empty)"))
	}
	return lines
}

// formatCommand prints a command on one line: the verb and its groups.
func formatCommand(verb any, groups []types.Group) string {
	return formatBatch(&types.ResultBatch{Verb: verb, Groups: groups})
}

// formatBatch prints a batch on one line: the verb and its groups.
func formatBatch(batch *types.ResultBatch) string {
	view := render.NewBatchView(batch)
	parts := make([]string, 0, len(view.Groups)+1)
	parts = append(parts, fmt.Sprint(view.Verb))
	for _, g := range view.Groups {
		parts = append(parts, formatGroup(g))
	}
	return strings.Join(parts, " ")
}

func formatGroup(g []any) string {
	parts := make([]string, len(g))
	for i, v := range g {
		if s, ok := v.(string); ok {
			parts[i] = fmt.Sprintf("%q", s)
			continue
		}
		parts[i] = fmt.Sprint(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// RunConsole runs the interactive console until the user quits. A nil error
// means the quit verb was sent; stopping the worker is left to the caller.
func RunConsole(title string, session Exchanger) error {
	p := tea.NewProgram(NewConsoleModel(title, session), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return err
	}
	if m, ok := final.(ConsoleModel); ok {
		return m.Err()
	}
	return nil
}
