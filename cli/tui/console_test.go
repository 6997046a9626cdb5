package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/justapithecus/spawnwire/types"
)

type fakeSession struct {
	sent       []types.Command
	quits      int
	exchange   func(verb any, groups []types.Group) (*types.ResultBatch, error)
	diagnostic string
	capturing  bool
}

func (s *fakeSession) Exchange(verb any, groups ...types.Group) (*types.ResultBatch, error) {
	s.sent = append(s.sent, types.Command{Verb: verb, Groups: groups})
	if s.exchange != nil {
		return s.exchange(verb, groups)
	}
	return &types.ResultBatch{Verb: verb, Groups: groups}, nil
}

func (s *fakeSession) Quit() error {
	s.quits++
	return nil
}

func (s *fakeSession) DiagnosticContents() (string, bool) {
	return s.diagnostic, s.capturing
}

// typeLine types text into the model and presses enter, running any command
// the model returns and feeding its message back.
func typeLine(t *testing.T, m ConsoleModel, text string) (ConsoleModel, tea.Cmd) {
	t.Helper()
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
	m = next.(ConsoleModel)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return next.(ConsoleModel), cmd
}

func deliver(m ConsoleModel, cmd tea.Cmd) (ConsoleModel, tea.Cmd) {
	if cmd == nil {
		return m, nil
	}
	next, follow := m.Update(cmd())
	return next.(ConsoleModel), follow
}

func lastEntry(m ConsoleModel) entry {
	return m.history[len(m.history)-1]
}

func TestConsole_Exchange(t *testing.T) {
	session := &fakeSession{}
	m := NewConsoleModel("worker", session)

	m, cmd := typeLine(t, m, `PING [1, 2] ["x"]`)
	if !m.busy {
		t.Error("busy = false while exchange in flight")
	}
	if got := lastEntry(m); got.kind != entrySent || got.text != `PING [1, 2] ["x"]` {
		t.Errorf("sent entry = %+v", got)
	}
	if cmd == nil {
		t.Fatal("no exchange command returned")
	}

	m, _ = deliver(m, cmd)
	if m.busy {
		t.Error("busy = true after exchange finished")
	}
	if len(session.sent) != 1 || session.sent[0].Verb != "PING" {
		t.Fatalf("sent = %#v", session.sent)
	}
	if got := lastEntry(m); got.kind != entryReceived || got.text != `PING [1, 2] ["x"]` {
		t.Errorf("received entry = %+v", got)
	}
	if m.input.Value() != "" {
		t.Errorf("input not cleared: %q", m.input.Value())
	}
}

func TestConsole_ExchangeError(t *testing.T) {
	session := &fakeSession{
		exchange: func(any, []types.Group) (*types.ResultBatch, error) {
			return nil, errors.New("unexpected end of stream")
		},
	}
	m := NewConsoleModel("worker", session)

	m, cmd := typeLine(t, m, "PING")
	m, _ = deliver(m, cmd)
	if got := lastEntry(m); got.kind != entryError || got.text != "unexpected end of stream" {
		t.Errorf("error entry = %+v", got)
	}
}

func TestConsole_ParseErrorKeepsInput(t *testing.T) {
	m := NewConsoleModel("worker", &fakeSession{})

	m, cmd := typeLine(t, m, "PING []")
	if cmd != nil {
		t.Error("command returned for invalid input")
	}
	if got := lastEntry(m); got.kind != entryError {
		t.Errorf("entry = %+v, want error", got)
	}
	if m.input.Value() != "PING []" {
		t.Errorf("input = %q, want it kept for editing", m.input.Value())
	}
}

func TestConsole_Diagnostics(t *testing.T) {
	session := &fakeSession{capturing: true, diagnostic: "warn: low memory"}
	m := NewConsoleModel("worker", session)

	m, _ = typeLine(t, m, ":stderr")
	if got := lastEntry(m); got.kind != entryDiagnostic || got.text != "warn: low memory" {
		t.Errorf("diagnostic entry = %+v", got)
	}

	session.capturing = false
	m, _ = typeLine(t, m, ":stderr")
	if got := lastEntry(m); got.kind != entryInfo || !strings.Contains(got.text, "not captured") {
		t.Errorf("entry = %+v", got)
	}
}

func TestConsole_Quit(t *testing.T) {
	session := &fakeSession{}
	m := NewConsoleModel("worker", session)

	m, cmd := typeLine(t, m, ":quit")
	m, follow := deliver(m, cmd)
	if session.quits != 1 {
		t.Errorf("quits = %d, want 1", session.quits)
	}
	if !m.quitting {
		t.Error("quitting = false after quit")
	}
	if follow == nil {
		t.Fatal("no tea.Quit command")
	}
	if _, ok := follow().(tea.QuitMsg); !ok {
		t.Error("follow-up command is not tea.Quit")
	}
	if m.View() != "" {
		t.Error("View() not empty after quit")
	}
}

func TestConsole_EscQuits(t *testing.T) {
	session := &fakeSession{}
	m := NewConsoleModel("worker", session)

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m, _ = deliver(next.(ConsoleModel), cmd)
	if session.quits != 1 || !m.quitting {
		t.Errorf("quits = %d quitting = %v", session.quits, m.quitting)
	}
}

func TestConsole_IgnoresKeysWhileBusy(t *testing.T) {
	session := &fakeSession{}
	m := NewConsoleModel("worker", session)

	m, _ = typeLine(t, m, "PING")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(ConsoleModel)
	if cmd != nil || len(session.sent) != 0 {
		t.Error("second command accepted while exchange in flight")
	}
	if !m.busy {
		t.Error("busy cleared by key press")
	}
}

func TestConsole_QuitKeyWhileBusy(t *testing.T) {
	for _, k := range []tea.KeyType{tea.KeyCtrlC, tea.KeyEsc} {
		session := &fakeSession{}
		m := NewConsoleModel("worker", session)

		m, _ = typeLine(t, m, "PING")
		next, cmd := m.Update(tea.KeyMsg{Type: k})
		m = next.(ConsoleModel)
		if cmd == nil {
			t.Fatalf("%v: no command while busy, want tea.Quit", k)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("%v: command is not tea.Quit", k)
		}
		if session.quits != 0 {
			t.Errorf("%v: quits = %d, want 0 while the worker owes an answer", k, session.quits)
		}
		if !errors.Is(m.Err(), ErrInterrupted) {
			t.Errorf("%v: Err() = %v, want ErrInterrupted", k, m.Err())
		}
	}
}

func TestConsole_HistoryRecall(t *testing.T) {
	m := NewConsoleModel("worker", &fakeSession{})

	m, cmd := typeLine(t, m, "A")
	m, _ = deliver(m, cmd)
	m, cmd = typeLine(t, m, "B")
	m, _ = deliver(m, cmd)

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = next.(ConsoleModel)
	if m.input.Value() != "B" {
		t.Errorf("after up: input = %q, want B", m.input.Value())
	}
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = next.(ConsoleModel)
	if m.input.Value() != "A" {
		t.Errorf("after up twice: input = %q, want A", m.input.Value())
	}
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	next, _ = next.(ConsoleModel).Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(ConsoleModel)
	if m.input.Value() != "" {
		t.Errorf("after down past end: input = %q, want empty", m.input.Value())
	}
}

func TestConsole_ViewShowsHistory(t *testing.T) {
	m := NewConsoleModel("spawnwire: worker", &fakeSession{})
	m, cmd := typeLine(t, m, "PING [1]")
	m, _ = deliver(m, cmd)

	view := m.View()
	for _, want := range []string{"spawnwire: worker", "PING [1]", "esc quit"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q:\n%s", want, view)
		}
	}
}

func TestFormatBatch(t *testing.T) {
	batch := &types.ResultBatch{
		Verb:   int64(3),
		Groups: []types.Group{{[]byte("name"), int64(-1)}, {[]byte{0xde, 0xad}}, {[]byte{0xff}}},
	}
	got := formatBatch(batch)
	want := `3 ["name", -1] ["0xdead"] ["0xff"]`
	if got != want {
		t.Errorf("formatBatch() = %q, want %q", got, want)
	}
}
