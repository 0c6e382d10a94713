// Command textlsm is the interactive textual command prompt described
// by the engine's spec as an external collaborator: it only calls the
// engine's public operations and renders results.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/arjunvdev/textlsm/engine"
)

var (
	promptStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00FFFF"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	historyLines = 200
)

func main() {
	dir := flag.String("dir", "data", "data directory (SSTables + tombstone log live here)")
	flush := flag.Int("flush", 0, "flush threshold in bytes (0 disables automatic flush)")
	flag.Parse()

	opts := engine.DefaultOptions()
	opts.Dir = *dir
	opts.FlushThreshold = *flush

	eng, err := engine.Open(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	defer func() { _ = eng.Close() }()

	p := tea.NewProgram(initialModel(eng))
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type model struct {
	eng     *engine.Engine
	input   textinput.Model
	history []string
	quitting bool
}

func initialModel(eng *engine.Engine) model {
	ti := textinput.New()
	ti.Placeholder = "write <key> <value>   |   help"
	ti.Focus()
	ti.CharLimit = 400
	ti.Width = 60

	return model{
		eng: eng,
		input: ti,
		history: []string{
			dimStyle.Render("textlsm — write/w, read/r, delete/d, dump, print/p, clear/c, compact/comp, test/t, q"),
		},
	}
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			line := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if line == "" {
				return m, nil
			}
			m.history = append(m.history, promptStyle.Render("> ")+line)
			out, quit := m.dispatch(line)
			if out != "" {
				m.history = append(m.history, out)
			}
			if len(m.history) > historyLines {
				m.history = m.history[len(m.history)-historyLines:]
			}
			if quit {
				m.quitting = true
				return m, tea.Quit
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) View() string {
	var b strings.Builder
	for _, line := range m.history {
		b.WriteString(line)
		b.WriteString("\n")
	}
	if !m.quitting {
		b.WriteString(m.input.View())
	}
	return b.String()
}

// dispatch runs one command line against the engine and returns the
// rendered output line and whether the session should quit.
func (m model) dispatch(line string) (string, bool) {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "write", "w":
		if len(args) != 2 {
			return errStyle.Render("usage: write <key> <value>"), false
		}
		if err := m.eng.Write([]byte(args[0]), []byte(args[1])); err != nil {
			return errStyle.Render(err.Error()), false
		}
		return okStyle.Render("ok"), false

	case "read", "r":
		if len(args) != 1 {
			return errStyle.Render("usage: read <key>"), false
		}
		v, err := m.eng.Read([]byte(args[0]))
		if err != nil {
			return dimStyle.Render("(not found)"), false
		}
		return string(v), false

	case "delete", "d":
		if len(args) != 1 {
			return errStyle.Render("usage: delete <key>"), false
		}
		if err := m.eng.Delete([]byte(args[0])); err != nil {
			return errStyle.Render(err.Error()), false
		}
		return okStyle.Render("ok"), false

	case "dump":
		if err := m.eng.Flush(); err != nil {
			return errStyle.Render(err.Error()), false
		}
		return okStyle.Render("flushed"), false

	case "print", "p":
		kvs := m.eng.EnumerateMemtable()
		var b strings.Builder
		for _, kv := range kvs {
			fmt.Fprintf(&b, "%s=%s\n", kv.Key, kv.Value)
		}
		stats := m.eng.Stats()
		fmt.Fprintf(&b, dimStyle.Render("%d keys in memtable, %d bytes charged, %d flushes, %d compactions"),
			len(kvs), m.eng.ByteCount(), stats.FlushCount, stats.CompactionRuns)
		return b.String(), false

	case "clear", "c":
		if err := m.eng.ClearAll(); err != nil {
			return errStyle.Render(err.Error()), false
		}
		return okStyle.Render("cleared"), false

	case "compact", "comp":
		if err := m.eng.Compact(); err != nil {
			return errStyle.Render(err.Error()), false
		}
		return okStyle.Render("compacted"), false

	case "test", "t":
		return runSmokeTest(m.eng), false

	case "help", "h":
		return dimStyle.Render("write/w read/r delete/d dump print/p clear/c compact/comp test/t q"), false

	case "q", "quit", "exit":
		return dimStyle.Render("bye"), true

	default:
		return errStyle.Render("unknown command: " + cmd), false
	}
}

// runSmokeTest exercises the round-trip laws from the engine's spec:
// write, read it back, flush, read again, delete, confirm absence.
func runSmokeTest(eng *engine.Engine) string {
	key, value := []byte("__textlsm_smoke__"), []byte("ok")
	if err := eng.Write(key, value); err != nil {
		return errStyle.Render("write failed: " + err.Error())
	}
	if v, err := eng.Read(key); err != nil || string(v) != string(value) {
		return errStyle.Render("read-after-write mismatch")
	}
	if err := eng.Flush(); err != nil {
		return errStyle.Render("flush failed: " + err.Error())
	}
	if v, err := eng.Read(key); err != nil || string(v) != string(value) {
		return errStyle.Render("read-after-flush mismatch")
	}
	if err := eng.Delete(key); err != nil {
		return errStyle.Render("delete failed: " + err.Error())
	}
	if _, err := eng.Read(key); err == nil {
		return errStyle.Render("read-after-delete should have failed")
	}
	return okStyle.Render("smoke test passed")
}
