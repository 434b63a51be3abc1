package report

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
)

// teaProgram abstracts bubbletea.Program for testing.
type teaProgram interface {
	Send(tea.Msg)
}

// logMsg carries a rendered event line for the viewport.
type logMsg struct{ line string }

// eventMsg carries the event itself for the vitals table and counters.
type eventMsg struct{ Event }

const maxLogLines = 500

// TUI renders events using a bubbletea program.
type TUI struct {
	program    teaProgram
	done       chan struct{}
	sendSignal atomic.Bool
}

// NewTUI starts a bubbletea program and returns a TUI reporter. Quitting the
// program interrupts the process so the running session stops.
func NewTUI(title string) *TUI {
	w := &TUI{done: make(chan struct{})}
	w.sendSignal.Store(true)
	p := tea.NewProgram(newTUIModel(title), tea.WithAltScreen())
	w.program = p
	go func() {
		_, _ = p.Run()
		close(w.done)
		if w.sendSignal.Load() {
			if proc, err := os.FindProcess(os.Getpid()); err == nil {
				_ = proc.Signal(os.Interrupt)
			}
		}
	}()
	return w
}

// Report implements Reporter.
func (w *TUI) Report(e Event) error {
	w.program.Send(logMsg{line: formatLine(e, ansi)})
	w.program.Send(eventMsg{e})
	return nil
}

// Close shuts down the TUI program and waits for cleanup.
func (w *TUI) Close() error {
	w.sendSignal.Store(false)
	if w.program != nil {
		w.program.Send(tea.Quit())
	}
	if w.done != nil {
		<-w.done
	}
	return nil
}

type tuiModel struct {
	title      string
	table      table.Model
	vp         viewport.Model
	logs       []string
	latest     map[string]Event
	sent       int
	confirmed  int
	failed     int
	commands   int
	wrap       bool
	autoscroll bool
	width      int
	height     int
}

func newTUIModel(title string) tuiModel {
	cols := []table.Column{
		{Title: "Device", Width: 18},
		{Title: "Time", Width: 20},
		{Title: "HR", Width: 4},
		{Title: "BP", Width: 7},
		{Title: "Temp", Width: 5},
		{Title: "SpO2", Width: 4},
		{Title: "RR", Width: 5},
		{Title: "Status", Width: 9},
	}
	t := table.New(table.WithColumns(cols), table.WithHeight(2))
	return tuiModel{
		title:      title,
		table:      t,
		vp:         viewport.New(0, 0),
		latest:     make(map[string]Event),
		autoscroll: true,
	}
}

func (m tuiModel) Init() tea.Cmd { return nil }

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(msg.Width)
		m.vp.Width = msg.Width
		m.updateViewportHeight()
		m.refreshViewport()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "w":
			m.wrap = !m.wrap
			m.refreshViewport()
		case "s":
			m.autoscroll = !m.autoscroll
			if m.autoscroll {
				m.vp.GotoBottom()
			}
		default:
			var cmd tea.Cmd
			m.vp, cmd = m.vp.Update(msg)
			return m, cmd
		}
	case logMsg:
		m.logs = append(m.logs, msg.line)
		if len(m.logs) > maxLogLines {
			m.logs = m.logs[len(m.logs)-maxLogLines:]
		}
		m.refreshViewport()
	case eventMsg:
		m.apply(msg.Event)
	}
	return m, nil
}

func (m *tuiModel) apply(e Event) {
	switch e.Kind {
	case KindTelemetry:
		m.sent++
		m.latest[e.DeviceID] = e
		m.refreshTable()
	case KindConfirmation:
		if e.OK {
			m.confirmed++
		} else {
			m.failed++
		}
	case KindCommand:
		m.commands++
	case KindUpload, KindDispatch:
		if !e.OK {
			m.failed++
		}
	}
}

func (m *tuiModel) refreshTable() {
	ids := make([]string, 0, len(m.latest))
	for id := range m.latest {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	rows := make([]table.Row, 0, len(ids))
	for _, id := range ids {
		s, ok := m.latest[id].snapshot()
		if !ok {
			continue
		}
		rows = append(rows, table.Row{
			id,
			s.Timestamp.UTC().Format(time.RFC3339),
			fmt.Sprintf("%d", s.HeartRate),
			fmt.Sprintf("%d/%d", s.Systolic, s.Diastolic),
			fmt.Sprintf("%.1f", s.TemperatureC),
			fmt.Sprintf("%d", s.SpO2),
			fmt.Sprintf("%.1f", s.RespiratoryRate),
			string(s.Status),
		})
	}
	m.table.SetRows(rows)
	m.table.SetHeight(len(rows) + 1)
	m.updateViewportHeight()
}

func (m *tuiModel) updateViewportHeight() {
	h := m.height - lipgloss.Height(m.renderHeader()) - lipgloss.Height(m.renderBottom()) - 2
	if h < 0 {
		h = 0
	}
	m.vp.Height = h
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m *tuiModel) refreshViewport() {
	var lines []string
	for _, l := range m.logs {
		if m.wrap && m.vp.Width > 0 {
			lines = append(lines, wordwrap.String(l, m.vp.Width))
		} else {
			lines = append(lines, l)
		}
	}
	m.vp.SetContent(strings.Join(lines, "\n"))
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m tuiModel) View() string {
	divider := strings.Repeat("─", m.vp.Width)
	return strings.Join([]string{
		m.renderHeader(),
		divider,
		m.vp.View(),
		divider,
		m.renderBottom(),
	}, "\n")
}

func (m tuiModel) renderHeader() string {
	title := lipgloss.NewStyle().Bold(true).Render(m.title)
	return lipgloss.JoinVertical(lipgloss.Left, title, m.table.View())
}

func (m tuiModel) renderBottom() string {
	on := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render("●")
	off := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Render("●")
	ind := func(b bool) string {
		if b {
			return on
		}
		return off
	}
	return fmt.Sprintf("sent %d  confirmed %d  failed %d  commands %d   %s wrap [w]  %s scroll [s]  quit [q]",
		m.sent, m.confirmed, m.failed, m.commands, ind(m.wrap), ind(m.autoscroll))
}
