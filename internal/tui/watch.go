// Package tui renders a live terminal view of the monitor state.
//
// Follows the elm architecture: the model holds all state, Update is a pure
// state transition, View renders to string. The engine is polled on a timer;
// its State() call never blocks, so the UI stays responsive regardless of
// tick activity.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/procsentry/procsentry/internal/monitor"
	"github.com/procsentry/procsentry/internal/snapshot"
)

const refreshEvery = time.Second

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	labelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(14)
	activeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	inactiveStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Model is the bubbletea model for the watch view.
type Model struct {
	engine *monitor.Engine

	state   monitor.State
	changes int
	width   int
	height  int
}

// New creates a watch model over a started engine.
func New(engine *monitor.Engine) Model {
	return Model{engine: engine}
}

// Run starts the watch UI and blocks until the user quits.
func Run(engine *monitor.Engine) error {
	p := tea.NewProgram(New(engine), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tickCmd()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		prev := m.state.LastUpdate
		m.state = m.engine.State()
		if !m.state.LastUpdate.IsZero() && !m.state.LastUpdate.Equal(prev) {
			m.changes++
		}
		return m, tickCmd()
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("procsentry — %s", m.engine.Target())))
	b.WriteString("  ")
	if m.state.IsActive {
		b.WriteString(activeStyle.Render("● active"))
	} else {
		b.WriteString(inactiveStyle.Render("○ inactive"))
	}
	b.WriteString("\n\n")

	snap := m.state.LastMetadata
	if snap == nil {
		b.WriteString(dimStyle.Render("waiting for first snapshot..."))
		b.WriteString("\n")
	} else {
		row(&b, "pid", fmt.Sprintf("%d", snap.PID))
		row(&b, "name", snap.Name)
		if snap.WindowTitle != "" {
			row(&b, "window", snap.WindowTitle)
		}
		if snap.Memory != nil {
			row(&b, "memory", humanize.IBytes(snap.Memory.RSS))
		}
		if snap.HandleCount > 0 {
			row(&b, "handles", fmt.Sprintf("%d", snap.HandleCount))
		}
		if len(snap.Windows) > 0 {
			row(&b, "windows", fmt.Sprintf("%d", len(snap.Windows)))
		}
		for _, session := range snap.MediaSessions {
			row(&b, "media", formatSession(session))
		}
	}

	if m.state.LastActiveWindow != nil {
		row(&b, "foreground", m.state.LastActiveWindow.Title)
	}
	if !m.state.LastUpdate.IsZero() {
		row(&b, "updated", fmt.Sprintf("%s (%d changes seen)",
			m.state.LastUpdate.Format("15:04:05"), m.changes))
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render("q to quit"))
	return b.String()
}

func row(b *strings.Builder, label, value string) {
	b.WriteString(labelStyle.Render(label))
	b.WriteString(value)
	b.WriteString("\n")
}

func formatSession(s snapshot.MediaSession) string {
	parts := make([]string, 0, 3)
	if s.Title != "" {
		parts = append(parts, s.Title)
	}
	if s.Artist != "" {
		parts = append(parts, s.Artist)
	}
	line := strings.Join(parts, " — ")
	if line == "" {
		line = s.PlayerName
	}
	if s.PlaybackStatus != "" {
		line = fmt.Sprintf("%s [%s]", line, s.PlaybackStatus)
	}
	return line
}
