// Package tui renders the live monitor: a table of running instances
// above a scrolling feed of supervisor events. It observes through the
// event bus and the supervisor's display-safe listing only.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/scriptbox/scriptbox/internal/event"
	"github.com/scriptbox/scriptbox/internal/instance"
	"github.com/scriptbox/scriptbox/internal/supervisor"
)

const (
	refreshInterval = 500 * time.Millisecond
	maxFeedLines    = 500
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("240"))
	runningTag  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	stoppedTag  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	feedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

type eventMsg struct {
	event event.Event
}

type tickMsg time.Time

// Model is the bubbletea model for the monitor.
type Model struct {
	sup      *supervisor.Supervisor
	infos    []instance.Info
	feed     []string
	viewport viewport.Model
	width    int
	height   int
	sized    bool
}

// NewModel creates a monitor model over a supervisor.
func NewModel(sup *supervisor.Supervisor) Model {
	return Model{sup: sup}
}

// Run drives the monitor until the user quits or ctx is cancelled.
// Events published on bus appear in the feed as they happen.
func Run(ctx context.Context, sup *supervisor.Supervisor, bus *event.Bus) error {
	p := tea.NewProgram(NewModel(sup), tea.WithAltScreen(), tea.WithContext(ctx))

	subID := bus.SubscribeAll(func(e event.Event) {
		p.Send(eventMsg{event: e})
	})
	defer bus.Unsubscribe(subID)

	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		feedHeight := m.height - m.tableHeight() - 3
		if feedHeight < 3 {
			feedHeight = 3
		}
		if !m.sized {
			m.viewport = viewport.New(m.width, feedHeight)
			m.sized = true
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = feedHeight
		}
		m.viewport.SetContent(strings.Join(m.feed, "\n"))
		return m, nil

	case tickMsg:
		m.infos = m.sup.List()
		return m, tick()

	case eventMsg:
		m.feed = append(m.feed, formatEvent(msg.event))
		if len(m.feed) > maxFeedLines {
			m.feed = m.feed[len(m.feed)-maxFeedLines:]
		}
		if m.sized {
			m.viewport.SetContent(strings.Join(m.feed, "\n"))
			m.viewport.GotoBottom()
		}
		return m, nil
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("scriptbox monitor"))
	b.WriteString("\n\n")
	b.WriteString(m.instanceTable())
	b.WriteString("\n")
	if m.sized {
		b.WriteString(m.viewport.View())
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("q: quit"))
	return b.String()
}

// tableHeight is the number of lines the instance table occupies.
func (m Model) tableHeight() int {
	return len(m.infos) + 3
}

// instanceTable renders the live instance listing.
func (m Model) instanceTable() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-24s %-12s %-10s %s", "COMMAND", "ORIGIN", "STATE", "UPTIME")))
	b.WriteString("\n")

	if len(m.infos) == 0 {
		b.WriteString(feedStyle.Render("no instances running"))
		b.WriteString("\n")
		return b.String()
	}

	for _, info := range m.infos {
		state := runningTag.Render(info.State.String())
		if info.State != instance.StateRunning {
			state = stoppedTag.Render(info.State.String())
		}
		uptime := time.Since(info.StartedAt).Round(time.Second)
		b.WriteString(fmt.Sprintf("%-24s %-12s %-10s %s\n", info.ID, info.Origin, state, uptime))
	}
	return b.String()
}

// formatEvent renders one bus event as a feed line.
func formatEvent(e event.Event) string {
	stamp := e.Timestamp().Format("15:04:05")

	var body string
	switch ev := e.(type) {
	case event.CommandStartedEvent:
		body = fmt.Sprintf("%s started (%s)", ev.CommandID, ev.Origin)
		if ev.Replaced {
			body += " replacing previous instance"
		}
	case event.CommandReadyEvent:
		body = fmt.Sprintf("%s ready", ev.CommandID)
	case event.CommandFinishedEvent:
		body = fmt.Sprintf("%s finished: %s", ev.CommandID, ev.Outcome)
		if ev.Error != "" {
			body += " (" + ev.Error + ")"
		}
	case event.CommandStoppedEvent:
		body = fmt.Sprintf("%s stopped: %s", ev.CommandID, ev.Reason)
		if ev.Detail != "" {
			body += " (" + ev.Detail + ")"
		}
	case event.ScriptChangedEvent:
		body = fmt.Sprintf("script %s %s on disk", ev.CommandID, ev.Change)
	case event.UINoticeEvent:
		body = fmt.Sprintf("[%s] %s", ev.CommandID, ev.Text)
	default:
		body = e.EventType()
	}

	return feedStyle.Render(fmt.Sprintf("%s  %s", stamp, body))
}
