// Package tui is the minimal terminal shell over the controller: a
// sessions sidebar, the selected session's transcript, and a prompt line.
// The reducer runs inside Update, so the bus is drained on the UI's
// single event-loop goroutine.
package tui

import (
	"time"

	tea "charm.land/bubbletea/v2"

	"github.com/loomdev/loom/internal/bus"
	"github.com/loomdev/loom/internal/controller"
	"github.com/loomdev/loom/internal/logger"
	"github.com/loomdev/loom/internal/session"
)

// tickInterval is the low-frequency safety refresh.
const tickInterval = 200 * time.Millisecond

// busEventMsg wraps one bus event for the reducer.
type busEventMsg struct {
	event bus.Event
}

// tickMsg drives the periodic refresh.
type tickMsg time.Time

// Model is the Bubble Tea model hosting the controller.
type Model struct {
	ctl *controller.Controller

	width  int
	height int

	snapshots []session.Snapshot
	selected  int

	inputMode bool
	input     string
	flash     string

	quitting bool
}

// New returns the shell model.
func New(ctl *controller.Controller) *Model {
	return &Model{ctl: ctl}
}

// Init starts the bus listener and the refresh tick.
func (m *Model) Init() tea.Cmd {
	m.refresh()
	return tea.Batch(m.listenForEvents(), tick())
}

func (m *Model) listenForEvents() tea.Cmd {
	ch := m.ctl.Bus().Events()
	return func() tea.Msg {
		return busEventMsg{event: <-ch}
	}
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// refresh re-reads snapshots after each event tick.
func (m *Model) refresh() {
	m.snapshots = m.ctl.Snapshots()
	if m.selected >= len(m.snapshots) {
		m.selected = len(m.snapshots) - 1
	}
	if m.selected < 0 {
		m.selected = 0
	}
}

func (m *Model) current() *session.Snapshot {
	if len(m.snapshots) == 0 {
		return nil
	}
	return &m.snapshots[m.selected]
}

// Update handles messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case busEventMsg:
		m.ctl.Reduce(msg.event)
		m.refresh()
		return m, m.listenForEvents()

	case tickMsg:
		m.ctl.Reduce(bus.Tick{})
		m.refresh()
		return m, tick()

	case tea.KeyPressMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if key == "ctrl+c" {
		return m.quit()
	}

	if m.inputMode {
		return m.handleInputKey(msg)
	}

	switch key {
	case "q":
		return m.quit()
	case "j", "down":
		if m.selected < len(m.snapshots)-1 {
			m.selected++
		}
	case "k", "up":
		if m.selected > 0 {
			m.selected--
		}
	case "n":
		if _, err := m.ctl.CreateSession(m.ctl.ActiveProject()); err != nil {
			m.flash = err.Error()
		}
		m.refresh()
	case "enter", "i":
		if snap := m.current(); snap != nil {
			m.inputMode = true
			m.input = ""
		}
	case "p":
		if snap := m.current(); snap != nil {
			if err := m.ctl.CreatePullRequest(snap.Session.ID); err != nil {
				m.flash = err.Error()
			}
		}
	case "M":
		if snap := m.current(); snap != nil {
			if err := m.ctl.LocalMerge(snap.Session.ID); err != nil {
				m.flash = err.Error()
			}
		}
	case "r":
		if snap := m.current(); snap != nil {
			if err := m.ctl.FocusedReview(snap.Session.ID); err != nil {
				m.flash = err.Error()
			}
		}
	case "x", "esc":
		if snap := m.current(); snap != nil {
			m.ctl.CancelSession(snap.Session.ID)
		}
	case "D":
		if snap := m.current(); snap != nil {
			if err := m.ctl.DeleteSession(snap.Session.ID); err != nil {
				m.flash = err.Error()
			}
		}
	}
	return m, nil
}

func (m *Model) handleInputKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch key := msg.String(); key {
	case "esc":
		m.inputMode = false
		m.input = ""
	case "enter":
		m.inputMode = false
		text := m.input
		m.input = ""
		if snap := m.current(); snap != nil && text != "" {
			if err := m.ctl.SubmitPrompt(snap.Session.ID, text); err != nil {
				m.flash = err.Error()
			}
		}
	case "backspace":
		if len(m.input) > 0 {
			m.input = m.input[:len(m.input)-1]
		}
	case "space":
		m.input += " "
	default:
		if len(key) == 1 {
			m.input += key
		}
	}
	return m, nil
}

func (m *Model) quit() (tea.Model, tea.Cmd) {
	logger.Info("TUI: quitting")
	m.quitting = true
	m.ctl.Shutdown()
	return m, tea.Quit
}
