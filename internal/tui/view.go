package tui

import (
	"fmt"
	"strings"

	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/loomdev/loom/internal/session"
)

const sidebarWidth = 34

var (
	sidebarStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	transcriptStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().Bold(true).Reverse(true)

	statusStyle = lipgloss.NewStyle().Faint(true)

	flashStyle = lipgloss.NewStyle().Bold(true)
)

// View renders the shell.
func (m *Model) View() tea.View {
	var v tea.View
	v.AltScreen = true

	if m.width == 0 || m.height == 0 {
		v.SetContent("Loading...")
		return v
	}

	contentHeight := m.height - 3

	sidebar := sidebarStyle.
		Width(sidebarWidth).
		Height(contentHeight).
		Render(m.renderSidebar(contentHeight))

	transcript := transcriptStyle.
		Width(m.width - sidebarWidth - 4).
		Height(contentHeight).
		Render(m.renderTranscript(contentHeight))

	panels := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, transcript)
	view := lipgloss.JoinVertical(lipgloss.Left, panels, m.renderFooter())

	v.SetContent(view)
	return v
}

func (m *Model) renderSidebar(height int) string {
	if len(m.snapshots) == 0 {
		return "No sessions.\n\nPress n to create one."
	}

	var b strings.Builder
	for i, snap := range m.snapshots {
		if i >= height {
			break
		}
		line := sessionLine(snap)
		if i == m.selected {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func sessionLine(snap session.Snapshot) string {
	title := snap.Session.Title
	if title == "" {
		title = snap.Session.BranchName
	}
	marker := " "
	if snap.Busy {
		marker = "*"
	}
	return fmt.Sprintf("%s %-12s %s", marker, "["+snap.Session.Status.String()+"]", title)
}

func (m *Model) renderTranscript(height int) string {
	snap := m.current()
	if snap == nil {
		return ""
	}

	header := statusStyle.Render(fmt.Sprintf("%s · %s · %s",
		snap.Session.BranchName, snap.TokensDisplay, snap.AgeDisplay))

	// Tail the transcript to the visible height.
	lines := strings.Split(snap.Transcript, "\n")
	if len(lines) > height-2 {
		lines = lines[len(lines)-(height-2):]
	}
	return header + "\n" + strings.Join(lines, "\n")
}

func (m *Model) renderFooter() string {
	if m.inputMode {
		return "> " + m.input + "█"
	}
	if m.flash != "" {
		return flashStyle.Render(m.flash)
	}
	return statusStyle.Render("n new · enter prompt · p pr · M merge · r review · x cancel · D delete · q quit")
}
