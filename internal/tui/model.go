package tui

import (
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/npratt/coachrun/internal/activity"
)

// activityMsg carries a tracker snapshot.
type activityMsg activity.Activity

// updatesClosedMsg signals the snapshot channel closed.
type updatesClosedMsg struct{}

// model is the bubbletea model for the inline indicator.
type model struct {
	updates     <-chan activity.Activity
	onInterrupt func()

	spinner  spinner.Model
	activity activity.Activity
	width    int
	quitting bool
}

func newModel(updates <-chan activity.Activity, onInterrupt func()) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.Spinner
	return model{
		updates:     updates,
		onInterrupt: onInterrupt,
		spinner:     s,
		activity:    activity.Activity{Phase: activity.PhaseIdle},
	}
}

func waitForActivity(ch <-chan activity.Activity) tea.Cmd {
	return func() tea.Msg {
		a, ok := <-ch
		if !ok {
			return updatesClosedMsg{}
		}
		return activityMsg(a)
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForActivity(m.updates))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case activityMsg:
		m.activity = activity.Activity(msg)
		return m, waitForActivity(m.updates)

	case updatesClosedMsg:
		m.quitting = true
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			if m.onInterrupt != nil {
				m.onInterrupt()
			}
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) View() string {
	if m.quitting || m.activity.Phase == activity.PhaseIdle {
		return ""
	}

	var icon string
	switch m.activity.Phase {
	case activity.PhaseDone:
		icon = styles.Done.Render("✓")
	case activity.PhaseError:
		icon = styles.Error.Render("✗")
	default:
		icon = m.spinner.View()
	}

	line := icon + " " + styles.Phase.Render(PhaseLabel(m.activity.Phase))
	if m.activity.Elapsed > 0 {
		line += " " + styles.Elapsed.Render(FormatElapsed(m.activity.Elapsed))
	}
	if tools := FormatTools(m.activity.ToolCalls); tools != "" {
		line += "  " + styles.Tools.Render(tools)
	}
	if m.width > 0 {
		line = truncateLine(line, m.width)
	}
	return line + "\n"
}
