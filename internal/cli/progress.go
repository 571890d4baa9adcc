package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"

	"github.com/raphaelgruber/reelqueue/internal/client"
	"github.com/raphaelgruber/reelqueue/internal/models"
)

const pollInterval = time.Second

// tickMsg triggers polling the project status
type tickMsg time.Time

// projectUpdateMsg carries the updated project data
type projectUpdateMsg struct {
	project *models.ProjectSnapshot
	err     error
}

// progressModel is the bubbletea model for project progress.
type progressModel struct {
	client    *client.Client
	projectID string
	project   *models.ProjectSnapshot
	progress  progress.Model
	theme     Theme
	done      bool
	quitting  bool
	err       error
}

// newProgressModel creates a new progress model.
func newProgressModel(c *client.Client, projectID string) progressModel {
	// Create progress bar with color blend
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		client:    c,
		projectID: projectID,
		progress:  prog,
		theme:     defaultTheme,
	}
}

// Init returns the initial command (fetch immediately, then poll).
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		m.fetchProject(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		// Fetch project status
		return m, m.fetchProject()

	case projectUpdateMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("failed to fetch project status: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}

		m.project = msg.project

		// Check for terminal states
		switch m.project.Status {
		case models.StatusCompleted:
			m.done = true
			return m, tea.Quit
		case models.StatusFailed, models.StatusCancelled:
			m.done = true
			if m.project.ErrorMessage != "" {
				m.err = fmt.Errorf("%s", m.project.ErrorMessage)
			} else {
				m.err = fmt.Errorf("project %s", m.project.Status)
			}
			return m, tea.Quit
		}

		// Continue polling for running projects
		return m, tickCmd()

	case progress.FrameMsg:
		// Update progress bar animation
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m progressModel) renderContent() string {
	if m.done {
		return m.finalView()
	}

	if m.project == nil {
		return "Loading project status...\n"
	}

	pct := float64(m.project.Progress) / 100

	// Status line with color
	label := string(m.project.Status)
	if m.project.Status == models.StatusQueued {
		label = "queued, waiting for capacity"
	}
	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", label))

	progressBar := m.progress.ViewAs(pct)
	counts := fmt.Sprintf("%3d%%", m.project.Progress)

	// Hint about background operation
	hint := m.theme.hintStyle().Render("Press Ctrl+C to continue in background")

	return fmt.Sprintf("%s %s %s\n%s\n", status, progressBar, counts, hint)
}

// finalView renders the completion message.
func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nProject %s continues in background.\nUse 'reelqueue projects %s' to check status.\n",
			m.projectID, m.projectID)
		return m.theme.hintStyle().Render(msg)
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Project failed: %s\n", m.err))
	}

	var b strings.Builder
	b.WriteString(m.theme.completedStyle().Render("✓ Completed") + "\n")
	if p := m.project; p != nil {
		fmt.Fprintf(&b, "\n  Took:      %s\n", formatDuration(elapsed(*p)))
		if len(p.OutputArtifacts) > 0 {
			fmt.Fprintf(&b, "  Artifacts: %d\n", len(p.OutputArtifacts))
			for _, a := range p.OutputArtifacts {
				fmt.Fprintf(&b, "    • %s\n", a)
			}
		}
	}
	return b.String()
}

// fetchProject fetches the current project status from the server.
// Runs in a separate goroutine (command) to avoid blocking Update().
func (m progressModel) fetchProject() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		p, err := m.client.Project(ctx, m.projectID)
		return projectUpdateMsg{project: p, err: err}
	}
}

// tickCmd returns a command that sends a tick after the poll interval.
func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// RunProjectProgress runs the interactive progress UI for a project.
// Returns nil on success or Ctrl+C (background), error on project failure.
func RunProjectProgress(c *client.Client, projectID string) error {
	model := newProgressModel(c, projectID)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	// Check final state
	if m, ok := finalModel.(progressModel); ok {
		// If user quit with Ctrl+C, project continues in background - not an error
		if m.quitting {
			return nil
		}
		if m.err != nil {
			return m.err
		}
	}

	return nil
}
