package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/raphaelgruber/reelqueue/internal/models"
)

// Theme holds the color scheme for terminal output.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Warning    lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Warning:    lipgloss.Color("#FFAF00"), // amber
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

// Style functions for dynamic theming
func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) warningStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Warning)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

func (t Theme) headerStyle() lipgloss.Style {
	return lipgloss.NewStyle().Bold(true)
}

// styleStatus colors a status by outcome.
func (t Theme) styleStatus(s models.Status) string {
	switch {
	case s == models.StatusCompleted:
		return t.completedStyle().Render(string(s))
	case s == models.StatusFailed:
		return t.errorStyle().Render(string(s))
	case s == models.StatusCancelled:
		return t.warningStyle().Render(string(s))
	case s.IsActive():
		return t.statusStyle().Render(string(s))
	default:
		return string(s)
	}
}

// formatDuration renders d compactly: 850ms, 42s, 3m12s, 1h04m.
func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// progressCell renders a fixed-width textual progress bar.
func progressCell(pct, width int) string {
	pct = min(max(pct, 0), 100)
	filled := pct * width / 100
	return fmt.Sprintf("[%s%s] %3d%%", strings.Repeat("#", filled), strings.Repeat(".", width-filled), pct)
}

// elapsed is how long a project has been running or ran.
func elapsed(p models.ProjectSnapshot) time.Duration {
	if p.StartedAt == nil {
		return 0
	}
	if p.CompletedAt != nil {
		return p.CompletedAt.Sub(*p.StartedAt)
	}
	return time.Since(*p.StartedAt)
}
