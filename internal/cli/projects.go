package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/reelqueue/internal/models"
)

var projectsStatus string

var projectsCmd = &cobra.Command{
	Use:   "projects [project-id]",
	Short: "List or inspect projects",
	Long: `List all projects, most recent first, or inspect a specific project by ID.

Examples:
  reelqueue projects                     # List all projects
  reelqueue projects --status failed     # Only failed projects
  reelqueue projects ab12cd34            # Show details for project ab12cd34`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProjects,
}

func init() {
	projectsCmd.Flags().StringVarP(&projectsStatus, "status", "s", "", "filter by status (queued, processing, completed, failed, cancelled, ...)")
}

func runProjects(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	out := cmd.OutOrStdout()

	// If project ID provided, show that specific project
	if len(args) == 1 {
		p, err := apiClient.Project(ctx, args[0])
		if err != nil {
			return fmt.Errorf("get project: %w", err)
		}
		printProject(out, *p)
		return nil
	}

	var status models.Status
	if projectsStatus != "" {
		st, err := models.ParseStatus(projectsStatus)
		if err != nil {
			return err
		}
		status = st
	}

	projects, err := apiClient.Projects(ctx, status)
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}
	printProjectList(out, projects)
	return nil
}

func printProjectList(w io.Writer, projects []models.ProjectSnapshot) {
	if len(projects) == 0 {
		fmt.Fprintln(w, "No projects found")
		return
	}

	t := defaultTheme
	fmt.Fprintf(w, "%-10s %-8s %-18s %-9s %-8s %-10s %s\n", "ID", "PRIORITY", "STATUS", "PROGRESS", "TIME", "SUBMITTED", "NAME")
	fmt.Fprintln(w, "----------------------------------------------------------------------------------------")

	for _, p := range projects {
		status := fmt.Sprintf("%-18s", p.Status)
		fmt.Fprintf(w, "%-10s %-8s %s %-9s %-8s %-10s %s\n",
			p.ID,
			p.Priority,
			t.styleStatus(p.Status)+status[len(p.Status):],
			fmt.Sprintf("%d%%", p.Progress),
			formatDuration(elapsed(p)),
			p.CreatedAt.Format("15:04:05"),
			p.DisplayName)
	}
}

func printProject(w io.Writer, p models.ProjectSnapshot) {
	t := defaultTheme

	fmt.Fprintf(w, "Project: %s\n", p.ID)
	fmt.Fprintf(w, "  Name: %s\n", p.DisplayName)
	fmt.Fprintf(w, "  Source: %s\n", p.SourcePath)
	if p.ClientID != "" {
		fmt.Fprintf(w, "  Client: %s\n", p.ClientID)
	}
	fmt.Fprintf(w, "  Priority: %s\n", p.Priority)
	fmt.Fprintf(w, "  Status: %s\n", t.styleStatus(p.Status))
	if p.CurrentStage != "" {
		fmt.Fprintf(w, "  Stage: %s\n", p.CurrentStage)
	}
	fmt.Fprintf(w, "  Progress: %s\n", progressCell(p.Progress, 30))
	fmt.Fprintf(w, "  Submitted: %s\n", p.CreatedAt.Format(time.RFC3339))
	if p.StartedAt != nil {
		fmt.Fprintf(w, "  Started: %s\n", p.StartedAt.Format(time.RFC3339))
	}
	if p.CompletedAt != nil {
		fmt.Fprintf(w, "  Finished: %s (took %s)\n", p.CompletedAt.Format(time.RFC3339), formatDuration(elapsed(p)))
	}
	if p.ErrorMessage != "" {
		fmt.Fprintf(w, "  Error: %s\n", t.errorStyle().Render(p.ErrorMessage))
	}
	if len(p.Config) > 0 {
		fmt.Fprintf(w, "  Config:\n")
		for k, v := range p.Config {
			fmt.Fprintf(w, "    %s = %v\n", k, v)
		}
	}
	if len(p.OutputArtifacts) > 0 {
		fmt.Fprintf(w, "  Artifacts:\n")
		for _, a := range p.OutputArtifacts {
			fmt.Fprintf(w, "    • %s\n", a)
		}
	}
}
