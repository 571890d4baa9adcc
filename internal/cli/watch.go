package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/reelqueue/internal/models"
	"github.com/raphaelgruber/reelqueue/internal/server"
)

var watchProject string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live status updates",
	Long: `Stream status updates from the server until interrupted. With --project
the stream ends when that project finishes.

Examples:
  reelqueue watch
  reelqueue watch --project ab12cd34`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchProject, "project", "", "watch a single project")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	if watchProject != "" {
		return followProject(ctx, out, watchProject)
	}

	err := apiClient.Watch(ctx, "", func(ev server.WatchEvent) error {
		if ev.Status == nil {
			return nil
		}
		st := ev.Status
		fmt.Fprintf(out, "%s  capacity=%d active=%d queued=%d completed=%d failed=%d cancelled=%d\n",
			time.Now().Format("15:04:05"), st.Capacity, st.Active, st.QueueDepth, st.Completed, st.Failed, st.Cancelled)
		return nil
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// followProject prints a line whenever a project's status or progress
// changes and returns once it is terminal. A failed or cancelled project is
// reported as an error.
func followProject(ctx context.Context, w io.Writer, id string) error {
	t := defaultTheme
	var lastStatus string
	lastProgress := -1
	var final *server.WatchEvent

	err := apiClient.Watch(ctx, id, func(ev server.WatchEvent) error {
		p := ev.Project
		if p == nil {
			return nil
		}
		final = &ev
		if string(p.Status) == lastStatus && p.Progress == lastProgress {
			return nil
		}
		lastStatus, lastProgress = string(p.Status), p.Progress
		fmt.Fprintf(w, "%s  %-18s %s\n", time.Now().Format("15:04:05"), t.styleStatus(p.Status), progressCell(p.Progress, 30))
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(w, t.hintStyle().Render(fmt.Sprintf("Project %s continues in background.", id)))
			return nil
		}
		return err
	}

	if final == nil || final.Project == nil {
		return nil
	}
	p := final.Project
	if p.Status != models.StatusCompleted {
		return fmt.Errorf("project %s %s: %s", p.ID, p.Status, p.ErrorMessage)
	}
	fmt.Fprintf(w, "%s\n", t.completedStyle().Render("✓ Completed"))
	for _, a := range p.OutputArtifacts {
		fmt.Fprintf(w, "  • %s\n", a)
	}
	return nil
}
