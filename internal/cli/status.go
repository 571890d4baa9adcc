package cli

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/reelqueue/internal/metrics"
	"github.com/raphaelgruber/reelqueue/internal/scheduler"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show scheduler status",
	Long: `Show queue depth, active and finished counts, current capacity, the last
host resource sample and aggregate timing statistics.

Examples:
  reelqueue status
  reelqueue status -v    # include per-stage timings`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	st, err := apiClient.Status(context.Background())
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}
	printStatus(cmd.OutOrStdout(), st, verbose)
	return nil
}

func printStatus(w io.Writer, st *scheduler.OverallStatus, detailed bool) {
	t := defaultTheme

	fmt.Fprintln(w, t.headerStyle().Render("Scheduler Status"))
	fmt.Fprintf(w, "═══════════════════════════════════════════════\n")
	if st.Stopping {
		fmt.Fprintln(w, t.warningStyle().Render("Shutting down: no new projects are admitted"))
	}
	fmt.Fprintf(w, "Capacity:   %d (active %d)\n", st.Capacity, st.Active)
	fmt.Fprintf(w, "Queued:     %d\n", st.QueueDepth)
	fmt.Fprintf(w, "Completed:  %d\n", st.Completed)
	fmt.Fprintf(w, "Failed:     %d\n", st.Failed)
	fmt.Fprintf(w, "Cancelled:  %d\n", st.Cancelled)

	r := st.Resources
	if !r.SampledAt.IsZero() {
		fmt.Fprintf(w, "\nHost (sampled %s):\n", r.SampledAt.Format("15:04:05"))
		fmt.Fprintf(w, "  CPU %.1f%%, memory %.1f%%, disk %.1f%%, %d cores\n",
			r.CPUPercent, r.MemoryPercent, r.DiskPercent, r.Cores)
	}

	fmt.Fprintf(w, "\nUptime: %.1f seconds\n", st.Stats.Timings.UptimeSeconds)
	if st.Stats.AvgDurationSeconds > 0 {
		fmt.Fprintf(w, "Project time: avg %.1fs, total %.1fs\n",
			st.Stats.AvgDurationSeconds, st.Stats.TotalDurationSeconds)
	}

	if len(st.ActiveProjects) > 0 {
		fmt.Fprintf(w, "\nActive:\n")
		for _, p := range st.ActiveProjects {
			fmt.Fprintf(w, "  %-10s %-18s %s %s\n", p.ID, t.styleStatus(p.Status), progressCell(p.Progress, 20), p.DisplayName)
		}
	}

	if detailed && len(st.Stats.Timings.Stages) > 0 {
		fmt.Fprintf(w, "\nStage timings:\n")
		names := make([]string, 0, len(st.Stats.Timings.Stages))
		for name := range st.Stats.Timings.Stages {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "  %s:\n", name)
			printOpStats(w, st.Stats.Timings.Stages[name])
		}
	}
}

// printOpStats displays timing statistics for an operation.
func printOpStats(w io.Writer, op *metrics.OperationSnapshot) {
	fmt.Fprintf(w, "    Runs: %d, Total: %dms\n", op.Count, op.TotalTimeMs)
	fmt.Fprintf(w, "    Time: avg %.1fms, min %dms, max %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
}
