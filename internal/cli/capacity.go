package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/reelqueue/internal/resources"
)

var capacityHardCap int

var capacityCmd = &cobra.Command{
	Use:   "capacity",
	Short: "Sample this host and show how many projects it could run",
	Long: `Take one resource sample on the local machine and compute the concurrent
project capacity the scheduler would use. Does not contact the server.

Examples:
  reelqueue capacity
  reelqueue capacity --hard-cap 8`,
	Args: cobra.NoArgs,
	RunE: runCapacity,
}

func init() {
	capacityCmd.Flags().IntVar(&capacityHardCap, "hard-cap", 0, "upper bound on capacity (default $REELQUEUE_HARD_WORKER_CAP)")
}

func runCapacity(cmd *cobra.Command, args []string) error {
	hardCap := capacityHardCap
	if hardCap <= 0 {
		hardCap = cfg.HardWorkerCap
	}

	snap, err := resources.NewHostSampler(cfg.DiskPath).Sample(context.Background())
	if err != nil {
		return fmt.Errorf("sample host: %w", err)
	}
	printCapacity(cmd.OutOrStdout(), snap, hardCap)
	return nil
}

func printCapacity(w io.Writer, snap resources.Snapshot, hardCap int) {
	t := defaultTheme
	if hardCap <= 0 {
		hardCap = resources.DefaultHardCap
	}
	capacity := resources.Capacity(snap, hardCap)

	fmt.Fprintf(w, "CPU:      %5.1f%%\n", snap.CPUPercent)
	fmt.Fprintf(w, "Memory:   %5.1f%%\n", snap.MemoryPercent)
	fmt.Fprintf(w, "Disk:     %5.1f%%\n", snap.DiskPercent)
	fmt.Fprintf(w, "Cores:    %d\n", snap.Cores)

	line := fmt.Sprintf("Capacity: %d (hard cap %d)", capacity, hardCap)
	if capacity <= 1 {
		fmt.Fprintln(w, t.warningStyle().Render(line+", host is under heavy load"))
		return
	}
	fmt.Fprintln(w, t.completedStyle().Render(line))
}
