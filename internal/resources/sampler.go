// Package resources samples host load and derives the scheduler's
// concurrency budget from it.
package resources

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// Snapshot is a single host resource sample. It is used to compute capacity
// and then discarded.
type Snapshot struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	DiskPercent   float64   `json:"disk_percent"`
	Cores         int       `json:"cores"`
	SampledAt     time.Time `json:"sampled_at"`
}

// Sampler produces resource snapshots.
type Sampler interface {
	Sample(ctx context.Context) (Snapshot, error)
}

// HostSampler reads live host metrics through gopsutil.
type HostSampler struct {
	// CPUWindow is how long CPU utilization is measured for. Sample blocks
	// for this long.
	CPUWindow time.Duration
	// DiskPath is the filesystem whose usage is reported. Empty skips disk.
	DiskPath string
}

// NewHostSampler creates a sampler with a one second CPU window.
func NewHostSampler(diskPath string) *HostSampler {
	return &HostSampler{CPUWindow: time.Second, DiskPath: diskPath}
}

// Sample measures CPU over the configured window, then reads memory, disk and
// logical core count.
func (s *HostSampler) Sample(ctx context.Context) (Snapshot, error) {
	window := s.CPUWindow
	if window <= 0 {
		window = time.Second
	}

	percents, err := cpu.PercentWithContext(ctx, window, false)
	if err != nil {
		return Snapshot{}, fmt.Errorf("sample cpu: %w", err)
	}
	if len(percents) == 0 {
		return Snapshot{}, fmt.Errorf("sample cpu: no data")
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("sample memory: %w", err)
	}

	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return Snapshot{}, fmt.Errorf("count cores: %w", err)
	}

	snap := Snapshot{
		CPUPercent:    percents[0],
		MemoryPercent: vm.UsedPercent,
		Cores:         cores,
		SampledAt:     time.Now(),
	}

	if s.DiskPath != "" {
		usage, err := disk.UsageWithContext(ctx, s.DiskPath)
		if err != nil {
			// Disk usage only feeds alerting, not capacity.
			slog.Debug("failed to sample disk usage", "path", s.DiskPath, "error", err)
		} else {
			snap.DiskPercent = usage.UsedPercent
		}
	}

	return snap, nil
}
