package resources

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/reelqueue/internal/metrics"
)

const (
	// DefaultHardCap bounds capacity regardless of how idle the host is.
	DefaultHardCap = 4
	// FallbackCapacity is used when sampling fails.
	FallbackCapacity = 2

	defaultInterval      = 5 * time.Second
	sampleTimeout        = 10 * time.Second
	cpuPercentPerJob     = 25
	memoryPercentPerJob  = 30
	minimumCoreAllowance = 2
)

// Capacity derives how many projects may run concurrently from a sample.
// Each of CPU, memory and cores yields an independent budget and the
// smallest one wins, further bounded by hardCap (DefaultHardCap if <= 0).
//
// Stage executors spawn CPU/GPU-heavy subprocesses of their own, so half the
// cores are left for their fan-out.
func Capacity(s Snapshot, hardCap int) int {
	if hardCap <= 0 {
		hardCap = DefaultHardCap
	}
	cpuBudget := max(1, int((100-s.CPUPercent)/cpuPercentPerJob))
	memBudget := max(1, int((100-s.MemoryPercent)/memoryPercentPerJob))
	coreBudget := max(minimumCoreAllowance, s.Cores/2)
	return min(cpuBudget, memBudget, coreBudget, hardCap)
}

// Thresholds configures when the monitor loop logs resource warnings.
// Zero disables the check for that resource.
type Thresholds struct {
	CPUPercent    float64
	MemoryPercent float64
	DiskPercent   float64
}

// MonitorOptions configures a Monitor.
type MonitorOptions struct {
	HardCap    int
	Interval   time.Duration
	Thresholds Thresholds
	Logger     *slog.Logger
	Metrics    *metrics.Prometheus
}

// Monitor samples host resources on demand for scheduling decisions and on
// a fixed interval for alerting. The two are independent.
type Monitor struct {
	sampler    Sampler
	hardCap    int
	interval   time.Duration
	thresholds Thresholds
	logger     *slog.Logger
	prom       *metrics.Prometheus

	mu   sync.RWMutex
	last Snapshot
}

// NewMonitor creates a monitor over sampler.
func NewMonitor(sampler Sampler, opts MonitorOptions) *Monitor {
	if opts.HardCap <= 0 {
		opts.HardCap = DefaultHardCap
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Monitor{
		sampler:    sampler,
		hardCap:    opts.HardCap,
		interval:   opts.Interval,
		thresholds: opts.Thresholds,
		logger:     opts.Logger,
		prom:       opts.Metrics,
	}
}

// HardCap returns the configured upper bound on capacity.
func (m *Monitor) HardCap() int {
	return m.hardCap
}

// Capacity samples the host and returns the number of projects that may run
// concurrently. Sampling failures are logged and degrade to
// FallbackCapacity (never above the hard cap).
func (m *Monitor) Capacity(ctx context.Context) int {
	snap, err := m.sample(ctx)
	if err != nil {
		fallback := min(FallbackCapacity, m.hardCap)
		m.logger.Warn("resource sampling failed, using fallback capacity", "error", err, "capacity", fallback)
		return fallback
	}
	return Capacity(snap, m.hardCap)
}

// LastCapacity is the capacity implied by the most recent successful sample,
// or the fallback before any sample succeeded. It does not sample.
func (m *Monitor) LastCapacity() int {
	last := m.Last()
	if last.SampledAt.IsZero() {
		return min(FallbackCapacity, m.hardCap)
	}
	return Capacity(last, m.hardCap)
}

// Last returns the most recent successful sample.
func (m *Monitor) Last() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

func (m *Monitor) sample(ctx context.Context) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, sampleTimeout)
	defer cancel()

	snap, err := m.sampler.Sample(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	m.mu.Lock()
	m.last = snap
	m.mu.Unlock()

	m.prom.SetHostUtilization(snap.CPUPercent, snap.MemoryPercent, snap.DiskPercent)
	return snap, nil
}

// Run samples immediately and then on a fixed interval and logs threshold breaches until ctx is
// cancelled. It does not gate scheduling.
func (m *Monitor) Run(ctx context.Context) {
	t := time.NewTicker(m.interval)
	defer t.Stop()

	m.logger.Info("resource monitor started", "interval", m.interval, "hard_cap", m.hardCap)
	m.check(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("resource monitor stopped")
			return
		case <-t.C:
			m.check(ctx)
		}
	}
}

// check takes one sample and emits warnings for breached thresholds.
func (m *Monitor) check(ctx context.Context) {
	snap, err := m.sample(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warn("resource sampling failed", "error", err)
		}
		return
	}

	m.logger.Debug("resource sample",
		"cpu_percent", snap.CPUPercent,
		"memory_percent", snap.MemoryPercent,
		"disk_percent", snap.DiskPercent,
		"cores", snap.Cores,
		"capacity", Capacity(snap, m.hardCap))

	for _, b := range m.breaches(snap) {
		m.prom.ResourceWarning(b.resource)
		m.logger.Warn("resource threshold exceeded",
			"resource", b.resource,
			"percent", b.value,
			"threshold", b.threshold)
	}
}

type breach struct {
	resource  string
	value     float64
	threshold float64
}

func (m *Monitor) breaches(s Snapshot) []breach {
	var out []breach
	if t := m.thresholds.CPUPercent; t > 0 && s.CPUPercent >= t {
		out = append(out, breach{"cpu", s.CPUPercent, t})
	}
	if t := m.thresholds.MemoryPercent; t > 0 && s.MemoryPercent >= t {
		out = append(out, breach{"memory", s.MemoryPercent, t})
	}
	if t := m.thresholds.DiskPercent; t > 0 && s.DiskPercent >= t {
		out = append(out, breach{"disk", s.DiskPercent, t})
	}
	return out
}
