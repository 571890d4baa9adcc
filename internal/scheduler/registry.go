package scheduler

import (
	"fmt"
	"slices"
	"time"

	"github.com/raphaelgruber/reelqueue/internal/metrics"
	"github.com/raphaelgruber/reelqueue/internal/models"
	"github.com/raphaelgruber/reelqueue/internal/resources"
)

// Registry is the read-only view of scheduler state offered to dashboards
// and the CLI.
type Registry interface {
	OverallStatus() OverallStatus
	ProjectStatus(id string) (models.ProjectSnapshot, error)
	ListProjects(status models.Status) []models.ProjectSnapshot
}

var _ Registry = (*Scheduler)(nil)

// OverallStatus summarizes the scheduler.
type OverallStatus struct {
	QueueDepth int                `json:"queue_depth"`
	Active     int                `json:"active"`
	Completed  int                `json:"completed"`
	Failed     int                `json:"failed"`
	Cancelled  int                `json:"cancelled"`
	Capacity   int                `json:"capacity"`
	Stopping   bool               `json:"stopping"`
	Resources  resources.Snapshot `json:"resources"`
	Stats      Stats              `json:"stats"`
	// ActiveProjects lists what currently holds a worker slot, oldest first.
	ActiveProjects []models.ProjectSnapshot `json:"active_projects"`
}

// Stats are running aggregates over finished projects.
type Stats struct {
	TotalDurationSeconds float64          `json:"total_duration_seconds"`
	AvgDurationSeconds   float64          `json:"avg_duration_seconds"`
	Timings              metrics.Snapshot `json:"timings"`
}

// OverallStatus returns a consistent snapshot of queue, active and finished
// counts together with the last known capacity.
func (s *Scheduler) OverallStatus() OverallStatus {
	s.mu.Lock()
	st := OverallStatus{
		QueueDepth: s.queue.Len(),
		Active:     len(s.active),
		Completed:  s.stats.completed,
		Failed:     s.stats.failed,
		Cancelled:  s.stats.cancelled,
		Stopping:   s.stopping,
	}
	capacity, capacityAt := s.capacity, s.capacityAt
	total := s.stats.totalDuration
	timed := s.stats.timed
	active := make([]*models.Project, 0, len(s.active))
	for _, w := range s.active {
		active = append(active, w.project)
	}
	s.mu.Unlock()

	st.Resources = s.monitor.Last()
	// Admission passes only sample while work is queued; an idle scheduler
	// reports what the monitor loop saw last.
	st.Capacity = capacity
	if capacityAt.IsZero() || st.Resources.SampledAt.After(capacityAt) {
		st.Capacity = s.monitor.LastCapacity()
	}
	st.Stats.TotalDurationSeconds = total.Seconds()
	if timed > 0 {
		st.Stats.AvgDurationSeconds = (total / time.Duration(timed)).Seconds()
	}
	if s.collector != nil {
		st.Stats.Timings = s.collector.Snapshot()
	} else {
		st.Stats.Timings.UptimeSeconds = time.Since(s.startedAt).Seconds()
	}

	st.ActiveProjects = snapshots(active)
	slices.SortFunc(st.ActiveProjects, func(a, b models.ProjectSnapshot) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return st
}

// ProjectStatus returns a snapshot of one project.
func (s *Scheduler) ProjectStatus(id string) (models.ProjectSnapshot, error) {
	s.mu.Lock()
	p, ok := s.projects[id]
	s.mu.Unlock()

	if !ok {
		return models.ProjectSnapshot{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p.Snapshot(), nil
}

// ListProjects returns projects with the given status, or all projects when
// status is empty, most recently submitted first. The stage statuses all
// count as processing.
func (s *Scheduler) ListProjects(status models.Status) []models.ProjectSnapshot {
	s.mu.Lock()
	all := make([]*models.Project, 0, len(s.projects))
	for _, p := range s.projects {
		all = append(all, p)
	}
	s.mu.Unlock()

	out := snapshots(all)
	if status != "" {
		out = slices.DeleteFunc(out, func(snap models.ProjectSnapshot) bool {
			return !matches(snap.Status, status)
		})
	}
	slices.SortFunc(out, func(a, b models.ProjectSnapshot) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out
}

func matches(have, want models.Status) bool {
	if want == models.StatusProcessing {
		return have.IsActive()
	}
	return have == want
}

func snapshots(projects []*models.Project) []models.ProjectSnapshot {
	out := make([]models.ProjectSnapshot, len(projects))
	for i, p := range projects {
		out[i] = p.Snapshot()
	}
	return out
}
