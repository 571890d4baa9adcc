// Package scheduler admits queued projects as host capacity allows and runs
// each one through the stage pipeline on its own goroutine.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelgruber/reelqueue/internal/metrics"
	"github.com/raphaelgruber/reelqueue/internal/models"
	"github.com/raphaelgruber/reelqueue/internal/pipeline"
	"github.com/raphaelgruber/reelqueue/internal/queue"
	"github.com/raphaelgruber/reelqueue/internal/resources"
)

const (
	defaultPollInterval    = 2 * time.Second
	defaultShutdownTimeout = 60 * time.Second
	defaultCancelGrace     = 15 * time.Second
	passPanicBackoff       = time.Second
)

// Monitor reports how many projects the host can run concurrently.
type Monitor interface {
	// Capacity samples the host now.
	Capacity(ctx context.Context) int
	// LastCapacity derives capacity from the latest sample without sampling.
	LastCapacity() int
	Last() resources.Snapshot
}

// Runner executes one project through every stage.
type Runner interface {
	Run(ctx context.Context, p *models.Project) pipeline.Outcome
}

// Options configures a Scheduler.
type Options struct {
	// PollInterval is the longest the loop sleeps between admission passes.
	PollInterval time.Duration
	// ShutdownTimeout is how long Stop waits for active projects before
	// cancelling them.
	ShutdownTimeout time.Duration
	// CancelGrace is how long cancelled projects get to wind down before
	// Stop marks them cancelled itself.
	CancelGrace time.Duration
	Logger      *slog.Logger
	Collector   *metrics.Collector
	Metrics     *metrics.Prometheus
}

// SubmitRequest describes a project to enqueue.
type SubmitRequest struct {
	SourcePath  string
	ClientID    string
	DisplayName string
	Priority    models.Priority
	Config      models.Config
}

type worker struct {
	project *models.Project
	cancel  context.CancelFunc
}

// Scheduler owns the admission loop and all project bookkeeping.
type Scheduler struct {
	queue   *queue.Priority
	monitor Monitor
	runner  Runner

	pollInterval    time.Duration
	shutdownTimeout time.Duration
	cancelGrace     time.Duration
	logger          *slog.Logger
	collector       *metrics.Collector
	prom            *metrics.Prometheus
	startedAt       time.Time

	// mu guards everything below.
	mu         sync.Mutex
	projects   map[string]*models.Project
	active     map[string]*worker
	completed  map[string]*models.Project
	failed     map[string]*models.Project // failed and cancelled
	stats      aggregate
	capacity   int
	capacityAt time.Time
	started    bool
	stopping   bool

	wake          chan struct{}
	stopCh        chan struct{}
	loopDone      chan struct{}
	stopped       chan struct{}
	workers       sync.WaitGroup
	cancelWorkers context.CancelFunc
}

type aggregate struct {
	completed     int
	failed        int
	cancelled     int
	timed         int
	totalDuration time.Duration
}

// New creates a scheduler. Nothing runs until Start.
func New(q *queue.Priority, monitor Monitor, runner Runner, opts Options) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	if opts.CancelGrace <= 0 {
		opts.CancelGrace = defaultCancelGrace
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scheduler{
		queue:           q,
		monitor:         monitor,
		runner:          runner,
		pollInterval:    opts.PollInterval,
		shutdownTimeout: opts.ShutdownTimeout,
		cancelGrace:     opts.CancelGrace,
		logger:          opts.Logger,
		collector:       opts.Collector,
		prom:            opts.Metrics,
		startedAt:       time.Now(),
		projects:        make(map[string]*models.Project),
		active:          make(map[string]*worker),
		completed:       make(map[string]*models.Project),
		failed:          make(map[string]*models.Project),
		wake:            make(chan struct{}, 1),
		stopCh:          make(chan struct{}),
		loopDone:        make(chan struct{}),
		stopped:         make(chan struct{}),
	}
}

// Submit validates the request and enqueues a new project. It returns the
// project ID. Submissions are accepted before Start and rejected with
// ErrStopped once Stop has been called.
func (s *Scheduler) Submit(req SubmitRequest) (string, error) {
	source, err := validateSource(req.SourcePath)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return "", ErrStopped
	}
	id := s.newIDLocked()
	p := models.NewProject(id, req.ClientID, source, req.DisplayName, req.Priority, req.Config)
	s.projects[id] = p
	s.queue.Push(p)
	s.mu.Unlock()

	s.prom.ProjectSubmitted()
	s.logger.Info("project submitted",
		"project_id", id,
		"client_id", req.ClientID,
		"source", source,
		"priority", p.Priority)
	s.signal()
	return id, nil
}

// newIDLocked returns a short ID not yet in use. Caller must hold mu.
func (s *Scheduler) newIDLocked() string {
	for {
		id := uuid.New().String()[:8]
		if _, taken := s.projects[id]; !taken {
			return id
		}
	}
}

// validateSource requires an existing, non-empty file or directory and
// returns its absolute path.
func validateSource(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidSource)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	if info.IsDir() {
		entries, err := os.ReadDir(abs)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidSource, err)
		}
		if len(entries) == 0 {
			return "", fmt.Errorf("%w: %s is an empty directory", ErrInvalidSource, abs)
		}
		return abs, nil
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("%w: %s is empty", ErrInvalidSource, abs)
	}
	return abs, nil
}

// Start launches the admission loop and returns. Cancelling ctx stops the
// loop and cancels running projects; Stop is still needed to drain.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopping {
		return ErrStopped
	}
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	workerCtx, cancel := context.WithCancel(ctx)
	s.cancelWorkers = cancel

	go s.loop(ctx, workerCtx)
	s.logger.Info("scheduler started", "poll_interval", s.pollInterval, "shutdown_timeout", s.shutdownTimeout)
	return nil
}

func (s *Scheduler) loop(ctx, workerCtx context.Context) {
	defer close(s.loopDone)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		if !s.safePass(ctx, workerCtx) {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-time.After(passPanicBackoff):
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-s.wake:
		case <-ticker.C:
		}
	}
}

// signal wakes the loop without blocking.
func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) safePass(ctx, workerCtx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduling pass panicked", "panic", r, "stack", string(debug.Stack()))
			ok = false
		}
	}()
	s.pass(ctx, workerCtx)
	return true
}

// pass admits as many queued projects as free capacity allows.
func (s *Scheduler) pass(ctx, workerCtx context.Context) {
	if s.queue.Len() == 0 {
		return
	}

	// Sampling blocks for about a second, so it happens outside the lock.
	capacity := s.monitor.Capacity(ctx)
	now := time.Now()

	var admitted []*models.Project
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}
	s.capacity, s.capacityAt = capacity, now
	for slots := capacity - len(s.active); slots > 0; {
		p, ok := s.queue.TryPop()
		if !ok {
			break
		}
		if err := p.Start(now); err != nil {
			s.logger.Warn("skipping project that cannot start", "project_id", p.ID, "error", err)
			continue
		}
		wctx, cancel := context.WithCancel(workerCtx)
		s.active[p.ID] = &worker{project: p, cancel: cancel}
		s.workers.Add(1)
		go s.work(wctx, p)
		admitted = append(admitted, p)
		slots--
	}
	active, queued := len(s.active), s.queue.Len()
	s.mu.Unlock()

	s.prom.SetScheduling(active, queued, capacity)
	for _, p := range admitted {
		s.logger.Info("project admitted",
			"project_id", p.ID,
			"priority", p.Priority,
			"capacity", capacity,
			"active", active)
	}
}

func (s *Scheduler) work(ctx context.Context, p *models.Project) {
	defer s.workers.Done()
	s.reconcile(p, s.runProject(ctx, p))
}

func (s *Scheduler) runProject(ctx context.Context, p *models.Project) (outcome pipeline.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("project worker panicked", "project_id", p.ID, "panic", r, "stack", string(debug.Stack()))
			outcome = pipeline.Outcome{Status: models.StatusFailed, Error: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	outcome = s.runner.Run(ctx, p)
	if !outcome.Status.IsTerminal() {
		outcome = pipeline.Outcome{
			Status: models.StatusFailed,
			Error:  fmt.Sprintf("internal error: runner returned non-terminal status %q", outcome.Status),
		}
	}
	return outcome
}

// reconcile moves a finished project out of the active set and into its
// final collection.
func (s *Scheduler) reconcile(p *models.Project, outcome pipeline.Outcome) {
	now := time.Now()

	s.mu.Lock()
	if w, ok := s.active[p.ID]; ok {
		w.cancel()
		delete(s.active, p.ID)
	}
	err := p.Finish(outcome.Status, outcome.Error, outcome.Artifacts, now)
	if errors.Is(err, models.ErrInvalidTransition) {
		// e.g. completed without passing through every stage
		err = p.Finish(models.StatusFailed, fmt.Sprintf("internal error: %v", err), nil, now)
	}
	if err != nil {
		// Stop already gave up on this project.
		s.mu.Unlock()
		s.logger.Debug("ignoring late worker result", "project_id", p.ID, "status", outcome.Status, "error", err)
		s.signal()
		return
	}
	snap := p.Snapshot()
	s.fileLocked(p, snap)
	active, queued, capacity := len(s.active), s.queue.Len(), s.capacity
	s.mu.Unlock()

	s.finished(snap)
	s.prom.SetScheduling(active, queued, capacity)
	s.signal()
}

// fileLocked records a terminal project in its collection and the aggregate
// statistics. Caller must hold mu.
func (s *Scheduler) fileLocked(p *models.Project, snap models.ProjectSnapshot) {
	switch snap.Status {
	case models.StatusCompleted:
		s.completed[p.ID] = p
		s.stats.completed++
	case models.StatusCancelled:
		s.failed[p.ID] = p
		s.stats.cancelled++
	default:
		s.failed[p.ID] = p
		s.stats.failed++
	}
	if d := snap.Duration(); d > 0 {
		s.stats.timed++
		s.stats.totalDuration += d
	}
}

// finished logs and exports a terminal project. Must be called without mu.
func (s *Scheduler) finished(snap models.ProjectSnapshot) {
	if d := snap.Duration(); d > 0 {
		s.collector.RecordTiming(metrics.OpProject, d)
	}
	s.prom.ProjectFinished(string(snap.Status))

	attrs := []any{"project_id", snap.ID, "status", snap.Status, "duration", snap.Duration()}
	switch snap.Status {
	case models.StatusCompleted:
		s.logger.Info("project finished", append(attrs, "artifacts", len(snap.OutputArtifacts))...)
	default:
		s.logger.Warn("project finished", append(attrs, "error", snap.ErrorMessage)...)
	}
}

// Stop stops admissions, cancels queued projects and waits up to the shutdown
// timeout for active ones. Projects still running after that are cancelled;
// any that do not wind down within the cancel grace are marked cancelled
// without waiting further. When Stop returns no project is left active.
//
// Stop returns an error if active projects had to be cancelled. Calling it
// again waits for the first call to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		<-s.stopped
		return nil
	}
	s.stopping = true
	close(s.stopCh)

	var cancelled []models.ProjectSnapshot
	now := time.Now()
	for _, p := range s.queue.Drain() {
		if err := p.Finish(models.StatusCancelled, "scheduler stopped before admission", nil, now); err != nil {
			continue
		}
		snap := p.Snapshot()
		s.fileLocked(p, snap)
		cancelled = append(cancelled, snap)
	}
	started := s.started
	s.mu.Unlock()
	defer close(s.stopped)

	for _, snap := range cancelled {
		s.finished(snap)
	}
	if !started {
		s.logger.Info("scheduler stopped", "cancelled_queued", len(cancelled))
		return nil
	}
	<-s.loopDone

	s.logger.Info("scheduler stopping", "cancelled_queued", len(cancelled), "active", s.activeCount())
	if waitFor(&s.workers, s.shutdownTimeout) {
		s.cancelWorkers()
		s.logger.Info("scheduler stopped")
		return nil
	}

	n := s.activeCount()
	s.logger.Warn("shutdown timeout elapsed, cancelling active projects", "active", n, "timeout", s.shutdownTimeout)
	s.cancelWorkers()
	if !waitFor(&s.workers, s.cancelGrace) {
		s.abandonActive()
	}
	s.logger.Info("scheduler stopped")
	return fmt.Errorf("shutdown timeout after %s: %d active projects cancelled", s.shutdownTimeout, n)
}

// abandonActive marks every still-active project cancelled without waiting
// for its worker.
func (s *Scheduler) abandonActive() {
	now := time.Now()
	var snaps []models.ProjectSnapshot

	s.mu.Lock()
	for id, w := range s.active {
		delete(s.active, id)
		if err := w.project.Finish(models.StatusCancelled, "abandoned at shutdown", nil, now); err != nil {
			continue
		}
		snap := w.project.Snapshot()
		s.fileLocked(w.project, snap)
		snaps = append(snaps, snap)
	}
	s.mu.Unlock()

	for _, snap := range snaps {
		s.logger.Error("project abandoned at shutdown", "project_id", snap.ID)
		s.finished(snap)
	}
}

func (s *Scheduler) activeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// waitFor waits for wg up to d and reports whether it finished.
func waitFor(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}
