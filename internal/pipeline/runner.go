package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/raphaelgruber/reelqueue/internal/metrics"
	"github.com/raphaelgruber/reelqueue/internal/models"
)

const defaultStageTimeout = 30 * time.Minute

// Outcome is the terminal result of running a project through the pipeline.
type Outcome struct {
	Status    models.Status
	Error     string
	Artifacts []string
}

// Options configures a Runner.
type Options struct {
	// OutputSubdir is created under the source path for deliverables.
	OutputSubdir string
	// StageTimeout bounds every stage without its own timeout.
	StageTimeout time.Duration
	// StageTimeouts overrides StageTimeout per stage name.
	StageTimeouts map[string]time.Duration
	// WorkRoot holds per-project scratch directories. Defaults to the
	// system temp directory.
	WorkRoot  string
	Logger    *slog.Logger
	Collector *metrics.Collector
	Metrics   *metrics.Prometheus
}

// Runner executes the five stages of a project in order.
type Runner struct {
	executor      StageExecutor
	outputSubdir  string
	stageTimeout  time.Duration
	stageTimeouts map[string]time.Duration
	workRoot      string
	logger        *slog.Logger
	collector     *metrics.Collector
	prom          *metrics.Prometheus
}

// NewRunner creates a runner that delegates every stage to executor.
func NewRunner(executor StageExecutor, opts Options) *Runner {
	if opts.OutputSubdir == "" {
		opts.OutputSubdir = "output"
	}
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = defaultStageTimeout
	}
	if opts.WorkRoot == "" {
		opts.WorkRoot = filepath.Join(os.TempDir(), "reelqueue")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		executor:      executor,
		outputSubdir:  opts.OutputSubdir,
		stageTimeout:  opts.StageTimeout,
		stageTimeouts: opts.StageTimeouts,
		workRoot:      opts.WorkRoot,
		logger:        opts.Logger,
		collector:     opts.Collector,
		prom:          opts.Metrics,
	}
}

// Run drives p through every stage. p must already be processing. Progress
// moves to each stage's start milestone on entry and its end milestone on
// success; on failure it stays at the failing stage's start milestone and no
// later stage runs. Cancelling ctx yields a cancelled outcome.
//
// Run never moves p into a terminal status; the caller does that with the
// returned Outcome.
func (r *Runner) Run(ctx context.Context, p *models.Project) Outcome {
	started := time.Now()
	if s := p.Snapshot().StartedAt; s != nil {
		started = *s
	}
	logger := r.logger.With("project_id", p.ID)

	outputDir := OutputDir(p.SourcePath, r.outputSubdir)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return failed("prepare output directory: %v", err)
	}
	workDir, err := r.makeWorkDir(p.ID)
	if err != nil {
		return failed("prepare work directory: %v", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			logger.Warn("failed to remove work directory", "path", workDir, "error", err)
		}
	}()

	sc := StageContext{
		ProjectID:  p.ID,
		SourcePath: p.SourcePath,
		OutputDir:  outputDir,
		WorkDir:    workDir,
		Config:     p.Config.Clone(),
	}

	var reported []string
	for _, st := range stages {
		if ctx.Err() != nil {
			return cancelled("cancelled before %s", st.name)
		}
		if err := p.EnterStage(st.status, st.name, st.start); err != nil {
			if errors.Is(err, models.ErrTerminal) {
				return cancelled("cancelled before %s", st.name)
			}
			return failed("enter stage %s: %v", st.name, err)
		}

		sc.Stage = st.name
		res, outcome, ok := r.runStage(ctx, logger, st, sc)
		if !ok {
			return outcome
		}
		reported = append(reported, res.Artifacts...)
		_ = p.Advance(st.end)
	}

	artifacts, err := collectArtifacts(outputDir, reported, started)
	if err != nil {
		return failed("collect artifacts: %v", err)
	}
	return Outcome{Status: models.StatusCompleted, Artifacts: artifacts}
}

// runStage runs one stage under its timeout. ok is false when the project
// must stop, in which case outcome is terminal.
func (r *Runner) runStage(ctx context.Context, logger *slog.Logger, st stage, sc StageContext) (StageResult, Outcome, bool) {
	timeout := r.timeoutFor(st.name)
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.Info("stage started", "stage", st.name, "timeout", timeout)
	begin := time.Now()
	res, err := r.executor.Run(stageCtx, sc)
	elapsed := time.Since(begin)

	if err == nil && res.Success {
		r.record(st.name, elapsed, "")
		logger.Info("stage finished", "stage", st.name, "duration", elapsed)
		return res, Outcome{}, true
	}

	switch {
	case ctx.Err() != nil:
		r.record(st.name, elapsed, "cancelled")
		logger.Info("stage cancelled", "stage", st.name, "duration", elapsed)
		return res, cancelled("cancelled during %s", st.name), false

	case errors.Is(stageCtx.Err(), context.DeadlineExceeded):
		r.record(st.name, elapsed, "timeout")
		logger.Warn("stage timed out", "stage", st.name, "timeout", timeout)
		return res, failed("stage %s timed out after %s", st.name, timeout), false

	default:
		r.record(st.name, elapsed, "failure")
		msg := res.Diagnostic
		if err != nil {
			msg = err.Error()
		}
		if msg == "" {
			msg = "executor reported failure"
		}
		logger.Warn("stage failed", "stage", st.name, "duration", elapsed, "error", msg)
		return res, failed("stage %s failed: %s", st.name, msg), false
	}
}

func (r *Runner) timeoutFor(stage string) time.Duration {
	if d, ok := r.stageTimeouts[stage]; ok && d > 0 {
		return d
	}
	return r.stageTimeout
}

func (r *Runner) record(stage string, elapsed time.Duration, reason string) {
	r.collector.RecordTiming(stage, elapsed)
	r.prom.StageFinished(stage, elapsed.Seconds(), reason)
}

func (r *Runner) makeWorkDir(projectID string) (string, error) {
	if err := os.MkdirAll(r.workRoot, 0o755); err != nil {
		return "", err
	}
	return os.MkdirTemp(r.workRoot, projectID+"-")
}

func failed(format string, args ...any) Outcome {
	return Outcome{Status: models.StatusFailed, Error: fmt.Sprintf(format, args...)}
}

func cancelled(format string, args ...any) Outcome {
	return Outcome{Status: models.StatusCancelled, Error: fmt.Sprintf(format, args...)}
}
