// Package pipeline drives a project through the five video-processing stages
// by delegating each one to a StageExecutor.
package pipeline

import (
	"context"

	"github.com/raphaelgruber/reelqueue/internal/models"
)

// StageContext is everything an executor needs to run one stage.
type StageContext struct {
	ProjectID  string
	Stage      string
	SourcePath string
	// OutputDir receives final deliverables; it exists before the first stage.
	OutputDir string
	// WorkDir is scratch space shared by all stages of one project run.
	WorkDir string
	Config  models.Config
}

// StageResult reports the outcome of one stage.
type StageResult struct {
	Success bool
	// Artifacts are paths of produced files, absolute or relative to OutputDir.
	Artifacts []string
	// Diagnostic explains a failure.
	Diagnostic string
}

// StageExecutor runs a single stage. A returned error means the executor
// itself broke (could not start, was interrupted) and is handled the same as
// an unsuccessful result.
type StageExecutor interface {
	Run(ctx context.Context, sc StageContext) (StageResult, error)
}

// ExecutorFunc adapts a function to StageExecutor.
type ExecutorFunc func(ctx context.Context, sc StageContext) (StageResult, error)

// Run calls f(ctx, sc).
func (f ExecutorFunc) Run(ctx context.Context, sc StageContext) (StageResult, error) {
	return f(ctx, sc)
}

// stage binds a stage name to its status and progress milestones.
type stage struct {
	name   string
	status models.Status
	start  int
	end    int
}

var stages = []stage{
	{"ingest", models.StatusIngesting, 5, 20},
	{"transcribe", models.StatusTranscribing, 25, 40},
	{"script", models.StatusScripting, 45, 60},
	{"timeline", models.StatusTimelineBuilding, 65, 80},
	{"render", models.StatusRendering, 85, 100},
}

// StageNames returns the stage names in execution order.
func StageNames() []string {
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.name
	}
	return names
}
