// Package models defines the data structures shared by the reelqueue scheduler.
package models

import (
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"time"
)

// Config is the opaque key-value map handed to stage executors unmodified.
// Values are expected to be primitives (string, bool, numbers); the scheduler
// never looks inside, only executors validate it.
type Config map[string]any

// Clone returns a shallow copy of the config.
func (c Config) Clone() Config {
	if c == nil {
		return nil
	}
	out := make(Config, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Validate checks that every value is a primitive.
func (c Config) Validate() error {
	for k, v := range c {
		switch v.(type) {
		case nil, string, bool,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64:
		default:
			return fmt.Errorf("config key %q: unsupported value type %T", k, v)
		}
	}
	return nil
}

// Project is one unit of schedulable work: a full video-processing job that
// moves through the stage pipeline. All access goes through its methods.
type Project struct {
	ID          string
	ClientID    string
	SourcePath  string
	DisplayName string
	Priority    Priority
	Config      Config
	CreatedAt   time.Time

	mu           sync.RWMutex
	status       Status
	currentStage string
	progress     int
	startedAt    *time.Time
	completedAt  *time.Time
	errorMessage string
	artifacts    []string
}

// NewProject creates a queued project. An empty displayName defaults to the
// last segment of sourcePath.
func NewProject(id, clientID, sourcePath, displayName string, priority Priority, cfg Config) *Project {
	if displayName == "" {
		displayName = filepath.Base(filepath.Clean(sourcePath))
	}
	if !priority.Valid() {
		priority = PriorityMedium
	}
	return &Project{
		ID:          id,
		ClientID:    clientID,
		SourcePath:  sourcePath,
		DisplayName: displayName,
		Priority:    priority,
		Config:      cfg.Clone(),
		CreatedAt:   time.Now(),
		status:      StatusQueued,
	}
}

// Status returns the current status.
func (p *Project) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// transition moves the project to a new status. Caller must hold the write lock.
func (p *Project) transition(to Status) error {
	if p.status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, p.ID, p.status)
	}
	if !CanTransition(p.status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.status, to)
	}
	p.status = to
	return nil
}

// Start marks the project as admitted: queued -> processing.
func (p *Project) Start(at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.transition(StatusProcessing); err != nil {
		return err
	}
	p.startedAt = &at
	return nil
}

// EnterStage moves the project into a pipeline stage and raises progress to
// the stage's start milestone.
func (p *Project) EnterStage(status Status, stage string, progress int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.transition(status); err != nil {
		return err
	}
	p.currentStage = stage
	p.raise(progress)
	return nil
}

// Advance raises progress within the current stage. Lower values are ignored
// so progress never decreases.
func (p *Project) Advance(progress int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, p.ID, p.status)
	}
	p.raise(progress)
	return nil
}

// raise sets progress if it increases. Caller must hold the write lock.
func (p *Project) raise(progress int) {
	progress = min(max(progress, 0), 100)
	if progress > p.progress {
		p.progress = progress
	}
}

// Finish moves the project into a terminal status and stamps CompletedAt.
// Artifacts are kept only for completed projects.
func (p *Project) Finish(status Status, errMsg string, artifacts []string, at time.Time) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, status)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.transition(status); err != nil {
		return err
	}
	p.completedAt = &at
	p.currentStage = ""
	switch status {
	case StatusCompleted:
		p.raise(100)
		p.artifacts = slices.Clone(artifacts)
	default:
		p.errorMessage = errMsg
	}
	return nil
}

// ProjectSnapshot is an immutable copy of a project's state.
type ProjectSnapshot struct {
	ID              string     `json:"id"`
	ClientID        string     `json:"client_id"`
	SourcePath      string     `json:"source_path"`
	DisplayName     string     `json:"display_name"`
	Priority        Priority   `json:"priority"`
	Status          Status     `json:"status"`
	CurrentStage    string     `json:"current_stage,omitempty"`
	Progress        int        `json:"progress"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	OutputArtifacts []string   `json:"output_artifacts,omitempty"`
	Config          Config     `json:"config,omitempty"`
}

// Duration returns the time between start and completion, or zero if the
// project has not finished (or never started).
func (s ProjectSnapshot) Duration() time.Duration {
	if s.StartedAt == nil || s.CompletedAt == nil {
		return 0
	}
	return s.CompletedAt.Sub(*s.StartedAt)
}

// Snapshot returns a thread-safe copy of project state.
func (p *Project) Snapshot() ProjectSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snap := ProjectSnapshot{
		ID:              p.ID,
		ClientID:        p.ClientID,
		SourcePath:      p.SourcePath,
		DisplayName:     p.DisplayName,
		Priority:        p.Priority,
		Status:          p.status,
		CurrentStage:    p.currentStage,
		Progress:        p.progress,
		CreatedAt:       p.CreatedAt,
		ErrorMessage:    p.errorMessage,
		OutputArtifacts: slices.Clone(p.artifacts),
		Config:          p.Config.Clone(),
	}
	if p.startedAt != nil {
		t := *p.startedAt
		snap.StartedAt = &t
	}
	if p.completedAt != nil {
		t := *p.completedAt
		snap.CompletedAt = &t
	}
	return snap
}
