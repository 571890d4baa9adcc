package models

import (
	"errors"
	"fmt"
	"strings"
)

// Status represents the lifecycle state of a project.
type Status string

const (
	StatusQueued           Status = "queued"
	StatusProcessing       Status = "processing"
	StatusIngesting        Status = "ingesting"
	StatusTranscribing     Status = "transcribing"
	StatusScripting        Status = "scripting"
	StatusTimelineBuilding Status = "timeline_building"
	StatusRendering        Status = "rendering"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusCancelled        Status = "cancelled"
)

var (
	// ErrInvalidTransition indicates a status change not allowed by the state machine.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrTerminal indicates an attempt to mutate a project that already finished.
	ErrTerminal = errors.New("project already in terminal state")
)

// stageOrder lists the pipeline stage statuses in execution order.
var stageOrder = []Status{
	StatusIngesting,
	StatusTranscribing,
	StatusScripting,
	StatusTimelineBuilding,
	StatusRendering,
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsStage reports whether s is one of the five pipeline stage statuses.
func (s Status) IsStage() bool {
	return stageIndex(s) >= 0
}

// IsActive reports whether the project holds a worker slot.
func (s Status) IsActive() bool {
	return s == StatusProcessing || s.IsStage()
}

func stageIndex(s Status) int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// CanTransition reports whether from -> to is an edge of the project state machine:
//
//	queued -> processing -> ingesting -> transcribing -> scripting
//	       -> timeline_building -> rendering -> completed
//
// Failed is reachable from processing and every stage, cancelled from any
// non-terminal state.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	switch from {
	case StatusQueued:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusIngesting || to == StatusFailed
	}
	idx := stageIndex(from)
	if idx < 0 {
		return false
	}
	if to == StatusFailed {
		return true
	}
	if idx == len(stageOrder)-1 {
		return to == StatusCompleted
	}
	return to == stageOrder[idx+1]
}

var allStatuses = []Status{
	StatusQueued,
	StatusProcessing,
	StatusIngesting,
	StatusTranscribing,
	StatusScripting,
	StatusTimelineBuilding,
	StatusRendering,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

// ParseStatus converts a status name (case-insensitive) to a Status.
func ParseStatus(s string) (Status, error) {
	want := Status(strings.ToLower(strings.TrimSpace(s)))
	for _, st := range allStatuses {
		if st == want {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}
