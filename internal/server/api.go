package server

import (
	"github.com/raphaelgruber/reelqueue/internal/models"
	"github.com/raphaelgruber/reelqueue/internal/scheduler"
)

// SubmitRequest is the body of POST /v1/projects.
type SubmitRequest struct {
	SourcePath  string          `json:"source_path"`
	ClientID    string          `json:"client_id"`
	DisplayName string          `json:"display_name,omitempty"`
	Priority    models.Priority `json:"priority,omitempty"`
	Config      models.Config   `json:"config,omitempty"`
}

// SubmitResponse is returned for an accepted submission.
type SubmitResponse struct {
	ID string `json:"id"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Watch event types.
const (
	EventStatus  = "status"
	EventProject = "project"
	EventError   = "error"
)

// WatchEvent is one message on the /v1/watch stream.
type WatchEvent struct {
	Type    string                   `json:"type"`
	Status  *scheduler.OverallStatus `json:"status,omitempty"`
	Project *models.ProjectSnapshot  `json:"project,omitempty"`
	Error   string                   `json:"error,omitempty"`
}
