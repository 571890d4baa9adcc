package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/raphaelgruber/reelqueue/internal/models"
	"github.com/raphaelgruber/reelqueue/internal/scheduler"
)

const maxBodyBytes = 1 << 20

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	id, err := s.sched.Submit(scheduler.SubmitRequest{
		SourcePath:  req.SourcePath,
		ClientID:    req.ClientID,
		DisplayName: req.DisplayName,
		Priority:    req.Priority,
		Config:      req.Config,
	})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	w.Header().Set("Location", "/v1/projects/"+id)
	writeJSON(w, http.StatusCreated, SubmitResponse{ID: id})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sched.OverallStatus())
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	var status models.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, err := models.ParseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		status = st
	}
	writeJSON(w, http.StatusOK, s.sched.ListProjects(status))
}

func (s *Server) handleProject(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sched.ProjectStatus(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// statusFor maps scheduler errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, scheduler.ErrInvalidSource):
		return http.StatusBadRequest
	case errors.Is(err, scheduler.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, scheduler.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
