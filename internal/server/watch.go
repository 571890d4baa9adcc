package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CLI and dashboards run on other origins
	},
}

// handleWatch streams status over a websocket. With ?project=<id> it pushes
// that project's snapshot and closes once the project is terminal; otherwise
// it pushes the overall status until the client goes away.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project")
	if projectID != "" {
		if _, err := s.sched.ProjectStatus(projectID); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Drain reads so control frames are handled and a client close ends
	// the stream.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.watchInterval)
	defer ticker.Stop()

	for {
		event, done := s.watchEvent(projectID)
		if err := writeEvent(conn, event); err != nil {
			if !isClosed(err) {
				s.logger.Debug("watch write failed", "error", err)
			}
			return
		}
		if done {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "project finished"),
				time.Now().Add(writeWait))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// watchEvent builds the next event. done reports that the stream should end.
func (s *Server) watchEvent(projectID string) (WatchEvent, bool) {
	if projectID == "" {
		st := s.sched.OverallStatus()
		return WatchEvent{Type: EventStatus, Status: &st}, false
	}
	snap, err := s.sched.ProjectStatus(projectID)
	if err != nil {
		return WatchEvent{Type: EventError, Error: err.Error()}, true
	}
	return WatchEvent{Type: EventProject, Project: &snap}, snap.Status.IsTerminal()
}

func writeEvent(conn *websocket.Conn, event WatchEvent) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(event)
}

func isClosed(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, websocket.ErrCloseSent)
}
