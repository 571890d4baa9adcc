// Package client provides an HTTP client for the reelqueue server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/reelqueue/internal/models"
	"github.com/raphaelgruber/reelqueue/internal/scheduler"
	"github.com/raphaelgruber/reelqueue/internal/server"
)

// ErrNotFound is returned when the server does not know a project.
var ErrNotFound = errors.New("not found")

// Client talks to a reelqueue server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new client.
// If baseURL is empty, uses REELQUEUE_SERVER_URL env var or defaults to localhost:8585.
// Timeout can be configured via REELQUEUE_CLIENT_TIMEOUT env var (default 30s).
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("REELQUEUE_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8585"
	}

	timeout := 30 * time.Second
	if t := os.Getenv("REELQUEUE_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// BaseURL returns the server URL the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do sends a JSON request and decodes a JSON response into result.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(data))
		var apiErr server.ErrorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, msg)
		}
		return fmt.Errorf("server error: %s - %s", resp.Status, msg)
	}

	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// Submit enqueues a project and returns its ID.
func (c *Client) Submit(ctx context.Context, req server.SubmitRequest) (string, error) {
	var resp server.SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/v1/projects", req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Status returns the scheduler's overall status.
func (c *Client) Status(ctx context.Context) (*scheduler.OverallStatus, error) {
	var st scheduler.OverallStatus
	if err := c.do(ctx, http.MethodGet, "/v1/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Project returns one project's snapshot.
func (c *Client) Project(ctx context.Context, id string) (*models.ProjectSnapshot, error) {
	var snap models.ProjectSnapshot
	if err := c.do(ctx, http.MethodGet, "/v1/projects/"+url.PathEscape(id), nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Projects lists projects, optionally filtered by status.
func (c *Client) Projects(ctx context.Context, status models.Status) ([]models.ProjectSnapshot, error) {
	path := "/v1/projects"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var out []models.ProjectSnapshot
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Watch streams status events until the server ends the stream, ctx is
// cancelled or onEvent returns an error. An empty projectID watches the
// overall status. A stream the server closes normally returns nil.
func (c *Client) Watch(ctx context.Context, projectID string, onEvent func(server.WatchEvent) error) error {
	wsURL := c.baseURL
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)

	u, err := url.Parse(wsURL + "/v1/watch")
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}
	if projectID != "" {
		u.RawQuery = url.Values{"project": {projectID}}.Encode()
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: project %s", ErrNotFound, projectID)
		}
		return fmt.Errorf("websocket connect: %w", err)
	}

	// Track connection state for proper cleanup
	var mu sync.Mutex
	closed := false
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			conn.Close()
		}
	}
	defer closeConn()

	// Unblock ReadJSON on cancellation
	stop := context.AfterFunc(ctx, closeConn)
	defer stop()

	for {
		var ev server.WatchEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read event: %w", err)
		}
		if ev.Type == server.EventError {
			return fmt.Errorf("watch: %s", ev.Error)
		}
		if err := onEvent(ev); err != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return err
		}
	}
}
