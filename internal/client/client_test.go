package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/reelqueue/internal/models"
	"github.com/raphaelgruber/reelqueue/internal/pipeline"
	"github.com/raphaelgruber/reelqueue/internal/queue"
	"github.com/raphaelgruber/reelqueue/internal/resources"
	"github.com/raphaelgruber/reelqueue/internal/scheduler"
	"github.com/raphaelgruber/reelqueue/internal/server"
)

type staticMonitor struct{}

func (staticMonitor) Capacity(context.Context) int { return 2 }
func (staticMonitor) LastCapacity() int            { return 2 }
func (staticMonitor) Last() resources.Snapshot     { return resources.Snapshot{Cores: 4} }

// newStack runs a real scheduler and HTTP server. Stages sleep briefly so
// watchers can observe progress; the script stage fails for projects whose
// config sets fail=true.
func newStack(t *testing.T) (*Client, *scheduler.Scheduler) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	exec := pipeline.ExecutorFunc(func(ctx context.Context, sc pipeline.StageContext) (pipeline.StageResult, error) {
		select {
		case <-ctx.Done():
			return pipeline.StageResult{}, ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
		if sc.Stage == "script" && sc.Config["fail"] == true {
			return pipeline.StageResult{Diagnostic: "no dialogue found"}, nil
		}
		return pipeline.StageResult{Success: true}, nil
	})
	runner := pipeline.NewRunner(exec, pipeline.Options{WorkRoot: t.TempDir(), Logger: logger})
	sched := scheduler.New(queue.New(), staticMonitor{}, runner, scheduler.Options{
		PollInterval: 10 * time.Millisecond,
		Logger:       logger,
	})
	require.NoError(t, sched.Start(context.Background()))
	t.Cleanup(func() { _ = sched.Stop() })

	srv := server.New(sched, server.Options{Logger: logger, WatchInterval: 10 * time.Millisecond})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return New(ts.URL), sched
}

func sourceDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a-roll.mov"), []byte("frames"), 0o644))
	return dir
}

func TestNewDefaults(t *testing.T) {
	t.Setenv("REELQUEUE_SERVER_URL", "")
	assert.Equal(t, "http://localhost:8585", New("").BaseURL())

	t.Setenv("REELQUEUE_SERVER_URL", "http://render-box:9000/")
	assert.Equal(t, "http://render-box:9000", New("").BaseURL())
}

func TestSubmitAndWatch(t *testing.T) {
	c, _ := newStack(t)
	ctx := context.Background()

	id, err := c.Submit(ctx, server.SubmitRequest{
		SourcePath: sourceDir(t),
		ClientID:   "studio-a",
		Priority:   models.PriorityHigh,
	})
	require.NoError(t, err)

	var progress []int
	err = c.Watch(ctx, id, func(ev server.WatchEvent) error {
		require.NotNil(t, ev.Project)
		progress = append(progress, ev.Project.Progress)
		return nil
	})
	require.NoError(t, err)

	require.NotEmpty(t, progress)
	assert.Equal(t, 100, progress[len(progress)-1])
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i], progress[i-1], "progress never decreases")
	}

	snap, err := c.Project(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, snap.Status)
	assert.Equal(t, "studio-a", snap.ClientID)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Completed)
	assert.Equal(t, 2, st.Capacity)
}

func TestFailedProjectVisibleToClient(t *testing.T) {
	c, _ := newStack(t)
	ctx := context.Background()

	id, err := c.Submit(ctx, server.SubmitRequest{
		SourcePath: sourceDir(t),
		Config:     models.Config{"fail": true},
	})
	require.NoError(t, err)
	require.NoError(t, c.Watch(ctx, id, func(server.WatchEvent) error { return nil }))

	snap, err := c.Project(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, snap.Status)
	assert.Equal(t, 45, snap.Progress)
	assert.Equal(t, "stage script failed: no dialogue found", snap.ErrorMessage)

	failed, err := c.Projects(ctx, models.StatusFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, id, failed[0].ID)

	done, err := c.Projects(ctx, models.StatusCompleted)
	require.NoError(t, err)
	assert.Empty(t, done)
}

func TestSubmitInvalidSource(t *testing.T) {
	c, _ := newStack(t)

	_, err := c.Submit(context.Background(), server.SubmitRequest{SourcePath: filepath.Join(t.TempDir(), "missing")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "invalid source path")
}

func TestProjectNotFound(t *testing.T) {
	c, _ := newStack(t)

	_, err := c.Project(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	err = c.Watch(context.Background(), "nope", func(server.WatchEvent) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWatchStopsOnCallbackError(t *testing.T) {
	c, _ := newStack(t)
	errEnough := errors.New("enough")

	n := 0
	err := c.Watch(context.Background(), "", func(ev server.WatchEvent) error {
		require.Equal(t, server.EventStatus, ev.Type)
		n++
		if n == 3 {
			return errEnough
		}
		return nil
	})
	assert.ErrorIs(t, err, errEnough)
	assert.Equal(t, 3, n)
}

func TestWatchStopsOnCancel(t *testing.T) {
	c, _ := newStack(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := c.Watch(ctx, "", func(server.WatchEvent) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
