package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/reelqueue/internal/config"
	"github.com/raphaelgruber/reelqueue/internal/models"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stage.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func scriptExecutor(t *testing.T, script string, opts CommandOptions) *CommandExecutor {
	t.Helper()
	stages := config.DefaultStages()
	stages["render"] = config.Stage{
		Command: []string{"/bin/sh", script, "{source}", "{output}", "{project}", "{stage}"},
		Env:     map[string]string{"PRESET": "fast"},
	}
	return NewCommandExecutor(stages, opts)
}

func renderContext(t *testing.T, cfg models.Config) StageContext {
	t.Helper()
	return StageContext{
		ProjectID:  "ab12cd34",
		Stage:      "render",
		SourcePath: t.TempDir(),
		OutputDir:  t.TempDir(),
		WorkDir:    t.TempDir(),
		Config:     cfg,
	}
}

func TestCommandExecutorSuccess(t *testing.T) {
	script := writeScript(t, `
echo "rendering $3 stage $4"
echo "$REELQUEUE_CONFIG" > "$2/config.json"
echo "$PRESET" > "$2/preset.txt"
pwd > "$2/cwd.txt"
echo "artifact: config.json"
echo "artifact: $2/preset.txt" 1>&2
`)
	sc := renderContext(t, models.Config{"fps": 24, "lang": "en"})
	res, err := scriptExecutor(t, script, CommandOptions{}).Run(context.Background(), sc)

	require.NoError(t, err)
	require.True(t, res.Success, res.Diagnostic)
	assert.ElementsMatch(t, []string{"config.json", filepath.Join(sc.OutputDir, "preset.txt")}, res.Artifacts)

	cfgJSON, err := os.ReadFile(filepath.Join(sc.OutputDir, "config.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"fps":24,"lang":"en"}`, string(cfgJSON))

	preset, err := os.ReadFile(filepath.Join(sc.OutputDir, "preset.txt"))
	require.NoError(t, err)
	assert.Equal(t, "fast\n", string(preset))

	cwd, err := os.ReadFile(filepath.Join(sc.OutputDir, "cwd.txt"))
	require.NoError(t, err)
	resolved, err := filepath.EvalSymlinks(sc.WorkDir)
	require.NoError(t, err)
	assert.Contains(t, []string{sc.WorkDir, resolved}, strings.TrimSpace(string(cwd)))
}

func TestCommandExecutorFailure(t *testing.T) {
	script := writeScript(t, `
echo "decoding frames"
echo "codec not supported" 1>&2
exit 3
`)
	res, err := scriptExecutor(t, script, CommandOptions{}).Run(context.Background(), renderContext(t, nil))

	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Diagnostic, "exit status 3")
	assert.Contains(t, res.Diagnostic, "codec not supported")
}

func TestCommandExecutorTruncatesOutput(t *testing.T) {
	script := writeScript(t, `
i=0
while [ $i -lt 200 ]; do echo "line $i"; i=$((i+1)); done
exit 1
`)
	res, err := scriptExecutor(t, script, CommandOptions{OutputLimit: 64}).Run(context.Background(), renderContext(t, nil))

	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Diagnostic, "line 199")
	assert.NotContains(t, res.Diagnostic, "line 0\n")
	assert.Contains(t, res.Diagnostic, "...")
}

func TestCommandExecutorRejectsNestedConfig(t *testing.T) {
	script := writeScript(t, "exit 0\n")
	cfg := models.Config{"crop": map[string]any{"w": 1920}}

	res, err := scriptExecutor(t, script, CommandOptions{}).Run(context.Background(), renderContext(t, cfg))

	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Diagnostic, "invalid project config")
}

func TestCommandExecutorMissingBinary(t *testing.T) {
	stages := config.Stages{"render": {Command: []string{"/nonexistent/reelqueue-render"}}}
	_, err := NewCommandExecutor(stages, CommandOptions{}).Run(context.Background(), renderContext(t, nil))
	assert.Error(t, err)
}

func TestCommandExecutorUnknownStage(t *testing.T) {
	sc := renderContext(t, nil)
	sc.Stage = "upload"
	_, err := NewCommandExecutor(config.DefaultStages(), CommandOptions{}).Run(context.Background(), sc)
	assert.ErrorIs(t, err, config.ErrUnknownStage)
}

func TestCommandExecutorKillsProcessGroupOnCancel(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping subprocess cancellation in short mode")
	}

	pidFile := filepath.Join(t.TempDir(), "child.pid")
	script := writeScript(t, `
trap '' TERM
sleep 30 &
echo $! > "`+pidFile+`"
wait
`)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := scriptExecutor(t, script, CommandOptions{KillGrace: 200 * time.Millisecond}).Run(ctx, renderContext(t, nil))

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)

	raw, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	// A reaped or zombie child counts as gone.
	childAlive := func() bool {
		stat, statErr := os.ReadFile(filepath.Join("/proc", strings.TrimSpace(string(raw)), "stat"))
		if statErr != nil {
			return false
		}
		_, rest, _ := strings.Cut(string(stat), ") ")
		return !strings.HasPrefix(rest, "Z")
	}
	assert.Eventually(t, func() bool { return !childAlive() }, 2*time.Second, 20*time.Millisecond)
}

func TestProcessOutputArtifacts(t *testing.T) {
	out := newProcessOutput(0)
	_, _ = out.Write([]byte("artifact: a.mp4\nnoise\nartif"))
	_, _ = out.Write([]byte("act: b.srt\nartifact:   \nartifact: c.wav"))

	assert.Equal(t, []string{"a.mp4", "b.srt", "c.wav"}, out.Artifacts())
}

func TestProcessOutputCarriageReturns(t *testing.T) {
	out := newProcessOutput(1024)
	meter := []byte(strings.Repeat("frame=  100 fps=30\r", 1000))
	for range 100 {
		_, _ = out.Write(meter)
	}
	_, _ = out.Write([]byte("artifact: final.mp4\r\n"))

	assert.LessOrEqual(t, len(out.partial), maxLineBytes)
	assert.Len(t, out.tail, 1024)
	assert.Equal(t, []string{"final.mp4"}, out.Artifacts())
}

func TestProcessOutputOverlongLine(t *testing.T) {
	out := newProcessOutput(0)
	long := []byte(strings.Repeat("#", 1000))
	_, _ = out.Write([]byte("artifact: "))
	for range 50 {
		_, _ = out.Write(long)
	}

	assert.LessOrEqual(t, len(out.partial), maxLineBytes)
	assert.Empty(t, out.Artifacts(), "an overlong line is never an artifact")

	_, _ = out.Write([]byte("\nartifact: b.srt\n"))
	assert.Equal(t, []string{"b.srt"}, out.Artifacts())
}

func TestExpandArgs(t *testing.T) {
	sc := StageContext{ProjectID: "p1", Stage: "ingest", SourcePath: "/media/in", OutputDir: "/media/in/output", WorkDir: "/tmp/w"}
	got := expandArgs([]string{"tool", "--in={source}", "{output}/{project}-{stage}.mp4", "{workdir}"}, sc)
	assert.Equal(t, []string{"tool", "--in=/media/in", "/media/in/output/p1-ingest.mp4", "/tmp/w"}, got)
}
