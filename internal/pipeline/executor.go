package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/raphaelgruber/reelqueue/internal/config"
)

const defaultKillGrace = 10 * time.Second

// CommandExecutor runs each stage as an external program described by a
// config.Stages entry. The program runs in its own process group so that
// cancellation reaches everything it spawned.
//
// Exit status 0 is success. Lines of the form "artifact: <path>" on stdout or
// stderr report produced files.
type CommandExecutor struct {
	stages      config.Stages
	killGrace   time.Duration
	outputLimit int
	logger      *slog.Logger
}

// CommandOptions configures a CommandExecutor.
type CommandOptions struct {
	// KillGrace is how long a cancelled process group has between SIGTERM
	// and SIGKILL.
	KillGrace time.Duration
	// OutputLimit is how many trailing bytes of output are kept for
	// diagnostics.
	OutputLimit int
	Logger      *slog.Logger
}

// NewCommandExecutor creates an executor for the given stage definitions.
func NewCommandExecutor(stages config.Stages, opts CommandOptions) *CommandExecutor {
	if opts.KillGrace <= 0 {
		opts.KillGrace = defaultKillGrace
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &CommandExecutor{
		stages:      stages,
		killGrace:   opts.KillGrace,
		outputLimit: opts.OutputLimit,
		logger:      opts.Logger,
	}
}

// Run executes the stage's command and waits for it to exit.
func (e *CommandExecutor) Run(ctx context.Context, sc StageContext) (StageResult, error) {
	def, ok := e.stages[sc.Stage]
	if !ok || len(def.Command) == 0 {
		return StageResult{}, fmt.Errorf("%w: %s", config.ErrUnknownStage, sc.Stage)
	}

	if err := sc.Config.Validate(); err != nil {
		return StageResult{Diagnostic: "invalid project config: " + err.Error()}, nil
	}
	configJSON, err := json.Marshal(sc.Config)
	if err != nil {
		return StageResult{Diagnostic: "encode project config: " + err.Error()}, nil
	}

	argv := expandArgs(def.Command, sc)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = sc.WorkDir
	cmd.Env = stageEnv(def.Env, sc, configJSON)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = e.killGrace

	out := newProcessOutput(e.outputLimit)
	cmd.Stdout = out
	cmd.Stderr = out

	e.logger.Debug("starting stage command", "project_id", sc.ProjectID, "stage", sc.Stage, "argv", argv)

	if err := cmd.Start(); err != nil {
		return StageResult{}, fmt.Errorf("start %s: %w", argv[0], err)
	}
	err = cmd.Wait()

	if ctx.Err() != nil {
		// Sweep anything in the group that ignored SIGTERM.
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		return StageResult{Diagnostic: out.Tail()}, fmt.Errorf("stage %s interrupted: %w", sc.Stage, ctx.Err())
	}

	if errors.Is(err, exec.ErrWaitDelay) {
		// Exited cleanly but a leftover child kept the output pipes open.
		e.logger.Warn("stage command left processes behind", "project_id", sc.ProjectID, "stage", sc.Stage)
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		err = nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return StageResult{}, fmt.Errorf("wait %s: %w", argv[0], err)
		}
		diag := fmt.Sprintf("%s: %v", argv[0], err)
		if tail := out.Tail(); tail != "" {
			diag += ": " + tail
		}
		return StageResult{Diagnostic: diag}, nil
	}

	return StageResult{Success: true, Artifacts: out.Artifacts()}, nil
}

func expandArgs(args []string, sc StageContext) []string {
	r := strings.NewReplacer(
		"{source}", sc.SourcePath,
		"{output}", sc.OutputDir,
		"{workdir}", sc.WorkDir,
		"{project}", sc.ProjectID,
		"{stage}", sc.Stage,
	)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}

func stageEnv(extra map[string]string, sc StageContext, configJSON []byte) []string {
	env := os.Environ()
	env = append(env,
		"REELQUEUE_PROJECT_ID="+sc.ProjectID,
		"REELQUEUE_STAGE="+sc.Stage,
		"REELQUEUE_SOURCE="+sc.SourcePath,
		"REELQUEUE_OUTPUT="+sc.OutputDir,
		"REELQUEUE_WORKDIR="+sc.WorkDir,
		"REELQUEUE_CONFIG="+string(configJSON),
	)
	if sc.WorkDir != "" {
		env = append(env, "PWD="+sc.WorkDir)
	}
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}
