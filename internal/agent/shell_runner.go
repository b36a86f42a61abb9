package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// ShellRunner executes code with the local shell
type ShellRunner struct {
	shell   string
	monitor *ResourceMonitor
	logger  *zap.Logger
}

// NewShellRunner creates a new shell runner
func NewShellRunner(shell string, monitor *ResourceMonitor, logger *zap.Logger) *ShellRunner {
	if shell == "" {
		shell = "/bin/sh"
	}
	return &ShellRunner{
		shell:   shell,
		monitor: monitor,
		logger:  logger.Named("shell-runner"),
	}
}

// Run executes the code as a shell script. A non-zero exit is reported in the
// execution, not as an error.
func (r *ShellRunner) Run(ctx context.Context, job Job) (*Execution, error) {
	cmdCtx := ctx
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	args := append([]string{"-c", job.Code, "profiled"}, job.Context.Args...)
	cmd := exec.CommandContext(cmdCtx, r.shell, args...)
	if job.Context.WorkingDir != "" {
		cmd.Dir = job.Context.WorkingDir
	}

	cmd.Env = os.Environ()
	for k, v := range job.Context.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	if job.TraceFile != "" {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", TraceFileEnv, job.TraceFile))
	}

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	r.logger.Info("Executing profiled code",
		zap.String("shell", r.shell),
		zap.Strings("args", job.Context.Args))

	result := &Execution{Start: time.Now()}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start command: %w", err)
	}

	var tracker *ProcessTracker
	if r.monitor != nil {
		t, err := r.monitor.Track(ctx, cmd.Process.Pid)
		if err != nil {
			r.logger.Debug("Process tracking unavailable", zap.Error(err))
		} else {
			tracker = t
		}
	}

	waitErr := cmd.Wait()
	result.End = time.Now()
	if tracker != nil {
		result.Usage = tracker.Stop()
	}
	result.Output = output.String()

	if state := cmd.ProcessState; state != nil {
		result.CPUTime = state.UserTime() + state.SystemTime()
		result.ExitCode = state.ExitCode()
	}

	if waitErr != nil {
		if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
			return result, fmt.Errorf("command execution timed out after %s", job.Timeout)
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return result, fmt.Errorf("failed to run command: %w", waitErr)
		}
	}
	return result, nil
}
