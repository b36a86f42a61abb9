package agent

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"
)

// containerTraceDir is where the trace file directory is mounted in containers
const containerTraceDir = "/dprof"

// DockerRunner executes code inside a container of the context's image
type DockerRunner struct {
	docker *client.Client
	logger *zap.Logger
}

// NewDockerRunner creates a docker runner from the environment's daemon settings
func NewDockerRunner(logger *zap.Logger) (*DockerRunner, error) {
	docker, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	return &DockerRunner{
		docker: docker,
		logger: logger.Named("docker-runner"),
	}, nil
}

// Ping checks that the daemon answers
func (r *DockerRunner) Ping(ctx context.Context) error {
	_, err := r.docker.Ping(ctx)
	return err
}

// Close releases the daemon client
func (r *DockerRunner) Close() error {
	return r.docker.Close()
}

// Run executes the code with sh -c in a fresh container and removes it afterwards
func (r *DockerRunner) Run(ctx context.Context, job Job) (*Execution, error) {
	if job.Context.Image == "" {
		return nil, ErrRunnerUnavailable
	}

	runCtx := ctx
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	env := make([]string, 0, len(job.Context.Env)+1)
	for k, v := range job.Context.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	hostConfig := &container.HostConfig{}
	if job.TraceFile != "" {
		dir, name := filepath.Split(job.TraceFile)
		env = append(env, fmt.Sprintf("%s=%s/%s", TraceFileEnv, containerTraceDir, name))
		hostConfig.Mounts = []mount.Mount{{
			Type:   mount.TypeBind,
			Source: dir,
			Target: containerTraceDir,
		}}
	}

	cmd := append([]string{"sh", "-c", job.Code, "profiled"}, job.Context.Args...)
	created, err := r.docker.ContainerCreate(runCtx, &container.Config{
		Image:      job.Context.Image,
		Cmd:        cmd,
		Env:        env,
		WorkingDir: job.Context.WorkingDir,
	}, hostConfig, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	defer func() {
		// The run context may already be done
		rmCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.docker.ContainerRemove(rmCtx, created.ID, container.RemoveOptions{Force: true}); err != nil {
			r.logger.Warn("Failed to remove container",
				zap.String("container_id", created.ID),
				zap.Error(err))
		}
	}()

	result := &Execution{Start: time.Now()}
	if err := r.docker.ContainerStart(runCtx, created.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	r.logger.Info("Container started",
		zap.String("container_id", created.ID),
		zap.String("image", job.Context.Image))

	statusCh, errCh := r.docker.ContainerWait(runCtx, created.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		result.End = time.Now()
		if runCtx.Err() != nil && ctx.Err() == nil {
			return result, fmt.Errorf("container execution timed out after %s", job.Timeout)
		}
		return result, fmt.Errorf("failed to wait for container: %w", err)
	case status := <-statusCh:
		result.End = time.Now()
		result.ExitCode = int(status.StatusCode)
	}

	logs, err := r.docker.ContainerLogs(ctx, created.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return result, fmt.Errorf("failed to get container logs: %w", err)
	}
	defer logs.Close()

	var output bytes.Buffer
	if _, err := stdcopy.StdCopy(&output, &output, logs); err != nil {
		return result, fmt.Errorf("failed to read container logs: %w", err)
	}
	result.Output = output.String()

	return result, nil
}
