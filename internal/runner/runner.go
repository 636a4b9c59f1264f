package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Mount maps a host directory into the container.
type Mount struct {
	Host      string
	Container string
	ReadOnly  bool
}

// Spec describes one containerized invocation.
type Spec struct {
	Image   string
	Args    []string
	Mounts  []Mount
	WorkDir string            // working directory inside the container, optional
	Env     map[string]string // extra environment variables, optional
	Timeout time.Duration
}

// Result is the captured outcome of an invocation. Non-zero exit codes and
// timeouts are reported here, not as errors: callers inspect the result.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}

// Runner launches an isolated process with a hard wall-clock timeout.
type Runner interface {
	Run(ctx context.Context, spec Spec) (Result, error)
}

// DockerRunner runs containers through the docker CLI with --rm, so the
// container is removed regardless of outcome.
type DockerRunner struct {
	binary string
	logger *slog.Logger
}

func NewDockerRunner(logger *slog.Logger) *DockerRunner {
	return &DockerRunner{
		binary: "docker",
		logger: logger,
	}
}

// NewDockerRunnerWithBinary overrides the CLI binary. Used by tests to
// substitute a script for the docker client.
func NewDockerRunnerWithBinary(binary string, logger *slog.Logger) *DockerRunner {
	return &DockerRunner{
		binary: binary,
		logger: logger,
	}
}

// Run executes the spec and waits for completion. The process is killed
// when the timeout expires; the partial output captured up to that point
// is still returned. Run only returns an error when the process cannot be
// started at all.
func (r *DockerRunner) Run(ctx context.Context, spec Spec) (Result, error) {
	runCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	// Named so a timed-out container can be removed by name. Killing the
	// CLI client does not stop the daemon-side container, and a container
	// that never exits never triggers --rm.
	name := "scan-" + uuid.NewString()
	args := buildDockerArgs(spec, name)

	r.logger.Debug("Running container",
		slog.String("image", spec.Image),
		slog.String("name", name),
		slog.Duration("timeout", spec.Timeout),
	)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, r.binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Escalate to SIGKILL if the CLI ignores the cancellation signal.
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	result := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if runCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		r.logger.Warn("Container run timed out",
			slog.String("image", spec.Image),
			slog.String("name", name),
			slog.Duration("elapsed", elapsed),
		)
		r.removeContainer(name)
		return result, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("failed to run %s: %w", r.binary, err)
	}

	result.ExitCode = 0
	return result, nil
}

// removeContainer force-removes a container left behind by a timed-out
// run. Best-effort: the container may already be gone when the client
// exited between the deadline and the kill.
func (r *DockerRunner) removeContainer(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, r.binary, "rm", "-f", name).CombinedOutput()
	if err != nil {
		r.logger.Warn("Failed to remove timed out container",
			slog.String("name", name),
			slog.String("output", string(out)),
			slog.Any("error", err),
		)
	}
}

// buildDockerArgs assembles the docker CLI arguments. Everything is passed
// as discrete argv entries, never through a shell, so user-supplied values
// cannot inject commands.
func buildDockerArgs(spec Spec, name string) []string {
	args := []string{"run", "--rm", "--name", name}

	for _, m := range spec.Mounts {
		vol := m.Host + ":" + m.Container
		if m.ReadOnly {
			vol += ":ro"
		}
		args = append(args, "-v", vol)
	}

	if spec.WorkDir != "" {
		args = append(args, "-w", spec.WorkDir)
	}

	// Sorted for deterministic invocations.
	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", k+"="+spec.Env[k])
	}

	args = append(args, spec.Image)
	args = append(args, spec.Args...)
	return args
}
