package gitfetch

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/cuongbtq/scan-orchestrator/internal/runner"
	"github.com/cuongbtq/scan-orchestrator/internal/scan"
)

// containerRepoPath is where the job directory is mounted for git commands.
const containerRepoPath = "/work"

// refPattern accepts branch/tag/commit names and rejects anything that
// could be taken as a flag or shell metacharacter. Refs are user-supplied,
// so this is a hard requirement, not hygiene.
var refPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/@-]*$`)

// Fetcher performs shallow clones through the container runtime.
type Fetcher struct {
	runner runner.Runner
	image  string
	logger *slog.Logger
}

func NewFetcher(r runner.Runner, gitImage string, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		runner: r,
		image:  gitImage,
		logger: logger,
	}
}

// Fetch shallow-clones repoURL into workDir (expected to exist and be
// empty) and, when ref is non-empty, fetches all refs/tags and checks the
// ref out. Failures carry the captured process output as a StageError.
func (f *Fetcher) Fetch(ctx context.Context, repoURL, ref, workDir string, timeout time.Duration) error {
	if ref != "" && !refPattern.MatchString(ref) {
		return &scan.StageError{
			Stage:  "checkout",
			Reason: "failed",
			Err:    fmt.Errorf("invalid ref %q", ref),
		}
	}

	f.logger.Info("Cloning repository",
		slog.String("repo_url", repoURL),
		slog.String("ref", ref),
	)

	// The trailing "--" stops git from treating a crafted URL as an option.
	res, err := f.git(ctx, workDir, timeout, "clone", "--depth", "1", "--", repoURL, ".")
	if err != nil {
		return fmt.Errorf("failed to run git clone: %w", err)
	}
	if stageErr := stageFailure("clone", res); stageErr != nil {
		return stageErr
	}

	if ref == "" {
		return nil
	}

	res, err = f.git(ctx, workDir, timeout, "fetch", "--tags", "origin")
	if err != nil {
		return fmt.Errorf("failed to run git fetch: %w", err)
	}
	if stageErr := stageFailure("checkout", res); stageErr != nil {
		return stageErr
	}

	res, err = f.git(ctx, workDir, timeout, "checkout", "--detach", ref)
	if err != nil {
		return fmt.Errorf("failed to run git checkout: %w", err)
	}
	if stageErr := stageFailure("checkout", res); stageErr != nil {
		return stageErr
	}

	return nil
}

func (f *Fetcher) git(ctx context.Context, workDir string, timeout time.Duration, args ...string) (runner.Result, error) {
	return f.runner.Run(ctx, runner.Spec{
		Image: f.image,
		Args:  args,
		Mounts: []runner.Mount{
			{Host: workDir, Container: containerRepoPath},
		},
		WorkDir: containerRepoPath,
		Timeout: timeout,
	})
}

func stageFailure(stage string, res runner.Result) error {
	if res.TimedOut {
		return &scan.StageError{
			Stage:    stage,
			Reason:   "timeout",
			Detail:   res.Stderr,
			TimedOut: true,
		}
	}
	if res.ExitCode != 0 {
		return &scan.StageError{
			Stage:  stage,
			Reason: "failed",
			Err:    fmt.Errorf("exit code %d", res.ExitCode),
			Detail: res.Stderr + res.Stdout,
		}
	}
	return nil
}
