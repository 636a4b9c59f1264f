package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cuongbtq/scan-orchestrator/internal/events"
	"github.com/cuongbtq/scan-orchestrator/internal/runner"
	"github.com/cuongbtq/scan-orchestrator/internal/scan"
	"github.com/cuongbtq/scan-orchestrator/internal/scanners"
	"github.com/cuongbtq/scan-orchestrator/internal/store"
)

// maxLogDetail bounds how much captured process output goes into one
// job log line.
const maxLogDetail = 4000

// Fetcher clones a repository into a prepared working directory.
type Fetcher interface {
	Fetch(ctx context.Context, repoURL, ref, workDir string, timeout time.Duration) error
}

// Tool pairs a driver with the container image it runs in.
type Tool struct {
	Driver scanners.Driver
	Image  string
}

// PipelineConfig holds pipeline executor dependencies
type PipelineConfig struct {
	Logger       *slog.Logger
	Store        store.Store
	Runner       runner.Runner
	Fetcher      Fetcher
	Publisher    events.Publisher
	Tools        []Tool
	WorkRoot     string
	CloneTimeout time.Duration
	ScanTimeout  time.Duration
}

// Pipeline drives one claimed job through workspace preparation,
// repository fetch, the configured drivers in order, and the terminal
// status transition. A failure in any stage fails the job and skips the
// remaining stages; findings persisted before the failure remain visible.
type Pipeline struct {
	logger       *slog.Logger
	store        store.Store
	runner       runner.Runner
	fetcher      Fetcher
	publisher    events.Publisher
	tools        []Tool
	workRoot     string
	cloneTimeout time.Duration
	scanTimeout  time.Duration
}

func NewPipeline(cfg *PipelineConfig) *Pipeline {
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	return &Pipeline{
		logger:       cfg.Logger,
		store:        cfg.Store,
		runner:       cfg.Runner,
		fetcher:      cfg.Fetcher,
		publisher:    publisher,
		tools:        cfg.Tools,
		workRoot:     cfg.WorkRoot,
		cloneTimeout: cfg.CloneTimeout,
		scanTimeout:  cfg.ScanTimeout,
	}
}

// Execute runs one job to a terminal state. It never returns an error:
// every failure path lands in the job's failed status and log.
func (p *Pipeline) Execute(ctx context.Context, job *scan.Job) {
	logger := p.logger.With(slog.String("job_id", job.JobID))

	// Preparing: the job directory must never contain stale content.
	workDir := filepath.Join(p.workRoot, job.JobID)
	if err := os.RemoveAll(workDir); err != nil {
		p.fail(ctx, job, fmt.Errorf("failed to clear workspace: %w", err))
		return
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		p.fail(ctx, job, fmt.Errorf("failed to create workspace: %w", err))
		return
	}
	if err := p.store.SetJobWorkDir(ctx, job.JobID, workDir); err != nil {
		logger.Warn("Failed to record work dir",
			slog.Any("error", err),
		)
	}
	job.WorkDir = workDir
	p.log(ctx, job, scan.LogLevelInfo, "workspace prepared at "+workDir)

	// Fetching
	p.log(ctx, job, scan.LogLevelInfo, "cloning "+job.RepoURL)
	if err := p.fetcher.Fetch(ctx, job.RepoURL, job.Ref, workDir, p.cloneTimeout); err != nil {
		p.fail(ctx, job, err)
		return
	}
	p.log(ctx, job, scan.LogLevelInfo, "repository fetched")

	// Scanning: fixed order, fail-fast. Findings are persisted per tool
	// so partial progress is visible to pollers.
	for _, tool := range p.tools {
		name := tool.Driver.Name()
		p.log(ctx, job, scan.LogLevelInfo, "running "+name)

		raw, err := tool.Driver.Scan(ctx, p.runner, workDir, tool.Image, p.scanTimeout)
		if err != nil {
			p.fail(ctx, job, err)
			return
		}

		summary := tool.Driver.Summarize(raw)
		if err := p.store.AddFinding(ctx, job.JobID, name, summary, raw); err != nil {
			p.fail(ctx, job, fmt.Errorf("failed to persist %s finding: %w", name, err))
			return
		}

		p.log(ctx, job, scan.LogLevelInfo,
			fmt.Sprintf("%s completed: %d findings (critical=%d high=%d)",
				name, summary.Total, summary.Critical, summary.High))
	}

	// Finalizing. The workspace is left on disk; cleanup is an external
	// concern. The terminal write must land even when shutdown canceled
	// the pool context, or the job is stranded in running.
	ctx = context.WithoutCancel(ctx)
	if err := p.store.FinishJob(ctx, job.JobID, scan.JobStatusSucceeded, ""); err != nil {
		logger.Error("Failed to mark job succeeded",
			slog.Any("error", err),
		)
		return
	}
	p.log(ctx, job, scan.LogLevelInfo, "scan succeeded")

	job.Status = scan.JobStatusSucceeded
	job.Error = ""
	p.publisher.JobTransition(ctx, job)

	logger.Info("Job succeeded")
}

func (p *Pipeline) fail(ctx context.Context, job *scan.Job, cause error) {
	// The stage may have failed because shutdown canceled the context;
	// the failure log and terminal status write still have to land, or
	// the claimed job never reaches a terminal state.
	ctx = context.WithoutCancel(ctx)

	msg := cause.Error()
	p.log(ctx, job, scan.LogLevelError, msg)

	// Preserve the captured process output for operators.
	var stageErr *scan.StageError
	if errors.As(cause, &stageErr) && stageErr.Detail != "" {
		detail := stageErr.Detail
		if len(detail) > maxLogDetail {
			detail = detail[:maxLogDetail]
		}
		p.log(ctx, job, scan.LogLevelError, detail)
	}

	if err := p.store.FinishJob(ctx, job.JobID, scan.JobStatusFailed, msg); err != nil {
		p.logger.Error("Failed to mark job failed",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)
	}

	job.Status = scan.JobStatusFailed
	job.Error = msg
	p.publisher.JobTransition(ctx, job)

	p.logger.Warn("Job failed",
		slog.String("job_id", job.JobID),
		slog.String("error", msg),
	)
}

func (p *Pipeline) log(ctx context.Context, job *scan.Job, level, message string) {
	if err := p.store.AppendLog(ctx, job.JobID, level, message); err != nil {
		p.logger.Warn("Failed to append job log",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)
	}
}
