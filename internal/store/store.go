package store

import (
	"context"

	"github.com/cuongbtq/scan-orchestrator/internal/scan"
)

// Store is the durable record of jobs, their append-only logs and their
// findings. It is the only shared mutable resource between the API service
// and the workers, and is responsible for serializing the claim race.
type Store interface {
	// CreateJob inserts a new queued job. Returns scan.ErrDuplicateJob if
	// the job id already exists.
	CreateJob(ctx context.Context, job *scan.Job) error

	// ClaimNextJob atomically transitions the oldest queued job to RUNNING,
	// stamping started_at, and returns it. Returns (nil, nil) when no queued
	// job exists or the conditional update lost a race to another claimer.
	// At most one caller ever receives a given job.
	ClaimNextJob(ctx context.Context) (*scan.Job, error)

	// GetJob returns a job by id, or scan.ErrJobNotFound.
	GetJob(ctx context.Context, jobID string) (*scan.Job, error)

	// ListRecentJobs returns up to limit jobs, newest first.
	ListRecentJobs(ctx context.Context, limit int) ([]scan.Job, error)

	// SetJobWorkDir records the working directory assigned to a claimed job.
	SetJobWorkDir(ctx context.Context, jobID, workDir string) error

	// FinishJob moves a job to a terminal status, stamping finished_at and
	// replacing the error message (empty on success, clearing any stale
	// value). Silently no-ops if the job no longer exists.
	FinishJob(ctx context.Context, jobID, status, errorMsg string) error

	// AppendLog appends one log line to a job. Returns scan.ErrJobNotFound
	// if the job is unknown.
	AppendLog(ctx context.Context, jobID, level, message string) error

	// ListLogsSince returns up to limit log lines with seq > afterSeq,
	// in sequence order.
	ListLogsSince(ctx context.Context, jobID string, afterSeq int64, limit int) ([]scan.LogLine, error)

	// AddFinding records the result of one tool run against one job.
	// Returns scan.ErrJobNotFound if the job is unknown.
	AddFinding(ctx context.Context, jobID, tool string, summary scan.Summary, raw []byte) error

	// ListFindings returns a job's findings in insertion order.
	ListFindings(ctx context.Context, jobID string) ([]scan.Finding, error)
}
