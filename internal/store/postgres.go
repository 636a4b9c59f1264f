package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cuongbtq/scan-orchestrator/internal/scan"
)

// PostgresStore implements Store on top of PostgreSQL. The claim protocol
// relies on a single conditional UPDATE with FOR UPDATE SKIP LOCKED, so
// concurrent claimers never receive the same job.
type PostgresStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgresStore creates a PostgresStore and applies pending migrations.
func NewPostgresStore(ctx context.Context, db *sqlx.DB, logger *slog.Logger) (*PostgresStore, error) {
	s := &PostgresStore{
		db:     db,
		logger: logger,
	}

	if err := s.applyMigrations(ctx); err != nil {
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return s, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *scan.Job) error {
	query := `
		INSERT INTO jobs (
			job_id, repo_url, ref, status, work_dir, error_message, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.JobID,
		job.RepoURL,
		job.Ref,
		job.Status,
		job.WorkDir,
		job.Error,
		job.CreatedAt,
	)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return scan.ErrDuplicateJob
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// ClaimNextJob selects the oldest queued job, locking past rows other
// claimers already hold, and transitions it to RUNNING in the same
// statement. The status guard in the outer UPDATE makes the check-and-set
// atomic even without SKIP LOCKED semantics.
func (s *PostgresStore) ClaimNextJob(ctx context.Context) (*scan.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    started_at = NOW()
		WHERE job_id = (
		    SELECT job_id FROM jobs
		    WHERE status = $2
		    ORDER BY created_at, job_id
		    LIMIT 1
		    FOR UPDATE SKIP LOCKED
		)
		  AND status = $2
		RETURNING job_id, repo_url, ref, status, work_dir, error_message,
		          created_at, started_at, finished_at
	`

	var job scan.Job
	err := s.db.QueryRowContext(ctx, query, scan.JobStatusRunning, scan.JobStatusQueued).Scan(
		&job.JobID,
		&job.RepoURL,
		&job.Ref,
		&job.Status,
		&job.WorkDir,
		&job.Error,
		&job.CreatedAt,
		&job.StartedAt,
		&job.FinishedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	s.logger.Info("Job claimed",
		slog.String("job_id", job.JobID),
		slog.String("repo_url", job.RepoURL),
	)

	return &job, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*scan.Job, error) {
	query := `
		SELECT job_id, repo_url, ref, status, work_dir, error_message,
		       created_at, started_at, finished_at
		FROM jobs
		WHERE job_id = $1
	`

	var job scan.Job
	err := s.db.GetContext(ctx, &job, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, scan.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

func (s *PostgresStore) ListRecentJobs(ctx context.Context, limit int) ([]scan.Job, error) {
	query := `
		SELECT job_id, repo_url, ref, status, work_dir, error_message,
		       created_at, started_at, finished_at
		FROM jobs
		ORDER BY created_at DESC, job_id DESC
		LIMIT $1
	`

	jobs := []scan.Job{}
	if err := s.db.SelectContext(ctx, &jobs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

func (s *PostgresStore) SetJobWorkDir(ctx context.Context, jobID, workDir string) error {
	query := `UPDATE jobs SET work_dir = $1 WHERE job_id = $2`

	if _, err := s.db.ExecContext(ctx, query, workDir, jobID); err != nil {
		return fmt.Errorf("failed to set job work dir: %w", err)
	}

	return nil
}

func (s *PostgresStore) FinishJob(ctx context.Context, jobID, status, errorMsg string) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    error_message = $2,
		    finished_at = NOW()
		WHERE job_id = $3
	`

	// Job deletion is an external concern; zero rows affected is fine here.
	if _, err := s.db.ExecContext(ctx, query, status, errorMsg, jobID); err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}

	s.logger.Info("Job finished",
		slog.String("job_id", jobID),
		slog.String("status", status),
	)

	return nil
}

func (s *PostgresStore) AppendLog(ctx context.Context, jobID, level, message string) error {
	query := `
		INSERT INTO job_logs (job_id, level, message, created_at)
		VALUES ($1, $2, $3, NOW())
	`

	if _, err := s.db.ExecContext(ctx, query, jobID, level, message); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "foreign_key_violation" {
			return scan.ErrJobNotFound
		}
		return fmt.Errorf("failed to append log: %w", err)
	}

	return nil
}

func (s *PostgresStore) ListLogsSince(ctx context.Context, jobID string, afterSeq int64, limit int) ([]scan.LogLine, error) {
	query := `
		SELECT seq, job_id, level, message, created_at
		FROM job_logs
		WHERE job_id = $1 AND seq > $2
		ORDER BY seq
		LIMIT $3
	`

	lines := []scan.LogLine{}
	if err := s.db.SelectContext(ctx, &lines, query, jobID, afterSeq, limit); err != nil {
		return nil, fmt.Errorf("failed to list logs: %w", err)
	}

	return lines, nil
}

func (s *PostgresStore) AddFinding(ctx context.Context, jobID, tool string, summary scan.Summary, raw []byte) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	query := `
		INSERT INTO findings (job_id, tool, summary, raw, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`

	if _, err := s.db.ExecContext(ctx, query, jobID, tool, summaryJSON, raw); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "foreign_key_violation" {
			return scan.ErrJobNotFound
		}
		return fmt.Errorf("failed to add finding: %w", err)
	}

	return nil
}

func (s *PostgresStore) ListFindings(ctx context.Context, jobID string) ([]scan.Finding, error) {
	query := `
		SELECT job_id, tool, summary, raw, created_at
		FROM findings
		WHERE job_id = $1
		ORDER BY created_at, tool
	`

	rows, err := s.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}
	defer rows.Close()

	findings := []scan.Finding{}
	for rows.Next() {
		var f scan.Finding
		var summaryJSON []byte
		if err := rows.Scan(&f.JobID, &f.Tool, &summaryJSON, &f.Raw, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		if err := json.Unmarshal(summaryJSON, &f.Summary); err != nil {
			return nil, fmt.Errorf("failed to unmarshal summary: %w", err)
		}
		findings = append(findings, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}

	return findings, nil
}
