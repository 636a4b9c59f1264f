package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// workerLoop is the main processing loop for each worker goroutine:
// claim a job, run the pipeline on it, repeat. When no job is eligible
// it idles for the poll interval before trying again.
func (w *Worker) workerLoop(ctx context.Context, workerNum int) error {
	logger := w.logger.With(slog.Int("worker_num", workerNum))
	logger.Info("Worker goroutine started")

	for {
		if ctx.Err() != nil {
			logger.Info("Worker goroutine stopping - context canceled")
			return nil
		}

		job, err := w.store.ClaimNextJob(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("Worker goroutine stopping - context canceled")
				return nil
			}
			// A store that cannot serve claims means jobs would be
			// silently skipped; crash instead.
			logger.Error("Job claim failed",
				slog.Any("error", err),
			)
			return fmt.Errorf("worker %d: claim failed: %w", workerNum, err)
		}

		if job == nil {
			select {
			case <-ctx.Done():
				logger.Info("Worker goroutine stopping - context canceled")
				return nil
			case <-time.After(w.pollInterval):
			}
			continue
		}

		logger.Info("Worker claimed job",
			slog.String("job_id", job.JobID),
			slog.String("repo_url", job.RepoURL),
		)

		w.pipeline.Execute(ctx, job)
	}
}
