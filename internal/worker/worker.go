package worker

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/scan-orchestrator/internal/store"
)

// Config holds worker configuration
type Config struct {
	Logger       *slog.Logger
	Store        store.Store
	Pipeline     *Pipeline
	Concurrency  int
	PollInterval time.Duration
}

// Worker runs a fixed pool of claim-and-process loops. Workers share
// nothing but the store: claiming is polling-based, and the store's
// conditional update guarantees a job is handed to at most one loop.
type Worker struct {
	logger       *slog.Logger
	store        store.Store
	pipeline     *Pipeline
	concurrency  int
	pollInterval time.Duration
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}

	return &Worker{
		logger:       cfg.Logger,
		store:        cfg.Store,
		pipeline:     cfg.Pipeline,
		concurrency:  cfg.Concurrency,
		pollInterval: pollInterval,
	}
}

// Start spawns the pool and blocks until the context is canceled or a
// loop reports a store failure. Store failures are fatal: the error
// cancels the sibling loops and propagates to the caller, which should
// let the process exit and be restarted by its supervisor.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.Duration("poll_interval", w.pollInterval),
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		workerNum := i
		g.Go(func() error {
			return w.workerLoop(gctx, workerNum)
		})
	}

	err := g.Wait()
	w.logger.Info("Worker pool stopped")
	return err
}
