package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marcelujan/mgq-admin-sub000/internal/domain"
	"github.com/marcelujan/mgq-admin-sub000/internal/jobs"
	"github.com/marcelujan/mgq-admin-sub000/internal/jobs/storage"
)

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	Storage       *storage.Storage
	Runner        *jobs.Runner
	PollInterval  time.Duration
	LeaseDuration time.Duration
	JobTimeout    time.Duration
}

// Worker polls the job store for eligible work. There is no queue in front of
// it: claiming a row under a lease IS the delivery, and an expired lease is
// how work from a crashed worker becomes claimable again.
type Worker struct {
	logger        *slog.Logger
	storage       *storage.Storage
	runner        *jobs.Runner
	pollInterval  time.Duration
	leaseDuration time.Duration
	jobTimeout    time.Duration
	workerID      string
	wg            sync.WaitGroup
	stopChan      chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "worker"
	}

	return &Worker{
		logger:        cfg.Logger,
		storage:       cfg.Storage,
		runner:        cfg.Runner,
		pollInterval:  cfg.PollInterval,
		leaseDuration: cfg.LeaseDuration,
		jobTimeout:    cfg.JobTimeout,
		workerID:      fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8]),
		stopChan:      make(chan struct{}),
	}
}

// WorkerID returns the lease-owner identity of this instance.
func (w *Worker) WorkerID() string {
	return w.workerID
}

// Start begins polling for jobs until the context is canceled or Stop is
// called. It drains the queue as fast as jobs complete and idles on the poll
// interval when the queue is empty.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Duration("poll_interval", w.pollInterval),
		slog.Duration("lease_duration", w.leaseDuration),
	)

	w.wg.Add(1)
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Worker context canceled, stopping...")
			return nil
		case <-w.stopChan:
			w.logger.Info("Worker stop requested, stopping...")
			return nil
		default:
		}

		claimed, err := w.runOnce(ctx)
		if err != nil {
			w.logger.Error("Job cycle failed",
				slog.String("worker_id", w.workerID),
				slog.String("error", err.Error()),
			)
		}
		if claimed && err == nil {
			// More work may be waiting; poll again immediately.
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-w.stopChan:
			return nil
		case <-time.After(w.pollInterval):
		}
	}
}

// runOnce claims and executes at most one job. The bool reports whether a
// job was claimed at all.
func (w *Worker) runOnce(ctx context.Context) (bool, error) {
	job, err := w.storage.ClaimNext(ctx, w.workerID, w.leaseDuration)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	jobCtx := ctx
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	outcome, err := w.runner.Run(jobCtx, job)
	if err != nil {
		return true, fmt.Errorf("failed to run job %s: %w", job.JobID, err)
	}

	w.logger.Info("Job cycle finished",
		slog.String("job_id", outcome.JobID),
		slog.String("state", string(outcome.State)),
		slog.Int("attempts", outcome.Attempts),
	)

	if outcome.State == domain.JobStateFailed {
		w.logger.Warn("Job ended in FAILED",
			slog.String("job_id", outcome.JobID),
			slog.String("error", outcome.LastError),
		)
	}
	return true, nil
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
