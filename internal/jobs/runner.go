package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/marcelujan/mgq-admin-sub000/internal/domain"
	"github.com/marcelujan/mgq-admin-sub000/internal/engine"
)

// JobStore is the slice of the job storage layer the runner drives.
type JobStore interface {
	GetItem(ctx context.Context, itemID int64) (*domain.Item, error)
	UpsertResult(ctx context.Context, result *domain.JobResult) error
	MarkWaitingReview(ctx context.Context, jobID string, attempts int) error
	MarkFailed(ctx context.Context, jobID string, attempts int, lastErr string) error
	SetItemReview(ctx context.Context, itemID int64, status domain.ItemReviewStatus, errMsg string) error
}

// Extractor resolves an engine id and runs the extraction. Implemented by
// engine.Registry.
type Extractor interface {
	Extract(ctx context.Context, engineID, sourceURL string) (*engine.Extraction, engine.Engine, error)
}

// Outcome summarizes one executed job.
type Outcome struct {
	JobID      string
	State      domain.JobState
	Attempts   int
	Candidates int
	LastError  string
}

// Runner executes claimed jobs: it resolves the engine, applies the retry
// policy, persists the result and drives the job's state transition.
// Component errors never escape as Go errors; they become persisted state.
// The returned error is reserved for store-level faults.
type Runner struct {
	store     JobStore
	extractor Extractor
	backoff   BackoffPolicy
	logger    *slog.Logger
}

// NewRunner creates a Runner with the default backoff policy.
func NewRunner(store JobStore, extractor Extractor, logger *slog.Logger) *Runner {
	return &Runner{
		store:     store,
		extractor: extractor,
		backoff:   DefaultBackoff(),
		logger:    logger,
	}
}

// WithBackoff overrides the retry cadence (used by tests).
func (r *Runner) WithBackoff(p BackoffPolicy) *Runner {
	r.backoff = p
	return r
}

// Run executes one claimed job to a terminal-for-this-cycle state:
// WAITING_REVIEW on success, FAILED on terminal or exhausted failure.
func (r *Runner) Run(ctx context.Context, job *domain.Job) (*Outcome, error) {
	engineID, sourceURL, err := r.resolveTarget(ctx, job)
	if err != nil {
		// Configuration failures are terminal: retrying cannot fix them.
		return r.fail(ctx, job, job.Attempts+1, "", err)
	}

	var warnings []string
	attempts := job.Attempts
	for attempts < job.MaxAttempts {
		attempts++

		ext, eng, extractErr := r.extractor.Extract(ctx, engineID, sourceURL)
		if extractErr == nil {
			return r.succeed(ctx, job, attempts, eng, ext, warnings)
		}

		r.logger.Warn("scrape attempt failed",
			slog.String("job_id", job.JobID),
			slog.Int("attempt", attempts),
			slog.Int("max_attempts", job.MaxAttempts),
			slog.String("error", extractErr.Error()),
		)

		if domain.IsTerminal(extractErr) || isConfigError(extractErr) {
			return r.fail(ctx, job, attempts, engineID, extractErr)
		}
		if attempts >= job.MaxAttempts {
			return r.fail(ctx, job, attempts, engineID, extractErr)
		}

		warnings = append(warnings, fmt.Sprintf("attempt %d: %s", attempts, extractErr.Error()))

		// The claim transaction is already committed; only this invocation
		// sleeps, the row stays leased.
		if err := r.backoff.Sleep(ctx, attempts); err != nil {
			return r.fail(ctx, job, attempts, engineID, err)
		}
	}

	return r.fail(ctx, job, attempts, engineID, fmt.Errorf("no attempts remaining"))
}

// resolveTarget applies the payload-first precedence for engine id and URL,
// falling back to the item's configuration.
func (r *Runner) resolveTarget(ctx context.Context, job *domain.Job) (engineID, sourceURL string, err error) {
	var payload domain.JobPayload
	if job.Payload != "" {
		if jsonErr := json.Unmarshal([]byte(job.Payload), &payload); jsonErr != nil {
			return "", "", domain.NewTerminalError(
				fmt.Errorf("%w: %v", domain.ErrInvalidPayload, jsonErr))
		}
	}

	engineID = payload.EngineID
	sourceURL = payload.URL

	if engineID == "" || sourceURL == "" {
		item, itemErr := r.store.GetItem(ctx, job.ItemID)
		if itemErr != nil {
			return "", "", domain.NewTerminalError(itemErr)
		}
		if engineID == "" && item.DefaultEngineID.Valid {
			engineID = item.DefaultEngineID.String
		}
		if sourceURL == "" && item.PageURL.Valid {
			sourceURL = item.PageURL.String
		}
	}

	if engineID == "" {
		return "", "", domain.NewTerminalError(domain.ErrEngineUnresolved)
	}
	if sourceURL == "" {
		return "", "", domain.NewTerminalError(
			fmt.Errorf("%w: no target url on job payload or item", domain.ErrInvalidPayload))
	}
	return engineID, sourceURL, nil
}

func (r *Runner) succeed(ctx context.Context, job *domain.Job, attempts int, eng engine.Engine, ext *engine.Extraction, warnings []string) (*Outcome, error) {
	candidates := make([]domain.Candidate, 0, len(ext.Prices))
	for _, p := range ext.Prices {
		candidates = append(candidates, domain.Candidate{
			Presentation: p.Presentation,
			Price:        p.Price,
			SourceURL:    ext.CanonicalURL,
		})
	}

	status := domain.ResultStatusOK
	if len(warnings) > 0 {
		status = domain.ResultStatusWarning
	}
	result := &domain.JobResult{
		JobID:         job.JobID,
		Status:        status,
		Candidates:    candidates,
		Warnings:      warnings,
		EngineID:      eng.ID(),
		EngineVersion: eng.Version(),
	}
	if err := r.store.UpsertResult(ctx, result); err != nil {
		return nil, err
	}
	if err := r.store.MarkWaitingReview(ctx, job.JobID, attempts); err != nil {
		return nil, err
	}
	if err := r.store.SetItemReview(ctx, job.ItemID, domain.ItemReviewPending, ""); err != nil {
		return nil, err
	}

	r.logger.Info("job finished, awaiting review",
		slog.String("job_id", job.JobID),
		slog.Int("attempts", attempts),
		slog.Int("candidates", len(candidates)),
	)
	return &Outcome{
		JobID:      job.JobID,
		State:      domain.JobStateWaitingReview,
		Attempts:   attempts,
		Candidates: len(candidates),
	}, nil
}

func (r *Runner) fail(ctx context.Context, job *domain.Job, attempts int, engineID string, cause error) (*Outcome, error) {
	msg := cause.Error()

	result := &domain.JobResult{
		JobID:    job.JobID,
		Status:   domain.ResultStatusError,
		Errors:   []string{msg},
		EngineID: engineID,
	}
	if err := r.store.UpsertResult(ctx, result); err != nil {
		return nil, err
	}
	if err := r.store.MarkFailed(ctx, job.JobID, attempts, msg); err != nil {
		return nil, err
	}
	if err := r.store.SetItemReview(ctx, job.ItemID, domain.ItemReviewError, msg); err != nil {
		return nil, err
	}

	r.logger.Error("job failed",
		slog.String("job_id", job.JobID),
		slog.Int("attempts", attempts),
		slog.String("error", msg),
	)
	return &Outcome{
		JobID:     job.JobID,
		State:     domain.JobStateFailed,
		Attempts:  attempts,
		LastError: msg,
	}, nil
}

// isConfigError classifies failures that retrying cannot fix.
func isConfigError(err error) bool {
	return errors.Is(err, domain.ErrEngineNotImplemented) ||
		errors.Is(err, domain.ErrEngineUnresolved) ||
		errors.Is(err, domain.ErrInvalidPayload)
}
