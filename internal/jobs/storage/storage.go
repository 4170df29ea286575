package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/marcelujan/mgq-admin-sub000/internal/domain"
	"github.com/marcelujan/mgq-admin-sub000/shared/postgresql"
)

// Storage handles all database operations for scrape jobs: the queue table,
// the atomic lease claim, job results and the item-side bookkeeping.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance.
func NewStorage(pg *postgresql.Client, logger *slog.Logger) *Storage {
	return &Storage{
		db:     pg.GetDB(),
		logger: logger,
	}
}

const jobColumns = `
	job_id, job_type, state, priority, item_id, payload,
	attempts, max_attempts, next_run_at, lease_owner, lease_expires_at,
	last_error, created_at, started_at, finished_at, updated_at`

// CreateJobs inserts one PENDING job per item id and returns the new ids.
func (s *Storage) CreateJobs(ctx context.Context, itemIDs []int64, priority, maxAttempts int) ([]string, error) {
	query := `
		INSERT INTO scrape_jobs (
			job_id, job_type, state, priority, item_id, payload,
			attempts, max_attempts, next_run_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, 0, $7, now(), now(), now())
	`

	jobIDs := make([]string, 0, len(itemIDs))
	for _, itemID := range itemIDs {
		jobID := uuid.New().String()
		_, err := s.db.ExecContext(ctx, query,
			jobID, domain.JobTypeScrapeURL, domain.JobStatePending,
			priority, itemID, "{}", maxAttempts,
		)
		if err != nil {
			return jobIDs, fmt.Errorf("failed to create job for item %d: %w", itemID, err)
		}
		jobIDs = append(jobIDs, jobID)
	}

	s.logger.Info("jobs created",
		slog.Int("count", len(jobIDs)),
		slog.Int("priority", priority),
	)
	return jobIDs, nil
}

// GetJob retrieves a job by id.
func (s *Storage) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var job domain.Job
	query := `SELECT ` + jobColumns + ` FROM scrape_jobs WHERE job_id = $1`

	err := s.db.GetContext(ctx, &job, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	State domain.JobState
	Limit int
}

// JobListing is a job row with the rollup of offers already confirmed for
// the same item.
type JobListing struct {
	domain.Job
	OfferCount int `db:"offer_count"`
}

// ListJobs returns jobs ordered newest first with per-item offer counts.
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]JobListing, error) {
	query := `
		SELECT j.job_id, j.job_type, j.state, j.priority, j.item_id, j.payload,
		       j.attempts, j.max_attempts, j.next_run_at, j.lease_owner, j.lease_expires_at,
		       j.last_error, j.created_at, j.started_at, j.finished_at, j.updated_at,
		       count(o.offer_id) AS offer_count
		FROM scrape_jobs j
		LEFT JOIN offers o ON o.item_id = j.item_id AND o.status = 'OK'
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if filter.State != "" {
		query += fmt.Sprintf(" AND j.state = $%d", argIdx)
		args = append(args, filter.State)
		argIdx++
	}

	query += ` GROUP BY j.job_id ORDER BY j.created_at DESC, j.job_id DESC`

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	var jobs []JobListing
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// ClaimNext atomically hands one eligible job to workerID with a time-bounded
// lease. Eligible rows are PENDING, or RUNNING with an expired lease (the
// crash-recovery path: an expired lease needs no explicit unlock). Contending
// claimants skip rows already locked by a concurrent transaction, so losing a
// race yields (nil, nil), never an error.
func (s *Storage) ClaimNext(ctx context.Context, workerID string, leaseDuration time.Duration) (*domain.Job, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	var jobID string
	selectQuery := `
		SELECT job_id
		FROM scrape_jobs
		WHERE state IN ('PENDING', 'RUNNING')
		  AND next_run_at <= now()
		  AND (lease_expires_at IS NULL OR lease_expires_at < now())
		ORDER BY priority DESC, next_run_at ASC, job_id ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`
	err = tx.GetContext(ctx, &jobID, selectQuery)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to select claimable job: %w", err)
	}

	var job domain.Job
	updateQuery := `
		UPDATE scrape_jobs
		SET state = $1,
		    lease_owner = $2,
		    lease_expires_at = now() + make_interval(secs => $3),
		    started_at = COALESCE(started_at, now()),
		    updated_at = now()
		WHERE job_id = $4
		RETURNING ` + jobColumns
	err = tx.GetContext(ctx, &job, updateQuery,
		domain.JobStateRunning, workerID, leaseDuration.Seconds(), jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to lease job %s: %w", jobID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	s.logger.Info("job claimed",
		slog.String("job_id", job.JobID),
		slog.String("worker_id", workerID),
		slog.Duration("lease", leaseDuration),
	)
	return &job, nil
}

// UpdateJob applies a partial update built from the change set.
func (s *Storage) UpdateJob(ctx context.Context, jobID string, cs JobChangeSet) error {
	query, args, err := cs.Build(jobID)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", jobID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// MarkWaitingReview finishes a successful run: the job waits for operator
// approval and the lease is released so it cannot be double-claimed.
func (s *Storage) MarkWaitingReview(ctx context.Context, jobID string, attempts int) error {
	state := domain.JobStateWaitingReview
	now := time.Now()
	return s.UpdateJob(ctx, jobID, JobChangeSet{
		State:      &state,
		Attempts:   &attempts,
		FinishedAt: &now,
		ClearLease: true,
	})
}

// MarkFailed records a terminal failure with the last error preserved.
func (s *Storage) MarkFailed(ctx context.Context, jobID string, attempts int, lastErr string) error {
	state := domain.JobStateFailed
	now := time.Now()
	return s.UpdateJob(ctx, jobID, JobChangeSet{
		State:      &state,
		Attempts:   &attempts,
		LastError:  &lastErr,
		FinishedAt: &now,
		ClearLease: true,
	})
}

// MarkSucceeded promotes a WAITING_REVIEW job after approval.
func (s *Storage) MarkSucceeded(ctx context.Context, jobID string) error {
	state := domain.JobStateSucceeded
	now := time.Now()
	return s.UpdateJob(ctx, jobID, JobChangeSet{
		State:      &state,
		FinishedAt: &now,
		ClearLease: true,
	})
}

// CancelJob is the operator-initiated terminal transition.
func (s *Storage) CancelJob(ctx context.Context, jobID string) error {
	state := domain.JobStateCancelled
	now := time.Now()
	return s.UpdateJob(ctx, jobID, JobChangeSet{
		State:      &state,
		FinishedAt: &now,
		ClearLease: true,
	})
}

// UpsertResult stores the engine output for a job, replacing any previous
// result for the same job id.
func (s *Storage) UpsertResult(ctx context.Context, result *domain.JobResult) error {
	candidates, err := json.Marshal(result.Candidates)
	if err != nil {
		return fmt.Errorf("failed to marshal candidates: %w", err)
	}
	warnings, err := json.Marshal(result.Warnings)
	if err != nil {
		return fmt.Errorf("failed to marshal warnings: %w", err)
	}
	errs, err := json.Marshal(result.Errors)
	if err != nil {
		return fmt.Errorf("failed to marshal errors: %w", err)
	}

	query := `
		INSERT INTO scrape_job_results (
			job_id, status, candidates, warnings, errors,
			engine_id, engine_version, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status,
			candidates = EXCLUDED.candidates,
			warnings = EXCLUDED.warnings,
			errors = EXCLUDED.errors,
			engine_id = EXCLUDED.engine_id,
			engine_version = EXCLUDED.engine_version,
			updated_at = now()
	`
	_, err = s.db.ExecContext(ctx, query,
		result.JobID, result.Status, candidates, warnings, errs,
		result.EngineID, result.EngineVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert job result: %w", err)
	}
	return nil
}

// GetResult reads the persisted engine output for a job.
func (s *Storage) GetResult(ctx context.Context, jobID string) (*domain.JobResult, error) {
	var row struct {
		JobID         string              `db:"job_id"`
		Status        domain.ResultStatus `db:"status"`
		Candidates    []byte              `db:"candidates"`
		Warnings      []byte              `db:"warnings"`
		Errors        []byte              `db:"errors"`
		EngineID      string              `db:"engine_id"`
		EngineVersion string              `db:"engine_version"`
		UpdatedAt     time.Time           `db:"updated_at"`
	}
	query := `
		SELECT job_id, status, candidates, warnings, errors,
		       engine_id, engine_version, updated_at
		FROM scrape_job_results
		WHERE job_id = $1
	`
	if err := s.db.GetContext(ctx, &row, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job result: %w", err)
	}

	result := &domain.JobResult{
		JobID:         row.JobID,
		Status:        row.Status,
		EngineID:      row.EngineID,
		EngineVersion: row.EngineVersion,
		UpdatedAt:     row.UpdatedAt,
	}
	if err := json.Unmarshal(row.Candidates, &result.Candidates); err != nil {
		return nil, fmt.Errorf("failed to unmarshal candidates: %w", err)
	}
	if len(row.Warnings) > 0 {
		if err := json.Unmarshal(row.Warnings, &result.Warnings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal warnings: %w", err)
		}
	}
	if len(row.Errors) > 0 {
		if err := json.Unmarshal(row.Errors, &result.Errors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal errors: %w", err)
		}
	}
	return result, nil
}

// GetItem reads the item-side slice the runner needs (default engine, page URL).
func (s *Storage) GetItem(ctx context.Context, itemID int64) (*domain.Item, error) {
	var item domain.Item
	query := `
		SELECT item_id, name, page_url, default_engine_id, review_status, last_error
		FROM items
		WHERE item_id = $1
	`
	if err := s.db.GetContext(ctx, &item, query, itemID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("item %d not found: %w", itemID, sql.ErrNoRows)
		}
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return &item, nil
}

// SetItemReview updates the item-side bookkeeping after a terminal job
// transition. errMsg is empty for non-error states.
func (s *Storage) SetItemReview(ctx context.Context, itemID int64, status domain.ItemReviewStatus, errMsg string) error {
	query := `
		UPDATE items
		SET review_status = $1,
		    last_error = NULLIF($2, '')
		WHERE item_id = $3
	`
	if _, err := s.db.ExecContext(ctx, query, status, truncateError(errMsg), itemID); err != nil {
		return fmt.Errorf("failed to update item %d: %w", itemID, err)
	}
	return nil
}
