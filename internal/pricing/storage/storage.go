package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/marcelujan/mgq-admin-sub000/internal/domain"
	"github.com/marcelujan/mgq-admin-sub000/shared/postgresql"
)

// Storage handles all database operations for daily pricing runs: the run
// and run-item tables, the offer catalog and the daily price points.
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

// Today resolves the as-of date from the store's own clock, avoiding
// client/server timezone skew.
func (s *Storage) Today(ctx context.Context) (time.Time, error) {
	var today time.Time
	if err := s.db.GetContext(ctx, &today, `SELECT CURRENT_DATE`); err != nil {
		return time.Time{}, fmt.Errorf("failed to read store date: %w", err)
	}
	return today, nil
}

// GetOrCreateRun returns the single Run for asOf, creating it in RUNNING
// state if absent. The unique-date upsert leaves an existing row untouched.
func (s *Storage) GetOrCreateRun(ctx context.Context, asOf time.Time) (*domain.Run, error) {
	insert := `
		INSERT INTO pricing_runs (as_of, status, started_at)
		VALUES ($1, $2, now())
		ON CONFLICT (as_of) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, insert, asOf, domain.RunStatusRunning); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	var run domain.Run
	query := `
		SELECT run_id, as_of, status, started_at, finished_at,
		       total_items, ok_items, fail_items, pending_items
		FROM pricing_runs
		WHERE as_of = $1
	`
	if err := s.db.GetContext(ctx, &run, query, asOf); err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// SeedRunItems inserts a PENDING run item for every active offer not already
// bound to the run. The (run, offer) unique key makes re-seeding idempotent.
func (s *Storage) SeedRunItems(ctx context.Context, runID int64) (int, error) {
	query := `
		INSERT INTO pricing_run_items (run_id, offer_id, status, attempts, updated_at)
		SELECT $1, o.offer_id, $2, 0, now()
		FROM offers o
		WHERE o.status = $3
		ON CONFLICT (run_id, offer_id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query, runID, domain.RunItemPending, domain.OfferStatusOK)
	if err != nil {
		return 0, fmt.Errorf("failed to seed run items: %w", err)
	}
	n, _ := res.RowsAffected()

	if _, err := s.db.ExecContext(ctx, `
		UPDATE pricing_runs
		SET total_items = (SELECT count(*) FROM pricing_run_items WHERE run_id = $1)
		WHERE run_id = $1
	`, runID); err != nil {
		return int(n), fmt.Errorf("failed to refresh run total: %w", err)
	}

	return int(n), nil
}

// ClaimDueItems atomically claims up to limit due run items using the same
// skip-locked pattern as the job lease manager, scoped to PENDING items with
// attempts below the retry cap. Losing every row to concurrent claimants
// yields an empty slice, never an error.
func (s *Storage) ClaimDueItems(ctx context.Context, runID int64, limit, maxAttempts int) ([]domain.RunItem, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	var items []domain.RunItem
	query := `
		UPDATE pricing_run_items ri
		SET updated_at = now()
		FROM (
			SELECT run_id, offer_id
			FROM pricing_run_items
			WHERE run_id = $1 AND status = $2 AND attempts < $3
			ORDER BY offer_id
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		) due
		WHERE ri.run_id = due.run_id AND ri.offer_id = due.offer_id
		RETURNING ri.run_id, ri.offer_id, ri.status, ri.attempts, ri.last_error, ri.updated_at
	`
	if err := tx.SelectContext(ctx, &items, query, runID, domain.RunItemPending, maxAttempts, limit); err != nil {
		return nil, fmt.Errorf("failed to claim run items: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit run item claim: %w", err)
	}
	return items, nil
}

// GetOffer reads one offer.
func (s *Storage) GetOffer(ctx context.Context, offerID int64) (*domain.Offer, error) {
	var offer domain.Offer
	query := `
		SELECT offer_id, item_id, source_url, presentation, engine_id, status
		FROM offers
		WHERE offer_id = $1
	`
	if err := s.db.GetContext(ctx, &offer, query, offerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("offer %d not found", offerID)
		}
		return nil, fmt.Errorf("failed to get offer: %w", err)
	}
	return &offer, nil
}

// UpsertOffer inserts or updates the offer identified by its
// (item, source URL, presentation) triple and returns its id.
func (s *Storage) UpsertOffer(ctx context.Context, offer domain.Offer) (int64, error) {
	var offerID int64
	query := `
		INSERT INTO offers (item_id, source_url, presentation, engine_id, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (item_id, source_url, presentation) DO UPDATE SET
			engine_id = EXCLUDED.engine_id,
			status = EXCLUDED.status
		RETURNING offer_id
	`
	err := s.db.GetContext(ctx, &offerID, query,
		offer.ItemID, offer.SourceURL, offer.Presentation, offer.EngineID, offer.Status,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert offer: %w", err)
	}
	return offerID, nil
}

// MarkRunItem records the per-run outcome of one offer.
func (s *Storage) MarkRunItem(ctx context.Context, runID, offerID int64, status domain.RunItemStatus, attempts int, lastErr string) error {
	query := `
		UPDATE pricing_run_items
		SET status = $1,
		    attempts = $2,
		    last_error = NULLIF(left($3, 500), ''),
		    updated_at = now()
		WHERE run_id = $4 AND offer_id = $5
	`
	if _, err := s.db.ExecContext(ctx, query, status, attempts, lastErr, runID, offerID); err != nil {
		return fmt.Errorf("failed to mark run item (%d, %d): %w", runID, offerID, err)
	}
	return nil
}

// UpsertPricePoint writes the confirmed daily price for one
// (item, date, presentation), overwriting any earlier value for the day.
func (s *Storage) UpsertPricePoint(ctx context.Context, pp domain.PricePoint) error {
	query := `
		INSERT INTO daily_price_points (item_id, as_of, presentation, price, source_url, run_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (item_id, as_of, presentation) DO UPDATE SET
			price = EXCLUDED.price,
			source_url = EXCLUDED.source_url,
			run_id = EXCLUDED.run_id
	`
	_, err := s.db.ExecContext(ctx, query,
		pp.ItemID, pp.AsOf, pp.Presentation, pp.Price, pp.SourceURL, pp.RunID,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert price point: %w", err)
	}
	return nil
}

// RunCounters is the rollup of a run's item states.
type RunCounters struct {
	Total   int `db:"total"`
	OK      int `db:"ok"`
	Fail    int `db:"fail"`
	Pending int `db:"pending"`
}

// RefreshCounters recomputes and persists the run's rollup counters. A
// PENDING item whose attempts reached maxAttempts counts as failed: it will
// never be claimed again.
func (s *Storage) RefreshCounters(ctx context.Context, runID int64, maxAttempts int) (*RunCounters, error) {
	var c RunCounters
	query := `
		SELECT count(*) AS total,
		       count(*) FILTER (WHERE status = 'OK') AS ok,
		       count(*) FILTER (WHERE status = 'FAIL' OR (status = 'PENDING' AND attempts >= $2)) AS fail,
		       count(*) FILTER (WHERE status = 'PENDING' AND attempts < $2) AS pending
		FROM pricing_run_items
		WHERE run_id = $1
	`
	if err := s.db.GetContext(ctx, &c, query, runID, maxAttempts); err != nil {
		return nil, fmt.Errorf("failed to compute run counters: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE pricing_runs
		SET total_items = $2, ok_items = $3, fail_items = $4, pending_items = $5
		WHERE run_id = $1
	`, runID, c.Total, c.OK, c.Fail, c.Pending); err != nil {
		return nil, fmt.Errorf("failed to persist run counters: %w", err)
	}
	return &c, nil
}

// FinalizeRun stamps the run DONE or PARTIAL and sets the finish time. It is
// only called once no retryable PENDING items remain.
func (s *Storage) FinalizeRun(ctx context.Context, runID int64, status domain.RunStatus) error {
	query := `
		UPDATE pricing_runs
		SET status = $1, finished_at = now()
		WHERE run_id = $2
	`
	if _, err := s.db.ExecContext(ctx, query, status, runID); err != nil {
		return fmt.Errorf("failed to finalize run: %w", err)
	}
	s.logger.Info("run finalized",
		slog.Int64("run_id", runID),
		slog.String("status", string(status)),
	)
	return nil
}

// PriceHistory reads up to days of confirmed price points for an item,
// newest first.
func (s *Storage) PriceHistory(ctx context.Context, itemID int64, days int) ([]domain.PricePoint, error) {
	if days <= 0 || days > 365 {
		days = 30
	}
	var points []domain.PricePoint
	query := `
		SELECT item_id, as_of, presentation, price, source_url, run_id
		FROM daily_price_points
		WHERE item_id = $1 AND as_of >= CURRENT_DATE - $2::int
		ORDER BY as_of DESC, presentation ASC
	`
	if err := s.db.SelectContext(ctx, &points, query, itemID, days); err != nil {
		return nil, fmt.Errorf("failed to read price history: %w", err)
	}
	return points, nil
}
