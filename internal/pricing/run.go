package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/marcelujan/mgq-admin-sub000/internal/domain"
	"github.com/marcelujan/mgq-admin-sub000/internal/engine"
	"github.com/marcelujan/mgq-admin-sub000/internal/jobs"
	"github.com/marcelujan/mgq-admin-sub000/internal/pricing/storage"
)

// presentationTolerance absorbs float noise when matching an offer's
// presentation against extracted pairs.
const presentationTolerance = 1e-9

// RunStore is the slice of the pricing storage layer the orchestrator drives.
type RunStore interface {
	Today(ctx context.Context) (time.Time, error)
	GetOrCreateRun(ctx context.Context, asOf time.Time) (*domain.Run, error)
	SeedRunItems(ctx context.Context, runID int64) (int, error)
	ClaimDueItems(ctx context.Context, runID int64, limit, maxAttempts int) ([]domain.RunItem, error)
	GetOffer(ctx context.Context, offerID int64) (*domain.Offer, error)
	MarkRunItem(ctx context.Context, runID, offerID int64, status domain.RunItemStatus, attempts int, lastErr string) error
	UpsertPricePoint(ctx context.Context, pp domain.PricePoint) error
	RefreshCounters(ctx context.Context, runID int64, maxAttempts int) (*storage.RunCounters, error)
	FinalizeRun(ctx context.Context, runID int64, status domain.RunStatus) error
}

// Extractor runs an engine against an offer's source page. Implemented by
// engine.Registry.
type Extractor interface {
	Extract(ctx context.Context, engineID, sourceURL string) (*engine.Extraction, engine.Engine, error)
}

// Config bounds one orchestrator invocation.
type Config struct {
	BatchSize   int
	TimeBudget  time.Duration
	MaxAttempts int
}

// DefaultConfig matches the production schedule: small batches inside a
// request-sized wall-clock budget.
func DefaultConfig() Config {
	return Config{
		BatchSize:   10,
		TimeBudget:  55 * time.Second,
		MaxAttempts: 3,
	}
}

// Summary reports one orchestrator invocation.
type Summary struct {
	RunID            int64
	Date             string
	Status           string
	BatchSize        int
	Seeded           int
	OK               int
	Fail             int
	InsertedRows     int
	PendingRemaining int
	Elapsed          time.Duration
}

// Orchestrator drives the daily pricing run: it seeds today's run from the
// active offers, claims due items in batches and records one confirmed price
// point per processed offer. Each invocation is bounded by a wall-clock
// budget and leaves the rest for the next call.
type Orchestrator struct {
	store     RunStore
	extractor Extractor
	backoff   jobs.BackoffPolicy
	cfg       Config
	logger    *slog.Logger
}

// NewOrchestrator wires the daily run orchestrator.
func NewOrchestrator(store RunStore, extractor Extractor, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.TimeBudget <= 0 {
		cfg.TimeBudget = DefaultConfig().TimeBudget
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	return &Orchestrator{
		store:     store,
		extractor: extractor,
		backoff:   jobs.DefaultBackoff(),
		cfg:       cfg,
		logger:    logger,
	}
}

// WithBackoff overrides the retry cadence (used by tests).
func (o *Orchestrator) WithBackoff(p jobs.BackoffPolicy) *Orchestrator {
	o.backoff = p
	return o
}

// ProcessDueWork runs one budget-bounded slice of today's run. Re-invoking it
// is always safe: the run row, its seeded items and the written price points
// are all idempotent upserts.
func (o *Orchestrator) ProcessDueWork(ctx context.Context) (*Summary, error) {
	started := time.Now()
	deadline := started.Add(o.cfg.TimeBudget)

	asOf, err := o.store.Today(ctx)
	if err != nil {
		return nil, err
	}
	run, err := o.store.GetOrCreateRun(ctx, asOf)
	if err != nil {
		return nil, err
	}
	seeded, err := o.store.SeedRunItems(ctx, run.RunID)
	if err != nil {
		return nil, err
	}

	o.logger.Info("daily run slice started",
		slog.Int64("run_id", run.RunID),
		slog.String("as_of", asOf.Format("2006-01-02")),
		slog.Int("seeded", seeded),
	)

	summary := &Summary{
		RunID:     run.RunID,
		Date:      asOf.Format("2006-01-02"),
		BatchSize: o.cfg.BatchSize,
		Seeded:    seeded,
	}

loop:
	for time.Now().Before(deadline) {
		items, err := o.store.ClaimDueItems(ctx, run.RunID, o.cfg.BatchSize, o.cfg.MaxAttempts)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			break
		}

		for i := range items {
			// The budget is checked before every item, not just every
			// batch: one slow page must not drag the whole slice over.
			if !time.Now().Before(deadline) {
				break loop
			}
			if err := o.processItem(ctx, run, asOf, &items[i], summary); err != nil {
				return nil, err
			}
		}
	}

	counters, err := o.store.RefreshCounters(ctx, run.RunID, o.cfg.MaxAttempts)
	if err != nil {
		return nil, err
	}
	summary.PendingRemaining = counters.Pending

	status := domain.RunStatusRunning
	if counters.Pending == 0 {
		status = domain.RunStatusDone
		if counters.Fail > 0 {
			status = domain.RunStatusPartial
		}
		if err := o.store.FinalizeRun(ctx, run.RunID, status); err != nil {
			return nil, err
		}
	}
	summary.Status = string(status)
	summary.Elapsed = time.Since(started)

	o.logger.Info("daily run slice finished",
		slog.Int64("run_id", run.RunID),
		slog.String("status", summary.Status),
		slog.Int("ok", summary.OK),
		slog.Int("fail", summary.Fail),
		slog.Int("pending", summary.PendingRemaining),
		slog.Duration("elapsed", summary.Elapsed),
	)
	return summary, nil
}

// processItem scrapes one offer with retries and records the outcome. Store
// faults abort the slice; scrape faults become run item state.
func (o *Orchestrator) processItem(ctx context.Context, run *domain.Run, asOf time.Time, item *domain.RunItem, summary *Summary) error {
	offer, err := o.store.GetOffer(ctx, item.OfferID)
	if err != nil {
		summary.Fail++
		return o.store.MarkRunItem(ctx, run.RunID, item.OfferID, domain.RunItemFail, o.cfg.MaxAttempts, err.Error())
	}

	attempts := item.Attempts
	var lastErr error
	for attempts < o.cfg.MaxAttempts {
		attempts++

		price, extractErr := o.extractPrice(ctx, offer)
		if extractErr == nil {
			if err := o.store.UpsertPricePoint(ctx, domain.PricePoint{
				ItemID:       offer.ItemID,
				AsOf:         asOf,
				Presentation: offer.Presentation,
				Price:        price,
				SourceURL:    offer.SourceURL,
				RunID:        run.RunID,
			}); err != nil {
				return err
			}
			summary.OK++
			summary.InsertedRows++
			return o.store.MarkRunItem(ctx, run.RunID, item.OfferID, domain.RunItemOK, attempts, "")
		}

		lastErr = extractErr
		o.logger.Warn("offer scrape attempt failed",
			slog.Int64("offer_id", offer.OfferID),
			slog.Int("attempt", attempts),
			slog.String("error", extractErr.Error()),
		)

		if domain.IsTerminal(extractErr) {
			break
		}
		if attempts < o.cfg.MaxAttempts {
			if err := o.backoff.Sleep(ctx, attempts); err != nil {
				lastErr = err
				break
			}
		}
	}

	summary.Fail++
	return o.store.MarkRunItem(ctx, run.RunID, item.OfferID, domain.RunItemFail, attempts, lastErr.Error())
}

// extractPrice runs the offer's engine and picks the price whose
// presentation matches the offer's, within tolerance.
func (o *Orchestrator) extractPrice(ctx context.Context, offer *domain.Offer) (float64, error) {
	if offer.EngineID == "" {
		return 0, domain.NewTerminalError(domain.ErrEngineUnresolved)
	}

	ext, _, err := o.extractor.Extract(ctx, offer.EngineID, offer.SourceURL)
	if err != nil {
		if errors.Is(err, domain.ErrEngineNotImplemented) {
			return 0, domain.NewTerminalError(err)
		}
		return 0, err
	}

	for _, p := range ext.Prices {
		if math.Abs(p.Presentation-offer.Presentation) < presentationTolerance {
			return p.Price, nil
		}
	}
	return 0, fmt.Errorf("%w: presentation %g at %s",
		domain.ErrPresentationNotFound, offer.Presentation, offer.SourceURL)
}
