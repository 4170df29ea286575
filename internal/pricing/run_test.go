package pricing

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcelujan/mgq-admin-sub000/internal/domain"
	"github.com/marcelujan/mgq-admin-sub000/internal/engine"
	"github.com/marcelujan/mgq-admin-sub000/internal/jobs"
	"github.com/marcelujan/mgq-admin-sub000/internal/pricing/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastBackoff() jobs.BackoffPolicy {
	return jobs.BackoffPolicy{First: time.Millisecond, Subsequent: time.Millisecond}
}

// fakeRunStore drives the orchestrator against in-memory run state.
type fakeRunStore struct {
	asOf   time.Time
	run    domain.Run
	offers map[int64]*domain.Offer

	items  []domain.RunItem
	marked map[int64]domain.RunItemStatus
	points []domain.PricePoint

	finalStatus domain.RunStatus
	finalized   bool
	claims      int
}

func newFakeRunStore(offers ...*domain.Offer) *fakeRunStore {
	f := &fakeRunStore{
		asOf:   time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
		run:    domain.Run{RunID: 42, Status: domain.RunStatusRunning},
		offers: make(map[int64]*domain.Offer),
		marked: make(map[int64]domain.RunItemStatus),
	}
	for _, o := range offers {
		f.offers[o.OfferID] = o
		f.items = append(f.items, domain.RunItem{
			RunID:   42,
			OfferID: o.OfferID,
			Status:  domain.RunItemPending,
		})
	}
	return f
}

func (f *fakeRunStore) Today(ctx context.Context) (time.Time, error) { return f.asOf, nil }

func (f *fakeRunStore) GetOrCreateRun(ctx context.Context, asOf time.Time) (*domain.Run, error) {
	f.run.AsOf = asOf
	return &f.run, nil
}

func (f *fakeRunStore) SeedRunItems(ctx context.Context, runID int64) (int, error) {
	return len(f.items), nil
}

func (f *fakeRunStore) pendingCount() int {
	n := 0
	for _, it := range f.items {
		if _, done := f.marked[it.OfferID]; !done {
			n++
		}
	}
	return n
}

func (f *fakeRunStore) ClaimDueItems(ctx context.Context, runID int64, limit, maxAttempts int) ([]domain.RunItem, error) {
	f.claims++
	var claimed []domain.RunItem
	for _, it := range f.items {
		if len(claimed) == limit {
			break
		}
		if _, done := f.marked[it.OfferID]; !done {
			claimed = append(claimed, it)
		}
	}
	return claimed, nil
}

func (f *fakeRunStore) GetOffer(ctx context.Context, offerID int64) (*domain.Offer, error) {
	return f.offers[offerID], nil
}

func (f *fakeRunStore) MarkRunItem(ctx context.Context, runID, offerID int64, status domain.RunItemStatus, attempts int, lastErr string) error {
	f.marked[offerID] = status
	return nil
}

func (f *fakeRunStore) UpsertPricePoint(ctx context.Context, pp domain.PricePoint) error {
	f.points = append(f.points, pp)
	return nil
}

func (f *fakeRunStore) RefreshCounters(ctx context.Context, runID int64, maxAttempts int) (*storage.RunCounters, error) {
	c := &storage.RunCounters{Total: len(f.items), Pending: f.pendingCount()}
	for _, status := range f.marked {
		switch status {
		case domain.RunItemOK:
			c.OK++
		case domain.RunItemFail:
			c.Fail++
		}
	}
	return c, nil
}

func (f *fakeRunStore) FinalizeRun(ctx context.Context, runID int64, status domain.RunStatus) error {
	f.finalized = true
	f.finalStatus = status
	return nil
}

// fakePriceExtractor serves fixed extractions per source URL.
type fakePriceExtractor struct {
	pages map[string]*engine.Extraction
	err   error
	delay time.Duration
	calls int
}

func (f *fakePriceExtractor) Extract(ctx context.Context, engineID, sourceURL string) (*engine.Extraction, engine.Engine, error) {
	f.calls++
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, nil, f.err
	}
	ext, ok := f.pages[sourceURL]
	if !ok {
		return nil, nil, domain.ErrNoPricesFound
	}
	return ext, nil, nil
}

func testConfig() Config {
	return Config{BatchSize: 10, TimeBudget: 5 * time.Second, MaxAttempts: 3}
}

func TestOrchestrator_ProcessDueWork_AllOK(t *testing.T) {
	store := newFakeRunStore(
		&domain.Offer{OfferID: 1, ItemID: 7, SourceURL: "https://a", Presentation: 0.5, EngineID: "catalog-json"},
		&domain.Offer{OfferID: 2, ItemID: 8, SourceURL: "https://b", Presentation: 1, EngineID: "catalog-json"},
	)
	extractor := &fakePriceExtractor{pages: map[string]*engine.Extraction{
		"https://a": {Prices: []engine.PresentationPrice{{Presentation: 0.5, Price: 1234.50}}},
		"https://b": {Prices: []engine.PresentationPrice{{Presentation: 1, Price: 980}}},
	}}
	o := NewOrchestrator(store, extractor, testConfig(), testLogger()).WithBackoff(fastBackoff())

	summary, err := o.ProcessDueWork(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(42), summary.RunID)
	assert.Equal(t, "2026-08-31", summary.Date)
	assert.Equal(t, 2, summary.OK)
	assert.Zero(t, summary.Fail)
	assert.Equal(t, 2, summary.InsertedRows)
	assert.Zero(t, summary.PendingRemaining)
	assert.Equal(t, string(domain.RunStatusDone), summary.Status)

	assert.True(t, store.finalized)
	assert.Equal(t, domain.RunStatusDone, store.finalStatus)

	require.Len(t, store.points, 2)
	assert.Equal(t, int64(7), store.points[0].ItemID)
	assert.InDelta(t, 1234.50, store.points[0].Price, 1e-9)
	assert.Equal(t, int64(42), store.points[0].RunID)
	assert.Equal(t, store.asOf, store.points[0].AsOf)
}

func TestOrchestrator_ProcessDueWork_PresentationMissingFails(t *testing.T) {
	store := newFakeRunStore(
		&domain.Offer{OfferID: 1, ItemID: 7, SourceURL: "https://a", Presentation: 0.5, EngineID: "catalog-json"},
	)
	// The page only carries other presentations.
	extractor := &fakePriceExtractor{pages: map[string]*engine.Extraction{
		"https://a": {Prices: []engine.PresentationPrice{{Presentation: 1, Price: 980}}},
	}}
	o := NewOrchestrator(store, extractor, testConfig(), testLogger()).WithBackoff(fastBackoff())

	summary, err := o.ProcessDueWork(context.Background())
	require.NoError(t, err)

	assert.Zero(t, summary.OK)
	assert.Equal(t, 1, summary.Fail)
	assert.Equal(t, 3, extractor.calls, "data errors are retried up to the cap")
	assert.Empty(t, store.points)
	assert.Equal(t, domain.RunItemFail, store.marked[1])

	assert.True(t, store.finalized)
	assert.Equal(t, domain.RunStatusPartial, store.finalStatus)
	assert.Equal(t, string(domain.RunStatusPartial), summary.Status)
}

func TestOrchestrator_ProcessDueWork_MissingEngineIsTerminal(t *testing.T) {
	store := newFakeRunStore(
		&domain.Offer{OfferID: 1, ItemID: 7, SourceURL: "https://a", Presentation: 0.5},
	)
	extractor := &fakePriceExtractor{}
	o := NewOrchestrator(store, extractor, testConfig(), testLogger()).WithBackoff(fastBackoff())

	summary, err := o.ProcessDueWork(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Fail)
	assert.Zero(t, extractor.calls, "an offer without an engine must not be retried")
}

func TestOrchestrator_ProcessDueWork_BudgetLeavesPending(t *testing.T) {
	store := newFakeRunStore(
		&domain.Offer{OfferID: 1, ItemID: 7, SourceURL: "https://a", Presentation: 0.5, EngineID: "catalog-json"},
		&domain.Offer{OfferID: 2, ItemID: 8, SourceURL: "https://b", Presentation: 1, EngineID: "catalog-json"},
		&domain.Offer{OfferID: 3, ItemID: 9, SourceURL: "https://c", Presentation: 1, EngineID: "catalog-json"},
	)
	extractor := &fakePriceExtractor{
		delay: 40 * time.Millisecond,
		pages: map[string]*engine.Extraction{
			"https://a": {Prices: []engine.PresentationPrice{{Presentation: 0.5, Price: 10}}},
			"https://b": {Prices: []engine.PresentationPrice{{Presentation: 1, Price: 20}}},
			"https://c": {Prices: []engine.PresentationPrice{{Presentation: 1, Price: 30}}},
		},
	}
	cfg := Config{BatchSize: 10, TimeBudget: 60 * time.Millisecond, MaxAttempts: 3}
	o := NewOrchestrator(store, extractor, cfg, testLogger()).WithBackoff(fastBackoff())

	summary, err := o.ProcessDueWork(context.Background())
	require.NoError(t, err)

	// The budget runs out mid-batch; the rest stays pending for the next call.
	assert.Less(t, summary.OK, 3)
	assert.Positive(t, summary.PendingRemaining)
	assert.False(t, store.finalized, "a run with pending items must not be finalized")
	assert.Equal(t, string(domain.RunStatusRunning), summary.Status)
}
