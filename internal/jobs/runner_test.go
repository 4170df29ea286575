package jobs

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcelujan/mgq-admin-sub000/internal/domain"
	"github.com/marcelujan/mgq-admin-sub000/internal/engine"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastBackoff() BackoffPolicy {
	return BackoffPolicy{First: time.Millisecond, Subsequent: time.Millisecond}
}

// fakeJobStore records the state transitions the runner drives.
type fakeJobStore struct {
	item *domain.Item

	result        *domain.JobResult
	waitingReview bool
	failed        bool
	failedErr     string
	attempts      int
	itemReview    domain.ItemReviewStatus
}

func (f *fakeJobStore) GetItem(ctx context.Context, itemID int64) (*domain.Item, error) {
	if f.item == nil {
		return nil, errors.New("item not found")
	}
	return f.item, nil
}

func (f *fakeJobStore) UpsertResult(ctx context.Context, result *domain.JobResult) error {
	f.result = result
	return nil
}

func (f *fakeJobStore) MarkWaitingReview(ctx context.Context, jobID string, attempts int) error {
	f.waitingReview = true
	f.attempts = attempts
	return nil
}

func (f *fakeJobStore) MarkFailed(ctx context.Context, jobID string, attempts int, lastErr string) error {
	f.failed = true
	f.attempts = attempts
	f.failedErr = lastErr
	return nil
}

func (f *fakeJobStore) SetItemReview(ctx context.Context, itemID int64, status domain.ItemReviewStatus, errMsg string) error {
	f.itemReview = status
	return nil
}

// fakeExtractor fails failCount times, then succeeds with ext.
type fakeExtractor struct {
	failCount int
	failWith  error
	ext       *engine.Extraction

	calls         int
	lastEngineID  string
	lastSourceURL string
}

func (f *fakeExtractor) Extract(ctx context.Context, engineID, sourceURL string) (*engine.Extraction, engine.Engine, error) {
	f.calls++
	f.lastEngineID = engineID
	f.lastSourceURL = sourceURL
	if f.calls <= f.failCount {
		return nil, nil, f.failWith
	}
	return f.ext, stubEngine{}, nil
}

type stubEngine struct{}

func (stubEngine) ID() string      { return "catalog-json" }
func (stubEngine) Version() string { return "1.2.0" }
func (stubEngine) Extract(ctx context.Context, sourceURL string) (*engine.Extraction, error) {
	return nil, nil
}

func newTestJob(payload string) *domain.Job {
	return &domain.Job{
		JobID:       "3f0c8a47-1111-2222-3333-444455556666",
		JobType:     domain.JobTypeScrapeURL,
		State:       domain.JobStateRunning,
		ItemID:      7,
		Payload:     payload,
		Attempts:    0,
		MaxAttempts: 3,
	}
}

func TestRunner_Run_SuccessFirstAttempt(t *testing.T) {
	store := &fakeJobStore{}
	ext := &fakeExtractor{ext: &engine.Extraction{
		CanonicalURL: "https://shop.example.com/widget",
		Prices: []engine.PresentationPrice{
			{Presentation: 0.5, Price: 1234.50},
			{Presentation: 1, Price: 2400},
		},
	}}
	r := NewRunner(store, ext, testLogger()).WithBackoff(fastBackoff())

	outcome, err := r.Run(context.Background(), newTestJob(`{"url":"https://shop.example.com/widget","engine_id":"catalog-json"}`))
	require.NoError(t, err)

	assert.Equal(t, domain.JobStateWaitingReview, outcome.State)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Equal(t, 2, outcome.Candidates)

	assert.True(t, store.waitingReview)
	assert.Equal(t, domain.ItemReviewPending, store.itemReview)
	require.NotNil(t, store.result)
	assert.Equal(t, domain.ResultStatusOK, store.result.Status)
	require.Len(t, store.result.Candidates, 2)
	assert.Equal(t, "https://shop.example.com/widget", store.result.Candidates[0].SourceURL)
	assert.Equal(t, "catalog-json", store.result.EngineID)
}

func TestRunner_Run_RetriesThenSucceedsWithWarning(t *testing.T) {
	store := &fakeJobStore{}
	ext := &fakeExtractor{
		failCount: 2,
		failWith:  domain.ErrNoPricesFound,
		ext: &engine.Extraction{
			CanonicalURL: "https://shop.example.com/widget",
			Prices:       []engine.PresentationPrice{{Presentation: 1, Price: 100}},
		},
	}
	r := NewRunner(store, ext, testLogger()).WithBackoff(fastBackoff())

	outcome, err := r.Run(context.Background(), newTestJob(`{"url":"https://x","engine_id":"catalog-json"}`))
	require.NoError(t, err)

	assert.Equal(t, domain.JobStateWaitingReview, outcome.State)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, 3, ext.calls)

	require.NotNil(t, store.result)
	assert.Equal(t, domain.ResultStatusWarning, store.result.Status)
	assert.Len(t, store.result.Warnings, 2)
}

func TestRunner_Run_FailsAtExactlyMaxAttempts(t *testing.T) {
	store := &fakeJobStore{}
	ext := &fakeExtractor{failCount: 99, failWith: domain.ErrNoPricesFound}
	r := NewRunner(store, ext, testLogger()).WithBackoff(fastBackoff())

	outcome, err := r.Run(context.Background(), newTestJob(`{"url":"https://x","engine_id":"catalog-json"}`))
	require.NoError(t, err)

	assert.Equal(t, domain.JobStateFailed, outcome.State)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, 3, ext.calls)

	assert.True(t, store.failed)
	assert.Equal(t, domain.ItemReviewError, store.itemReview)
	require.NotNil(t, store.result)
	assert.Equal(t, domain.ResultStatusError, store.result.Status)
	require.Len(t, store.result.Errors, 1)
}

func TestRunner_Run_UnknownEngineFailsWithoutRetry(t *testing.T) {
	store := &fakeJobStore{}
	ext := &fakeExtractor{failCount: 99, failWith: domain.ErrEngineNotImplemented}
	r := NewRunner(store, ext, testLogger()).WithBackoff(fastBackoff())

	outcome, err := r.Run(context.Background(), newTestJob(`{"url":"https://x","engine_id":"selenium-dom"}`))
	require.NoError(t, err)

	assert.Equal(t, domain.JobStateFailed, outcome.State)
	assert.Equal(t, 1, ext.calls, "configuration errors must not be retried")
	assert.True(t, store.failed)
}

func TestRunner_Run_NoEngineAnywhereIsTerminal(t *testing.T) {
	store := &fakeJobStore{item: &domain.Item{ItemID: 7, PageURL: sql.NullString{String: "https://x", Valid: true}}}
	ext := &fakeExtractor{}
	r := NewRunner(store, ext, testLogger()).WithBackoff(fastBackoff())

	outcome, err := r.Run(context.Background(), newTestJob(`{}`))
	require.NoError(t, err)

	assert.Equal(t, domain.JobStateFailed, outcome.State)
	assert.Zero(t, ext.calls)
	assert.Contains(t, store.failedErr, "engine unresolved")
}

func TestRunner_Run_InvalidPayloadIsTerminal(t *testing.T) {
	store := &fakeJobStore{}
	ext := &fakeExtractor{}
	r := NewRunner(store, ext, testLogger()).WithBackoff(fastBackoff())

	outcome, err := r.Run(context.Background(), newTestJob(`{not json`))
	require.NoError(t, err)

	assert.Equal(t, domain.JobStateFailed, outcome.State)
	assert.Zero(t, ext.calls)
	assert.Contains(t, store.failedErr, "invalid job payload")
}

func TestRunner_Run_PayloadEngineOverridesItemDefault(t *testing.T) {
	store := &fakeJobStore{item: &domain.Item{
		ItemID:          7,
		PageURL:         sql.NullString{String: "https://item-page", Valid: true},
		DefaultEngineID: sql.NullString{String: "catalog-json", Valid: true},
	}}
	ext := &fakeExtractor{ext: &engine.Extraction{
		CanonicalURL: "https://item-page",
		Prices:       []engine.PresentationPrice{{Presentation: 1, Price: 10}},
	}}
	r := NewRunner(store, ext, testLogger()).WithBackoff(fastBackoff())

	_, err := r.Run(context.Background(), newTestJob(`{"engine_id":"special-engine"}`))
	require.NoError(t, err)

	assert.Equal(t, "special-engine", ext.lastEngineID)
	assert.Equal(t, "https://item-page", ext.lastSourceURL)
}

func TestRunner_Run_ItemDefaultsFillMissingPayload(t *testing.T) {
	store := &fakeJobStore{item: &domain.Item{
		ItemID:          7,
		PageURL:         sql.NullString{String: "https://item-page", Valid: true},
		DefaultEngineID: sql.NullString{String: "catalog-json", Valid: true},
	}}
	ext := &fakeExtractor{ext: &engine.Extraction{
		CanonicalURL: "https://item-page",
		Prices:       []engine.PresentationPrice{{Presentation: 1, Price: 10}},
	}}
	r := NewRunner(store, ext, testLogger()).WithBackoff(fastBackoff())

	_, err := r.Run(context.Background(), newTestJob(`{}`))
	require.NoError(t, err)

	assert.Equal(t, "catalog-json", ext.lastEngineID)
	assert.Equal(t, "https://item-page", ext.lastSourceURL)
}
