package jobs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcelujan/mgq-admin-sub000/internal/domain"
)

type fakeApprovalStore struct {
	job    *domain.Job
	result *domain.JobResult

	succeeded  bool
	itemReview domain.ItemReviewStatus
}

func (f *fakeApprovalStore) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	if f.job == nil {
		return nil, domain.ErrJobNotFound
	}
	return f.job, nil
}

func (f *fakeApprovalStore) GetResult(ctx context.Context, jobID string) (*domain.JobResult, error) {
	if f.result == nil {
		return nil, domain.ErrJobNotFound
	}
	return f.result, nil
}

func (f *fakeApprovalStore) MarkSucceeded(ctx context.Context, jobID string) error {
	f.succeeded = true
	return nil
}

func (f *fakeApprovalStore) SetItemReview(ctx context.Context, itemID int64, status domain.ItemReviewStatus, errMsg string) error {
	f.itemReview = status
	return nil
}

type fakeOfferStore struct {
	upserted []domain.Offer
	nextID   int64
}

func (f *fakeOfferStore) UpsertOffer(ctx context.Context, offer domain.Offer) (int64, error) {
	f.upserted = append(f.upserted, offer)
	f.nextID++
	return f.nextID, nil
}

func reviewedJob() (*domain.Job, *domain.JobResult) {
	job := &domain.Job{
		JobID:  "3f0c8a47-1111-2222-3333-444455556666",
		State:  domain.JobStateWaitingReview,
		ItemID: 7,
	}
	result := &domain.JobResult{
		JobID:  job.JobID,
		Status: domain.ResultStatusOK,
		Candidates: []domain.Candidate{
			{Presentation: 0.5, Price: 1234.50, SourceURL: "https://shop.example.com/widget"},
			{Presentation: 1, Price: 2400, SourceURL: "https://shop.example.com/widget"},
		},
		EngineID: "catalog-json",
	}
	return job, result
}

func TestApprover_Approve_DefaultsToFirstCandidate(t *testing.T) {
	job, result := reviewedJob()
	store := &fakeApprovalStore{job: job, result: result}
	offers := &fakeOfferStore{}
	a := NewApprover(store, offers, testLogger())

	offerIDs, err := a.Approve(context.Background(), job.JobID, ApproveRequest{})
	require.NoError(t, err)

	require.Len(t, offerIDs, 1)
	require.Len(t, offers.upserted, 1)
	assert.Equal(t, int64(7), offers.upserted[0].ItemID)
	assert.InDelta(t, 0.5, offers.upserted[0].Presentation, 1e-9)
	assert.Equal(t, "catalog-json", offers.upserted[0].EngineID)
	assert.Equal(t, domain.OfferStatusOK, offers.upserted[0].Status)

	assert.True(t, store.succeeded)
	assert.Equal(t, domain.ItemReviewOK, store.itemReview)
}

func TestApprover_Approve_ByIndex(t *testing.T) {
	job, result := reviewedJob()
	store := &fakeApprovalStore{job: job, result: result}
	offers := &fakeOfferStore{}
	a := NewApprover(store, offers, testLogger())

	idx := 1
	_, err := a.Approve(context.Background(), job.JobID, ApproveRequest{CandidateIndex: &idx})
	require.NoError(t, err)

	require.Len(t, offers.upserted, 1)
	assert.InDelta(t, 1.0, offers.upserted[0].Presentation, 1e-9)
}

func TestApprover_Approve_IndexOutOfRange(t *testing.T) {
	job, result := reviewedJob()
	store := &fakeApprovalStore{job: job, result: result}
	a := NewApprover(store, &fakeOfferStore{}, testLogger())

	idx := 5
	_, err := a.Approve(context.Background(), job.JobID, ApproveRequest{CandidateIndex: &idx})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoCandidate)
	assert.False(t, store.succeeded)
}

func TestApprover_Approve_OverrideCandidate(t *testing.T) {
	job, result := reviewedJob()
	store := &fakeApprovalStore{job: job, result: result}
	offers := &fakeOfferStore{}
	a := NewApprover(store, offers, testLogger())

	_, err := a.Approve(context.Background(), job.JobID, ApproveRequest{
		Candidate: &domain.Candidate{Presentation: 2.5, Price: 999, SourceURL: "https://corrected"},
	})
	require.NoError(t, err)

	require.Len(t, offers.upserted, 1)
	assert.InDelta(t, 2.5, offers.upserted[0].Presentation, 1e-9)
	assert.Equal(t, "https://corrected", offers.upserted[0].SourceURL)
}

func TestApprover_Approve_InvalidOverrideRejected(t *testing.T) {
	job, result := reviewedJob()
	store := &fakeApprovalStore{job: job, result: result}
	a := NewApprover(store, &fakeOfferStore{}, testLogger())

	_, err := a.Approve(context.Background(), job.JobID, ApproveRequest{
		Candidate: &domain.Candidate{Presentation: 0, Price: 999, SourceURL: "https://corrected"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoCandidate)
}

func TestApprover_Approve_WrongStateRejected(t *testing.T) {
	job, result := reviewedJob()
	job.State = domain.JobStateFailed
	store := &fakeApprovalStore{job: job, result: result}
	a := NewApprover(store, &fakeOfferStore{}, testLogger())

	_, err := a.Approve(context.Background(), job.JobID, ApproveRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrJobNotReviewable)
}

func TestApprover_Approve_MissingJob(t *testing.T) {
	a := NewApprover(&fakeApprovalStore{}, &fakeOfferStore{}, testLogger())

	_, err := a.Approve(context.Background(), "unknown", ApproveRequest{})
	require.ErrorIs(t, err, domain.ErrJobNotFound)
}
