package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/marcelujan/mgq-admin-sub000/internal/domain"
)

// ApprovalStore is the job-side storage the approval workflow needs.
type ApprovalStore interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	GetResult(ctx context.Context, jobID string) (*domain.JobResult, error)
	MarkSucceeded(ctx context.Context, jobID string) error
	SetItemReview(ctx context.Context, itemID int64, status domain.ItemReviewStatus, errMsg string) error
}

// OfferStore persists confirmed offers.
type OfferStore interface {
	UpsertOffer(ctx context.Context, offer domain.Offer) (int64, error)
}

// ApproveRequest selects which candidate of a job result to confirm.
// Candidate, when set, overrides the stored candidates entirely;
// otherwise CandidateIndex picks from the persisted list (default 0).
type ApproveRequest struct {
	CandidateIndex *int
	Candidate      *domain.Candidate
}

// Approver promotes a reviewed job's candidate results into confirmed offers.
type Approver struct {
	jobs   ApprovalStore
	offers OfferStore
	logger *slog.Logger
}

// NewApprover wires the approval workflow.
func NewApprover(jobs ApprovalStore, offers OfferStore, logger *slog.Logger) *Approver {
	return &Approver{jobs: jobs, offers: offers, logger: logger}
}

// Approve confirms one candidate of jobID as an Offer, marks the job
// SUCCEEDED and the backing item OK. It returns the confirmed offer ids.
func (a *Approver) Approve(ctx context.Context, jobID string, req ApproveRequest) ([]int64, error) {
	job, err := a.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.State != domain.JobStateWaitingReview {
		return nil, fmt.Errorf("%w: job %s is %s", domain.ErrJobNotReviewable, jobID, job.State)
	}

	result, err := a.jobs.GetResult(ctx, jobID)
	if err != nil {
		return nil, err
	}

	candidate, err := selectCandidate(result, req)
	if err != nil {
		return nil, err
	}

	offerID, err := a.offers.UpsertOffer(ctx, domain.Offer{
		ItemID:       job.ItemID,
		SourceURL:    candidate.SourceURL,
		Presentation: candidate.Presentation,
		EngineID:     result.EngineID,
		Status:       domain.OfferStatusOK,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to confirm offer: %w", err)
	}

	if err := a.jobs.MarkSucceeded(ctx, jobID); err != nil {
		return nil, err
	}
	if err := a.jobs.SetItemReview(ctx, job.ItemID, domain.ItemReviewOK, ""); err != nil {
		return nil, err
	}

	a.logger.Info("job approved",
		slog.String("job_id", jobID),
		slog.Int64("offer_id", offerID),
		slog.Float64("presentation", candidate.Presentation),
	)
	return []int64{offerID}, nil
}

func selectCandidate(result *domain.JobResult, req ApproveRequest) (*domain.Candidate, error) {
	if req.Candidate != nil {
		if req.Candidate.SourceURL == "" || req.Candidate.Presentation <= 0 {
			return nil, domain.ErrNoCandidate
		}
		return req.Candidate, nil
	}

	idx := 0
	if req.CandidateIndex != nil {
		idx = *req.CandidateIndex
	}
	if idx < 0 || idx >= len(result.Candidates) {
		return nil, fmt.Errorf("%w: index %d of %d candidates",
			domain.ErrNoCandidate, idx, len(result.Candidates))
	}
	return &result.Candidates[idx], nil
}
