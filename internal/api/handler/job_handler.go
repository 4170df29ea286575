package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/marcelujan/mgq-admin-sub000/internal/api/dto"
	"github.com/marcelujan/mgq-admin-sub000/internal/domain"
	"github.com/marcelujan/mgq-admin-sub000/internal/jobs"
	"github.com/marcelujan/mgq-admin-sub000/internal/jobs/storage"
)

// CreateJobs handles POST /api/v1/jobs
// Enqueues one PENDING scrape job per item id
func (h *JobHandler) CreateJobs(c *gin.Context) {
	var req dto.CreateJobsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	jobIDs, err := h.storage.CreateJobs(c.Request.Context(), req.ItemIDs, req.Priority, h.defaults.MaxAttempts)
	if err != nil {
		h.logger.Error("Failed to create jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create jobs",
		})
		return
	}

	c.JSON(http.StatusCreated, dto.CreateJobsResponse{JobIDs: jobIDs})
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs newest first with per-item confirmed offer counts
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	listings, err := h.storage.ListJobs(c.Request.Context(), storage.JobFilter{
		State: domain.JobState(req.State),
		Limit: req.Limit,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobDTO, len(listings))}
	for i, l := range listings {
		resp.Jobs[i] = toJobDTO(l)
	}
	c.JSON(http.StatusOK, resp)
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.storage.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, toJobDTO(storage.JobListing{Job: *job}))
}

// RunNext handles POST /api/v1/jobs/run-next
// Claims the next eligible job under a lease and executes it to completion.
// An empty queue yields 200 with claimed=false, never an error.
func (h *JobHandler) RunNext(c *gin.Context) {
	var req dto.RunNextRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request body",
			})
			return
		}
	}

	lease := h.defaults.LeaseDuration
	if req.LeaseDurationSeconds > 0 {
		lease = time.Duration(req.LeaseDurationSeconds) * time.Second
	}

	job, err := h.storage.ClaimNext(c.Request.Context(), h.defaults.WorkerID, lease)
	if err != nil {
		h.logger.Error("Failed to claim job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to claim job",
		})
		return
	}
	if job == nil {
		c.JSON(http.StatusOK, dto.RunNextResponse{Claimed: false})
		return
	}

	outcome, err := h.runner.Run(c.Request.Context(), job)
	if err != nil {
		h.logger.Error("Failed to run job",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to run job",
		})
		return
	}

	c.JSON(http.StatusOK, dto.RunNextResponse{
		Claimed:    true,
		JobID:      outcome.JobID,
		State:      string(outcome.State),
		Attempts:   outcome.Attempts,
		Candidates: outcome.Candidates,
		LastError:  outcome.LastError,
	})
}

// ApproveJob handles POST /api/v1/jobs/:job_id/approve
// Confirms one candidate of a reviewed job as an offer
func (h *JobHandler) ApproveJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	var req dto.ApproveJobRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request body",
			})
			return
		}
	}

	approveReq := jobs.ApproveRequest{CandidateIndex: req.CandidateIndex}
	if req.Candidate != nil {
		approveReq.Candidate = &domain.Candidate{
			Presentation: req.Candidate.Presentation,
			Price:        req.Candidate.Price,
			SourceURL:    req.Candidate.SourceURL,
		}
	}

	offerIDs, err := h.approver.Approve(c.Request.Context(), jobID, approveReq)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
		case errors.Is(err, domain.ErrJobNotReviewable):
			c.JSON(http.StatusConflict, gin.H{
				"error": err.Error(),
			})
		case errors.Is(err, domain.ErrNoCandidate):
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
		default:
			h.logger.Error("Failed to approve job",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to approve job",
			})
		}
		return
	}

	c.JSON(http.StatusOK, dto.ApproveJobResponse{
		JobID:    jobID,
		State:    string(domain.JobStateSucceeded),
		OfferIDs: offerIDs,
	})
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	if err := h.storage.CancelJob(c.Request.Context(), jobID); err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to cancel job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to cancel job",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id": jobID,
		"state":  domain.JobStateCancelled,
	})
}

func toJobDTO(l storage.JobListing) dto.JobDTO {
	d := dto.JobDTO{
		JobID:       l.JobID,
		JobType:     l.JobType,
		State:       string(l.State),
		Priority:    l.Priority,
		ItemID:      l.ItemID,
		Attempts:    l.Attempts,
		MaxAttempts: l.MaxAttempts,
		OfferCount:  l.OfferCount,
		CreatedAt:   l.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   l.UpdatedAt.Format(time.RFC3339),
	}
	if l.LastError.Valid {
		d.LastError = l.LastError.String
	}
	return d
}
