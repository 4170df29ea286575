package dto

// CreateJobsRequest enqueues one scrape job per item.
type CreateJobsRequest struct {
	ItemIDs  []int64 `json:"item_ids" binding:"required,min=1"`
	Priority int     `json:"priority"`
}

type CreateJobsResponse struct {
	JobIDs []string `json:"job_ids"`
}

// RunNextRequest lets callers shorten or extend the lease on the claimed job.
type RunNextRequest struct {
	LeaseDurationSeconds int `json:"lease_duration_seconds"`
}

type RunNextResponse struct {
	Claimed    bool   `json:"claimed"`
	JobID      string `json:"job_id,omitempty"`
	State      string `json:"state,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`
	Candidates int    `json:"candidates,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

// ListJobsRequest filters GET /jobs.
type ListJobsRequest struct {
	State string `form:"state"`
	Limit int    `form:"limit"`
}

type JobDTO struct {
	JobID       string `json:"job_id"`
	JobType     string `json:"job_type"`
	State       string `json:"state"`
	Priority    int    `json:"priority"`
	ItemID      int64  `json:"item_id"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
	LastError   string `json:"last_error,omitempty"`
	OfferCount  int    `json:"offer_count"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type ListJobsResponse struct {
	Jobs []JobDTO `json:"jobs"`
}

// CandidateDTO mirrors one extracted (presentation, price) pair.
type CandidateDTO struct {
	Presentation float64 `json:"presentation"`
	Price        float64 `json:"price"`
	SourceURL    string  `json:"source_url"`
}

// ApproveJobRequest confirms one candidate. Candidate, when present,
// overrides the stored list; otherwise CandidateIndex picks from it.
type ApproveJobRequest struct {
	CandidateIndex *int          `json:"candidate_index"`
	Candidate      *CandidateDTO `json:"candidate"`
}

type ApproveJobResponse struct {
	JobID    string  `json:"job_id"`
	State    string  `json:"state"`
	OfferIDs []int64 `json:"offer_ids"`
}

// DailyRunResponse reports one budget-bounded orchestrator slice.
type DailyRunResponse struct {
	RunID            int64  `json:"run_id"`
	Date             string `json:"date"`
	Status           string `json:"status"`
	BatchSize        int    `json:"batch_size"`
	Seeded           int    `json:"seeded"`
	OK               int    `json:"ok"`
	Fail             int    `json:"fail"`
	InsertedRows     int    `json:"inserted_rows"`
	PendingRemaining int    `json:"pending_remaining"`
	TimeMs           int64  `json:"time_ms"`
}

type PricePointDTO struct {
	AsOf         string  `json:"as_of"`
	Presentation float64 `json:"presentation"`
	Price        float64 `json:"price"`
	SourceURL    string  `json:"source_url"`
	RunID        int64   `json:"run_id"`
}

type PriceHistoryResponse struct {
	ItemID int64           `json:"item_id"`
	Days   int             `json:"days"`
	Points []PricePointDTO `json:"points"`
}
