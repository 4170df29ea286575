package domain

import (
	"database/sql"
	"time"
)

// JobState is the lifecycle state of a scrape job. The set is closed; the
// database column carries the same literals.
type JobState string

const (
	JobStatePending       JobState = "PENDING"
	JobStateRunning       JobState = "RUNNING"
	JobStateWaitingReview JobState = "WAITING_REVIEW"
	JobStateSucceeded     JobState = "SUCCEEDED"
	JobStateFailed        JobState = "FAILED"
	JobStateCancelled     JobState = "CANCELLED"
)

// JobTypeScrapeURL is currently the only job variant.
const JobTypeScrapeURL = "SCRAPE_URL"

// Job is one unit of scraping work persisted in scrape_jobs.
// At most one worker may hold a non-expired lease on a job at any time.
type Job struct {
	JobID          string         `db:"job_id"`
	JobType        string         `db:"job_type"`
	State          JobState       `db:"state"`
	Priority       int            `db:"priority"`
	ItemID         int64          `db:"item_id"`
	Payload        string         `db:"payload"` // JSON string, see JobPayload
	Attempts       int            `db:"attempts"`
	MaxAttempts    int            `db:"max_attempts"`
	NextRunAt      time.Time      `db:"next_run_at"`
	LeaseOwner     sql.NullString `db:"lease_owner"`
	LeaseExpiresAt sql.NullTime   `db:"lease_expires_at"`
	LastError      sql.NullString `db:"last_error"`
	CreatedAt      time.Time      `db:"created_at"`
	StartedAt      sql.NullTime   `db:"started_at"`
	FinishedAt     sql.NullTime   `db:"finished_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

// JobPayload is the free-form parameter block carried by a job.
// EngineID, when set, takes precedence over the item's default engine.
type JobPayload struct {
	URL      string `json:"url"`
	EngineID string `json:"engine_id,omitempty"`
}

// IsTerminal reports whether no further automatic transition applies.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateSucceeded, JobStateFailed, JobStateCancelled:
		return true
	}
	return false
}

// ResultStatus classifies an engine's output for one job.
type ResultStatus string

const (
	ResultStatusOK      ResultStatus = "OK"
	ResultStatusWarning ResultStatus = "WARNING"
	ResultStatusError   ResultStatus = "ERROR"
)

// Candidate is one unconfirmed price/offer extracted by an engine,
// awaiting operator approval before it becomes an Offer.
type Candidate struct {
	Presentation float64 `json:"presentation"`
	Price        float64 `json:"price"`
	SourceURL    string  `json:"source_url"`
}

// JobResult is the engine's output for exactly one job. It is upserted on
// job id, so re-executions never duplicate it.
type JobResult struct {
	JobID         string       `db:"job_id"`
	Status        ResultStatus `db:"status"`
	Candidates    []Candidate  `db:"-"`
	Warnings      []string     `db:"-"`
	Errors        []string     `db:"-"`
	EngineID      string       `db:"engine_id"`
	EngineVersion string       `db:"engine_version"`
	UpdatedAt     time.Time    `db:"updated_at"`
}
