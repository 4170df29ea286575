package domain

import (
	"database/sql"
	"time"
)

// RunStatus is the lifecycle status of a daily pricing run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "RUNNING"
	RunStatusDone    RunStatus = "DONE"
	RunStatusPartial RunStatus = "PARTIAL"
)

// Run is one calendar day's batch-processing session. Exactly one Run exists
// per as-of date; re-invoking the orchestrator reuses the existing row.
type Run struct {
	RunID        int64        `db:"run_id"`
	AsOf         time.Time    `db:"as_of"`
	Status       RunStatus    `db:"status"`
	StartedAt    time.Time    `db:"started_at"`
	FinishedAt   sql.NullTime `db:"finished_at"`
	TotalItems   int          `db:"total_items"`
	OKItems      int          `db:"ok_items"`
	FailItems    int          `db:"fail_items"`
	PendingItems int          `db:"pending_items"`
}

// RunItemStatus is the per-run status of one schedulable offer.
type RunItemStatus string

const (
	RunItemPending RunItemStatus = "PENDING"
	RunItemOK      RunItemStatus = "OK"
	RunItemFail    RunItemStatus = "FAIL"
)

// RunItem binds a Run to one offer being watched for price.
// Unique per (run, offer), which makes re-seeding idempotent.
type RunItem struct {
	RunID     int64          `db:"run_id"`
	OfferID   int64          `db:"offer_id"`
	Status    RunItemStatus  `db:"status"`
	Attempts  int            `db:"attempts"`
	LastError sql.NullString `db:"last_error"`
	UpdatedAt time.Time      `db:"updated_at"`
}

// OfferStatus controls whether the orchestrator seeds an offer.
type OfferStatus string

const (
	OfferStatusOK       OfferStatus = "OK"
	OfferStatusInactive OfferStatus = "INACTIVE"
)

// Offer is a confirmed (item, source URL, presentation) triple eligible for
// price tracking.
type Offer struct {
	OfferID      int64       `db:"offer_id"`
	ItemID       int64       `db:"item_id"`
	SourceURL    string      `db:"source_url"`
	Presentation float64     `db:"presentation"`
	EngineID     string      `db:"engine_id"`
	Status       OfferStatus `db:"status"`
}

// PricePoint is the confirmed daily output, unique per
// (item, as-of date, presentation). Re-processing overwrites in place.
type PricePoint struct {
	ItemID       int64     `db:"item_id"`
	AsOf         time.Time `db:"as_of"`
	Presentation float64   `db:"presentation"`
	Price        float64   `db:"price"`
	SourceURL    string    `db:"source_url"`
	RunID        int64     `db:"run_id"`
}

// ItemReviewStatus mirrors the item-side bookkeeping the runner updates.
type ItemReviewStatus string

const (
	ItemReviewOK      ItemReviewStatus = "OK"
	ItemReviewPending ItemReviewStatus = "WAITING_REVIEW"
	ItemReviewError   ItemReviewStatus = "ERROR"
)

// Item is the minimal slice of the catalog the orchestration core touches.
type Item struct {
	ItemID          int64            `db:"item_id"`
	Name            string           `db:"name"`
	PageURL         sql.NullString   `db:"page_url"`
	DefaultEngineID sql.NullString   `db:"default_engine_id"`
	ReviewStatus    ItemReviewStatus `db:"review_status"`
	LastError       sql.NullString   `db:"last_error"`
}
