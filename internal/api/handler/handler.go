package handler

import (
	"log/slog"
	"time"

	"github.com/marcelujan/mgq-admin-sub000/internal/jobs"
	jobstorage "github.com/marcelujan/mgq-admin-sub000/internal/jobs/storage"
	"github.com/marcelujan/mgq-admin-sub000/internal/pricing"
	pricingstorage "github.com/marcelujan/mgq-admin-sub000/internal/pricing/storage"
)

// JobDefaults are the server-side defaults applied when a request omits the
// corresponding knob.
type JobDefaults struct {
	MaxAttempts   int
	LeaseDuration time.Duration
	WorkerID      string
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	Jobs         *jobstorage.Storage
	Pricing      *pricingstorage.Storage
	Runner       *jobs.Runner
	Approver     *jobs.Approver
	Orchestrator *pricing.Orchestrator
	Defaults     JobDefaults
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger   *slog.Logger
	storage  *jobstorage.Storage
	runner   *jobs.Runner
	approver *jobs.Approver
	defaults JobDefaults
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:   deps.Logger,
		storage:  deps.Jobs,
		runner:   deps.Runner,
		approver: deps.Approver,
		defaults: deps.Defaults,
	}
}

// PricingHandler handles daily-run and price-history HTTP requests
type PricingHandler struct {
	logger       *slog.Logger
	storage      *pricingstorage.Storage
	orchestrator *pricing.Orchestrator
}

// NewPricingHandler creates a new PricingHandler instance
func NewPricingHandler(deps *Dependencies) *PricingHandler {
	return &PricingHandler{
		logger:       deps.Logger,
		storage:      deps.Pricing,
		orchestrator: deps.Orchestrator,
	}
}
