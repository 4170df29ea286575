package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/marcelujan/mgq-admin-sub000/internal/domain"
)

// JobChangeSet is an explicit partial update for a job row. Each non-nil
// field becomes one parameterized SET clause in a fixed column order, so the
// generated SQL is deterministic and never built from caller strings.
type JobChangeSet struct {
	State      *domain.JobState
	Attempts   *int
	NextRunAt  *time.Time
	LastError  *string
	StartedAt  *time.Time
	FinishedAt *time.Time
	ClearLease bool
}

// Build renders the change set into an UPDATE statement for jobID.
// updated_at is always touched. An empty change set is an error.
func (cs JobChangeSet) Build(jobID string) (string, []interface{}, error) {
	sets := []string{"updated_at = now()"}
	args := []interface{}{}
	idx := 1

	add := func(col string, val interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, val)
		idx++
	}

	if cs.State != nil {
		add("state", *cs.State)
	}
	if cs.Attempts != nil {
		add("attempts", *cs.Attempts)
	}
	if cs.NextRunAt != nil {
		add("next_run_at", *cs.NextRunAt)
	}
	if cs.LastError != nil {
		add("last_error", truncateError(*cs.LastError))
	}
	if cs.StartedAt != nil {
		add("started_at", *cs.StartedAt)
	}
	if cs.FinishedAt != nil {
		add("finished_at", *cs.FinishedAt)
	}
	if cs.ClearLease {
		sets = append(sets, "lease_owner = NULL", "lease_expires_at = NULL")
	}

	if len(sets) == 1 {
		return "", nil, fmt.Errorf("empty job change set")
	}

	query := fmt.Sprintf(
		"UPDATE scrape_jobs SET %s WHERE job_id = $%d",
		strings.Join(sets, ", "), idx,
	)
	args = append(args, jobID)
	return query, args, nil
}

// maxErrorLen bounds persisted error messages.
const maxErrorLen = 500

func truncateError(msg string) string {
	if len(msg) > maxErrorLen {
		return msg[:maxErrorLen]
	}
	return msg
}
