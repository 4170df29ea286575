package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcelujan/mgq-admin-sub000/internal/domain"
)

func TestJobChangeSet_Build(t *testing.T) {
	state := domain.JobStateFailed
	attempts := 3
	lastErr := "fetch timed out"
	finished := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	t.Run("full terminal transition", func(t *testing.T) {
		cs := JobChangeSet{
			State:      &state,
			Attempts:   &attempts,
			LastError:  &lastErr,
			FinishedAt: &finished,
			ClearLease: true,
		}

		query, args, err := cs.Build("job-1")
		require.NoError(t, err)

		assert.Equal(t,
			"UPDATE scrape_jobs SET updated_at = now(), state = $1, attempts = $2, "+
				"last_error = $3, finished_at = $4, lease_owner = NULL, lease_expires_at = NULL "+
				"WHERE job_id = $5",
			query,
		)
		assert.Equal(t, []interface{}{state, attempts, lastErr, finished, "job-1"}, args)
	})

	t.Run("single field", func(t *testing.T) {
		cs := JobChangeSet{Attempts: &attempts}

		query, args, err := cs.Build("job-2")
		require.NoError(t, err)

		assert.Equal(t, "UPDATE scrape_jobs SET updated_at = now(), attempts = $1 WHERE job_id = $2", query)
		assert.Equal(t, []interface{}{attempts, "job-2"}, args)
	})

	t.Run("clear lease only", func(t *testing.T) {
		cs := JobChangeSet{ClearLease: true}

		query, args, err := cs.Build("job-3")
		require.NoError(t, err)

		assert.Contains(t, query, "lease_owner = NULL")
		assert.Contains(t, query, "lease_expires_at = NULL")
		assert.Equal(t, []interface{}{"job-3"}, args)
	})

	t.Run("empty change set is an error", func(t *testing.T) {
		_, _, err := JobChangeSet{}.Build("job-4")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty job change set")
	})

	t.Run("long error is truncated", func(t *testing.T) {
		long := strings.Repeat("x", 2*maxErrorLen)
		cs := JobChangeSet{LastError: &long}

		_, args, err := cs.Build("job-5")
		require.NoError(t, err)
		assert.Len(t, args[0].(string), maxErrorLen)
	})
}
