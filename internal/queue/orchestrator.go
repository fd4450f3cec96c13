// -----------------------------------------------------------------------
// Synchronous drain - Batch execution sharing the worker settle logic
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"fmt"

	"github.com/ternarybob/praedium/internal/interfaces"
	"github.com/ternarybob/praedium/internal/models"
)

var (
	_ interfaces.JobOrchestrator = (*Manager)(nil)
	_ interfaces.WorkerPool      = (*Pool)(nil)
)

// executorOwner names the lease owner for synchronous drains
const executorOwner = "executor"

// ExecutePending drains due pending jobs serially on the calling
// goroutine, up to limit (0 means the configured batch limit). Each job
// runs under the same lease, deadline, and settle rules the pool applies,
// so batch mode and daemon mode produce identical job records.
func (m *Manager) ExecutePending(ctx context.Context, limit int) (*interfaces.ExecuteSummary, error) {
	if limit <= 0 {
		limit = m.config.Queue.ExecuteBatchLimit
	}
	if limit <= 0 {
		limit = 25
	}

	summary := &interfaces.ExecuteSummary{}
	for summary.Executed < limit && ctx.Err() == nil {
		job, err := m.acquire(ctx, executorOwner)
		if err != nil {
			return summary, fmt.Errorf("acquire next job: %w", err)
		}
		if job == nil {
			break
		}

		switch m.runJob(ctx, job, executorOwner) {
		case models.JobStatusCompleted:
			summary.Succeeded++
		case models.JobStatusFailed:
			summary.Failed++
		case models.JobStatusCancelled:
			summary.Cancelled++
		}
		summary.Executed++
	}

	remaining, err := m.jobs.CountJobs(ctx, &interfaces.JobFilter{
		Status: []models.JobStatus{models.JobStatusPending},
	})
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to count remaining pending jobs")
	} else {
		summary.Remaining = remaining
	}

	m.logger.Info().
		Int("executed", summary.Executed).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("cancelled", summary.Cancelled).
		Int("remaining", summary.Remaining).
		Msg("Pending jobs drained")
	return summary, nil
}
