// -----------------------------------------------------------------------
// Review Service Interface - Change moderation and apply
// -----------------------------------------------------------------------

package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/praedium/internal/models"
)

// ReviewVerdict is the operator decision on a pending change
type ReviewVerdict string

const (
	VerdictApprove ReviewVerdict = "approve"
	VerdictReject  ReviewVerdict = "reject"
)

// SkippedChange records one bulk-review member that was not processed
type SkippedChange struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// BulkResult summarizes a bulk review, with partial success
type BulkResult struct {
	Approved int             `json:"approved"`
	Rejected int             `json:"rejected"`
	Skipped  []SkippedChange `json:"skipped,omitempty"`
}

// ReviewStats summarizes the state of the change ledger
type ReviewStats struct {
	ByStatus         map[models.ChangeStatus]int `json:"by_status"`
	ByEntityType     map[models.EntityType]int   `json:"by_entity_type"`
	OldestPendingAt  *time.Time                  `json:"oldest_pending_at,omitempty"`
	OldestPendingAge time.Duration               `json:"oldest_pending_age,omitempty"`
}

// ReviewService moderates the change ledger. A change leaves pending
// exactly once; approval applies the proposed entity write.
type ReviewService interface {
	// ReviewChange applies one verdict. Returns models.ErrNotFound for an
	// unknown change, models.ErrAlreadyReviewed for a settled one, and the
	// typed apply errors (StaleChangeError, AmbiguousMatchError) when an
	// approval cannot land; the change stays pending in those cases.
	ReviewChange(ctx context.Context, changeID string, verdict ReviewVerdict, reviewer, note string) (*models.Change, error)

	// ReviewBulk applies one verdict across many changes, skipping members
	// that fail instead of aborting the batch.
	ReviewBulk(ctx context.Context, changeIDs []string, verdict ReviewVerdict, reviewer string) (*BulkResult, error)

	// AutoApprove applies the auto-approval policy to a freshly written
	// change. Returns true when the policy fired and the change was applied
	// and marked auto_approved. A policy miss returns (false, nil).
	AutoApprove(ctx context.Context, change *models.Change) (bool, error)

	// Stats reports ledger counts and the oldest pending age
	Stats(ctx context.Context) (*ReviewStats, error)
}
