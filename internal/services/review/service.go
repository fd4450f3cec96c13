// -----------------------------------------------------------------------
// Review Service - Exactly-once moderation over the change ledger
// -----------------------------------------------------------------------

package review

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/praedium/internal/common"
	"github.com/ternarybob/praedium/internal/interfaces"
	"github.com/ternarybob/praedium/internal/models"
)

// autoApprovalActor is the ReviewedBy recorded for policy approvals
const autoApprovalActor = "auto-approval"

// Service moderates the change ledger. Every change leaves pending
// exactly once: transitions run under a per-change lock with a status
// re-check, so a concurrent reviewer loses cleanly with ErrAlreadyReviewed.
type Service struct {
	config   *common.Config
	entities interfaces.EntityStorage
	changes  interfaces.ChangeStorage
	events   interfaces.EventService
	logger   arbor.ILogger

	locks sync.Map // change ID -> *sync.Mutex
}

// NewService creates the review service over its dependencies
func NewService(config *common.Config, entities interfaces.EntityStorage, changes interfaces.ChangeStorage,
	events interfaces.EventService, logger arbor.ILogger) *Service {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Service{
		config:   config,
		entities: entities,
		changes:  changes,
		events:   events,
		logger:   logger,
	}
}

// ReviewChange applies one verdict to one change.
//
// Reject settles the change without touching entities. Approve runs the
// apply path: contested applies (stale base values, ambiguous identity)
// leave the change pending and return the typed error; integrity
// failures settle the change to failed with the reason and return the
// error alongside the settled change.
func (s *Service) ReviewChange(ctx context.Context, changeID string, verdict interfaces.ReviewVerdict, reviewer, note string) (*models.Change, error) {
	if reviewer == "" {
		return nil, fmt.Errorf("reviewer is required")
	}

	unlock := s.lockChange(changeID)
	defer unlock()

	change, err := s.changes.GetChange(ctx, changeID)
	if err != nil {
		return nil, err
	}
	if change.Status.Reviewed() {
		return nil, fmt.Errorf("change %s is already %s: %w", changeID, change.Status, models.ErrAlreadyReviewed)
	}

	switch verdict {
	case interfaces.VerdictReject:
		s.settle(change, models.ChangeStatusRejected, reviewer, note, "")
		if err := s.changes.SaveChange(ctx, change); err != nil {
			return nil, fmt.Errorf("save rejection: %w", err)
		}
		s.forgetLock(changeID)
		s.logger.Info().
			Str("change_id", change.ID).
			Str("reviewer", reviewer).
			Msg("Change rejected")
		return change, nil

	case interfaces.VerdictApprove:
		return s.approve(ctx, change, models.ChangeStatusApproved, reviewer, note)

	default:
		return nil, fmt.Errorf("unknown verdict %q", verdict)
	}
}

// ReviewBulk applies one verdict across many changes with partial
// success: members that cannot settle are skipped with a reason and the
// batch keeps going.
func (s *Service) ReviewBulk(ctx context.Context, changeIDs []string, verdict interfaces.ReviewVerdict, reviewer string) (*interfaces.BulkResult, error) {
	result := &interfaces.BulkResult{}
	for _, id := range changeIDs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if _, err := s.ReviewChange(ctx, id, verdict, reviewer, ""); err != nil {
			result.Skipped = append(result.Skipped, interfaces.SkippedChange{ID: id, Reason: err.Error()})
			continue
		}
		switch verdict {
		case interfaces.VerdictApprove:
			result.Approved++
		case interfaces.VerdictReject:
			result.Rejected++
		}
	}
	s.logger.Info().
		Int("approved", result.Approved).
		Int("rejected", result.Rejected).
		Int("skipped", len(result.Skipped)).
		Msg("Bulk review complete")
	return result, nil
}

// AutoApprove runs the auto-approval policy against a freshly collected
// change. A policy miss is not an error; a policy hit goes through the
// same apply path and exactly-once gate as a manual approval.
func (s *Service) AutoApprove(ctx context.Context, change *models.Change) (bool, error) {
	if !s.shouldAutoApprove(change) {
		return false, nil
	}

	unlock := s.lockChange(change.ID)
	defer unlock()

	current, err := s.changes.GetChange(ctx, change.ID)
	if err != nil {
		return false, err
	}
	if current.Status.Reviewed() {
		return false, nil
	}

	reviewed, err := s.approve(ctx, current, models.ChangeStatusAutoApproved, autoApprovalActor, "auto-approved by policy")
	if err != nil {
		return false, err
	}
	*change = *reviewed
	return true, nil
}

// Stats reports ledger counts by status and entity type plus the age of
// the longest-waiting pending change
func (s *Service) Stats(ctx context.Context) (*interfaces.ReviewStats, error) {
	byStatus, err := s.changes.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	stats := &interfaces.ReviewStats{
		ByStatus:     byStatus,
		ByEntityType: make(map[models.EntityType]int),
	}
	for _, entityType := range []models.EntityType{models.EntityTypeCommunity, models.EntityTypeBuilder, models.EntityTypeProperty} {
		count, err := s.changes.CountChanges(ctx, &interfaces.ChangeFilter{EntityType: entityType})
		if err != nil {
			return nil, err
		}
		if count > 0 {
			stats.ByEntityType[entityType] = count
		}
	}

	oldest, err := s.changes.OldestPending(ctx)
	if err != nil {
		return nil, err
	}
	if oldest != nil {
		at := oldest.CreatedAt
		stats.OldestPendingAt = &at
		stats.OldestPendingAge = time.Since(at)
	}
	return stats, nil
}

// approve runs the apply path and settles the change. target is
// approved for manual review, auto_approved for policy review.
func (s *Service) approve(ctx context.Context, change *models.Change, target models.ChangeStatus, reviewer, note string) (*models.Change, error) {
	outcome, err := s.applyChange(ctx, change)
	if err != nil {
		var stale *models.StaleChangeError
		var ambiguous *models.AmbiguousMatchError
		if errors.As(err, &stale) || errors.As(err, &ambiguous) {
			// Contested: the change stays pending for the operator.
			s.logger.Warn().
				Err(err).
				Str("change_id", change.ID).
				Msg("Approval contested, change stays pending")
			return nil, err
		}

		// Integrity failure: settle to failed so the queue drains.
		s.settle(change, models.ChangeStatusFailed, reviewer, note, err.Error())
		if saveErr := s.changes.SaveChange(ctx, change); saveErr != nil {
			s.logger.Error().
				Err(saveErr).
				Str("change_id", change.ID).
				Msg("Failed to record failed apply")
		}
		s.forgetLock(change.ID)
		return change, err
	}

	if outcome.note != "" {
		if note != "" {
			note += "; "
		}
		note += outcome.note
	}
	change.EntityID = outcome.entityID
	s.settle(change, target, reviewer, note, "")
	if err := s.changes.SaveChange(ctx, change); err != nil {
		return nil, fmt.Errorf("save approval: %w", err)
	}
	s.forgetLock(change.ID)

	s.logger.Info().
		Str("change_id", change.ID).
		Str("status", string(target)).
		Str("entity_id", change.EntityID).
		Str("reviewer", reviewer).
		Msg("Change approved")

	s.publishApplied(ctx, change, outcome)
	return change, nil
}

// publishApplied emits the post-apply event. Best effort: apply success
// is never gated on subscribers.
func (s *Service) publishApplied(ctx context.Context, change *models.Change, outcome *applyOutcome) {
	if s.events == nil || outcome.eventType == "" {
		return
	}
	err := s.events.Publish(ctx, interfaces.Event{
		Type: outcome.eventType,
		Payload: interfaces.EntityEventPayload{
			EntityType: change.EntityType,
			EntityID:   outcome.entityID,
			ChangeID:   change.ID,
			JobID:      change.JobID,
		},
	})
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("change_id", change.ID).
			Msg("Post-apply event publish failed")
	}
}

func (s *Service) settle(change *models.Change, status models.ChangeStatus, reviewer, note, failureReason string) {
	now := time.Now()
	change.Status = status
	change.ReviewedBy = reviewer
	change.ReviewedAt = &now
	change.ReviewNote = note
	change.FailureReason = failureReason
}

// lockChange serializes transitions per change ID
func (s *Service) lockChange(id string) func() {
	m, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// forgetLock drops the lock entry once a change reaches a terminal
// status; later callers re-create it only to lose the status re-check
func (s *Service) forgetLock(id string) {
	s.locks.Delete(id)
}
