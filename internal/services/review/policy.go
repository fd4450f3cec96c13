// -----------------------------------------------------------------------
// Policy - Which changes skip human review
// -----------------------------------------------------------------------

package review

import (
	"github.com/ternarybob/praedium/internal/models"
)

const defaultAutoApproveConfidence = 0.85

// shouldAutoApprove gates the fast path: only brand-new entities of the
// configured types, at or above the confidence floor. Updates and
// deletes always wait for a human.
func (s *Service) shouldAutoApprove(change *models.Change) bool {
	if change.ChangeType != models.ChangeTypeCreate {
		return false
	}
	if change.Hint.Kind != models.HintNew {
		return false
	}

	threshold := s.config.Review.AutoApproveMinConfidence
	if threshold <= 0 {
		threshold = defaultAutoApproveConfidence
	}
	if change.Confidence < threshold {
		return false
	}

	for _, allowed := range s.config.Review.AutoApproveEntityTypes {
		if models.EntityType(allowed) == change.EntityType {
			return true
		}
	}
	return false
}
