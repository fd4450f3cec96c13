package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/praedium/internal/common"
	"github.com/ternarybob/praedium/internal/models"
)

// processProperty turns one collected property candidate into a ledger
// entry. Inventory runs attach the parent community; update runs are
// anchored to the property itself.
func (s *Service) processProperty(ctx context.Context, job *models.Job, spec *models.JobSpec, payload *models.PropertyPayload) (models.CollectResult, error) {
	result := models.CollectResult{EntitiesSeen: 1}

	candidate := payload.ToProperty()

	anchorID := ""
	if job.Type == models.JobTypePropertyUpdate {
		anchorID = spec.EntityID
	} else {
		candidate.CommunityID = spec.EntityID
		if candidate.City == "" {
			candidate.City = spec.SearchFilters.City
		}
		if candidate.State == "" {
			candidate.State = spec.SearchFilters.State
		}
	}

	change := &models.Change{
		ID:         common.NewPublicID(common.PrefixChange),
		EntityType: models.EntityTypeProperty,
		ChangeType: models.ChangeTypeCreate,
		JobID:      job.ID,
		Confidence: payload.Confidence,
		Status:     models.ChangeStatusPending,
		SourceURL:  candidate.SourceURL,
		CreatedAt:  time.Now(),
	}

	if anchorID != "" {
		existing, err := s.entities.GetProperty(ctx, anchorID)
		if err != nil {
			return result, models.Fatal(fmt.Errorf("anchored property %s: %w", anchorID, err))
		}
		diff := models.DiffProperty(existing, candidate)
		if len(diff) == 0 {
			result.Skipped = 1
			return result, nil
		}
		change.ChangeType = models.ChangeTypeUpdate
		change.EntityID = existing.ID
		change.Diff = diff
		change.BaseVersion = existing.Version
		change.Hint = models.DuplicateHint{Kind: models.HintExisting, MatchID: existing.ID}
	} else {
		hint, err := s.detector.DetectProperty(ctx, candidate)
		if err != nil {
			return result, fmt.Errorf("duplicate detection: %w", err)
		}
		change.Hint = hint

		switch hint.Kind {
		case models.HintExisting:
			result.Duplicates = 1
			existing, err := s.entities.GetProperty(ctx, hint.MatchID)
			if err != nil {
				return result, fmt.Errorf("matched property %s: %w", hint.MatchID, err)
			}
			diff := models.DiffProperty(existing, candidate)
			// An inventory run that finds a known property also learns
			// which community it belongs to; fill the link if missing.
			if existing.CommunityID == "" && candidate.CommunityID != "" {
				diff = append(diff, models.FieldDiff{Field: "community_id", New: candidate.CommunityID})
			}
			if len(diff) == 0 {
				result.Skipped = 1
				return result, nil
			}
			change.ChangeType = models.ChangeTypeUpdate
			change.EntityID = existing.ID
			change.Diff = diff
			change.BaseVersion = existing.Version
		case models.HintAmbiguous:
			result.Ambiguous = 1
			if err := change.SetPayload(candidate); err != nil {
				return result, fmt.Errorf("encode candidate: %w", err)
			}
		default:
			if err := change.SetPayload(candidate); err != nil {
				return result, fmt.Errorf("encode candidate: %w", err)
			}
		}
	}

	if err := s.changes.SaveChange(ctx, change); err != nil {
		return result, fmt.Errorf("save change: %w", err)
	}
	result.ChangesCreated = 1
	s.logger.Debug().
		Str("change_id", change.ID).
		Str("change_type", string(change.ChangeType)).
		Str("hint", string(change.Hint.Kind)).
		Str("address", candidate.Address1).
		Msg("Property change recorded")

	s.maybeAutoApprove(ctx, change, &result)
	return result, nil
}
