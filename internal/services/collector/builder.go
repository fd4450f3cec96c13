package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/praedium/internal/common"
	"github.com/ternarybob/praedium/internal/models"
)

// processBuilder turns one collected builder candidate into a ledger entry
func (s *Service) processBuilder(ctx context.Context, job *models.Job, spec *models.JobSpec, payload *models.BuilderPayload) (models.CollectResult, error) {
	result := models.CollectResult{EntitiesSeen: 1}

	candidate := payload.ToBuilder()
	if candidate.City == "" {
		candidate.City = spec.SearchFilters.City
	}
	if candidate.State == "" {
		candidate.State = spec.SearchFilters.State
	}

	change := &models.Change{
		ID:         common.NewPublicID(common.PrefixChange),
		EntityType: models.EntityTypeBuilder,
		ChangeType: models.ChangeTypeCreate,
		JobID:      job.ID,
		Confidence: payload.Confidence,
		Status:     models.ChangeStatusPending,
		SourceURL:  candidate.SourceURL,
		CreatedAt:  time.Now(),
	}

	if spec.EntityID != "" {
		existing, err := s.entities.GetBuilder(ctx, spec.EntityID)
		if err != nil {
			return result, models.Fatal(fmt.Errorf("anchored builder %s: %w", spec.EntityID, err))
		}
		diff := models.DiffBuilder(existing, candidate)
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
		hint, err := s.detector.DetectBuilder(ctx, candidate)
		if err != nil {
			return result, fmt.Errorf("duplicate detection: %w", err)
		}
		change.Hint = hint

		switch hint.Kind {
		case models.HintExisting:
			result.Duplicates = 1
			existing, err := s.entities.GetBuilder(ctx, hint.MatchID)
			if err != nil {
				return result, fmt.Errorf("matched builder %s: %w", hint.MatchID, err)
			}
			diff := models.DiffBuilder(existing, candidate)
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
		Str("builder", candidate.Name).
		Msg("Builder change recorded")

	s.maybeAutoApprove(ctx, change, &result)
	return result, nil
}
