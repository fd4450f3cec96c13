package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/praedium/internal/common"
	"github.com/ternarybob/praedium/internal/models"
)

// processCommunity turns one collected community candidate into a
// ledger entry. Anchored runs diff against the known entity; discovery
// runs go through duplicate detection first.
func (s *Service) processCommunity(ctx context.Context, job *models.Job, spec *models.JobSpec, payload *models.CommunityPayload) (models.CollectResult, error) {
	result := models.CollectResult{EntitiesSeen: 1}

	candidate := payload.ToCommunity()
	if candidate.Market == "" {
		candidate.Market = spec.SearchFilters.Market
	}

	change := &models.Change{
		ID:         common.NewPublicID(common.PrefixChange),
		EntityType: models.EntityTypeCommunity,
		ChangeType: models.ChangeTypeCreate,
		JobID:      job.ID,
		Confidence: payload.Confidence,
		Status:     models.ChangeStatusPending,
		SourceURL:  candidate.SourceURL,
		CreatedAt:  time.Now(),
	}

	if spec.EntityID != "" {
		existing, err := s.entities.GetCommunity(ctx, spec.EntityID)
		if err != nil {
			return result, models.Fatal(fmt.Errorf("anchored community %s: %w", spec.EntityID, err))
		}
		diff := models.DiffCommunity(existing, candidate)
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
		hint, err := s.detector.DetectCommunity(ctx, candidate)
		if err != nil {
			return result, fmt.Errorf("duplicate detection: %w", err)
		}
		change.Hint = hint

		switch hint.Kind {
		case models.HintExisting:
			result.Duplicates = 1
			existing, err := s.entities.GetCommunity(ctx, hint.MatchID)
			if err != nil {
				return result, fmt.Errorf("matched community %s: %w", hint.MatchID, err)
			}
			diff := models.DiffCommunity(existing, candidate)
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
		Str("community", candidate.Name).
		Msg("Community change recorded")

	s.maybeAutoApprove(ctx, change, &result)
	return result, nil
}
