// -----------------------------------------------------------------------
// Collector - Turns collection jobs into reviewable ledger entries
// -----------------------------------------------------------------------

package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/praedium/internal/common"
	"github.com/ternarybob/praedium/internal/interfaces"
	"github.com/ternarybob/praedium/internal/models"
	"github.com/ternarybob/praedium/internal/services/fingerprint"
	"github.com/ternarybob/praedium/internal/services/llm"
)

// schemaAttempts bounds full collection attempts when the model returns
// something unusable. Two schema misses in a row mean the contract is
// broken and retrying the job will not help.
const schemaAttempts = 2

// Service runs the collection pipeline: prompt the LLM, validate the
// payload, detect duplicates, diff against stored entities, and write
// change ledger entries. Eligible creates are auto-approved in place.
type Service struct {
	config   *common.Config
	llm      interfaces.LLMService
	detector *fingerprint.Detector
	entities interfaces.EntityStorage
	changes  interfaces.ChangeStorage
	review   interfaces.ReviewService
	logger   arbor.ILogger
}

// NewService creates the collection pipeline over its dependencies
func NewService(config *common.Config, llmService interfaces.LLMService, detector *fingerprint.Detector,
	entities interfaces.EntityStorage, changes interfaces.ChangeStorage,
	review interfaces.ReviewService, logger arbor.ILogger) *Service {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Service{
		config:   config,
		llm:      llmService,
		detector: detector,
		entities: entities,
		changes:  changes,
		review:   review,
		logger:   logger,
	}
}

// Run executes one collection job and reports what it produced.
// Unlabeled and Transient errors requeue the job with backoff; Fatal
// errors dead-letter it.
func (s *Service) Run(ctx context.Context, job *models.Job) (*models.CollectResult, error) {
	spec, err := s.enrichSpec(ctx, job)
	if err != nil {
		return nil, err
	}

	prompt, err := renderPrompt(job.Type, &spec)
	if err != nil {
		return nil, models.Fatal(err)
	}

	payload, err := s.collectPayload(ctx, job.Type, prompt)
	if err != nil {
		return nil, err
	}

	result := &models.CollectResult{}
	switch job.Type {
	case models.JobTypeCommunityDiscovery:
		for i := range payload.Communities {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			r, err := s.processCommunity(ctx, job, &spec, &payload.Communities[i])
			result.Add(r)
			if err != nil {
				return result, err
			}
		}
	case models.JobTypeCommunityDetail:
		r, err := s.processCommunity(ctx, job, &spec, payload.Community)
		result.Add(r)
		if err != nil {
			return result, err
		}
	case models.JobTypeCommunityInventory:
		for i := range payload.Properties {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			r, err := s.processProperty(ctx, job, &spec, &payload.Properties[i])
			result.Add(r)
			if err != nil {
				return result, err
			}
		}
	case models.JobTypeBuilderDiscovery:
		for i := range payload.Builders {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			r, err := s.processBuilder(ctx, job, &spec, &payload.Builders[i])
			result.Add(r)
			if err != nil {
				return result, err
			}
		}
	case models.JobTypeBuilderDetail:
		r, err := s.processBuilder(ctx, job, &spec, payload.Builder)
		result.Add(r)
		if err != nil {
			return result, err
		}
	case models.JobTypePropertyUpdate:
		r, err := s.processProperty(ctx, job, &spec, payload.Property)
		result.Add(r)
		if err != nil {
			return result, err
		}
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("type", string(job.Type)).
		Int("entities_seen", result.EntitiesSeen).
		Int("changes_created", result.ChangesCreated).
		Int("auto_approved", result.AutoApproved).
		Int("skipped", result.Skipped).
		Msg("Collection run complete")
	return result, nil
}

// collectPayload drives the LLM call and parse loop. A syntactically
// valid response that fails schema validation gets one fresh collection
// attempt; a second schema miss is fatal.
func (s *Service) collectPayload(ctx context.Context, jobType models.JobType, prompt string) (*models.CollectionPayload, error) {
	schemaFailures := 0
	var lastErr error

	for attempt := 1; attempt <= schemaAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw, err := s.collectWithRetry(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("llm collection: %w", err)
		}

		payload := &models.CollectionPayload{}
		if err := json.Unmarshal([]byte(cleanResponse(raw)), payload); err != nil {
			lastErr = fmt.Errorf("response is not valid JSON: %w", err)
			s.logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Msg("Collection response failed to parse")
			continue
		}

		if err := payload.Validate(jobType); err != nil {
			schemaFailures++
			lastErr = err
			s.logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Msg("Collection response failed schema validation")
			continue
		}

		return payload, nil
	}

	if schemaFailures >= schemaAttempts {
		return nil, models.Fatal(fmt.Errorf("collection contract broken: %w", lastErr))
	}
	return nil, fmt.Errorf("collection response unusable: %w", lastErr)
}

// collectWithRetry calls the provider with doubling backoff on
// retryable failures, honoring cancellation between attempts
func (s *Service) collectWithRetry(ctx context.Context, prompt string) (string, error) {
	attempts := s.config.LLM.MaxRetries
	if attempts <= 0 {
		attempts = 3
	}

	backoff := time.Second
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		raw, err := s.llm.Collect(ctx, prompt)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !llm.Retryable(err) {
			return "", err
		}
		if attempt == attempts {
			break
		}

		s.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Str("backoff", backoff.String()).
			Msg("LLM call failed, backing off")
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return "", lastErr
}

// enrichSpec resolves the anchored entity of detail/inventory/update
// jobs and copies its identifying fields into a spec copy used by the
// prompt and by candidate processing. A missing anchor is fatal: the
// entity was deleted after enqueue and retrying cannot bring it back.
func (s *Service) enrichSpec(ctx context.Context, job *models.Job) (models.JobSpec, error) {
	spec := job.Spec
	if spec.EntityID == "" {
		return spec, nil
	}

	switch job.Type.EntityType() {
	case models.EntityTypeCommunity:
		community, err := s.entities.GetCommunity(ctx, spec.EntityID)
		if err != nil {
			return spec, models.Fatal(fmt.Errorf("anchored community %s: %w", spec.EntityID, err))
		}
		if spec.SearchFilters.CommunityName == "" {
			spec.SearchFilters.CommunityName = community.Name
		}
		if spec.SearchFilters.City == "" {
			spec.SearchFilters.City = community.City
		}
		if spec.SearchFilters.State == "" {
			spec.SearchFilters.State = community.State
		}
		if spec.TargetURL == "" {
			spec.TargetURL = community.SourceURL
		}
	case models.EntityTypeBuilder:
		builder, err := s.entities.GetBuilder(ctx, spec.EntityID)
		if err != nil {
			return spec, models.Fatal(fmt.Errorf("anchored builder %s: %w", spec.EntityID, err))
		}
		if spec.SearchFilters.BuilderName == "" {
			spec.SearchFilters.BuilderName = builder.Name
		}
		if spec.SearchFilters.City == "" {
			spec.SearchFilters.City = builder.City
		}
		if spec.SearchFilters.State == "" {
			spec.SearchFilters.State = builder.State
		}
		if spec.TargetURL == "" {
			spec.TargetURL = builder.SourceURL
		}
	case models.EntityTypeProperty:
		property, err := s.entities.GetProperty(ctx, spec.EntityID)
		if err != nil {
			return spec, models.Fatal(fmt.Errorf("anchored property %s: %w", spec.EntityID, err))
		}
		params := make(map[string]string, len(spec.Params)+6)
		for k, v := range spec.Params {
			params[k] = v
		}
		params["address1"] = property.Address1
		params["address2"] = property.Address2
		params["city"] = property.City
		params["state"] = property.State
		params["postal_code"] = property.PostalCode
		params["plan_name"] = property.PlanName
		spec.Params = params
		if spec.TargetURL == "" {
			spec.TargetURL = property.SourceURL
		}
	}
	return spec, nil
}

// maybeAutoApprove runs the auto-approval policy against a fresh change.
// Failures leave the change pending for manual review and never fail
// the collection run.
func (s *Service) maybeAutoApprove(ctx context.Context, change *models.Change, result *models.CollectResult) {
	if s.review == nil {
		return
	}
	approved, err := s.review.AutoApprove(ctx, change)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("change_id", change.ID).
			Msg("Auto-approval did not land, change stays pending")
		return
	}
	if approved {
		result.AutoApproved++
	}
}
