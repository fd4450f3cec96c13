// -----------------------------------------------------------------------
// Cascade Resolver - Knits newly applied entities into waiting work
// -----------------------------------------------------------------------

package cascade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/praedium/internal/common"
	"github.com/ternarybob/praedium/internal/interfaces"
	"github.com/ternarybob/praedium/internal/models"
	"github.com/ternarybob/praedium/internal/services/fingerprint"
)

// cascadeActor names the resolver in audit trails and enqueue records
const cascadeActor = "cascade"

// Resolver reacts to applied entity changes:
//
//  1. A created community anchors pending detail/inventory jobs that were
//     enqueued by name before the community existed.
//  2. A created builder links matching builder cards across communities.
//  3. A community carrying unlinked builder cards spawns builder.discovery
//     jobs so the profiles get collected.
//
// Every rule is idempotent; a replayed event re-resolves to the same
// state. Failures are logged and never propagate back into the apply
// that published the event.
type Resolver struct {
	entities interfaces.EntityStorage
	jobs     interfaces.JobStorage
	history  interfaces.HistoryStorage
	queue    interfaces.JobOrchestrator
	events   interfaces.EventService
	logger   arbor.ILogger
}

// NewResolver creates the cascade resolver over its dependencies
func NewResolver(entities interfaces.EntityStorage, jobs interfaces.JobStorage, history interfaces.HistoryStorage,
	queue interfaces.JobOrchestrator, events interfaces.EventService, logger arbor.ILogger) *Resolver {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Resolver{
		entities: entities,
		jobs:     jobs,
		history:  history,
		queue:    queue,
		events:   events,
		logger:   logger,
	}
}

// Subscribe registers the resolver on the event bus
func (r *Resolver) Subscribe() error {
	if err := r.events.Subscribe(interfaces.EventEntityCreated, r.handleEntityEvent); err != nil {
		return fmt.Errorf("subscribe entity.created: %w", err)
	}
	if err := r.events.Subscribe(interfaces.EventEntityUpdated, r.handleEntityEvent); err != nil {
		return fmt.Errorf("subscribe entity.updated: %w", err)
	}
	return nil
}

func (r *Resolver) handleEntityEvent(ctx context.Context, event interfaces.Event) error {
	payload, ok := event.Payload.(interfaces.EntityEventPayload)
	if !ok {
		r.logger.Warn().
			Str("event_type", string(event.Type)).
			Msg("Entity event carried an unexpected payload type")
		return nil
	}

	switch payload.EntityType {
	case models.EntityTypeCommunity:
		return r.resolveCommunity(ctx, payload, event.Type)
	case models.EntityTypeBuilder:
		if event.Type == interfaces.EventEntityCreated {
			return r.resolveBuilder(ctx, payload)
		}
	}
	return nil
}

// resolveCommunity runs rules 1 and 3 for a community event
func (r *Resolver) resolveCommunity(ctx context.Context, payload interfaces.EntityEventPayload, eventType interfaces.EventType) error {
	community, err := r.entities.GetCommunity(ctx, payload.EntityID)
	if err != nil {
		return fmt.Errorf("cascade load community %s: %w", payload.EntityID, err)
	}
	if community.IsDeleted() {
		return nil
	}

	if eventType == interfaces.EventEntityCreated {
		r.anchorPendingJobs(ctx, community)
	}
	r.backfillBuilderDiscovery(ctx, community, payload.JobID)
	return nil
}

// anchorPendingJobs fills Spec.EntityID on pending detail/inventory jobs
// that were waiting for this community to exist. The spec hash moves with
// the spec so enqueue dedupe keeps seeing a consistent snapshot.
func (r *Resolver) anchorPendingJobs(ctx context.Context, community *models.Community) {
	pending, err := r.jobs.ListJobs(ctx, &interfaces.JobFilter{Status: []models.JobStatus{models.JobStatusPending}})
	if err != nil {
		r.logger.Warn().Err(err).Msg("Cascade could not list pending jobs for anchoring")
		return
	}

	name := fingerprint.Normalize(community.Name)
	anchored := 0
	for _, job := range pending {
		if job.Type != models.JobTypeCommunityDetail && job.Type != models.JobTypeCommunityInventory {
			continue
		}
		if job.Spec.EntityID != "" {
			continue
		}
		filters := job.Spec.SearchFilters
		if filters.CommunityName == "" || fingerprint.Normalize(filters.CommunityName) != name {
			continue
		}
		if filters.City != "" && fingerprint.Normalize(filters.City) != fingerprint.Normalize(community.City) {
			continue
		}
		if filters.State != "" && fingerprint.Normalize(filters.State) != fingerprint.Normalize(community.State) {
			continue
		}

		job.Spec.EntityID = community.ID
		job.SpecHash = job.Spec.Hash(job.Type)
		job.UpdatedAt = time.Now()
		if err := r.jobs.SaveJob(ctx, job); err != nil {
			r.logger.Warn().Err(err).
				Str("job_id", job.ID).
				Msg("Cascade could not anchor pending job")
			continue
		}
		r.appendHistory(ctx, job.ID, models.JobStatusPending, models.JobStatusPending, "anchored by cascade")
		anchored++

		r.logger.Info().
			Str("job_id", job.ID).
			Str("job_type", string(job.Type)).
			Str("community_id", community.ID).
			Msg("Anchored pending job to created community")
	}

	if anchored == 0 {
		r.logger.Debug().
			Str("community_id", community.ID).
			Msg("No pending jobs waiting on created community")
	}
}

// resolveBuilder runs rule 2: link this builder into matching cards on
// every community that advertises it
func (r *Resolver) resolveBuilder(ctx context.Context, payload interfaces.EntityEventPayload) error {
	builder, err := r.entities.GetBuilder(ctx, payload.EntityID)
	if err != nil {
		return fmt.Errorf("cascade load builder %s: %w", payload.EntityID, err)
	}
	if builder.IsDeleted() {
		return nil
	}

	communities, err := r.entities.ListCommunities(ctx, &interfaces.EntityFilter{})
	if err != nil {
		return fmt.Errorf("cascade list communities: %w", err)
	}

	name := fingerprint.Normalize(builder.Name)
	linkedCommunities := 0
	for _, community := range communities {
		linked := false
		for i := range community.BuilderCards {
			card := &community.BuilderCards[i]
			if card.BuilderProfileID != "" {
				continue
			}
			if fingerprint.Normalize(card.Name) != name {
				continue
			}
			card.BuilderProfileID = builder.ID
			linked = true
		}
		if !linked {
			continue
		}

		community.Version++
		community.UpdatedAt = time.Now()
		if err := r.entities.SaveCommunity(ctx, community); err != nil {
			r.logger.Warn().Err(err).
				Str("community_id", community.ID).
				Str("builder_id", builder.ID).
				Msg("Cascade could not save builder card link")
			continue
		}
		linkedCommunities++

		r.publishUpdated(ctx, community.ID, payload.JobID)
	}

	if linkedCommunities > 0 {
		r.logger.Info().
			Str("builder_id", builder.ID).
			Str("builder_name", builder.Name).
			Int("communities", linkedCommunities).
			Msg("Linked created builder into community cards")
	}
	return nil
}

// backfillBuilderDiscovery runs rule 3: every unlinked card name with no
// stored builder profile gets a builder.discovery job. Enqueue-side spec
// hash dedupe absorbs replays.
func (r *Resolver) backfillBuilderDiscovery(ctx context.Context, community *models.Community, parentJobID string) {
	unlinked := community.UnlinkedBuilderCards()
	if len(unlinked) == 0 {
		return
	}

	priority := r.childPriority(ctx, parentJobID)
	seen := make(map[string]bool, len(unlinked))
	enqueued := 0
	for _, card := range unlinked {
		key := fingerprint.Normalize(card.Name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		// A profile may already exist without being linked yet; rule 2
		// will pick it up on its next event, no collection needed.
		fp := fingerprint.Builder(card.Name, community.City, community.State)
		matches, err := r.entities.FindBuildersByFingerprint(ctx, fp)
		if err != nil {
			r.logger.Warn().Err(err).
				Str("builder_name", card.Name).
				Msg("Cascade could not check for an existing builder profile")
			continue
		}
		if len(matches) > 0 {
			continue
		}

		spec := models.JobSpec{
			SearchFilters: models.SearchFilters{
				BuilderName: card.Name,
				City:        community.City,
				State:       community.State,
				Market:      community.Market,
			},
		}
		_, err = r.queue.Enqueue(ctx, models.JobTypeBuilderDiscovery, spec, interfaces.EnqueueOptions{
			Priority:   priority,
			EnqueuedBy: cascadeActor,
		})
		if err != nil {
			var dup *models.DuplicateJobError
			if errors.As(err, &dup) {
				r.logger.Debug().
					Str("builder_name", card.Name).
					Str("existing_job_id", dup.ExistingID).
					Msg("Builder discovery already queued")
				continue
			}
			r.logger.Warn().Err(err).
				Str("builder_name", card.Name).
				Msg("Cascade could not enqueue builder discovery")
			continue
		}
		enqueued++
	}

	if enqueued > 0 {
		r.logger.Info().
			Str("community_id", community.ID).
			Int("jobs", enqueued).
			Msg("Enqueued builder discovery for unlinked cards")
	}
}

// childPriority derives the priority for cascade-spawned jobs: one below
// the parent, never below the floor. Unknown parents fall back to the
// enqueue default.
func (r *Resolver) childPriority(ctx context.Context, parentJobID string) int {
	if parentJobID == "" {
		return 0
	}
	parent, err := r.jobs.GetJob(ctx, parentJobID)
	if err != nil {
		return 0
	}
	if parent.Priority-1 < models.PriorityMin {
		return models.PriorityMin
	}
	return parent.Priority - 1
}

func (r *Resolver) appendHistory(ctx context.Context, jobID string, from, to models.JobStatus, reason string) {
	err := r.history.AppendTransition(ctx, &models.StatusTransition{
		JobID:  jobID,
		From:   from,
		To:     to,
		Reason: reason,
		Actor:  cascadeActor,
		At:     time.Now(),
	})
	if err != nil {
		r.logger.Warn().Err(err).
			Str("job_id", jobID).
			Msg("Cascade could not append job history")
	}
}

func (r *Resolver) publishUpdated(ctx context.Context, communityID, jobID string) {
	if r.events == nil {
		return
	}
	err := r.events.Publish(ctx, interfaces.Event{
		Type: interfaces.EventEntityUpdated,
		Payload: interfaces.EntityEventPayload{
			EntityType: models.EntityTypeCommunity,
			EntityID:   communityID,
			JobID:      jobID,
		},
	})
	if err != nil {
		r.logger.Warn().Err(err).
			Str("community_id", communityID).
			Msg("Cascade could not publish card link update")
	}
}
