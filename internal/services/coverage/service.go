// -----------------------------------------------------------------------
// Coverage - Per-market footprint reporting and gap backfill
// -----------------------------------------------------------------------

package coverage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/praedium/internal/common"
	"github.com/ternarybob/praedium/internal/interfaces"
	"github.com/ternarybob/praedium/internal/models"
	"github.com/ternarybob/praedium/internal/services/catalog"
	"github.com/ternarybob/praedium/internal/services/fingerprint"
)

// backfillActor names the backfill sweep in enqueue records
const backfillActor = "coverage-backfill"

// MarketCoverage summarizes one market's collected footprint
type MarketCoverage struct {
	Market                  string `json:"market"`
	Communities             int    `json:"communities"`
	CommunitiesWithBuilders int    `json:"communities_with_builders"`
	UnlinkedBuilderCards    int    `json:"unlinked_builder_cards"`
	Properties              int    `json:"properties"`
	PendingJobs             int    `json:"pending_jobs"`
	PendingChanges          int    `json:"pending_changes"`
}

// CoverageReport is the full coverage picture across the market catalog.
// Totals count everything in storage, so data outside cataloged markets
// still shows up there.
type CoverageReport struct {
	Markets     []MarketCoverage `json:"markets"`
	Totals      MarketCoverage   `json:"totals"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// BackfillOptions scope a backfill sweep
type BackfillOptions struct {
	// Market restricts the sweep to one cataloged market when set
	Market string
	// DryRun reports the would-enqueue list without writing jobs
	DryRun bool
}

// BackfillAction is one gap the sweep found and the job that fills it
type BackfillAction struct {
	JobType models.JobType `json:"job_type"`
	Market  string         `json:"market"`
	Reason  string         `json:"reason"`
	Spec    models.JobSpec `json:"spec"`
	JobID   string         `json:"job_id,omitempty"` // Empty on dry runs
}

// BackfillReport summarizes a backfill sweep
type BackfillReport struct {
	DryRun   bool             `json:"dry_run"`
	Actions  []BackfillAction `json:"actions"`
	Enqueued int              `json:"enqueued"`
	Skipped  int              `json:"skipped"` // Spec hash duplicates
}

// Service computes coverage reports and enqueues collection jobs for the
// gaps they expose
type Service struct {
	catalog  *catalog.Catalog
	entities interfaces.EntityStorage
	changes  interfaces.ChangeStorage
	jobs     interfaces.JobStorage
	queue    interfaces.JobOrchestrator
	logger   arbor.ILogger
}

// NewService creates the coverage service over its dependencies
func NewService(cat *catalog.Catalog, entities interfaces.EntityStorage, changes interfaces.ChangeStorage,
	jobs interfaces.JobStorage, queue interfaces.JobOrchestrator, logger arbor.ILogger) *Service {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Service{
		catalog:  cat,
		entities: entities,
		changes:  changes,
		jobs:     jobs,
		queue:    queue,
		logger:   logger,
	}
}

// Report computes per-market coverage from storage counts. Pending
// changes are attributed to markets through the job that produced them.
func (s *Service) Report(ctx context.Context) (*CoverageReport, error) {
	allJobs, err := s.jobs.ListJobs(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobMarket := make(map[string]string, len(allJobs))
	pendingJobsByMarket := make(map[string]int)
	totalPendingJobs := 0
	for _, job := range allJobs {
		market := marketKey(job.Spec.SearchFilters.Market)
		jobMarket[job.ID] = market
		if job.Status == models.JobStatusPending {
			totalPendingJobs++
			pendingJobsByMarket[market]++
		}
	}

	pendingChanges, err := s.changes.ListChanges(ctx, &interfaces.ChangeFilter{
		Status: []models.ChangeStatus{models.ChangeStatusPending},
	})
	if err != nil {
		return nil, fmt.Errorf("list pending changes: %w", err)
	}
	pendingChangesByMarket := make(map[string]int)
	for _, change := range pendingChanges {
		pendingChangesByMarket[jobMarket[change.JobID]]++
	}

	report := &CoverageReport{GeneratedAt: time.Now()}
	for _, market := range s.catalog.Markets() {
		mc := MarketCoverage{Market: market.Name}
		communities, err := s.entities.ListCommunities(ctx, &interfaces.EntityFilter{Market: market.Name})
		if err != nil {
			return nil, fmt.Errorf("list communities for %s: %w", market.Name, err)
		}
		mc.Communities = len(communities)
		for _, community := range communities {
			if hasLinkedCard(community) {
				mc.CommunitiesWithBuilders++
			}
			mc.UnlinkedBuilderCards += len(community.UnlinkedBuilderCards())

			properties, err := s.entities.ListPropertiesByCommunity(ctx, community.ID)
			if err != nil {
				return nil, fmt.Errorf("list properties for %s: %w", community.ID, err)
			}
			mc.Properties += len(properties)
		}
		mc.PendingJobs = pendingJobsByMarket[marketKey(market.Name)]
		mc.PendingChanges = pendingChangesByMarket[marketKey(market.Name)]
		report.Markets = append(report.Markets, mc)
	}

	totals := MarketCoverage{Market: "all"}
	allCommunities, err := s.entities.ListCommunities(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list communities: %w", err)
	}
	totals.Communities = len(allCommunities)
	for _, community := range allCommunities {
		if hasLinkedCard(community) {
			totals.CommunitiesWithBuilders++
		}
		totals.UnlinkedBuilderCards += len(community.UnlinkedBuilderCards())
	}
	totals.Properties, err = s.entities.CountProperties(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("count properties: %w", err)
	}
	totals.PendingJobs = totalPendingJobs
	totals.PendingChanges = len(pendingChanges)
	report.Totals = totals

	s.logger.Debug().
		Int("markets", len(report.Markets)).
		Int("communities", totals.Communities).
		Int("pending_jobs", totals.PendingJobs).
		Msg("Coverage report computed")
	return report, nil
}

// Backfill finds coverage gaps and enqueues the collection jobs that
// close them: discovery for empty markets, inventory for communities with
// no properties, builder discovery for unlinked cards. Spec hash dedupe
// absorbs jobs already in flight.
func (s *Service) Backfill(ctx context.Context, opts BackfillOptions) (*BackfillReport, error) {
	markets := s.catalog.Markets()
	if opts.Market != "" {
		market, ok := s.catalog.Get(opts.Market)
		if !ok {
			return nil, fmt.Errorf("market %q is not in the catalog: %w", opts.Market, models.ErrNotFound)
		}
		markets = []catalog.Market{market}
	}

	report := &BackfillReport{DryRun: opts.DryRun}
	for _, market := range markets {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		communities, err := s.entities.ListCommunities(ctx, &interfaces.EntityFilter{Market: market.Name})
		if err != nil {
			return nil, fmt.Errorf("list communities for %s: %w", market.Name, err)
		}

		if len(communities) == 0 {
			s.propose(ctx, report, BackfillAction{
				JobType: models.JobTypeCommunityDiscovery,
				Market:  market.Name,
				Reason:  "market has no communities",
				Spec: models.JobSpec{
					SearchFilters: models.SearchFilters{
						City:   market.City,
						State:  market.State,
						Market: market.Name,
					},
				},
			}, market.Priority, opts.DryRun)
			continue
		}

		seenBuilders := make(map[string]bool)
		for _, community := range communities {
			properties, err := s.entities.ListPropertiesByCommunity(ctx, community.ID)
			if err != nil {
				s.logger.Warn().Err(err).
					Str("community_id", community.ID).
					Msg("Backfill could not list community properties")
				continue
			}
			if len(properties) == 0 {
				s.propose(ctx, report, BackfillAction{
					JobType: models.JobTypeCommunityInventory,
					Market:  market.Name,
					Reason:  fmt.Sprintf("community %s has no inventory", community.Name),
					Spec:    models.JobSpec{EntityID: community.ID},
				}, 0, opts.DryRun)
			}

			for _, card := range community.UnlinkedBuilderCards() {
				key := fingerprint.Normalize(card.Name)
				if key == "" || seenBuilders[key] {
					continue
				}
				seenBuilders[key] = true

				fp := fingerprint.Builder(card.Name, community.City, community.State)
				matches, err := s.entities.FindBuildersByFingerprint(ctx, fp)
				if err != nil {
					s.logger.Warn().Err(err).
						Str("builder_name", card.Name).
						Msg("Backfill could not check for an existing builder profile")
					continue
				}
				if len(matches) > 0 {
					continue
				}

				s.propose(ctx, report, BackfillAction{
					JobType: models.JobTypeBuilderDiscovery,
					Market:  market.Name,
					Reason:  fmt.Sprintf("builder card %q has no profile", card.Name),
					Spec: models.JobSpec{
						SearchFilters: models.SearchFilters{
							BuilderName: card.Name,
							City:        community.City,
							State:       community.State,
							Market:      market.Name,
						},
					},
				}, 0, opts.DryRun)
			}
		}
	}

	s.logger.Info().
		Bool("dry_run", report.DryRun).
		Int("actions", len(report.Actions)).
		Int("enqueued", report.Enqueued).
		Int("skipped", report.Skipped).
		Msg("Coverage backfill swept")
	return report, nil
}

// propose records one gap-filling job, either as a would-enqueue entry
// (dry run) or as a real enqueue. Duplicate spec hashes count as skipped.
func (s *Service) propose(ctx context.Context, report *BackfillReport, action BackfillAction, priority int, dryRun bool) {
	if dryRun {
		existing, err := s.jobs.FindActiveBySpecHash(ctx, action.JobType, action.Spec.Hash(action.JobType))
		if err != nil {
			s.logger.Warn().Err(err).
				Str("job_type", string(action.JobType)).
				Msg("Backfill dry run could not check for an active duplicate")
			return
		}
		if existing != nil {
			report.Skipped++
			return
		}
		report.Actions = append(report.Actions, action)
		return
	}

	job, err := s.queue.Enqueue(ctx, action.JobType, action.Spec, interfaces.EnqueueOptions{
		Priority:   priority,
		EnqueuedBy: backfillActor,
	})
	if err != nil {
		var dup *models.DuplicateJobError
		if errors.As(err, &dup) {
			report.Skipped++
			return
		}
		s.logger.Warn().Err(err).
			Str("job_type", string(action.JobType)).
			Str("market", action.Market).
			Msg("Backfill could not enqueue job")
		return
	}
	action.JobID = job.ID
	report.Actions = append(report.Actions, action)
	report.Enqueued++
}

func hasLinkedCard(c *models.Community) bool {
	for _, card := range c.BuilderCards {
		if card.BuilderProfileID != "" {
			return true
		}
	}
	return false
}

func marketKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
