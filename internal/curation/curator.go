package curation

import (
	"context"
	"fmt"
	"time"

	"github.com/basket/go-claw/internal/bus"
	"github.com/basket/go-claw/internal/graphstore"
	"github.com/basket/go-claw/internal/registry"
)

// deletionCapFraction is spec §4.6's safety invariant: a single
// curation_* pass may never delete more than 5% of any tier's nodes.
const deletionCapFraction = 0.05

// Curator drives the four curation_* heartbeat handlers. It holds no
// state of its own beyond the store/bus handles — every decision is
// recomputed from the graph on each run, the same statelessness the
// Cycle Runner relies on for safe restarts.
type Curator struct {
	store *graphstore.Store
	bus   *bus.Bus
}

// New constructs a Curator. eventBus may be nil.
func New(store *graphstore.Store, eventBus *bus.Bus) *Curator {
	return &Curator{store: store, bus: eventBus}
}

func (c *Curator) publish(topic string, e bus.CurationEvent) {
	if c.bus != nil {
		c.bus.Publish(topic, e)
	}
}

// checkCap enforces the 5%-per-tier cap: attempted is the number of
// deletions this pass has already committed against tier, total is the
// tier's size measured at the start of the pass. Returns
// graphstore.ErrCurationExcess once the fraction would be exceeded.
func checkCap(attempted, total int) error {
	if total == 0 {
		return nil
	}
	if float64(attempted)/float64(total) > deletionCapFraction {
		return graphstore.ErrCurationExcess
	}
	return nil
}

// RapidHandler adapts Rapid to registry.Handler, for registration as
// "curation_rapid" (every 5 min, spec §4.6).
func (c *Curator) RapidHandler() registry.Handler {
	return func(ctx context.Context, store *graphstore.Store) (registry.HandlerResult, error) {
		return c.Rapid(ctx)
	}
}

// Rapid enforces per-tier token budgets by demoting the lowest-scored
// over-budget entries, purges read notifications older than 12h, and
// tombstones session contexts older than 1 day.
func (c *Curator) Rapid(ctx context.Context) (registry.HandlerResult, error) {
	now := time.Now().UTC()
	var demoted int

	for tier, budget := range targetTokens {
		sample, err := c.store.ScoreSample(ctx, tier, 100)
		if err != nil {
			return registry.HandlerResult{}, fmt.Errorf("curation_rapid: sample %s: %w", tier, err)
		}
		var used int
		for _, e := range sample {
			used += e.Tokens
		}
		if used <= budget {
			continue
		}
		for _, e := range sample {
			if used <= budget {
				break
			}
			if _, protected := Score(e, now); protected {
				continue
			}
			if next, ok := demotedTier(e.Tier); ok {
				if err := c.store.SetTier(ctx, e.ID, next); err != nil {
					return registry.HandlerResult{}, fmt.Errorf("curation_rapid: demote %s: %w", e.ID, err)
				}
				c.publish(bus.TopicCurationDemoted, bus.CurationEvent{NodeID: e.ID, Tier: string(tier), Action: string(ActionDemote)})
				used -= e.Tokens
				demoted++
			}
		}
	}

	purgedNotifications, err := c.store.PurgeReadNotifications(ctx)
	if err != nil {
		return registry.HandlerResult{}, fmt.Errorf("curation_rapid: purge notifications: %w", err)
	}

	clearedSessions, err := c.clearStaleSessionContexts(ctx, now)
	if err != nil {
		return registry.HandlerResult{}, err
	}

	return registry.HandlerResult{
		Status:  graphstore.TaskResultSuccess,
		Summary: fmt.Sprintf("demoted %d over-budget nodes, purged %d read notifications, cleared %d stale session contexts", demoted, purgedNotifications, clearedSessions),
	}, nil
}

func (c *Curator) clearStaleSessionContexts(ctx context.Context, now time.Time) (int, error) {
	stale, err := c.store.EntriesByKindOlderThan(ctx, "SessionContext", now.Add(-24*time.Hour))
	if err != nil {
		return 0, fmt.Errorf("curation_rapid: list stale session contexts: %w", err)
	}
	tierTotals := map[graphstore.MemoryTier]int{}
	attempted := map[graphstore.MemoryTier]int{}
	var cleared int
	for _, e := range stale {
		if _, protected := Score(e, now); protected {
			continue
		}
		if _, ok := tierTotals[e.Tier]; !ok {
			total, err := c.store.CountTier(ctx, e.Tier)
			if err != nil {
				return cleared, fmt.Errorf("curation_rapid: count tier %s: %w", e.Tier, err)
			}
			tierTotals[e.Tier] = total
		}
		if err := checkCap(attempted[e.Tier]+1, tierTotals[e.Tier]); err != nil {
			c.publish(bus.TopicCurationExcess, bus.CurationEvent{NodeID: e.ID, Tier: string(e.Tier), Action: "ABORT"})
			return cleared, err
		}
		if err := c.store.Tombstone(ctx, e.ID, "session context expired"); err != nil {
			return cleared, fmt.Errorf("curation_rapid: tombstone %s: %w", e.ID, err)
		}
		attempted[e.Tier]++
		cleared++
		c.publish(bus.TopicCurationPruned, bus.CurationEvent{NodeID: e.ID, Tier: string(e.Tier), Action: string(ActionPruneNow)})
	}
	return cleared, nil
}

// StandardHandler adapts Standard to registry.Handler, for registration
// as "curation_standard" (every 15 min).
func (c *Curator) StandardHandler() registry.Handler {
	return func(ctx context.Context, store *graphstore.Store) (registry.HandlerResult, error) {
		return c.Standard(ctx)
	}
}

// Standard samples 100 nodes per tier, recomputes MVS, and applies the
// promote/demote/improve/prune action the new score dictates; it also
// archives terminal-state tasks older than 24h.
func (c *Curator) Standard(ctx context.Context) (registry.HandlerResult, error) {
	now := time.Now().UTC()
	var kept, improved, demoted, pruned int

	tierTotals := map[graphstore.MemoryTier]int{}
	attempted := map[graphstore.MemoryTier]int{}
	for _, tier := range []graphstore.MemoryTier{graphstore.TierHot, graphstore.TierWarm, graphstore.TierCold, graphstore.TierArchived} {
		sample, err := c.store.ScoreSample(ctx, tier, 100)
		if err != nil {
			return registry.HandlerResult{}, fmt.Errorf("curation_standard: sample %s: %w", tier, err)
		}
		total, err := c.store.CountTier(ctx, tier)
		if err != nil {
			return registry.HandlerResult{}, fmt.Errorf("curation_standard: count tier %s: %w", tier, err)
		}
		tierTotals[tier] = total

		for _, e := range sample {
			mvs, protected := Score(e, now)
			e.MVSScore = mvs
			action := DecideAction(e, mvs)
			if err := c.store.SetCurationAction(ctx, e.ID, string(action)); err != nil {
				return registry.HandlerResult{}, fmt.Errorf("curation_standard: record action %s: %w", e.ID, err)
			}

			switch action {
			case ActionKeep, ActionKeepFlag:
				kept++
			case ActionImprove:
				improved++
			case ActionDemote:
				if protected {
					kept++
					continue
				}
				if next, ok := demotedTier(e.Tier); ok {
					if err := c.store.SetTier(ctx, e.ID, next); err != nil {
						return registry.HandlerResult{}, fmt.Errorf("curation_standard: demote %s: %w", e.ID, err)
					}
					c.publish(bus.TopicCurationDemoted, bus.CurationEvent{NodeID: e.ID, Tier: string(tier), Action: string(action), Score: mvs})
					demoted++
				}
			case ActionPruneSoft, ActionPruneNow:
				if protected {
					kept++
					continue
				}
				if err := checkCap(attempted[tier]+1, tierTotals[tier]); err != nil {
					c.publish(bus.TopicCurationExcess, bus.CurationEvent{NodeID: e.ID, Tier: string(tier), Action: "ABORT"})
					return registry.HandlerResult{}, err
				}
				if err := c.store.Tombstone(ctx, e.ID, "mvs score below prune threshold"); err != nil {
					return registry.HandlerResult{}, fmt.Errorf("curation_standard: tombstone %s: %w", e.ID, err)
				}
				attempted[tier]++
				pruned++
				c.publish(bus.TopicCurationPruned, bus.CurationEvent{NodeID: e.ID, Tier: string(tier), Action: string(action), Score: mvs})
			}
		}
	}

	archived, err := c.store.ArchiveOldTasks(ctx, 24*time.Hour)
	if err != nil {
		return registry.HandlerResult{}, fmt.Errorf("curation_standard: archive tasks: %w", err)
	}

	return registry.HandlerResult{
		Status: graphstore.TaskResultSuccess,
		Summary: fmt.Sprintf("kept %d, improved %d, demoted %d, pruned %d, archived %d terminal tasks",
			kept, improved, demoted, pruned, archived),
	}, nil
}

// HourlyHandler adapts Hourly to registry.Handler, for registration as
// "curation_hourly" (every 60 min).
func (c *Curator) HourlyHandler() registry.Handler {
	return func(ctx context.Context, store *graphstore.Store) (registry.HandlerResult, error) {
		return c.Hourly(ctx)
	}
}

// Hourly promotes COLD entries whose access counts have risen since
// they were demoted, and decays stale Belief confidence.
func (c *Curator) Hourly(ctx context.Context) (registry.HandlerResult, error) {
	now := time.Now().UTC()
	var promoted int

	cold, err := c.store.ScoreSample(ctx, graphstore.TierCold, 100)
	if err != nil {
		return registry.HandlerResult{}, fmt.Errorf("curation_hourly: sample COLD: %w", err)
	}
	for _, e := range cold {
		if e.AccessCount7d <= 0 {
			continue
		}
		if err := c.store.SetTier(ctx, e.ID, graphstore.TierWarm); err != nil {
			return registry.HandlerResult{}, fmt.Errorf("curation_hourly: promote %s: %w", e.ID, err)
		}
		promoted++
	}

	decayed, err := c.decayStaleConfidence(ctx, now)
	if err != nil {
		return registry.HandlerResult{}, err
	}

	return registry.HandlerResult{
		Status:  graphstore.TaskResultSuccess,
		Summary: fmt.Sprintf("promoted %d rising COLD entries, decayed confidence on %d stale beliefs", promoted, decayed),
	}, nil
}

func (c *Curator) decayStaleConfidence(ctx context.Context, now time.Time) (int, error) {
	stale, err := c.store.EntriesByKindOlderThan(ctx, "Belief", now.Add(-30*24*time.Hour))
	if err != nil {
		return 0, fmt.Errorf("curation_hourly: list stale beliefs: %w", err)
	}
	var decayed int
	for _, e := range stale {
		conf, ok := payloadFloat(e.Payload, "confidence")
		if !ok {
			continue
		}
		e.Payload = withConfidence(e.Payload, conf*0.98)
		if err := c.store.UpsertMemoryEntry(ctx, e); err != nil {
			return decayed, fmt.Errorf("curation_hourly: decay %s: %w", e.ID, err)
		}
		decayed++
	}
	return decayed, nil
}

// DeepHandler adapts Deep to registry.Handler, for registration as
// "curation_deep" (every 6h).
func (c *Curator) DeepHandler() registry.Handler {
	return func(ctx context.Context, store *graphstore.Store) (registry.HandlerResult, error) {
		return c.Deep(ctx)
	}
}

// Deep deletes unprotected orphan nodes and purges tombstones past their
// deletion date. Vector deduplication (spec §4.6: "cosine similarity >=
// 0.85 merges the lower-MVS node into the higher") is not performed:
// this schema stores no embedding vectors for MemoryEntry payloads, so
// there is no similarity signal to compute it from.
func (c *Curator) Deep(ctx context.Context) (registry.HandlerResult, error) {
	now := time.Now().UTC()
	orphans, err := c.store.OrphanEntries(ctx, 200)
	if err != nil {
		return registry.HandlerResult{}, fmt.Errorf("curation_deep: list orphans: %w", err)
	}

	tierTotals := map[graphstore.MemoryTier]int{}
	attempted := map[graphstore.MemoryTier]int{}
	var deleted int
	for _, e := range orphans {
		if _, protected := Score(e, now); protected {
			continue
		}
		if _, ok := tierTotals[e.Tier]; !ok {
			total, err := c.store.CountTier(ctx, e.Tier)
			if err != nil {
				return registry.HandlerResult{}, fmt.Errorf("curation_deep: count tier %s: %w", e.Tier, err)
			}
			tierTotals[e.Tier] = total
		}
		if err := checkCap(attempted[e.Tier]+1, tierTotals[e.Tier]); err != nil {
			c.publish(bus.TopicCurationExcess, bus.CurationEvent{NodeID: e.ID, Tier: string(e.Tier), Action: "ABORT"})
			return registry.HandlerResult{}, err
		}
		if err := c.store.Tombstone(ctx, e.ID, "orphan node"); err != nil {
			return registry.HandlerResult{}, fmt.Errorf("curation_deep: tombstone orphan %s: %w", e.ID, err)
		}
		attempted[e.Tier]++
		deleted++
		c.publish(bus.TopicCurationPruned, bus.CurationEvent{NodeID: e.ID, Tier: string(e.Tier), Action: string(ActionPruneNow)})
	}

	purged, err := c.store.PurgeTombstoned(ctx, 0)
	if err != nil {
		return registry.HandlerResult{}, fmt.Errorf("curation_deep: purge tombstoned: %w", err)
	}

	return registry.HandlerResult{
		Status:  graphstore.TaskResultSuccess,
		Summary: fmt.Sprintf("deleted %d orphan nodes, purged %d expired tombstones", deleted, purged),
	}, nil
}
