package curation

import "github.com/basket/go-claw/internal/graphstore"

// Action is the outcome of applying spec §4.6's action thresholds to an
// MVS score.
type Action string

const (
	ActionKeep        Action = "KEEP"
	ActionKeepFlag    Action = "KEEP_FLAG_COMPRESS"
	ActionImprove     Action = "IMPROVE"
	ActionMerge       Action = "MERGE"
	ActionDemote      Action = "DEMOTE"
	ActionPruneSoft   Action = "PRUNE_SOFT"
	ActionPruneNow    Action = "PRUNE_IMMEDIATE"
)

// bloatPenalty recomputes the same term Score folds into mvs, needed
// separately here because the 5.0-8.0 band's KEEP_FLAG_COMPRESS decision
// depends on bloat_penalty alone, not the blended score.
func bloatPenalty(e graphstore.MemoryEntry) float64 {
	target := targetTokens[e.Tier]
	if target == 0 {
		target = targetTokens[graphstore.TierWarm]
	}
	return clamp(float64(e.Tokens-target)/1000.0, 0, 1.5)
}

// DecideAction applies spec §4.6's action-threshold table to a node's MVS
// score. Protected nodes (safety_multiplier == 100) always land at
// mvs >= 50 by construction and therefore always KEEP — callers must
// still never act destructively on a protected node regardless of this
// function's output (I5 is enforced again at the graph-store layer by
// Tombstone/MergeInto).
func DecideAction(e graphstore.MemoryEntry, mvs float64) Action {
	switch {
	case mvs >= 50.0:
		return ActionKeep
	case mvs >= 8.0:
		return ActionKeep
	case mvs >= 5.0:
		if bloatPenalty(e) > 0.5 {
			return ActionKeepFlag
		}
		return ActionKeep
	case mvs >= 3.0:
		return ActionImprove
	case mvs >= 1.5:
		return ActionDemote
	case mvs >= 0.5:
		return ActionPruneSoft
	default:
		if e.Kind == "Notification" || e.Kind == "SessionContext" {
			return ActionPruneNow
		}
		return ActionPruneSoft
	}
}

// demotedTier returns the next tier down from t, per spec §4.6's
// HOT->WARM->COLD->ARCHIVED demotion ladder. ARCHIVED has no tier below
// it; demoting an already-archived node is a no-op (ok == false).
func demotedTier(t graphstore.MemoryTier) (graphstore.MemoryTier, bool) {
	switch t {
	case graphstore.TierHot:
		return graphstore.TierWarm, true
	case graphstore.TierWarm:
		return graphstore.TierCold, true
	case graphstore.TierCold:
		return graphstore.TierArchived, true
	default:
		return t, false
	}
}
