package curation

import (
	"testing"
	"time"

	"github.com/basket/go-claw/internal/graphstore"
)

func TestScoreSessionContextLandsInDemoteBand(t *testing.T) {
	now := time.Now().UTC()
	e := graphstore.MemoryEntry{
		Kind:          "SessionContext",
		Tier:          graphstore.TierWarm,
		LastAccessed:  now.Add(-3 * 24 * time.Hour),
		CreatedAt:     now.Add(-3 * 24 * time.Hour),
		AccessCount7d: 0,
	}
	mvs, protected := Score(e, now)
	if protected {
		t.Fatalf("a 3-day-old unaccessed session context must not be protected")
	}
	if mvs < 1.5 || mvs > 3.0 {
		t.Fatalf("expected mvs in the 1.5-3.0 demote band, got %.3f", mvs)
	}
	if DecideAction(e, mvs) != ActionDemote {
		t.Fatalf("expected DEMOTE action, got %s", DecideAction(e, mvs))
	}
}

func TestScoreProtectsNodesCreatedWithin24Hours(t *testing.T) {
	now := time.Now().UTC()
	e := graphstore.MemoryEntry{
		Kind:      "Notification",
		CreatedAt: now.Add(-1 * time.Hour),
	}
	mvs, protected := Score(e, now)
	if !protected {
		t.Fatalf("a node created 1h ago must be protected by the 24h grace window")
	}
	if mvs < 50.0 {
		t.Fatalf("protected node's score must clear the hard-protection threshold, got %.3f", mvs)
	}
}

func TestScoreProtectsHighConfidenceBelief(t *testing.T) {
	now := time.Now().UTC()
	e := graphstore.MemoryEntry{
		Kind:         "Belief",
		CreatedAt:    now.Add(-200 * 24 * time.Hour),
		LastAccessed: now.Add(-200 * 24 * time.Hour),
		Payload:      `{"confidence": 0.95}`,
	}
	_, protected := Score(e, now)
	if !protected {
		t.Fatalf("a Belief with confidence >= 0.9 must be protected regardless of age")
	}
}

func TestScoreDoesNotProtectLowConfidenceBelief(t *testing.T) {
	now := time.Now().UTC()
	e := graphstore.MemoryEntry{
		Kind:         "Belief",
		CreatedAt:    now.Add(-200 * 24 * time.Hour),
		LastAccessed: now.Add(-200 * 24 * time.Hour),
		Payload:      `{"confidence": 0.4}`,
	}
	_, protected := Score(e, now)
	if protected {
		t.Fatalf("a low-confidence old Belief must not be protected")
	}
}

func TestBloatPenaltyClampsAtUpperBound(t *testing.T) {
	e := graphstore.MemoryEntry{Tier: graphstore.TierWarm, Tokens: 100_000}
	if got := bloatPenalty(e); got != 1.5 {
		t.Fatalf("expected bloat penalty clamped to 1.5, got %.3f", got)
	}
}

func TestBloatPenaltyZeroUnderBudget(t *testing.T) {
	e := graphstore.MemoryEntry{Tier: graphstore.TierWarm, Tokens: 10}
	if got := bloatPenalty(e); got != 0 {
		t.Fatalf("expected zero bloat penalty under budget, got %.3f", got)
	}
}
