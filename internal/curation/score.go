package curation

import (
	"encoding/json"
	"math"
	"time"

	"github.com/basket/go-claw/internal/graphstore"
)

// Score is the full MVS formula of spec §4.6. It returns the final score
// (already multiplied by safety_multiplier) and whether the node is
// protected (safety_multiplier == 100.0, I5).
func Score(e graphstore.MemoryEntry, now time.Time) (mvs float64, protected bool) {
	ageDays := now.Sub(e.LastAccessed).Hours() / 24
	if e.LastAccessed.IsZero() {
		ageDays = now.Sub(e.CreatedAt).Hours() / 24
	}
	if ageDays < 0 {
		ageDays = 0
	}

	recency := 3.0 * math.Pow(0.5, ageDays/halfLifeFor(e.Kind))
	recency = clamp(recency, 0, 3.0)

	frequency := 2.0 * math.Log10(1+float64(e.AccessCount7d)) / math.Log10(101)
	frequency = clamp(frequency, 0, 2.0)

	quality := qualityBonus(e.Payload)
	centrality := clamp(0.1*float64(e.IncidentRelationshipCount), 0, 1.5)
	crossAgent := clamp(0.5*float64(e.DistinctAgents7d), 0, 2.0)

	target := targetTokens[e.Tier]
	if target == 0 {
		target = targetTokens[graphstore.TierWarm]
	}
	bloat := clamp(float64(e.Tokens-target)/1000.0, 0, 1.5)

	raw := weightFor(e.Kind) + recency + frequency + quality + centrality + crossAgent - bloat

	protected = isProtected(e, now)
	multiplier := 1.0
	if protected {
		multiplier = 100.0
	}
	return raw * multiplier, protected
}

// isProtected implements spec §4.6's safety_multiplier protected set:
// "Agent, SystemConfig, AgentKey, Migration, active Task, Belief with
// confidence >= 0.9, or any node with created_at > now - 24h." Only the
// MemoryEntry-shaped subset (Belief confidence and recency) applies here;
// the entity kinds (Agent, SystemConfig, ...) never appear as
// MemoryEntry rows in this graph store and are protected structurally —
// no curation handler ever touches the agents/tasks tables.
func isProtected(e graphstore.MemoryEntry, now time.Time) bool {
	if !e.CreatedAt.IsZero() && now.Sub(e.CreatedAt) < 24*time.Hour {
		return true
	}
	if e.Kind == "Belief" {
		if c, ok := payloadFloat(e.Payload, "confidence"); ok && c >= 0.9 {
			return true
		}
	}
	return false
}

// qualityBonus maps a typed payload's confidence/severity/reliability_score
// field onto [0,2], per spec §4.6. Payloads without any of these fields
// score 0.
func qualityBonus(payload string) float64 {
	for _, field := range []string{"confidence", "reliability_score", "severity"} {
		if v, ok := payloadFloat(payload, field); ok {
			return clamp(v*2.0, 0, 2.0)
		}
	}
	return 0
}

func payloadFloat(payload, field string) (float64, bool) {
	if payload == "" {
		return 0, false
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return 0, false
	}
	v, ok := m[field]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// withConfidence rewrites a payload's confidence field in place, leaving
// every other field untouched. Used by the hourly stale-confidence decay.
func withConfidence(payload string, confidence float64) string {
	var m map[string]any
	if payload == "" {
		m = map[string]any{}
	} else if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return payload
	}
	m["confidence"] = confidence
	out, err := json.Marshal(m)
	if err != nil {
		return payload
	}
	return string(out)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
