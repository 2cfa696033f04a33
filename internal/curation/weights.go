// Package curation implements MVS Curation (spec §4.6): the four
// curation_* heartbeat handlers that score, demote, merge, and prune
// MemoryEntry-family nodes in the graph store. Scoring and the
// destructive effects it drives are grounded in the teacher's
// internal/safety package's table-driven-policy style (a fixed map of
// named constants rather than scattered magic numbers).
package curation

import "github.com/basket/go-claw/internal/graphstore"

// typeWeight is the fixed per-kind table of spec §4.6's type_weight term
// (range 0.5-10.0). Kinds not present here fall back to defaultTypeWeight.
var typeWeight = map[string]float64{
	"Belief":             10.0,
	"Reflection":         6.0,
	"Analysis":           5.0,
	"Synthesis":          5.0,
	"Research":           4.0,
	"LearnedCapability":  7.0,
	"SessionContext":     1.5,
	"CompressedContext":  2.0,
	"Notification":       0.5,
}

const defaultTypeWeight = 3.0

// halfLifeDays is the per-kind half-life used by recency_bonus.
var halfLifeDays = map[string]float64{
	"Belief":             180,
	"Reflection":         90,
	"Analysis":           60,
	"Synthesis":          60,
	"Research":           45,
	"LearnedCapability":  120,
	"SessionContext":     1,
	"CompressedContext":  30,
	"Notification":       3,
}

const defaultHalfLifeDays = 30.0

// targetTokens is the per-tier token budget feeding bloat_penalty, and
// also the budget curation_rapid enforces directly (spec §4.6: "enforce
// per-tier token budgets").
var targetTokens = map[graphstore.MemoryTier]int{
	graphstore.TierHot:      1600,
	graphstore.TierWarm:     400,
	graphstore.TierCold:     200,
	graphstore.TierArchived: 100,
}

func weightFor(kind string) float64 {
	if w, ok := typeWeight[kind]; ok {
		return w
	}
	return defaultTypeWeight
}

func halfLifeFor(kind string) float64 {
	if h, ok := halfLifeDays[kind]; ok {
		return h
	}
	return defaultHalfLifeDays
}
