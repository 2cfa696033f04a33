// Package liveness is the two-tier heartbeat detector and failover state
// machine of spec §4.5. It is grounded on the teacher's own health-check
// shape (a derived status from staleness windows, consumed by a
// background checker) rather than any single teacher file — the teacher
// has no two-writer liveness model of its own, so this package is new
// functionality built in the teacher's idiom: small pure functions for the
// predicate, a stateful Monitor for the stuff that needs memory across
// checks.
package liveness

import (
	"time"

	"github.com/basket/go-claw/internal/graphstore"
)

// Status is an agent's derived health, per spec §4.5's predicate table.
type Status string

const (
	StatusHealthy Status = "healthy"
	StatusStuck   Status = "stuck"
	StatusDead    Status = "dead"
)

const (
	infraDeadThreshold  = 120 * time.Second
	funcStuckThreshold  = 90 * time.Second
)

// Evaluate derives an agent's health status from its two heartbeat fields,
// per spec §4.5:
//
//	age_infra > 120s                                          -> dead
//	age_infra <= 120s and age_func > 90s and has current_task  -> stuck
//	otherwise                                                  -> healthy
func Evaluate(agent graphstore.Agent, now time.Time) Status {
	ageInfra := now.Sub(agent.InfraHeartbeat)
	if ageInfra > infraDeadThreshold {
		return StatusDead
	}
	ageFunc := now.Sub(agent.LastHeartbeat)
	if ageFunc > funcStuckThreshold && agent.CurrentTask != "" {
		return StatusStuck
	}
	return StatusHealthy
}
