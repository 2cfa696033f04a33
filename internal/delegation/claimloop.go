package delegation

import (
	"context"
	"fmt"

	"github.com/basket/go-claw/internal/graphstore"
)

// Work is the unit of execution a specialist runs once it has claimed a
// task. It returns the opaque results JSON blob to store alongside the
// completed Task, or an error to fail the task with.
type Work func(ctx context.Context, task graphstore.Task) (results string, err error)

// ClaimAndRun implements the specialist-side claim loop of spec §4.4:
// claim_task, and on success run work then complete_task/fail_task,
// updating last_heartbeat before the claim attempt and again at
// completion. Returns ErrTaskNotClaimable when another agent won the
// claim race or the task no longer exists — this is an expected outcome,
// not a failure, matching the teacher's claimNextPendingTask contract of
// returning "no task" rather than erroring when nothing is available.
func ClaimAndRun(ctx context.Context, store *graphstore.Store, self, taskID string, work Work) error {
	if err := store.UpdateHeartbeat(ctx, self, graphstore.HeartbeatFunctional); err != nil {
		return fmt.Errorf("update heartbeat before claim: %w", err)
	}

	outcome, err := store.ClaimTask(ctx, taskID, self)
	if err != nil {
		return fmt.Errorf("claim task: %w", err)
	}
	if !outcome.Claimed {
		return ErrTaskNotClaimable
	}

	if err := store.SetAgentStatus(ctx, self, graphstore.AgentStatusActive, taskID); err != nil {
		return fmt.Errorf("set agent status: %w", err)
	}

	task, err := store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("get claimed task: %w", err)
	}

	results, workErr := work(ctx, task)

	heartbeatErr := store.UpdateHeartbeat(ctx, self, graphstore.HeartbeatFunctional)

	if workErr != nil {
		if failErr := store.FailTask(ctx, taskID, self, workErr.Error()); failErr != nil {
			return fmt.Errorf("fail task after work error (%v): %w", workErr, failErr)
		}
		return heartbeatErr
	}
	if err := store.CompleteTask(ctx, taskID, self, results); err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return heartbeatErr
}
