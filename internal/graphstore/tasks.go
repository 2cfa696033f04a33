package graphstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/basket/go-claw/internal/bus"
)

// CreateTask inserts a new Task in pending state and returns its id.
func (s *Store) CreateTask(ctx context.Context, taskType, description, delegatedBy, assignedTo, priority string, metadata map[string]any) (string, error) {
	if taskType == "" || delegatedBy == "" {
		return "", fmt.Errorf("%w: type and delegated_by are required", ErrInvalidInput)
	}
	if priority == "" {
		priority = "normal"
	}

	id := uuid.NewString()
	var resultsJSON []byte
	if len(metadata) > 0 {
		var err error
		resultsJSON, err = json.Marshal(metadata)
		if err != nil {
			return "", fmt.Errorf("%w: marshal metadata: %v", ErrInvalidInput, err)
		}
	}

	var assigned any
	if assignedTo != "" {
		assigned = assignedTo
	}

	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO tasks (id, type, description, status, priority, delegated_by, assigned_to, created_at, results)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
		`, id, taskType, description, string(TaskStatusPending), priority, delegatedBy, assigned, time.Now().UTC(), string(resultsJSON))
		return err
	})
	if err != nil {
		s.recordFailure()
		return "", fmt.Errorf("create task: %w", err)
	}
	s.recordSuccess()
	if s.bus != nil {
		s.bus.Publish(bus.TopicTaskStateChanged, bus.TaskStateChangedEvent{
			TaskID: id, AgentID: assignedTo, OldStatus: "", NewStatus: string(TaskStatusPending),
		})
	}
	return id, nil
}

// ClaimTask atomically claims task_id for claiming_agent. Spec §4.3: "Must
// be expressed as a single conditional update at the graph layer — never
// a read-then-write pair." This mirrors the teacher's
// claimNextPendingTask, specialized from claim-next to claim-by-id: the
// UPDATE's WHERE clause is the entire race-freedom guarantee, and
// RowsAffected tells us which of the three outcomes happened.
func (s *Store) ClaimTask(ctx context.Context, taskID, claimingAgent string) (ClaimOutcome, error) {
	if taskID == "" || claimingAgent == "" {
		return ClaimOutcome{}, fmt.Errorf("%w: task_id and claiming_agent are required", ErrInvalidInput)
	}

	var outcome ClaimOutcome
	now := time.Now().UTC()
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE tasks
			SET status = ?, assigned_to = ?, claimed_at = ?
			WHERE id = ?
			  AND status = ?
			  AND (assigned_to IS NULL OR assigned_to = ?);
		`, string(TaskStatusInProgress), claimingAgent, now, taskID, string(TaskStatusPending), claimingAgent)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 1 {
			outcome = ClaimOutcome{Claimed: true}
			return nil
		}

		// The conditional update matched no row: find out why, without
		// racing the UPDATE itself (this SELECT only decides which
		// non-claimed outcome to report).
		var status, assignedTo sql.NullString
		selErr := s.db.QueryRowContext(ctx, `SELECT status, assigned_to FROM tasks WHERE id = ?;`, taskID).Scan(&status, &assignedTo)
		if errors.Is(selErr, sql.ErrNoRows) {
			outcome = ClaimOutcome{NotFound: true}
			return nil
		}
		if selErr != nil {
			return selErr
		}
		if status.String == string(TaskStatusPending) && assignedTo.Valid && assignedTo.String != claimingAgent {
			outcome = ClaimOutcome{AlreadyClaimed: true, ClaimedBy: assignedTo.String}
			return nil
		}
		outcome = ClaimOutcome{AlreadyClaimed: true, ClaimedBy: assignedTo.String}
		return nil
	})
	if err != nil {
		s.recordFailure()
		return ClaimOutcome{}, fmt.Errorf("claim task: %w", err)
	}
	s.recordSuccess()
	if outcome.Claimed && s.bus != nil {
		s.bus.Publish(bus.TopicTaskStateChanged, bus.TaskStateChangedEvent{
			TaskID: taskID, AgentID: claimingAgent, OldStatus: string(TaskStatusPending), NewStatus: string(TaskStatusInProgress),
		})
	}
	return outcome, nil
}

// CompleteTask marks a task completed. Ownership is re-checked in the
// same statement (current assigned_to must equal claimingAgent, current
// status must be in_progress); a mismatch is ErrStaleOwnership, never a
// silent overwrite.
func (s *Store) CompleteTask(ctx context.Context, taskID, claimingAgent, results string) error {
	return s.finishTask(ctx, taskID, claimingAgent, TaskStatusCompleted, results, "")
}

// FailTask marks a task failed, under the same ownership discipline as
// CompleteTask.
func (s *Store) FailTask(ctx context.Context, taskID, claimingAgent, errMsg string) error {
	return s.finishTask(ctx, taskID, claimingAgent, TaskStatusFailed, "", errMsg)
}

func (s *Store) finishTask(ctx context.Context, taskID, claimingAgent string, to TaskStatus, results, errMsg string) error {
	if taskID == "" || claimingAgent == "" {
		return fmt.Errorf("%w: task_id and claiming_agent are required", ErrInvalidInput)
	}
	now := time.Now().UTC()
	var affected int64
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE tasks
			SET status = ?, completed_at = ?, results = COALESCE(NULLIF(?, ''), results), error_message = ?
			WHERE id = ? AND assigned_to = ? AND status = ?;
		`, string(to), now, results, errMsg, taskID, claimingAgent, string(TaskStatusInProgress))
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		s.recordFailure()
		return fmt.Errorf("finish task: %w", err)
	}
	s.recordSuccess()
	if affected != 1 {
		return ErrStaleOwnership
	}
	if s.bus != nil {
		topic := bus.TopicTaskCompleted
		if to == TaskStatusFailed {
			topic = bus.TopicTaskFailed
		}
		s.bus.Publish(topic, bus.TaskStateChangedEvent{
			TaskID: taskID, AgentID: claimingAgent, OldStatus: string(TaskStatusInProgress), NewStatus: string(to),
		})
	}
	return nil
}

// ArchiveOldTasks removes completed/failed tasks whose completed_at is
// older than olderThan, per spec §4.6's curation_standard responsibility
// ("archive tasks in terminal states older than 24h"). This schema has
// no separate archive table, so archival is physical deletion — the same
// pattern as PurgeTombstoned and PurgeReadNotifications.
func (s *Store) ArchiveOldTasks(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM tasks WHERE status IN ('completed', 'failed') AND completed_at < ?;
	`, cutoff)
	if err != nil {
		s.recordFailure()
		return 0, fmt.Errorf("archive old tasks: %w", err)
	}
	s.recordSuccess()
	return res.RowsAffected()
}

// GetTask reads a single task by id.
func (s *Store) GetTask(ctx context.Context, taskID string) (Task, error) {
	var t Task
	var assignedTo, results, errMsg sql.NullString
	var claimedAt, completedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, type, description, status, priority, delegated_by, assigned_to, created_at, claimed_at, completed_at, results, error_message
		FROM tasks WHERE id = ?;
	`, taskID).Scan(&t.ID, &t.Type, &t.Description, &t.Status, &t.Priority, &t.DelegatedBy, &assignedTo, &t.CreatedAt, &claimedAt, &completedAt, &results, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		s.recordFailure()
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	s.recordSuccess()
	t.AssignedTo = assignedTo.String
	t.Results = results.String
	t.ErrorMessage = errMsg.String
	if claimedAt.Valid {
		t.ClaimedAt = &claimedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return t, nil
}
