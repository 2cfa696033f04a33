package graphstore

import (
	"context"
	"database/sql"
	"fmt"
)

// RecordCycle persists a HeartbeatCycle row (spec §4.3/§4.2 step 3/6). In
// degraded mode the write is journaled and replayed in order on recovery.
func (s *Store) RecordCycle(ctx context.Context, c HeartbeatCycle) error {
	if s.IsDegraded() {
		s.journal.appendCycle(c)
		return nil
	}
	if err := s.recordCycleDirect(ctx, c); err != nil {
		s.recordFailure()
		s.journal.appendCycle(c)
		return fmt.Errorf("record cycle: %w", err)
	}
	s.recordSuccess()
	return nil
}

func (s *Store) recordCycleDirect(ctx context.Context, c HeartbeatCycle) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO heartbeat_cycles (cycle_number, started_at, completed_at, tasks_run, tasks_succeeded, tasks_failed, total_tokens, duration_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cycle_number) DO UPDATE SET
			completed_at = excluded.completed_at,
			tasks_run = excluded.tasks_run,
			tasks_succeeded = excluded.tasks_succeeded,
			tasks_failed = excluded.tasks_failed,
			total_tokens = excluded.total_tokens,
			duration_seconds = excluded.duration_seconds;
	`, c.CycleNumber, c.StartedAt, c.CompletedAt, c.TasksRun, c.TasksSucceeded, c.TasksFailed, c.TotalTokens, c.DurationSeconds)
	return err
}

// RecordResult persists a TaskResult linked to its cycle (spec §4.3).
func (s *Store) RecordResult(ctx context.Context, r TaskResult) error {
	if s.IsDegraded() {
		s.journal.appendResult(r)
		return nil
	}
	if err := s.recordResultDirect(ctx, r); err != nil {
		s.recordFailure()
		s.journal.appendResult(r)
		return fmt.Errorf("record result: %w", err)
	}
	s.recordSuccess()
	return nil
}

func (s *Store) recordResultDirect(ctx context.Context, r TaskResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_results (cycle_number, agent, task_name, status, started_at, completed_at, summary, error_message, tokens_used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
	`, r.CycleNumber, r.Agent, r.TaskName, string(r.Status), r.StartedAt, r.CompletedAt, r.Summary, r.ErrorMessage, r.TokensUsed)
	return err
}

// ResultsForCycle returns every TaskResult recorded against cycleNumber,
// used by `--cycle --json` reporting and by cycle-completion ticket logic.
func (s *Store) ResultsForCycle(ctx context.Context, cycleNumber int64) ([]TaskResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cycle_number, agent, task_name, status, started_at, completed_at, summary, error_message, tokens_used
		FROM task_results WHERE cycle_number = ? ORDER BY started_at;
	`, cycleNumber)
	if err != nil {
		return nil, fmt.Errorf("results for cycle: %w", err)
	}
	defer rows.Close()

	var out []TaskResult
	for rows.Next() {
		var r TaskResult
		var status string
		if err := rows.Scan(&r.CycleNumber, &r.Agent, &r.TaskName, &status, &r.StartedAt, &r.CompletedAt, &r.Summary, &r.ErrorMessage, &r.TokensUsed); err != nil {
			return nil, err
		}
		r.Status = TaskResultStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

// MaxCycleNumber returns the highest recorded cycle_number, or 0 if none
// exist. Spec §3 I3: "across process restarts it resumes from
// max(cycle_number)+1."
func (s *Store) MaxCycleNumber(ctx context.Context) (int64, error) {
	var n sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(cycle_number) FROM heartbeat_cycles;`).Scan(&n); err != nil {
		s.recordFailure()
		return 0, fmt.Errorf("max cycle number: %w", err)
	}
	s.recordSuccess()
	return n.Int64, nil
}
