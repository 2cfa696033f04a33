package graphstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpdateHeartbeat sets Agent.infra_heartbeat or Agent.last_heartbeat to
// now, per the kind (spec §4.3/§4.5). Heartbeat writes are monotonic, so
// in degraded mode they are simply dropped rather than journaled — spec
// §4.3's recovery rule lets the live graph's value win for these fields
// once the connection returns.
func (s *Store) UpdateHeartbeat(ctx context.Context, agentID string, kind HeartbeatKind) error {
	if agentID == "" {
		return fmt.Errorf("%w: agent_id is required", ErrInvalidInput)
	}
	col := "last_heartbeat"
	if kind == HeartbeatInfra {
		col = "infra_heartbeat"
	}
	if s.IsDegraded() {
		return nil
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`UPDATE agents SET %s = ? WHERE id = ?;`, col), time.Now().UTC(), agentID)
	if err != nil {
		s.recordFailure()
		return fmt.Errorf("update heartbeat: %w", err)
	}
	s.recordSuccess()
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update heartbeat rows affected: %w", err)
	}
	if n == 0 {
		return ErrUnknownAgent
	}
	return nil
}

// GetAgent reads a single agent by id.
func (s *Store) GetAgent(ctx context.Context, agentID string) (Agent, error) {
	var a Agent
	var currentTask sql.NullString
	var infra, last sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, role, trust_level, status, infra_heartbeat, last_heartbeat, current_task
		FROM agents WHERE id = ?;
	`, agentID).Scan(&a.ID, &a.Name, &a.Role, &a.TrustLevel, &a.Status, &infra, &last, &currentTask)
	if errors.Is(err, sql.ErrNoRows) {
		return Agent{}, ErrUnknownAgent
	}
	if err != nil {
		s.recordFailure()
		return Agent{}, fmt.Errorf("get agent: %w", err)
	}
	s.recordSuccess()
	a.CurrentTask = currentTask.String
	a.InfraHeartbeat = infra.Time
	a.LastHeartbeat = last.Time
	return a, nil
}

// ListAgents returns all six fixed agents.
func (s *Store) ListAgents(ctx context.Context) ([]Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, role, trust_level, status, infra_heartbeat, last_heartbeat, current_task
		FROM agents ORDER BY id;
	`)
	if err != nil {
		s.recordFailure()
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()
	s.recordSuccess()

	var agents []Agent
	for rows.Next() {
		var a Agent
		var currentTask sql.NullString
		var infra, last sql.NullTime
		if err := rows.Scan(&a.ID, &a.Name, &a.Role, &a.TrustLevel, &a.Status, &infra, &last, &currentTask); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		a.CurrentTask = currentTask.String
		a.InfraHeartbeat = infra.Time
		a.LastHeartbeat = last.Time
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// SetAgentStatus updates an agent's derived health status and, when
// non-empty, its current_task pointer (liveness/failover use, spec §4.5).
func (s *Store) SetAgentStatus(ctx context.Context, agentID string, status AgentStatus, currentTask string) error {
	var task any
	if currentTask != "" {
		task = currentTask
	}
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET status = ?, current_task = ? WHERE id = ?;`, string(status), task, agentID)
	if err != nil {
		s.recordFailure()
		return fmt.Errorf("set agent status: %w", err)
	}
	s.recordSuccess()
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUnknownAgent
	}
	return nil
}
