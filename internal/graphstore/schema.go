package graphstore

import (
	"context"
	"fmt"
	"time"
)

func (s *Store) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			role TEXT NOT NULL,
			trust_level TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			infra_heartbeat TIMESTAMP,
			last_heartbeat TIMESTAMP,
			current_task TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			priority TEXT NOT NULL DEFAULT 'normal',
			delegated_by TEXT NOT NULL,
			assigned_to TEXT,
			created_at TIMESTAMP NOT NULL,
			claimed_at TIMESTAMP,
			completed_at TIMESTAMP,
			results TEXT,
			error_message TEXT,
			FOREIGN KEY (delegated_by) REFERENCES agents(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_assigned_to ON tasks(assigned_to);`,
		`CREATE TABLE IF NOT EXISTS agent_keys (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id TEXT NOT NULL,
			key_hash TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			FOREIGN KEY (agent_id) REFERENCES agents(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_agent_keys_agent_active ON agent_keys(agent_id, is_active);`,
		`CREATE TABLE IF NOT EXISTS rate_limits (
			agent TEXT NOT NULL,
			operation TEXT NOT NULL,
			date TEXT NOT NULL,
			hour INTEGER NOT NULL,
			count INTEGER NOT NULL DEFAULT 0,
			last_updated TIMESTAMP NOT NULL,
			PRIMARY KEY (agent, operation, date, hour)
		);`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			agent TEXT NOT NULL,
			type TEXT NOT NULL,
			summary TEXT NOT NULL,
			task_id TEXT,
			read INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_agent_read ON notifications(agent, read);`,
		`CREATE TABLE IF NOT EXISTS heartbeat_cycles (
			cycle_number INTEGER PRIMARY KEY,
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			tasks_run INTEGER NOT NULL DEFAULT 0,
			tasks_succeeded INTEGER NOT NULL DEFAULT 0,
			tasks_failed INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			duration_seconds REAL NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS task_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle_number INTEGER NOT NULL,
			agent TEXT NOT NULL,
			task_name TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP NOT NULL,
			summary TEXT,
			error_message TEXT,
			tokens_used INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (cycle_number) REFERENCES heartbeat_cycles(cycle_number)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_task_results_cycle ON task_results(cycle_number);`,
		`CREATE TABLE IF NOT EXISTS memory_entries (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			tier TEXT NOT NULL DEFAULT 'HOT',
			mvs_score REAL NOT NULL DEFAULT 0,
			access_count_7d INTEGER NOT NULL DEFAULT 0,
			last_accessed TIMESTAMP,
			last_curated_at TIMESTAMP,
			curation_action TEXT,
			tombstone INTEGER NOT NULL DEFAULT 0,
			deleted_at TIMESTAMP,
			merged_into TEXT,
			payload TEXT,
			created_at TIMESTAMP,
			tokens INTEGER NOT NULL DEFAULT 0,
			incident_relationship_count INTEGER NOT NULL DEFAULT 0,
			distinct_agents_7d INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_memory_entries_tier_score ON memory_entries(tier, mvs_score);`,
		`CREATE TABLE IF NOT EXISTS failover_events (
			id TEXT PRIMARY KEY,
			triggered_by TEXT NOT NULL,
			reason TEXT NOT NULL,
			activated_at TIMESTAMP NOT NULL,
			deactivated_at TIMESTAMP,
			status TEXT NOT NULL,
			messages_routed INTEGER NOT NULL DEFAULT 0
		);`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema stmt: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// seedAgents inserts the six fixed agents if absent. Spec §3: "Lifecycle:
// seeded at schema migration time; never deleted."
func (s *Store) seedAgents(ctx context.Context) error {
	roles := map[string]AgentRole{
		"main": AgentRoleOrchestrator,
	}
	now := time.Now().UTC()
	for _, id := range FixedAgentIDs {
		role := AgentRoleSpecialist
		if r, ok := roles[id]; ok {
			role = r
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO agents (id, name, role, trust_level, status, infra_heartbeat, last_heartbeat, current_task)
			VALUES (?, ?, ?, ?, ?, ?, ?, NULL)
			ON CONFLICT(id) DO NOTHING;
		`, id, id, string(role), string(TrustMedium), string(AgentStatusActive), now, now)
		if err != nil {
			return fmt.Errorf("seed agent %s: %w", id, err)
		}
	}
	return nil
}
