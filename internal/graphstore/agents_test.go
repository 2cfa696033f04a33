package graphstore

import (
	"context"
	"testing"
	"time"
)

func TestUpdateHeartbeatSetsRespectiveColumn(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	before, err := s.GetAgent(ctx, "researcher")
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	time.Sleep(2 * time.Millisecond)

	if err := s.UpdateHeartbeat(ctx, "researcher", HeartbeatFunctional); err != nil {
		t.Fatalf("UpdateHeartbeat: %v", err)
	}
	after, err := s.GetAgent(ctx, "researcher")
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if !after.LastHeartbeat.After(before.LastHeartbeat) {
		t.Fatalf("expected last_heartbeat to advance")
	}
	if !after.InfraHeartbeat.Equal(before.InfraHeartbeat) {
		t.Fatalf("functional heartbeat must not touch infra_heartbeat")
	}
}

func TestUpdateHeartbeatUnknownAgent(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpdateHeartbeat(context.Background(), "nonexistent", HeartbeatInfra); err != ErrUnknownAgent {
		t.Fatalf("expected ErrUnknownAgent, got %v", err)
	}
}

func TestSetAgentStatusTracksCurrentTask(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.SetAgentStatus(ctx, "developer", AgentStatusActive, "task-123"); err != nil {
		t.Fatalf("SetAgentStatus: %v", err)
	}
	a, err := s.GetAgent(ctx, "developer")
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if a.CurrentTask != "task-123" {
		t.Fatalf("expected current_task to be set, got %q", a.CurrentTask)
	}
	if a.Status != AgentStatusActive {
		t.Fatalf("expected status active, got %s", a.Status)
	}
}
