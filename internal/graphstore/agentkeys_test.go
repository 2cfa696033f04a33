package graphstore

import (
	"context"
	"testing"
)

func TestUpsertAgentKeyRotatesAndDeactivatesPrior(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.UpsertAgentKey(ctx, "ops", "first-secret-material"); err != nil {
		t.Fatalf("UpsertAgentKey: %v", err)
	}
	firstHash, err := s.ActiveAgentKeyHash(ctx, "ops")
	if err != nil {
		t.Fatalf("ActiveAgentKeyHash: %v", err)
	}

	if err := s.UpsertAgentKey(ctx, "ops", "second-secret-material"); err != nil {
		t.Fatalf("UpsertAgentKey (rotate): %v", err)
	}
	secondHash, err := s.ActiveAgentKeyHash(ctx, "ops")
	if err != nil {
		t.Fatalf("ActiveAgentKeyHash: %v", err)
	}
	if firstHash == secondHash {
		t.Fatalf("expected rotation to produce a distinct active key hash")
	}

	var activeCount int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agent_keys WHERE agent_id = ? AND is_active = 1;`, "ops").Scan(&activeCount); err != nil {
		t.Fatalf("count active keys: %v", err)
	}
	if activeCount != 1 {
		t.Fatalf("expected exactly one active key after rotation, got %d", activeCount)
	}
	var totalCount int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agent_keys WHERE agent_id = ?;`, "ops").Scan(&totalCount); err != nil {
		t.Fatalf("count keys: %v", err)
	}
	if totalCount != 2 {
		t.Fatalf("expected the prior key to be retained, not deleted, got %d rows", totalCount)
	}
}

func TestActiveAgentKeyHashNotFoundWhenNoKey(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.ActiveAgentKeyHash(context.Background(), "researcher"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
