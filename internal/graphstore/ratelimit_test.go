package graphstore

import (
	"context"
	"testing"
)

func TestCheckRateLimitAllowsUnderLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		check, err := s.CheckRateLimit(ctx, "main", "delegate", 60)
		if err != nil {
			t.Fatalf("CheckRateLimit: %v", err)
		}
		if !check.Allowed {
			t.Fatalf("expected allowed at count %d", i+1)
		}
	}
}

func TestCheckRateLimitDeniesOverLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var last RateLimitCheck
	for i := 0; i < 5; i++ {
		check, err := s.CheckRateLimit(ctx, "main", "delegate", 3)
		if err != nil {
			t.Fatalf("CheckRateLimit: %v", err)
		}
		last = check
	}
	if last.Allowed {
		t.Fatalf("expected denied after exceeding limit, count=%d", last.Count)
	}
}

func TestCheckRateLimitIsolatesAgentsAndOperations(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.CheckRateLimit(ctx, "main", "delegate", 1); err != nil {
		t.Fatalf("CheckRateLimit: %v", err)
	}
	check, err := s.CheckRateLimit(ctx, "ops", "delegate", 1)
	if err != nil {
		t.Fatalf("CheckRateLimit: %v", err)
	}
	if !check.Allowed || check.Count != 1 {
		t.Fatalf("expected a distinct counter for a different agent, got %+v", check)
	}
}
