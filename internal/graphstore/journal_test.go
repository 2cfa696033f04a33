package graphstore

import (
	"context"
	"testing"
	"time"
)

func TestJournalDrainReturnsAndClears(t *testing.T) {
	j := newJournal()
	j.appendCycle(HeartbeatCycle{CycleNumber: 1})
	j.appendResult(TaskResult{Agent: "ops"})
	j.appendNotification(journaledNotification{agent: "main", kind: "ticket"})

	if j.empty() {
		t.Fatalf("journal should not be empty after appends")
	}

	cycles, results, notifications := j.drain()
	if len(cycles) != 1 || len(results) != 1 || len(notifications) != 1 {
		t.Fatalf("expected one of each journaled kind, got %d/%d/%d", len(cycles), len(results), len(notifications))
	}
	if !j.empty() {
		t.Fatalf("journal should be empty after drain")
	}
}

func TestRecordFailureTripsDegradedAtThreshold(t *testing.T) {
	s := newTestStore(t)
	if s.IsDegraded() {
		t.Fatalf("fresh store must not start degraded")
	}

	for i := 0; i < degradedTripCount; i++ {
		s.recordFailure()
	}
	if !s.IsDegraded() {
		t.Fatalf("expected degraded mode after %d failures within the window", degradedTripCount)
	}
	s.stopProbe()
}

func TestRecordFailureDoesNotTripBelowThreshold(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < degradedTripCount-1; i++ {
		s.recordFailure()
	}
	if s.IsDegraded() {
		t.Fatalf("must not trip degraded mode below the threshold")
	}
}

func TestRecordFailureWindowExpires(t *testing.T) {
	s := newTestStore(t)
	s.journalMu.Lock()
	old := time.Now().Add(-degradedTripWindow - time.Second)
	s.fails = []time.Time{old, old, old, old}
	s.journalMu.Unlock()

	s.recordFailure() // 5th failure, but only 1 is within the window
	if s.IsDegraded() {
		t.Fatalf("stale failures outside the window must not count toward the trip threshold")
	}
}

func TestPublishNotificationJournaledWhileDegraded(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.journalMu.Lock()
	s.degraded = true
	s.journalMu.Unlock()

	if err := s.PublishNotification(ctx, "main", "ticket", "test", ""); err != nil {
		t.Fatalf("PublishNotification while degraded: %v", err)
	}

	_, _, notifications := s.journal.drain()
	if len(notifications) != 1 {
		t.Fatalf("expected the notification to be journaled while degraded, got %d", len(notifications))
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications;`).Scan(&count); err != nil {
		t.Fatalf("count notifications: %v", err)
	}
	if count != 0 {
		t.Fatalf("journaled write must not have hit the live graph, found %d rows", count)
	}
}
