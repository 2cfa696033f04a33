package graphstore

import (
	"context"
	"testing"
	"time"
)

func TestMaxCycleNumberResumesAfterRestart(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	n, err := s.MaxCycleNumber(ctx)
	if err != nil {
		t.Fatalf("MaxCycleNumber: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 on an empty store, got %d", n)
	}

	for cycle := int64(1); cycle <= 3; cycle++ {
		if err := s.RecordCycle(ctx, HeartbeatCycle{CycleNumber: cycle, StartedAt: time.Now().UTC()}); err != nil {
			t.Fatalf("RecordCycle(%d): %v", cycle, err)
		}
	}

	n, err = s.MaxCycleNumber(ctx)
	if err != nil {
		t.Fatalf("MaxCycleNumber: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected max cycle_number 3, got %d", n)
	}
	// I3: a fresh process resumes from max+1.
	next := n + 1
	if next != 4 {
		t.Fatalf("expected next cycle_number 4, got %d", next)
	}
}

func TestRecordResultLinksToCycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.RecordCycle(ctx, HeartbeatCycle{CycleNumber: 1, StartedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("RecordCycle: %v", err)
	}
	err := s.RecordResult(ctx, TaskResult{
		CycleNumber: 1, Agent: "ops", TaskName: "health_check",
		Status: TaskResultSuccess, StartedAt: time.Now().UTC(), CompletedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("RecordResult: %v", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_results WHERE cycle_number = 1;`).Scan(&count); err != nil {
		t.Fatalf("count task_results: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 task_result linked to cycle 1, got %d", count)
	}
}
