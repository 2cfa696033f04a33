package cycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/basket/go-claw/internal/graphstore"
	"github.com/basket/go-claw/internal/registry"
)

func newTestRunner(t *testing.T) (*Runner, *graphstore.Store, *registry.Registry) {
	t.Helper()
	s, err := graphstore.Open(context.Background(), ":memory:", nil)
	if err != nil {
		t.Fatalf("graphstore.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	reg := registry.New()
	r := NewRunner(Config{Registry: reg, Store: s})
	return r, s, reg
}

func TestRunCycleOnlyRunsDueTasks(t *testing.T) {
	ctx := context.Background()
	r, _, reg := newTestRunner(t)

	var ranFive, ranFifteen int
	_ = reg.Register(registry.HeartbeatTask{
		Name: "every-five", Agent: "ops", FrequencyMinutes: 5, TimeoutSeconds: 5, Enabled: true,
		Handler: func(ctx context.Context, s *graphstore.Store) (registry.HandlerResult, error) {
			ranFive++
			return registry.HandlerResult{Status: graphstore.TaskResultSuccess}, nil
		},
	})
	_ = reg.Register(registry.HeartbeatTask{
		Name: "every-fifteen", Agent: "ops", FrequencyMinutes: 15, TimeoutSeconds: 5, Enabled: true,
		Handler: func(ctx context.Context, s *graphstore.Store) (registry.HandlerResult, error) {
			ranFifteen++
			return registry.HandlerResult{Status: graphstore.TaskResultSuccess}, nil
		},
	})

	// cycle_number 1 -> elapsed 5 minutes: only the 5-minute task is due.
	hc, err := r.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if hc.CycleNumber != 1 {
		t.Fatalf("expected cycle_number 1, got %d", hc.CycleNumber)
	}
	if ranFive != 1 || ranFifteen != 0 {
		t.Fatalf("expected only the 5-minute task to run in cycle 1, got five=%d fifteen=%d", ranFive, ranFifteen)
	}

	// cycle_number 2 -> elapsed 10 minutes: still not due for 15.
	if _, err := r.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	// cycle_number 3 -> elapsed 15 minutes: now due.
	if _, err := r.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if ranFive != 3 || ranFifteen != 1 {
		t.Fatalf("expected five=3 fifteen=1 after 3 cycles, got five=%d fifteen=%d", ranFive, ranFifteen)
	}
}

func TestRunCycleSkipsRemainingTasksOnceBudgetExhausted(t *testing.T) {
	ctx := context.Background()
	r, _, reg := newTestRunner(t)
	r.tokenCap = 100

	var secondRan bool
	_ = reg.Register(registry.HeartbeatTask{
		Name: "a-first", Agent: "analyst", FrequencyMinutes: 5, TimeoutSeconds: 5, Enabled: true,
		Handler: func(ctx context.Context, s *graphstore.Store) (registry.HandlerResult, error) {
			return registry.HandlerResult{Status: graphstore.TaskResultSuccess, TokensUsed: 200}, nil
		},
	})
	_ = reg.Register(registry.HeartbeatTask{
		Name: "b-second", Agent: "analyst", FrequencyMinutes: 5, TimeoutSeconds: 5, Enabled: true,
		Handler: func(ctx context.Context, s *graphstore.Store) (registry.HandlerResult, error) {
			secondRan = true
			return registry.HandlerResult{Status: graphstore.TaskResultSuccess}, nil
		},
	})

	if _, err := r.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if secondRan {
		t.Fatalf("expected second task to be skipped once budget exhausted")
	}

	results, err := r.store.ResultsForCycle(ctx, 1)
	if err != nil {
		t.Fatalf("ResultsForCycle: %v", err)
	}
	var found bool
	for _, res := range results {
		if res.TaskName == "b-second" {
			found = true
			if res.Status != graphstore.TaskResultSkippedBudget {
				t.Fatalf("expected skipped_budget status, got %s", res.Status)
			}
		}
	}
	if !found {
		t.Fatalf("expected a persisted task_result for the skipped task")
	}
}

func TestRunCycleEmitsTicketOnCriticalHandlerFailure(t *testing.T) {
	ctx := context.Background()
	r, s, reg := newTestRunner(t)

	_ = reg.Register(registry.HeartbeatTask{
		Name: "infra-check", Agent: "ops", FrequencyMinutes: 5, TimeoutSeconds: 5, Enabled: true,
		Critical: true, TicketCategory: "infrastructure",
		Handler: func(ctx context.Context, s *graphstore.Store) (registry.HandlerResult, error) {
			return registry.HandlerResult{}, errors.New("disk full")
		},
	})

	if _, err := r.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	notifications, err := s.ListUnreadNotifications(ctx, "ops")
	if err != nil {
		t.Fatalf("ListUnreadNotifications: %v", err)
	}
	if len(notifications) != 1 {
		t.Fatalf("expected 1 ticket routed to ops, got %d", len(notifications))
	}
}

func TestRunCycleRoutesTicketCategoriesToExpectedAgents(t *testing.T) {
	cases := []struct {
		category string
		want     string
	}{
		{"infrastructure", "ops"},
		{"code", "developer"},
		{"analysis", "analyst"},
		{"self_awareness", "main"},
		{"", "main"},
	}
	for _, c := range cases {
		ctx := context.Background()
		r, s, reg := newTestRunner(t)
		_ = reg.Register(registry.HeartbeatTask{
			Name: "critical-task", Agent: "ops", FrequencyMinutes: 5, TimeoutSeconds: 5, Enabled: true,
			Critical: true, TicketCategory: c.category,
			Handler: func(ctx context.Context, s *graphstore.Store) (registry.HandlerResult, error) {
				return registry.HandlerResult{}, errors.New("boom")
			},
		})
		if _, err := r.RunCycle(ctx); err != nil {
			t.Fatalf("RunCycle: %v", err)
		}
		notifications, err := s.ListUnreadNotifications(ctx, c.want)
		if err != nil {
			t.Fatalf("ListUnreadNotifications(%s): %v", c.want, err)
		}
		if len(notifications) != 1 {
			t.Fatalf("category %q: expected ticket routed to %s, got %d notifications", c.category, c.want, len(notifications))
		}
	}
}

func TestRunCycleHandlerTimeoutReportsTimeoutStatus(t *testing.T) {
	ctx := context.Background()
	r, _, reg := newTestRunner(t)

	_ = reg.Register(registry.HeartbeatTask{
		Name: "slow", Agent: "analyst", FrequencyMinutes: 5, TimeoutSeconds: 1, Enabled: true,
		Handler: func(ctx context.Context, s *graphstore.Store) (registry.HandlerResult, error) {
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
			}
			return registry.HandlerResult{Status: graphstore.TaskResultSuccess}, nil
		},
	})

	if _, err := r.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	results, err := r.store.ResultsForCycle(ctx, 1)
	if err != nil {
		t.Fatalf("ResultsForCycle: %v", err)
	}
	if len(results) != 1 || results[0].Status != graphstore.TaskResultTimeout {
		t.Fatalf("expected timeout status, got %+v", results)
	}
}

func TestRunCycleHandlerPanicRecoversAsError(t *testing.T) {
	ctx := context.Background()
	r, _, reg := newTestRunner(t)

	_ = reg.Register(registry.HeartbeatTask{
		Name: "panics", Agent: "developer", FrequencyMinutes: 5, TimeoutSeconds: 5, Enabled: true,
		Handler: func(ctx context.Context, s *graphstore.Store) (registry.HandlerResult, error) {
			panic("boom")
		},
	})

	if _, err := r.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle must not itself fail on handler panic: %v", err)
	}
	results, err := r.store.ResultsForCycle(ctx, 1)
	if err != nil {
		t.Fatalf("ResultsForCycle: %v", err)
	}
	if len(results) != 1 || results[0].Status != graphstore.TaskResultError {
		t.Fatalf("expected error status after recovered panic, got %+v", results)
	}
}

func TestCycleNumberIsMonotonicAcrossRuns(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newTestRunner(t)

	first, err := r.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	second, err := r.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if second.CycleNumber != first.CycleNumber+1 {
		t.Fatalf("expected strictly monotonic cycle numbers, got %d then %d", first.CycleNumber, second.CycleNumber)
	}
}
