package liveness

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/basket/go-claw/internal/bus"
	"github.com/basket/go-claw/internal/gateway"
	"github.com/basket/go-claw/internal/graphstore"
)

const (
	consecutiveFailoverTrigger = 3
	consecutiveFailbackTrigger = 3
)

// Monitor is the ops-side health-check handler (spec §4.5: "a dedicated
// ops handler (health_check, every 5 minutes)"). It evaluates every
// agent's health predicate, tracks main's consecutive dead/stuck and
// healthy streaks, and drives failover/failback.
type Monitor struct {
	store *graphstore.Store
	bus   *bus.Bus
	queue *DelayQueue

	mu             sync.Mutex
	lastStatus     map[string]Status
	mainFailStreak int
	mainOKStreak   int
}

// NewMonitor constructs a Monitor. bus may be nil.
func NewMonitor(store *graphstore.Store, eventBus *bus.Bus) *Monitor {
	return &Monitor{
		store:      store,
		bus:        eventBus,
		queue:      NewDelayQueue(),
		lastStatus: make(map[string]Status),
	}
}

// Queue exposes the delay queue so the gateway's routing layer can enqueue
// messages destined for "main" while a failover is active.
func (m *Monitor) Queue() *DelayQueue {
	return m.queue
}

// InFailover reports whether a FailoverEvent is currently active.
func (m *Monitor) InFailover(ctx context.Context) bool {
	_, err := m.store.ActiveFailover(ctx)
	return err == nil
}

// Check evaluates every agent's health, updates derived status, and
// triggers failover/failback when a streak threshold is crossed (spec
// §4.5). Returns the evaluated statuses, keyed by agent id.
func (m *Monitor) Check(ctx context.Context) (map[string]Status, error) {
	agents, err := m.store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}

	now := time.Now().UTC()
	statuses := make(map[string]Status, len(agents))
	for _, agent := range agents {
		status := Evaluate(agent, now)
		statuses[agent.ID] = status
		m.recordStatusChange(ctx, agent.ID, status)

		if agent.ID == "main" {
			if err := m.trackMain(ctx, status); err != nil {
				slog.Error("liveness: failed to act on main's health streak", "error", err)
			}
		}
	}
	return statuses, nil
}

func (m *Monitor) recordStatusChange(ctx context.Context, agentID string, status Status) {
	m.mu.Lock()
	old, known := m.lastStatus[agentID]
	m.lastStatus[agentID] = status
	m.mu.Unlock()

	if known && old == status {
		return
	}
	if m.bus != nil {
		m.bus.Publish(bus.TopicAgentHealthChange, bus.AgentHealthChangeEvent{
			AgentID: agentID, OldStatus: string(old), NewStatus: string(status),
		})
	}
}

func (m *Monitor) trackMain(ctx context.Context, status Status) error {
	m.mu.Lock()
	if status == StatusDead || status == StatusStuck {
		m.mainFailStreak++
		m.mainOKStreak = 0
	} else {
		m.mainOKStreak++
		m.mainFailStreak = 0
	}
	failStreak, okStreak := m.mainFailStreak, m.mainOKStreak
	m.mu.Unlock()

	active := m.InFailover(ctx)
	if !active && failStreak >= consecutiveFailoverTrigger {
		return m.failover(ctx, fmt.Sprintf("main observed %s for %d consecutive checks", status, failStreak))
	}
	if active && okStreak >= consecutiveFailbackTrigger {
		return m.failback(ctx)
	}
	return nil
}

// failover implements spec §4.5's four-step sequence minus the parts
// owned elsewhere (routing redirection lives in RouteDuringFailover,
// consumed by the gateway/delegation layer on every dispatch decision).
func (m *Monitor) failover(ctx context.Context, reason string) error {
	ev, err := m.store.ActivateFailover(ctx, "ops", reason)
	if err != nil {
		return fmt.Errorf("activate failover: %w", err)
	}
	if err := m.store.PublishNotification(ctx, "ops", "critical", "failover activated: "+reason, ""); err != nil {
		slog.Error("liveness: failed to publish failover notification", "error", err)
	}
	if m.bus != nil {
		m.bus.Publish(bus.TopicFailoverTriggered, bus.FailoverEvent{
			ID: ev.ID, TriggeredBy: ev.TriggeredBy, Reason: ev.Reason, Status: ev.Status,
		})
	}
	return nil
}

// failback resolves the active FailoverEvent and replays every queued
// message to main (spec §4.5 step 4). Replay is attempted on a
// best-effort dispatcher; a message that fails to replay is logged and
// dropped rather than blocking failback indefinitely.
func (m *Monitor) failback(ctx context.Context) error {
	ev, err := m.store.ActiveFailover(ctx)
	if err != nil {
		return fmt.Errorf("active failover: %w", err)
	}
	queued := m.queue.Drain()
	if err := m.store.ResolveFailover(ctx, ev.ID, len(queued)); err != nil {
		return fmt.Errorf("resolve failover: %w", err)
	}
	if m.bus != nil {
		m.bus.Publish(bus.TopicFailoverResolved, bus.FailoverEvent{
			ID: ev.ID, Status: "resolved", MessagesRouted: len(queued),
		})
	}
	return nil
}

// RouteDuringFailover implements spec §4.5 step 2: while a failover is
// active, messages destined for "main" are redirected to "ops", which
// only processes critical-priority tasks immediately — everything else is
// queued for replay after failback.
func (m *Monitor) RouteDuringFailover(ctx context.Context, destination string, msg gateway.DelegationMessage) (redirectTo string, deferred bool) {
	if destination != "main" || !m.InFailover(ctx) {
		return destination, false
	}
	if msg.Priority == "critical" {
		return "ops", false
	}
	m.queue.Enqueue(msg)
	return "", true
}
