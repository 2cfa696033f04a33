// Package delegation is the orchestrator-side half of Delegation &
// Messaging (spec §4.4): routing a task_type to an assigned_to agent,
// scrubbing PII from its description, and dispatching a signed message to
// the gateway. The transport itself (HMAC signing, HTTP POST, inbound
// verification) lives in internal/gateway; this package is the policy
// layer the teacher's internal/gateway/gateway.go keeps separate from its
// transport for the same reason — routing decisions change independently
// of wire format.
package delegation

import (
	"context"
	"fmt"
	"time"

	"github.com/basket/go-claw/internal/bus"
	"github.com/basket/go-claw/internal/gateway"
	"github.com/basket/go-claw/internal/graphstore"
)

const delegateRateLimitPerHour = 60

var knownAgents = func() map[string]bool {
	m := make(map[string]bool, len(graphstore.FixedAgentIDs))
	for _, id := range graphstore.FixedAgentIDs {
		m[id] = true
	}
	return m
}()

// Dispatcher is the subset of gateway.Dispatcher delegation depends on,
// narrowed for testability.
type Dispatcher interface {
	Send(ctx context.Context, assignedTo string, msg gateway.DelegationMessage) error
}

// Delegator turns a task_type/description pair into a created, routed,
// and dispatched Task (spec §4.4 steps 1-5).
type Delegator struct {
	store      *graphstore.Store
	dispatcher Dispatcher
	sanitizer  *Sanitizer
	bus        *bus.Bus
}

// New constructs a Delegator. bus may be nil; dispatcher may be nil for
// callers that only need the task created (e.g. tests, or a gateway-less
// single-process deployment where the specialist reads tasks directly
// from the graph rather than over HTTP).
func New(store *graphstore.Store, dispatcher Dispatcher, eventBus *bus.Bus) *Delegator {
	return &Delegator{
		store:      store,
		dispatcher: dispatcher,
		sanitizer:  NewSanitizer(),
		bus:        eventBus,
	}
}

// Delegate implements spec §4.4's orchestrator-side protocol: rate limit,
// sanitize, route, create_task, dispatch.
func (d *Delegator) Delegate(ctx context.Context, taskType, description, priority string) (graphstore.Task, error) {
	check, err := d.store.CheckRateLimit(ctx, "main", "delegate", delegateRateLimitPerHour)
	if err != nil {
		return graphstore.Task{}, fmt.Errorf("check rate limit: %w", err)
	}
	if !check.Allowed {
		return graphstore.Task{}, graphstore.ErrRateLimited
	}

	assignedTo := RouteTaskType(taskType)
	if !knownAgents[assignedTo] {
		return graphstore.Task{}, ErrUnknownAgent
	}

	sanitised, err := d.sanitizer.Sanitize(description)
	if err != nil {
		return graphstore.Task{}, err
	}

	taskID, err := d.store.CreateTask(ctx, taskType, sanitised, "main", assignedTo, priority, nil)
	if err != nil {
		return graphstore.Task{}, fmt.Errorf("create task: %w", err)
	}

	if d.bus != nil {
		d.bus.Publish(bus.TopicDelegationStarted, bus.TaskStateChangedEvent{TaskID: taskID, AgentID: assignedTo})
	}

	if d.dispatcher != nil {
		msg := gateway.DelegationMessage{
			TaskID:               taskID,
			Type:                 taskType,
			DescriptionSanitised: sanitised,
			Priority:             priority,
			DelegatedBy:          "main",
			CreatedAt:            time.Now().UTC().Format(time.RFC3339),
		}
		if err := d.dispatcher.Send(ctx, assignedTo, msg); err != nil {
			if d.bus != nil {
				d.bus.Publish(bus.TopicDelegationFailed, bus.TaskStateChangedEvent{TaskID: taskID, AgentID: assignedTo})
			}
			return graphstore.Task{}, fmt.Errorf("dispatch delegation message: %w", err)
		}
		if d.bus != nil {
			d.bus.Publish(bus.TopicDelegationCompleted, bus.TaskStateChangedEvent{TaskID: taskID, AgentID: assignedTo})
		}
	}

	return d.store.GetTask(ctx, taskID)
}
