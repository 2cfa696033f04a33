// Package registry is the Task Registry (spec §4.1): the in-memory set of
// HeartbeatTask descriptors the Cycle Runner drives. Modeled on the
// teacher's internal/cron.Scheduler — a small struct holding
// configuration plus a background driver — but the registry itself holds
// only descriptors; internal/cycle owns the clock and execution loop, the
// same separation the teacher draws between internal/cron (schedule
// store + firing) and internal/persistence (task storage).
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/basket/go-claw/internal/graphstore"
)

// allowedFrequencies is the closed set spec §4.1 permits.
var allowedFrequencies = map[int]bool{
	5: true, 15: true, 30: true, 60: true, 360: true, 1440: true, 10080: true,
}

// HandlerResult is what a handler reports back; the Cycle Runner fills in
// the surrounding TaskResult fields (agent, task name, cycle number,
// timestamps) that the handler itself has no business setting.
type HandlerResult struct {
	Status       graphstore.TaskResultStatus
	Summary      string
	ErrorMessage string
	TokensUsed   int
}

// Handler is a registered task's unit of work: a graph-store handle and a
// cancellation token in, a HandlerResult out (spec §4.1: "producing a
// TaskResult").
type Handler func(ctx context.Context, store *graphstore.Store) (HandlerResult, error)

// HeartbeatTask is a registered task descriptor (spec §4.1).
type HeartbeatTask struct {
	Name             string
	Agent            string
	FrequencyMinutes int
	MaxTokens        int
	Handler          Handler
	TimeoutSeconds   int
	Enabled          bool
	// Critical marks a handler whose error/timeout status emits a ticket
	// Notification on failure (spec §4.2 step 7).
	Critical bool
	// TicketCategory routes a critical handler's failure ticket: one of
	// "infrastructure" (-> ops), "code" (-> developer), "analysis" (->
	// analyst), "self_awareness" (-> main). Ignored unless Critical.
	TicketCategory string

	registeredAt int // monotonic registration order, for the deterministic due-task ordering of spec §4.2 step 4
}

// ErrInvalidFrequency is returned by Register when frequency_minutes is
// outside the allowed set.
var ErrInvalidFrequency = fmt.Errorf("registry: frequency_minutes must be one of %v", sortedFrequencies())

// ErrUnknownTask is returned by Enable/Disable for a name that was never
// registered.
var ErrUnknownTask = fmt.Errorf("registry: unknown task name")

// Registry holds the set of HeartbeatTask descriptors. The zero value is
// not usable; construct with New. Safe for concurrent use: the Cycle
// Runner reads a stable list() snapshot once per cycle while handlers may
// concurrently register/enable/disable for a later cycle.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*HeartbeatTask
	seq   int
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{tasks: make(map[string]*HeartbeatTask)}
}

// Register adds or updates a task. Re-registering an existing name
// updates its mutable fields (Handler, Enabled, MaxTokens,
// TimeoutSeconds, Critical) atomically relative to the Cycle Runner —
// the whole swap happens under the registry's write lock, so a cycle in
// flight reading list() never observes a half-updated descriptor.
func (r *Registry) Register(task HeartbeatTask) error {
	if task.Name == "" {
		return fmt.Errorf("%w: task name is required", ErrInvalidInput)
	}
	if !allowedFrequencies[task.FrequencyMinutes] {
		return ErrInvalidFrequency
	}
	if task.TimeoutSeconds <= 0 {
		task.TimeoutSeconds = 60
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.tasks[task.Name]; ok {
		existing.Agent = task.Agent
		existing.FrequencyMinutes = task.FrequencyMinutes
		existing.MaxTokens = task.MaxTokens
		existing.Handler = task.Handler
		existing.TimeoutSeconds = task.TimeoutSeconds
		existing.Enabled = task.Enabled
		existing.Critical = task.Critical
		existing.TicketCategory = task.TicketCategory
		return nil
	}

	r.seq++
	task.registeredAt = r.seq
	r.tasks[task.Name] = &task
	return nil
}

// ErrInvalidInput flags a malformed registration, distinct from a
// frequency-specific rejection.
var ErrInvalidInput = fmt.Errorf("registry: invalid task descriptor")

// Filter narrows List by agent and/or enabled state. A nil field means
// "don't filter on this".
type Filter struct {
	Agent   *string
	Enabled *bool
}

// List enumerates tasks in the deterministic order the Cycle Runner
// requires (spec §4.2 step 4: "by agent, then by registration order").
func (r *Registry) List(filter Filter) []HeartbeatTask {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]HeartbeatTask, 0, len(r.tasks))
	for _, t := range r.tasks {
		if filter.Agent != nil && t.Agent != *filter.Agent {
			continue
		}
		if filter.Enabled != nil && t.Enabled != *filter.Enabled {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Agent != out[j].Agent {
			return out[i].Agent < out[j].Agent
		}
		return out[i].registeredAt < out[j].registeredAt
	})
	return out
}

// Get returns a single task descriptor by name.
func (r *Registry) Get(name string) (HeartbeatTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[name]
	if !ok {
		return HeartbeatTask{}, ErrUnknownTask
	}
	return *t, nil
}

// Enable toggles a task on without removing its registration.
func (r *Registry) Enable(name string) error {
	return r.setEnabled(name, true)
}

// Disable toggles a task off without removing its registration.
func (r *Registry) Disable(name string) error {
	return r.setEnabled(name, false)
}

func (r *Registry) setEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[name]
	if !ok {
		return ErrUnknownTask
	}
	t.Enabled = enabled
	return nil
}

// DueAt reports whether a task with the given frequency is due in cycle
// number c, per spec §4.2 step 2: "(c * 5) mod f == 0".
func DueAt(frequencyMinutes int, cycleNumber int64) bool {
	if frequencyMinutes <= 0 {
		return false
	}
	return (cycleNumber*5)%int64(frequencyMinutes) == 0
}

func sortedFrequencies() []int {
	out := make([]int, 0, len(allowedFrequencies))
	for f := range allowedFrequencies {
		out = append(out, f)
	}
	sort.Ints(out)
	return out
}
