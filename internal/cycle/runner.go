// Package cycle is the Cycle Runner (spec §4.2): the single 5-minute
// clock that drives all background work. Modeled on the teacher's
// internal/cron.Scheduler — a ticker-driven loop with Start/Stop and a
// context-cancellable goroutine — generalized from firing cron
// expressions against a persistence store to firing due registry tasks
// against the graph store on the fixed 5-minute boundary spec §4.2
// requires.
package cycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/go-claw/internal/bus"
	"github.com/basket/go-claw/internal/graphstore"
	"github.com/basket/go-claw/internal/registry"
	"github.com/basket/go-claw/internal/shared"
)

// wallClockParser recognizes the standard 5-field cron expression used
// only to align the daemon's sleep to 5-minute wall-clock boundaries
// ("*/5 * * * *"), the same parser construction the teacher's cron
// package uses for user-defined schedules.
var wallClockParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// ticketRouting implements spec §4.2 step 7's routing rule for critical
// handler failures, distinct from the delegation routing table of §4.4.
var ticketRouting = map[string]string{
	"infrastructure":  "ops",
	"code":            "developer",
	"analysis":        "analyst",
	"self_awareness":  "main",
}

const defaultTokenCap = 8650

// Config holds the Cycle Runner's dependencies.
type Config struct {
	Registry       *registry.Registry
	Store          *graphstore.Store
	Bus            *bus.Bus
	Logger         *slog.Logger
	TokenCapPerCycle int // default 8650
}

// Runner drives the fixed 5-minute heartbeat cycle.
type Runner struct {
	registry *registry.Registry
	store    *graphstore.Store
	bus      *bus.Bus
	logger   *slog.Logger
	tokenCap int

	agentFilter string // set by SetAgentFilter; empty means all agents

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SetAgentFilter restricts subsequent RunCycle calls to tasks owned by a
// single agent, for the CLI's `--cycle --agent <id>` mode (spec §6). An
// empty string clears the restriction.
func (r *Runner) SetAgentFilter(agent string) {
	r.agentFilter = agent
}

// NewRunner constructs a Runner from cfg, applying spec defaults for any
// zero-valued tunable.
func NewRunner(cfg Config) *Runner {
	tokenCap := cfg.TokenCapPerCycle
	if tokenCap <= 0 {
		tokenCap = defaultTokenCap
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		registry: cfg.Registry,
		store:    cfg.Store,
		bus:      cfg.Bus,
		logger:   logger,
		tokenCap: tokenCap,
	}
}

// Start begins the daemon loop: it aligns to the next 5-minute wall-clock
// boundary, then runs one cycle every 5 minutes thereafter (spec §4.2
// "Scheduling model": "the daemon MUST align cycle starts to wall-clock
// multiples of 5 minutes").
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.loop(ctx)
	r.logger.Info("cycle runner started")
}

// Stop cancels the daemon loop and waits for the in-flight cycle, if any,
// to return.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.logger.Info("cycle runner stopped")
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()
	for {
		next := nextFiveMinuteBoundary(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if _, err := r.RunCycle(ctx); err != nil {
				r.logger.Error("cycle failed", "error", err)
			}
		}
	}
}

// nextFiveMinuteBoundary returns the next wall-clock time that is a
// multiple of 5 minutes past the hour, using the same cron-expression
// parser the teacher's scheduler uses for user schedules.
func nextFiveMinuteBoundary(after time.Time) time.Time {
	sched, err := wallClockParser.Parse("*/5 * * * *")
	if err != nil {
		// The expression is a compile-time constant; a parse failure here
		// would be a programming error, not a runtime condition.
		return after.Add(5 * time.Minute)
	}
	return sched.Next(after)
}

// RunCycle executes one full cycle: load the next cycle_number, run due
// handlers sequentially, enforce the token cap, and persist results
// (spec §4.2 steps 1-7).
func (r *Runner) RunCycle(ctx context.Context) (graphstore.HeartbeatCycle, error) {
	ctx = shared.WithTraceID(ctx, shared.NewTraceID())
	traceID := shared.TraceID(ctx)

	cycleNumber, err := r.nextCycleNumber(ctx)
	if err != nil {
		return graphstore.HeartbeatCycle{}, fmt.Errorf("load next cycle_number: %w", err)
	}
	r.logger.Info("cycle starting", "cycle_number", cycleNumber, "trace_id", traceID)

	startedAt := time.Now().UTC()
	hc := graphstore.HeartbeatCycle{CycleNumber: cycleNumber, StartedAt: startedAt}
	if err := r.store.RecordCycle(ctx, hc); err != nil {
		// Spec §4.2 Errors: a failed write for HeartbeatCycle.started_at
		// aborts the cycle; no handlers run.
		return graphstore.HeartbeatCycle{}, fmt.Errorf("record cycle start: %w", err)
	}
	if r.bus != nil {
		r.bus.Publish(bus.TopicCycleStarted, cycleNumber)
	}

	due := r.dueTasks(cycleNumber)
	var tokensUsed int
	var succeeded, failed int
	budgetExhausted := false

	for _, task := range due {
		if ctx.Err() != nil {
			break
		}

		if budgetExhausted {
			r.recordResult(ctx, cycleNumber, task, registry.HandlerResult{
				Status:  graphstore.TaskResultSkippedBudget,
				Summary: "cumulative cycle token budget exceeded",
			}, startedAt, startedAt)
			continue
		}

		resStarted := time.Now().UTC()
		result, handlerErr := r.invoke(ctx, task)
		resCompleted := time.Now().UTC()

		if handlerErr != nil {
			result.Status = graphstore.TaskResultError
			if result.ErrorMessage == "" {
				result.ErrorMessage = handlerErr.Error()
			}
		} else if result.Status == "" {
			result.Status = graphstore.TaskResultSuccess
		}
		if result.Status == graphstore.TaskResultSuccess {
			succeeded++
		} else {
			failed++
		}

		tokensUsed += result.TokensUsed
		r.recordResult(ctx, cycleNumber, task, result, resStarted, resCompleted)

		if (result.Status == graphstore.TaskResultError || result.Status == graphstore.TaskResultTimeout) && task.Critical {
			r.emitTicket(ctx, task, result)
		}

		if tokensUsed >= r.tokenCap {
			budgetExhausted = true
		}
	}

	completedAt := time.Now().UTC()
	hc.CompletedAt = &completedAt
	hc.TasksRun = len(due)
	hc.TasksSucceeded = succeeded
	hc.TasksFailed = failed
	hc.TotalTokens = tokensUsed
	hc.DurationSeconds = completedAt.Sub(startedAt).Seconds()
	if err := r.store.RecordCycle(ctx, hc); err != nil {
		r.logger.Error("failed to persist cycle completion", "cycle_number", cycleNumber, "trace_id", traceID, "error", err)
	}
	if r.bus != nil {
		r.bus.Publish(bus.TopicCycleCompleted, cycleNumber)
	}
	r.logger.Info("cycle completed", "cycle_number", cycleNumber, "trace_id", traceID,
		"tasks_run", hc.TasksRun, "tasks_succeeded", hc.TasksSucceeded, "tasks_failed", hc.TasksFailed)
	return hc, nil
}

func (r *Runner) nextCycleNumber(ctx context.Context) (int64, error) {
	max, err := r.store.MaxCycleNumber(ctx)
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

func (r *Runner) dueTasks(cycleNumber int64) []registry.HeartbeatTask {
	enabled := true
	filter := registry.Filter{Enabled: &enabled}
	if r.agentFilter != "" {
		filter.Agent = &r.agentFilter
	}
	all := r.registry.List(filter)
	due := make([]registry.HeartbeatTask, 0, len(all))
	for _, t := range all {
		if registry.DueAt(t.FrequencyMinutes, cycleNumber) {
			due = append(due, t)
		}
	}
	return due
}

// invoke runs a single handler with a hard deadline. Exceeding the
// deadline is reported as status "timeout" with duration_seconds equal
// to the deadline, per spec §4.2.
func (r *Runner) invoke(ctx context.Context, task registry.HeartbeatTask) (result registry.HandlerResult, err error) {
	timeout := time.Duration(task.TimeoutSeconds) * time.Second
	handlerCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type out struct {
		result registry.HandlerResult
		err    error
	}
	done := make(chan out, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- out{result: registry.HandlerResult{Status: graphstore.TaskResultError}, err: fmt.Errorf("handler panic: %v", p)}
			}
		}()
		res, herr := task.Handler(handlerCtx, r.store)
		done <- out{result: res, err: herr}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-handlerCtx.Done():
		return registry.HandlerResult{
			Status:     graphstore.TaskResultTimeout,
			Summary:    "handler exceeded timeout_seconds",
			TokensUsed: 0,
		}, nil
	}
}

func (r *Runner) recordResult(ctx context.Context, cycleNumber int64, task registry.HeartbeatTask, result registry.HandlerResult, started, completed time.Time) {
	status := result.Status
	if status == "" {
		status = graphstore.TaskResultSuccess
	}
	tr := graphstore.TaskResult{
		CycleNumber:  cycleNumber,
		Agent:        task.Agent,
		TaskName:     task.Name,
		Status:       status,
		StartedAt:    started,
		CompletedAt:  completed,
		Summary:      result.Summary,
		ErrorMessage: result.ErrorMessage,
		TokensUsed:   result.TokensUsed,
	}
	if err := r.store.RecordResult(ctx, tr); err != nil {
		// Spec §4.2 Errors: retried once, then logged locally; the cycle continues.
		if err2 := r.store.RecordResult(ctx, tr); err2 != nil {
			r.logger.Error("failed to persist task result after retry", "task", task.Name, "cycle_number", cycleNumber, "trace_id", shared.TraceID(ctx), "error", err2)
		}
	}
}

func (r *Runner) emitTicket(ctx context.Context, task registry.HeartbeatTask, result registry.HandlerResult) {
	assignee, ok := ticketRouting[task.TicketCategory]
	if !ok {
		assignee = "main"
	}
	summary := fmt.Sprintf("critical handler %q (agent=%s) failed: %s", task.Name, task.Agent, result.ErrorMessage)
	if err := r.store.PublishNotification(ctx, assignee, "ticket", summary, ""); err != nil {
		r.logger.Error("failed to publish failure ticket", "task", task.Name, "trace_id", shared.TraceID(ctx), "error", err)
	}
	if r.bus != nil {
		r.bus.Publish(bus.TopicTicketCreated, bus.TicketEvent{
			TaskName: task.Name, AgentID: assignee, Reason: result.ErrorMessage, CycleID: 0,
		})
	}
}
