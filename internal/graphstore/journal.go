package graphstore

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// degradedTripCount and degradedTripWindow implement spec §4.3's fallback
// trigger: "On a sequence of >= 5 failed graph calls within 60 seconds,
// the client transitions to degraded state."
const (
	degradedTripCount       = 5
	degradedTripWindow      = 60 * time.Second
	degradedProbeInterval   = 30 * time.Second
	degradedRecoveryStreak  = 10
)

// journal is the in-process append-only log the graph store client
// writes to while degraded. Only append-only record kinds are journaled
// (HeartbeatCycle, TaskResult, Notification) — heartbeat field writes are
// monotonic and simply retried against the live graph on recovery, per
// spec §4.3's conflict rule ("graph's current value wins for
// Agent.*heartbeat fields").
//
// Modeled on the teacher's RecoverRunningTasks/MeasureRecoveryMetrics
// recoverable-state machinery (persistence/tasks.go), which the teacher
// uses to reconcile state after a process crash rather than a live
// connection outage — the recovery discipline (drain in order, resolve
// conflicts by a fixed rule, verify empty before declaring healthy) is
// the same shape.
type journal struct {
	mu            sync.Mutex
	cycles        []HeartbeatCycle
	results       []TaskResult
	notifications []journaledNotification
}

type journaledNotification struct {
	agent, kind, summary, taskID string
}

func newJournal() *journal {
	return &journal{}
}

func (j *journal) empty() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.cycles) == 0 && len(j.results) == 0 && len(j.notifications) == 0
}

func (j *journal) appendCycle(c HeartbeatCycle) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cycles = append(j.cycles, c)
}

func (j *journal) appendResult(r TaskResult) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.results = append(j.results, r)
}

func (j *journal) appendNotification(n journaledNotification) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.notifications = append(j.notifications, n)
}

// drain returns and clears the journal's contents for in-order replay.
func (j *journal) drain() ([]HeartbeatCycle, []TaskResult, []journaledNotification) {
	j.mu.Lock()
	defer j.mu.Unlock()
	cycles, results, notifications := j.cycles, j.results, j.notifications
	j.cycles, j.results, j.notifications = nil, nil, nil
	return cycles, results, notifications
}

// recordFailure notes a failed graph call and trips degraded mode once
// degradedTripCount failures land within degradedTripWindow.
func (s *Store) recordFailure() {
	s.journalMu.Lock()
	defer s.journalMu.Unlock()

	now := time.Now()
	cutoff := now.Add(-degradedTripWindow)
	kept := s.fails[:0]
	for _, t := range s.fails {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.fails = append(kept, now)

	if !s.degraded && len(s.fails) >= degradedTripCount {
		s.degraded = true
		s.startProbeLocked()
		slog.Warn("graphstore entering degraded mode", "recent_failures", len(s.fails))
	}
}

func (s *Store) recordSuccess() {
	s.journalMu.Lock()
	defer s.journalMu.Unlock()
	s.fails = nil
}

// IsDegraded reports whether the client is currently serving from the
// journal/cache instead of the live graph.
func (s *Store) IsDegraded() bool {
	s.journalMu.Lock()
	defer s.journalMu.Unlock()
	return s.degraded
}

func (s *Store) startProbeLocked() {
	if s.probeStop != nil {
		return
	}
	s.probeStop = make(chan struct{})
	s.probeDone = make(chan struct{})
	stop, done := s.probeStop, s.probeDone
	go s.runProbe(stop, done)
}

func (s *Store) stopProbe() {
	s.journalMu.Lock()
	stop := s.probeStop
	done := s.probeDone
	s.probeStop, s.probeDone = nil, nil
	s.journalMu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// runProbe retries the graph connection every 30s (spec §4.3) and, after
// degradedRecoveryStreak consecutive successes with an empty journal,
// drains the journal and exits degraded mode.
func (s *Store) runProbe(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	streak := 0
	ticker := time.NewTicker(degradedProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := s.db.PingContext(ctx)
			cancel()
			if err != nil {
				streak = 0
				continue
			}
			streak++
			if streak < degradedRecoveryStreak {
				continue
			}
			if s.drainJournal(context.Background()) {
				s.journalMu.Lock()
				s.degraded = false
				s.fails = nil
				s.journalMu.Unlock()
				slog.Info("graphstore exited degraded mode")
				return
			}
			streak = 0
		}
	}
}

// drainJournal replays journaled append-only records against the live
// graph in order. It returns true only if the journal was empty or was
// fully drained without error.
func (s *Store) drainJournal(ctx context.Context) bool {
	cycles, results, notifications := s.journal.drain()
	for _, c := range cycles {
		if err := s.recordCycleDirect(ctx, c); err != nil {
			slog.Error("graphstore journal replay failed, re-journaling cycle", "error", err)
			s.journal.appendCycle(c)
			return false
		}
	}
	for _, r := range results {
		if err := s.recordResultDirect(ctx, r); err != nil {
			slog.Error("graphstore journal replay failed, re-journaling result", "error", err)
			s.journal.appendResult(r)
			return false
		}
	}
	for _, n := range notifications {
		if err := s.publishNotificationDirect(ctx, n.agent, n.kind, n.summary, n.taskID); err != nil {
			slog.Error("graphstore journal replay failed, re-journaling notification", "error", err)
			s.journal.appendNotification(n)
			return false
		}
	}
	return true
}
