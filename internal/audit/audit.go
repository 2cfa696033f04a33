// Package audit records delegation and curation decisions to an
// append-only JSONL file and, when a database handle is attached, to an
// audit_log table. Unlike the teacher's package-level singleton, Log is an
// explicit value threaded through the Cycle Runner and its handlers — no
// global mutable state (spec redesign note: replace implicit global
// clients with an explicit context value owned by the caller).
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basket/go-claw/internal/shared"
)

type entry struct {
	Timestamp     string `json:"timestamp"`
	Decision      string `json:"decision"`
	Action        string `json:"action"`
	Reason        string `json:"reason"`
	PolicyVersion string `json:"policy_version"`
	Subject       string `json:"subject,omitempty"`
}

// Log is an audit sink. The zero value is usable but discards everything
// until Open and/or SetDB are called.
type Log struct {
	mu        sync.Mutex
	file      *os.File
	db        *sql.DB
	denyCount atomic.Int64
}

// New creates a Log writing JSONL entries under homeDir/logs/audit.jsonl.
func New(homeDir string) (*Log, error) {
	l := &Log{}
	if homeDir == "" {
		return l, nil
	}
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	l.file = f
	return l, nil
}

// SetDB attaches a database handle for audit_log table writes.
func (l *Log) SetDB(d *sql.DB) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.db = d
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// DenyCount returns the total number of deny/error decisions recorded.
func (l *Log) DenyCount() int64 {
	return l.denyCount.Load()
}

// Record appends an audit entry. decision is typically "allow", "deny", or
// "error"; action names the operation (e.g. "delegate_task",
// "curation.prune"). subject and reason are redacted before persistence.
func (l *Log) Record(ctx context.Context, decision, action, reason, policyVersion, subject string) {
	if decision == "deny" || decision == "error" {
		l.denyCount.Add(1)
	}

	reason = shared.Redact(reason)
	subject = shared.Redact(subject)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		ev := entry{
			Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
			Decision:      decision,
			Action:        action,
			Reason:        reason,
			PolicyVersion: policyVersion,
			Subject:       subject,
		}
		if b, err := json.Marshal(ev); err == nil {
			_, _ = l.file.Write(append(b, '\n'))
		}
	}

	if l.db != nil {
		_, _ = l.db.ExecContext(ctx, `
			INSERT INTO audit_log (subject, action, decision, reason, policy_version)
			VALUES (?, ?, ?, ?, ?);
		`, subject, action, decision, reason, policyVersion)
	}
}
