package graphstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActivateFailover writes a new active FailoverEvent, enforcing I6 (at
// most one active event at a time) with a conditional insert guarded by
// a check against any currently-active row.
func (s *Store) ActivateFailover(ctx context.Context, triggeredBy, reason string) (FailoverEvent, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.recordFailure()
		return FailoverEvent{}, fmt.Errorf("begin activate failover tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM failover_events WHERE status = 'active';`).Scan(&existing); err != nil {
		s.recordFailure()
		return FailoverEvent{}, fmt.Errorf("check active failover: %w", err)
	}
	if existing > 0 {
		return FailoverEvent{}, fmt.Errorf("%w: a FailoverEvent is already active", ErrInvalidInput)
	}

	ev := FailoverEvent{
		ID:          uuid.NewString(),
		TriggeredBy: triggeredBy,
		Reason:      reason,
		ActivatedAt: time.Now().UTC(),
		Status:      "active",
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO failover_events (id, triggered_by, reason, activated_at, status, messages_routed)
		VALUES (?, ?, ?, ?, 'active', 0);
	`, ev.ID, ev.TriggeredBy, ev.Reason, ev.ActivatedAt); err != nil {
		s.recordFailure()
		return FailoverEvent{}, fmt.Errorf("insert failover event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		s.recordFailure()
		return FailoverEvent{}, fmt.Errorf("commit activate failover tx: %w", err)
	}
	s.recordSuccess()
	return ev, nil
}

// ActiveFailover returns the currently active FailoverEvent, if any.
func (s *Store) ActiveFailover(ctx context.Context) (FailoverEvent, error) {
	var ev FailoverEvent
	var deactivatedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, triggered_by, reason, activated_at, deactivated_at, status, messages_routed
		FROM failover_events WHERE status = 'active' LIMIT 1;
	`).Scan(&ev.ID, &ev.TriggeredBy, &ev.Reason, &ev.ActivatedAt, &deactivatedAt, &ev.Status, &ev.MessagesRouted)
	if errors.Is(err, sql.ErrNoRows) {
		return FailoverEvent{}, ErrNotFound
	}
	if err != nil {
		s.recordFailure()
		return FailoverEvent{}, fmt.Errorf("active failover: %w", err)
	}
	s.recordSuccess()
	if deactivatedAt.Valid {
		ev.DeactivatedAt = &deactivatedAt.Time
	}
	return ev, nil
}

// ResolveFailover marks the active FailoverEvent resolved after failback,
// recording how many queued messages were replayed to main.
func (s *Store) ResolveFailover(ctx context.Context, id string, messagesRouted int) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE failover_events SET status = 'resolved', deactivated_at = ?, messages_routed = ? WHERE id = ? AND status = 'active';
	`, now, messagesRouted, id)
	if err != nil {
		s.recordFailure()
		return fmt.Errorf("resolve failover: %w", err)
	}
	s.recordSuccess()
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
