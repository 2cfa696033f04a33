package graphstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PublishNotification creates an in-graph inbox item (spec §3/§4.3). In
// degraded mode the write is journaled instead of attempted against the
// graph, and replayed in order on recovery.
func (s *Store) PublishNotification(ctx context.Context, agent, kind, summary, taskID string) error {
	if agent == "" || kind == "" {
		return fmt.Errorf("%w: agent and type are required", ErrInvalidInput)
	}
	if s.IsDegraded() {
		s.journal.appendNotification(journaledNotification{agent: agent, kind: kind, summary: summary, taskID: taskID})
		return nil
	}
	if err := s.publishNotificationDirect(ctx, agent, kind, summary, taskID); err != nil {
		s.recordFailure()
		s.journal.appendNotification(journaledNotification{agent: agent, kind: kind, summary: summary, taskID: taskID})
		return fmt.Errorf("publish notification: %w", err)
	}
	s.recordSuccess()
	return nil
}

func (s *Store) publishNotificationDirect(ctx context.Context, agent, kind, summary, taskID string) error {
	var task any
	if taskID != "" {
		task = taskID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, agent, type, summary, task_id, read, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?);
	`, uuid.NewString(), agent, kind, summary, task, time.Now().UTC())
	return err
}

// ListUnreadNotifications returns unread notifications for an agent,
// newest first.
func (s *Store) ListUnreadNotifications(ctx context.Context, agent string) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent, type, summary, COALESCE(task_id, ''), read, created_at
		FROM notifications WHERE agent = ? AND read = 0 ORDER BY created_at DESC;
	`, agent)
	if err != nil {
		s.recordFailure()
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	s.recordSuccess()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.Agent, &n.Type, &n.Summary, &n.TaskID, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// PurgeReadNotifications deletes read notifications older than 12 hours,
// per spec §3's Lifecycle note ("Deleted by curation once read and older
// than 12 hours").
func (s *Store) PurgeReadNotifications(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-12 * time.Hour)
	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE read = 1 AND created_at < ?;`, cutoff)
	if err != nil {
		s.recordFailure()
		return 0, fmt.Errorf("purge notifications: %w", err)
	}
	s.recordSuccess()
	return res.RowsAffected()
}
