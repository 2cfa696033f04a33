package graphstore

import (
	"context"
	"testing"
	"time"
)

func TestPublishAndListUnreadNotifications(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.PublishNotification(ctx, "ops", "ticket", "infra handler failed", "task-1"); err != nil {
		t.Fatalf("PublishNotification: %v", err)
	}
	notifications, err := s.ListUnreadNotifications(ctx, "ops")
	if err != nil {
		t.Fatalf("ListUnreadNotifications: %v", err)
	}
	if len(notifications) != 1 {
		t.Fatalf("expected 1 unread notification, got %d", len(notifications))
	}
	if notifications[0].TaskID != "task-1" {
		t.Fatalf("expected task_id task-1, got %q", notifications[0].TaskID)
	}
}

func TestPurgeReadNotificationsOnlyRemovesOldRead(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.PublishNotification(ctx, "ops", "ticket", "old read", ""); err != nil {
		t.Fatalf("PublishNotification: %v", err)
	}
	old := time.Now().UTC().Add(-13 * time.Hour)
	if _, err := s.db.ExecContext(ctx, `UPDATE notifications SET read = 1, created_at = ?;`, old); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	n, err := s.PurgeReadNotifications(ctx)
	if err != nil {
		t.Fatalf("PurgeReadNotifications: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged notification, got %d", n)
	}
}
