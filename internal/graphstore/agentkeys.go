package graphstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

const agentKeyValidity = 90 * 24 * time.Hour

// UpsertAgentKey rotates an agent's HMAC signing key: it hashes the new
// key material (never storing plaintext), marks the prior active key
// inactive (retained, not deleted — spec §3: "inactive keys retained for
// audit >= 30 days"), and inserts the new key with a 90-day expiry.
func (s *Store) UpsertAgentKey(ctx context.Context, agentID, newKeyMaterial string) error {
	if agentID == "" || newKeyMaterial == "" {
		return fmt.Errorf("%w: agent_id and key material are required", ErrInvalidInput)
	}
	sum := sha256.Sum256([]byte(newKeyMaterial))
	keyHash := hex.EncodeToString(sum[:])
	now := time.Now().UTC()
	expiresAt := now.Add(agentKeyValidity)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.recordFailure()
		return fmt.Errorf("begin upsert agent key tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE agent_keys SET is_active = 0 WHERE agent_id = ? AND is_active = 1;`, agentID); err != nil {
		s.recordFailure()
		return fmt.Errorf("deactivate prior agent key: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO agent_keys (agent_id, key_hash, created_at, expires_at, is_active)
		VALUES (?, ?, ?, ?, 1);
	`, agentID, keyHash, now, expiresAt); err != nil {
		s.recordFailure()
		return fmt.Errorf("insert agent key: %w", err)
	}
	if err := tx.Commit(); err != nil {
		s.recordFailure()
		return fmt.Errorf("commit upsert agent key tx: %w", err)
	}
	s.recordSuccess()
	return nil
}

// ExpireStaleAgentKeys flips is_active to 0 for any key whose expires_at
// has passed, for the weekly key_rotation task. ActiveAgentKeyHash already
// excludes expired rows from consideration regardless of is_active, so
// this is bookkeeping rather than a security boundary.
func (s *Store) ExpireStaleAgentKeys(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE agent_keys SET is_active = 0 WHERE is_active = 1 AND expires_at <= ?;`, now)
	if err != nil {
		s.recordFailure()
		return 0, fmt.Errorf("expire stale agent keys: %w", err)
	}
	s.recordSuccess()
	return res.RowsAffected()
}

// ActiveAgentKeyHash returns the key_hash of an agent's currently active,
// unexpired key, or ErrNotFound. Spec §3 I7: "For any AgentKey with
// is_active = true, expires_at > now" — enforced here by excluding
// expired rows from consideration even if is_active wasn't yet flipped.
func (s *Store) ActiveAgentKeyHash(ctx context.Context, agentID string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `
		SELECT key_hash FROM agent_keys
		WHERE agent_id = ? AND is_active = 1 AND expires_at > ?
		ORDER BY created_at DESC LIMIT 1;
	`, agentID, time.Now().UTC()).Scan(&hash)
	if err != nil {
		s.recordFailure()
		return "", ErrNotFound
	}
	s.recordSuccess()
	return hash, nil
}
