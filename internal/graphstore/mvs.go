package graphstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ScoreSample returns up to limit MemoryEntry rows of the given tier,
// ordered lowest-score-first (the curation handlers work from the bottom
// of the distribution upward).
func (s *Store) ScoreSample(ctx context.Context, tier MemoryTier, limit int) ([]MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, tier, mvs_score, access_count_7d, last_accessed, last_curated_at, COALESCE(curation_action, ''), tombstone, deleted_at, COALESCE(payload, ''),
		       created_at, tokens, incident_relationship_count, distinct_agents_7d
		FROM memory_entries
		WHERE tier = ? AND tombstone = 0
		ORDER BY mvs_score ASC
		LIMIT ?;
	`, string(tier), limit)
	if err != nil {
		s.recordFailure()
		return nil, fmt.Errorf("score sample: %w", err)
	}
	defer rows.Close()
	s.recordSuccess()

	var out []MemoryEntry
	for rows.Next() {
		var e MemoryEntry
		var lastAccessed sql.NullTime
		var lastCurated sql.NullTime
		var deletedAt sql.NullTime
		var createdAt sql.NullTime
		if err := rows.Scan(&e.ID, &e.Kind, &e.Tier, &e.MVSScore, &e.AccessCount7d, &lastAccessed, &lastCurated, &e.CurationAction, &e.Tombstone, &deletedAt, &e.Payload,
			&createdAt, &e.Tokens, &e.IncidentRelationshipCount, &e.DistinctAgents7d); err != nil {
			return nil, fmt.Errorf("scan memory entry: %w", err)
		}
		e.LastAccessed = lastAccessed.Time
		if lastCurated.Valid {
			e.LastCuratedAt = &lastCurated.Time
		}
		if deletedAt.Valid {
			e.DeletedAt = &deletedAt.Time
		}
		e.CreatedAt = createdAt.Time
		out = append(out, e)
	}
	return out, rows.Err()
}

// mvsScore reads a single node's current mvs_score, for the merge_into
// protection check.
func (s *Store) mvsScore(ctx context.Context, nodeID string) (float64, error) {
	var score float64
	err := s.db.QueryRowContext(ctx, `SELECT mvs_score FROM memory_entries WHERE id = ?;`, nodeID).Scan(&score)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return score, err
}

// SetCurationAction records the action a curation pass chose for a node
// (KEEP, IMPROVE, MERGE, DEMOTE, PRUNE — spec §4.6) without itself
// enacting destructive effects; Tombstone/MergeInto perform those.
func (s *Store) SetCurationAction(ctx context.Context, nodeID, action string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memory_entries SET curation_action = ?, last_curated_at = ? WHERE id = ?;
	`, action, time.Now().UTC(), nodeID)
	if err != nil {
		s.recordFailure()
		return fmt.Errorf("set curation action: %w", err)
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

// Tombstone soft-deletes a node, refusing to act on a protected node (I5:
// mvs_score >= 50.0 may never be deleted, merged away, or demoted).
func (s *Store) Tombstone(ctx context.Context, nodeID, reason string) error {
	score, err := s.mvsScore(ctx, nodeID)
	if err != nil {
		s.recordFailure()
		return fmt.Errorf("tombstone: %w", err)
	}
	if score >= protectedMVSThreshold {
		return ErrProtectedNode
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE memory_entries SET tombstone = 1, deleted_at = ?, curation_action = 'PRUNE' WHERE id = ? AND mvs_score < ?;
	`, now, nodeID, protectedMVSThreshold)
	if err != nil {
		s.recordFailure()
		return fmt.Errorf("tombstone: %w", err)
	}
	s.recordSuccess()
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrProtectedNode
	}
	return nil
}

// MergeInto merges src into dst: copies src's relationships onto dst (in
// this schema, memory entries carry no outbound edges beyond
// MERGED_INTO itself, so the copy step is a no-op by construction — see
// the design ledger), sets src.merged_into = dst, and tombstones src.
// dst must have mvs_score >= mvs_score(src), and neither node may already
// be tombstoned.
func (s *Store) MergeInto(ctx context.Context, src, dst string) error {
	if src == dst {
		return fmt.Errorf("%w: src and dst must differ", ErrInvalidInput)
	}
	srcScore, err := s.mvsScore(ctx, src)
	if err != nil {
		return fmt.Errorf("merge into: read src score: %w", err)
	}
	if srcScore >= protectedMVSThreshold {
		return ErrProtectedNode
	}
	dstScore, err := s.mvsScore(ctx, dst)
	if err != nil {
		return fmt.Errorf("merge into: read dst score: %w", err)
	}
	if dstScore < srcScore {
		return fmt.Errorf("%w: dst mvs_score %.2f is lower than src %.2f", ErrInvalidInput, dstScore, srcScore)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.recordFailure()
		return fmt.Errorf("begin merge tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE memory_entries
		SET merged_into = ?, tombstone = 1, deleted_at = ?, curation_action = 'MERGE'
		WHERE id = ? AND mvs_score < ?;
	`, dst, now, src, protectedMVSThreshold)
	if err != nil {
		s.recordFailure()
		return fmt.Errorf("merge into: tombstone src: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrProtectedNode
	}
	if err := tx.Commit(); err != nil {
		s.recordFailure()
		return fmt.Errorf("commit merge tx: %w", err)
	}
	s.recordSuccess()
	return nil
}

// PurgeTombstoned physically removes tombstoned nodes older than
// olderThan, per spec §3 I4.
func (s *Store) PurgeTombstoned(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, `DELETE FROM memory_entries WHERE tombstone = 1 AND deleted_at < ?;`, cutoff)
	if err != nil {
		s.recordFailure()
		return 0, fmt.Errorf("purge tombstoned: %w", err)
	}
	s.recordSuccess()
	return res.RowsAffected()
}

// UpsertMemoryEntry inserts or updates a memory node's scoring fields —
// used by curation handlers to write back a freshly computed mvs_score.
func (s *Store) UpsertMemoryEntry(ctx context.Context, e MemoryEntry) error {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_entries (id, kind, tier, mvs_score, access_count_7d, last_accessed, payload, created_at, tokens, incident_relationship_count, distinct_agents_7d)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tier = excluded.tier,
			mvs_score = excluded.mvs_score,
			access_count_7d = excluded.access_count_7d,
			last_accessed = excluded.last_accessed,
			tokens = excluded.tokens,
			incident_relationship_count = excluded.incident_relationship_count,
			distinct_agents_7d = excluded.distinct_agents_7d;
	`, e.ID, e.Kind, string(e.Tier), e.MVSScore, e.AccessCount7d, e.LastAccessed, e.Payload, createdAt, e.Tokens, e.IncidentRelationshipCount, e.DistinctAgents7d)
	if err != nil {
		s.recordFailure()
		return fmt.Errorf("upsert memory entry: %w", err)
	}
	s.recordSuccess()
	return nil
}

// EntriesByKindOlderThan returns non-tombstoned nodes of the given kind
// whose last_accessed (falling back to created_at when never accessed)
// predates cutoff. Used by curation_rapid's session-context sweep and
// curation_deep's orphan sweep.
func (s *Store) EntriesByKindOlderThan(ctx context.Context, kind string, cutoff time.Time) ([]MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, tier, mvs_score, access_count_7d, last_accessed, last_curated_at, COALESCE(curation_action, ''), tombstone, deleted_at, COALESCE(payload, ''),
		       created_at, tokens, incident_relationship_count, distinct_agents_7d
		FROM memory_entries
		WHERE kind = ? AND tombstone = 0 AND COALESCE(last_accessed, created_at) < ?;
	`, kind, cutoff)
	if err != nil {
		s.recordFailure()
		return nil, fmt.Errorf("entries by kind: %w", err)
	}
	defer rows.Close()
	s.recordSuccess()

	var out []MemoryEntry
	for rows.Next() {
		var e MemoryEntry
		var lastAccessed, lastCurated, deletedAt, createdAt sql.NullTime
		if err := rows.Scan(&e.ID, &e.Kind, &e.Tier, &e.MVSScore, &e.AccessCount7d, &lastAccessed, &lastCurated, &e.CurationAction, &e.Tombstone, &deletedAt, &e.Payload,
			&createdAt, &e.Tokens, &e.IncidentRelationshipCount, &e.DistinctAgents7d); err != nil {
			return nil, fmt.Errorf("scan memory entry: %w", err)
		}
		e.LastAccessed = lastAccessed.Time
		e.CreatedAt = createdAt.Time
		if lastCurated.Valid {
			e.LastCuratedAt = &lastCurated.Time
		}
		if deletedAt.Valid {
			e.DeletedAt = &deletedAt.Time
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// OrphanEntries returns non-tombstoned nodes with zero incident
// relationships and zero cross-agent access, across all tiers — the
// "no inbound or outbound edges" condition of spec §4.6's curation_deep,
// expressed over this schema's relational proxy for edge count.
func (s *Store) OrphanEntries(ctx context.Context, limit int) ([]MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, tier, mvs_score, access_count_7d, last_accessed, last_curated_at, COALESCE(curation_action, ''), tombstone, deleted_at, COALESCE(payload, ''),
		       created_at, tokens, incident_relationship_count, distinct_agents_7d
		FROM memory_entries
		WHERE tombstone = 0 AND incident_relationship_count = 0 AND distinct_agents_7d = 0
		LIMIT ?;
	`, limit)
	if err != nil {
		s.recordFailure()
		return nil, fmt.Errorf("orphan entries: %w", err)
	}
	defer rows.Close()
	s.recordSuccess()

	var out []MemoryEntry
	for rows.Next() {
		var e MemoryEntry
		var lastAccessed, lastCurated, deletedAt, createdAt sql.NullTime
		if err := rows.Scan(&e.ID, &e.Kind, &e.Tier, &e.MVSScore, &e.AccessCount7d, &lastAccessed, &lastCurated, &e.CurationAction, &e.Tombstone, &deletedAt, &e.Payload,
			&createdAt, &e.Tokens, &e.IncidentRelationshipCount, &e.DistinctAgents7d); err != nil {
			return nil, fmt.Errorf("scan memory entry: %w", err)
		}
		e.LastAccessed = lastAccessed.Time
		e.CreatedAt = createdAt.Time
		if lastCurated.Valid {
			e.LastCuratedAt = &lastCurated.Time
		}
		if deletedAt.Valid {
			e.DeletedAt = &deletedAt.Time
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SetTier moves a node to a new tier directly, used by curation's
// promote/demote actions (the node's score is unchanged; only its
// storage tier moves).
func (s *Store) SetTier(ctx context.Context, nodeID string, tier MemoryTier) error {
	res, err := s.db.ExecContext(ctx, `UPDATE memory_entries SET tier = ? WHERE id = ? AND tombstone = 0;`, string(tier), nodeID)
	if err != nil {
		s.recordFailure()
		return fmt.Errorf("set tier: %w", err)
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

// CountTier returns the number of non-tombstoned nodes in a tier, used by
// the curation handlers to compute the 5%-per-tier deletion cap.
func (s *Store) CountTier(ctx context.Context, tier MemoryTier) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_entries WHERE tier = ? AND tombstone = 0;`, string(tier)).Scan(&n); err != nil {
		s.recordFailure()
		return 0, fmt.Errorf("count tier: %w", err)
	}
	s.recordSuccess()
	return n, nil
}
