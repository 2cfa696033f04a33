package graphstore

import (
	"context"
	"fmt"
	"time"
)

// CheckRateLimit increments the (agent, operation, date, hour) counter and
// reports whether the caller is within limitPerHour, per spec §4.3. The
// increment is atomic: an UPSERT followed by a read of the new count,
// inside a single statement pair guarded by the table's primary key.
func (s *Store) CheckRateLimit(ctx context.Context, agent, operation string, limitPerHour int) (RateLimitCheck, error) {
	if agent == "" || operation == "" {
		return RateLimitCheck{}, fmt.Errorf("%w: agent and operation are required", ErrInvalidInput)
	}
	now := time.Now().UTC()
	date := now.Format("2006-01-02")
	hour := now.Hour()

	var count int
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO rate_limits (agent, operation, date, hour, count, last_updated)
			VALUES (?, ?, ?, ?, 1, ?)
			ON CONFLICT(agent, operation, date, hour) DO UPDATE SET
				count = count + 1,
				last_updated = excluded.last_updated;
		`, agent, operation, date, hour, now)
		if err != nil {
			return err
		}
		return s.db.QueryRowContext(ctx, `
			SELECT count FROM rate_limits WHERE agent = ? AND operation = ? AND date = ? AND hour = ?;
		`, agent, operation, date, hour).Scan(&count)
	})
	if err != nil {
		s.recordFailure()
		return RateLimitCheck{}, fmt.Errorf("check rate limit: %w", err)
	}
	s.recordSuccess()
	return RateLimitCheck{Allowed: count <= limitPerHour, Count: count}, nil
}

// PurgeRateLimits removes rate limit counters older than 7 days, per spec
// §3's Lifecycle note ("purged after 7 days").
func (s *Store) PurgeRateLimits(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -7).Format("2006-01-02")
	res, err := s.db.ExecContext(ctx, `DELETE FROM rate_limits WHERE date < ?;`, cutoff)
	if err != nil {
		s.recordFailure()
		return 0, fmt.Errorf("purge rate limits: %w", err)
	}
	s.recordSuccess()
	return res.RowsAffected()
}
