package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"slotkeeper/internal/models"
)

// CheckAndIncrement is the persistent rate limit used when Redis is not
// configured. The read and the write share one immediate transaction.
func (db *DB) CheckAndIncrement(ctx context.Context, phone string, limit int, window time.Duration, now time.Time) (models.RateLimitDecision, error) {
	var dec models.RateLimitDecision
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var count int
		var start, end int64
		err := tx.QueryRowContext(ctx,
			`SELECT count, window_start, window_end FROM rate_limits WHERE phone = ?`, phone,
		).Scan(&count, &start, &end)

		switch {
		case errors.Is(err, sql.ErrNoRows) || (err == nil && toMillis(now) > end):
			end = toMillis(now.Add(window))
			_, err = tx.ExecContext(ctx, `
                INSERT INTO rate_limits (phone, count, window_start, window_end) VALUES (?, 1, ?, ?)
                ON CONFLICT(phone) DO UPDATE SET
                    count = 1,
                    window_start = excluded.window_start,
                    window_end = excluded.window_end`,
				phone, toMillis(now), end)
			if err != nil {
				return fmt.Errorf("failed to open rate limit window: %w", err)
			}
			dec = rateDecision(true, 1, limit, end)
		case err != nil:
			return fmt.Errorf("failed to read rate limit: %w", err)
		case count < limit:
			count++
			if _, err := tx.ExecContext(ctx, `UPDATE rate_limits SET count = ? WHERE phone = ?`, count, phone); err != nil {
				return fmt.Errorf("failed to increment rate limit: %w", err)
			}
			dec = rateDecision(true, count, limit, end)
		default:
			dec = rateDecision(false, count, limit, end)
		}
		return nil
	})
	return dec, err
}

func rateDecision(allowed bool, count, limit int, endMs int64) models.RateLimitDecision {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return models.RateLimitDecision{
		Allowed:   allowed,
		Count:     count,
		Remaining: remaining,
		ResetTime: fromMillis(endMs),
	}
}
