package database

import (
	"context"
	"fmt"

	"slotkeeper/internal/models"
)

func (db *DB) IsBlocked(ctx context.Context, ownerID, phone string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM client_blocks WHERE owner_id = ? AND phone = ?`, ownerID, phone,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check block list: %w", err)
	}
	return count > 0, nil
}

// Block inserts or refreshes the (owner, phone) entry.
func (db *DB) Block(ctx context.Context, entry *models.BlockEntry) error {
	_, err := db.ExecContext(ctx, `
        INSERT INTO client_blocks (owner_id, phone, reason, blocked_at) VALUES (?, ?, ?, ?)
        ON CONFLICT(owner_id, phone) DO UPDATE SET
            reason = excluded.reason,
            blocked_at = excluded.blocked_at`,
		entry.OwnerID, entry.Phone, entry.Reason, toMillis(entry.BlockedAt))
	if err != nil {
		return fmt.Errorf("failed to block client: %w", err)
	}
	return nil
}

func (db *DB) Unblock(ctx context.Context, ownerID, phone string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM client_blocks WHERE owner_id = ? AND phone = ?`, ownerID, phone)
	if err != nil {
		return fmt.Errorf("failed to unblock client: %w", err)
	}
	return nil
}

func (db *DB) ListBlocked(ctx context.Context, ownerID string) ([]*models.BlockEntry, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT owner_id, phone, reason, blocked_at FROM client_blocks WHERE owner_id = ? ORDER BY phone`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocked clients: %w", err)
	}
	defer rows.Close()

	var out []*models.BlockEntry
	for rows.Next() {
		var e models.BlockEntry
		var at int64
		if err := rows.Scan(&e.OwnerID, &e.Phone, &e.Reason, &at); err != nil {
			return nil, err
		}
		e.BlockedAt = fromMillis(at)
		out = append(out, &e)
	}
	return out, rows.Err()
}
