package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"slotkeeper/internal/domain"
	"slotkeeper/internal/models"
)

// UpsertOwner replaces the owner's settings, weekly schedule and catalog.
func (db *DB) UpsertOwner(ctx context.Context, owner *models.Owner) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO owners (id, name, timezone, base_address, grace_buffer_minutes, updated_at)
            VALUES (?, ?, ?, ?, ?, ?)
            ON CONFLICT(id) DO UPDATE SET
                name = excluded.name,
                timezone = excluded.timezone,
                base_address = excluded.base_address,
                grace_buffer_minutes = excluded.grace_buffer_minutes,
                updated_at = excluded.updated_at`,
			owner.ID, owner.Name, owner.Timezone, owner.BaseAddress, owner.GraceBufferMinutes, time.Now())
		if err != nil {
			return fmt.Errorf("failed to upsert owner: %w", err)
		}

		for _, table := range []string{"schedule_days", "schedule_breaks", "services"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE owner_id = ?`, owner.ID); err != nil {
				return fmt.Errorf("failed to reset %s: %w", table, err)
			}
		}

		for wd, day := range owner.Schedule {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schedule_days (owner_id, weekday, enabled, start_minute, end_minute) VALUES (?, ?, ?, ?, ?)`,
				owner.ID, int(wd), day.Enabled, int(day.Start), int(day.End))
			if err != nil {
				return fmt.Errorf("failed to insert schedule day: %w", err)
			}
			for _, b := range day.Breaks {
				_, err := tx.ExecContext(ctx,
					`INSERT INTO schedule_breaks (owner_id, weekday, start_minute, end_minute) VALUES (?, ?, ?, ?)`,
					owner.ID, int(wd), int(b.Start), int(b.End))
				if err != nil {
					return fmt.Errorf("failed to insert break: %w", err)
				}
			}
		}

		for i, s := range owner.Services {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO services (owner_id, id, name, duration_minutes, position) VALUES (?, ?, ?, ?, ?)`,
				owner.ID, s.ID, s.Name, s.DurationMinutes, i)
			if err != nil {
				return fmt.Errorf("failed to insert service: %w", err)
			}
		}
		return nil
	})
}

func (db *DB) GetOwner(ctx context.Context, id string) (*models.Owner, error) {
	owner := &models.Owner{ID: id, Schedule: make(map[time.Weekday]models.ScheduleDay)}
	err := db.QueryRowContext(ctx,
		`SELECT name, timezone, base_address, grace_buffer_minutes FROM owners WHERE id = ?`, id,
	).Scan(&owner.Name, &owner.Timezone, &owner.BaseAddress, &owner.GraceBufferMinutes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("owner %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get owner: %w", err)
	}

	days, err := db.QueryContext(ctx,
		`SELECT weekday, enabled, start_minute, end_minute FROM schedule_days WHERE owner_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	for days.Next() {
		var wd, start, end int
		var enabled bool
		if err := days.Scan(&wd, &enabled, &start, &end); err != nil {
			days.Close()
			return nil, err
		}
		owner.Schedule[time.Weekday(wd)] = models.ScheduleDay{
			Weekday: time.Weekday(wd),
			Enabled: enabled,
			Start:   models.TimeOfDay(start),
			End:     models.TimeOfDay(end),
		}
	}
	days.Close()
	if err := days.Err(); err != nil {
		return nil, err
	}

	breaks, err := db.QueryContext(ctx,
		`SELECT weekday, start_minute, end_minute FROM schedule_breaks WHERE owner_id = ? ORDER BY weekday, start_minute`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get breaks: %w", err)
	}
	for breaks.Next() {
		var wd, start, end int
		if err := breaks.Scan(&wd, &start, &end); err != nil {
			breaks.Close()
			return nil, err
		}
		day, ok := owner.Schedule[time.Weekday(wd)]
		if !ok {
			continue
		}
		day.Breaks = append(day.Breaks, models.BreakInterval{Start: models.TimeOfDay(start), End: models.TimeOfDay(end)})
		owner.Schedule[time.Weekday(wd)] = day
	}
	breaks.Close()
	if err := breaks.Err(); err != nil {
		return nil, err
	}

	services, err := db.QueryContext(ctx,
		`SELECT id, name, duration_minutes FROM services WHERE owner_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get services: %w", err)
	}
	defer services.Close()
	for services.Next() {
		s := models.Service{OwnerID: id}
		if err := services.Scan(&s.ID, &s.Name, &s.DurationMinutes); err != nil {
			return nil, err
		}
		owner.Services = append(owner.Services, s)
	}
	if err := services.Err(); err != nil {
		return nil, err
	}

	return owner, nil
}

// ListOwnerIDs returns every stored owner id.
func (db *DB) ListOwnerIDs(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT id FROM owners ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list owners: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
