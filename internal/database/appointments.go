package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"slotkeeper/internal/availability"
	"slotkeeper/internal/domain"
	"slotkeeper/internal/models"
)

const appointmentColumns = `id, owner_id, client_id, client_name, phone, service_ids, message, address,
	start_at, duration_minutes, travel_minutes, buffer_minutes, travel_provisional,
	status, cancelled_by, created_at, expires_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAppointment(row rowScanner) (*models.Appointment, error) {
	var (
		a                                   models.Appointment
		serviceIDs, status                  string
		startAt, createdAt, expiresAt, upAt int64
	)
	err := row.Scan(
		&a.ID, &a.OwnerID, &a.ClientID, &a.ClientName, &a.Phone, &serviceIDs, &a.Message, &a.Address,
		&startAt, &a.DurationMinutes, &a.TravelMinutes, &a.BufferMinutes, &a.TravelProvisional,
		&status, &a.CancelledBy, &createdAt, &expiresAt, &upAt, &a.Version,
	)
	if err != nil {
		return nil, err
	}

	parsed, ok := models.ParseStatus(status)
	if !ok {
		return nil, fmt.Errorf("appointment %s has unknown status %q", a.ID, status)
	}
	a.Status = parsed
	if err := json.Unmarshal([]byte(serviceIDs), &a.ServiceIDs); err != nil {
		return nil, fmt.Errorf("failed to decode service ids of %s: %w", a.ID, err)
	}
	a.StartAt = fromMillis(startAt)
	a.CreatedAt = fromMillis(createdAt)
	a.ExpiresAt = fromMillis(expiresAt)
	a.UpdatedAt = fromMillis(upAt)
	return &a, nil
}

func scanAppointments(rows *sql.Rows) ([]*models.Appointment, error) {
	defer rows.Close()

	var out []*models.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (db *DB) GetAppointment(ctx context.Context, id string) (*models.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = ?`
	a, err := scanAppointment(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("appointment %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get appointment: %w", err)
	}
	return a, nil
}

// ListOwnerAppointments returns every appointment of the owner whose occupied
// interval intersects [start, end), in any status, ordered by start.
func (db *DB) ListOwnerAppointments(ctx context.Context, ownerID string, start, end time.Time) ([]*models.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments
              WHERE owner_id = ? AND start_at < ? AND end_at > ?
              ORDER BY start_at, created_at`
	rows, err := db.QueryContext(ctx, query, ownerID, toMillis(end), toMillis(start))
	if err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	return scanAppointments(rows)
}

// ownerConflictsTx loads the owner's rows around iv inside tx and lets
// availability.FindConflicts decide which of them actually block it.
func ownerConflictsTx(ctx context.Context, tx *sql.Tx, ownerID, excludeID string, iv models.Interval) ([]*models.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments
              WHERE owner_id = ? AND id <> ? AND start_at < ? AND end_at > ?
              ORDER BY start_at, created_at`
	rows, err := tx.QueryContext(ctx, query, ownerID, excludeID, toMillis(iv.End), toMillis(iv.Start))
	if err != nil {
		return nil, fmt.Errorf("failed to check conflicts in tx: %w", err)
	}
	nearby, err := scanAppointments(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to read conflicts in tx: %w", err)
	}
	return availability.FindConflicts(iv, nearby), nil
}

// CreatePendingWithLock re-checks the owner's calendar and inserts inside one
// immediate transaction. A competing booking that committed first surfaces as
// *domain.ConflictError; lock contention surfaces as domain.ErrConcurrentInsert.
func (db *DB) CreatePendingWithLock(ctx context.Context, appt *models.Appointment) error {
	occupied := appt.Occupied()

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		conflicts, err := ownerConflictsTx(ctx, tx, appt.OwnerID, appt.ID, occupied)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			return &domain.ConflictError{Conflicts: conflicts}
		}

		serviceIDs, err := json.Marshal(appt.ServiceIDs)
		if err != nil {
			return fmt.Errorf("failed to encode service ids: %w", err)
		}
		if appt.ServiceIDs == nil {
			serviceIDs = []byte("[]")
		}

		appt.Version = 1
		insert := `INSERT INTO appointments (
                      id, owner_id, client_id, client_name, phone, service_ids, message, address,
                      start_at, end_at, duration_minutes, travel_minutes, buffer_minutes, travel_provisional,
                      status, cancelled_by, created_at, expires_at, updated_at, version
                  ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		_, err = tx.ExecContext(ctx, insert,
			appt.ID, appt.OwnerID, appt.ClientID, appt.ClientName, appt.Phone, string(serviceIDs), appt.Message, appt.Address,
			toMillis(appt.StartAt), toMillis(occupied.End), appt.DurationMinutes, appt.TravelMinutes, appt.BufferMinutes, appt.TravelProvisional,
			string(appt.Status), appt.CancelledBy, toMillis(appt.CreatedAt), toMillis(appt.ExpiresAt), toMillis(appt.UpdatedAt), appt.Version,
		)
		if err != nil {
			return fmt.Errorf("failed to insert appointment in tx: %w", err)
		}

		return insertEvent(ctx, tx, appt.ID, "", appt.Status, appt.ClientID, appt.CreatedAt)
	})
	if err != nil && isBusy(err) {
		return fmt.Errorf("%w: %v", domain.ErrConcurrentInsert, err)
	}
	return err
}

// TransitionStatus is a guarded update: it only applies while the row is
// still in from, so the loser of a race sees domain.ErrStaleTransition.
func (db *DB) TransitionStatus(ctx context.Context, id string, from, to models.Status, actor string, at time.Time) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		query := `UPDATE appointments
                  SET status = ?,
                      cancelled_by = CASE WHEN ? = 'cancelled' THEN ? ELSE cancelled_by END,
                      updated_at = ?,
                      version = version + 1
                  WHERE id = ? AND status = ?`
		res, err := tx.ExecContext(ctx, query, string(to), string(to), actor, toMillis(at), id, string(from))
		if err != nil {
			return fmt.Errorf("failed to update appointment status: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if n == 0 {
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM appointments WHERE id = ?`, id).Scan(&exists)
			if err != nil {
				return fmt.Errorf("failed to check appointment: %w", err)
			}
			if exists == 0 {
				return fmt.Errorf("appointment %s: %w", id, domain.ErrNotFound)
			}
			return fmt.Errorf("appointment %s: %w", id, domain.ErrStaleTransition)
		}

		return insertEvent(ctx, tx, id, from, to, actor, at)
	})
}

// ExpirePending moves every pending appointment whose expires_at is before now
// to expired and returns their ids. Rows in other statuses are untouched.
func (db *DB) ExpirePending(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id FROM appointments WHERE status = ? AND expires_at < ? ORDER BY expires_at`,
			string(models.StatusPending), toMillis(now))
		if err != nil {
			return fmt.Errorf("failed to select expired reservations: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE appointments SET status = ?, updated_at = ?, version = version + 1
             WHERE status = ? AND expires_at < ?`,
			string(models.StatusExpired), toMillis(now), string(models.StatusPending), toMillis(now))
		if err != nil {
			return fmt.Errorf("failed to expire reservations: %w", err)
		}

		for _, id := range ids {
			if err := insertEvent(ctx, tx, id, models.StatusPending, models.StatusExpired, models.ActorSystem, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// UpdateTravel rewrites the travel component and the stored occupied end.
// A live appointment that would grow into a neighbour is left untouched and
// the neighbours come back as *domain.ConflictError.
func (db *DB) UpdateTravel(ctx context.Context, id string, travelMinutes int, provisional bool) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = ?`
		appt, err := scanAppointment(tx.QueryRowContext(ctx, query, id))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("appointment %s: %w", id, domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to load appointment in tx: %w", err)
		}

		before := appt.Occupied()
		appt.TravelMinutes = travelMinutes
		after := appt.Occupied()
		if appt.Status.BlocksCalendar() && after.End.After(before.End) {
			conflicts, err := ownerConflictsTx(ctx, tx, appt.OwnerID, appt.ID, after)
			if err != nil {
				return err
			}
			if len(conflicts) > 0 {
				return &domain.ConflictError{Conflicts: conflicts}
			}
		}

		update := `UPDATE appointments
                   SET travel_minutes = ?,
                       travel_provisional = ?,
                       end_at = ?,
                       updated_at = ?,
                       version = version + 1
                   WHERE id = ?`
		_, err = tx.ExecContext(ctx, update, travelMinutes, provisional, toMillis(after.End), toMillis(time.Now()), id)
		if err != nil {
			return fmt.Errorf("failed to update travel: %w", err)
		}
		return nil
	})
}

// ListProvisional returns live appointments whose travel time is still the
// fallback default.
func (db *DB) ListProvisional(ctx context.Context, limit int) ([]*models.Appointment, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + appointmentColumns + ` FROM appointments
              WHERE travel_provisional = 1 AND status IN (?, ?)
              ORDER BY start_at LIMIT ?`
	rows, err := db.QueryContext(ctx, query, string(models.StatusPending), string(models.StatusConfirmed), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list provisional appointments: %w", err)
	}
	return scanAppointments(rows)
}

func (db *DB) GetStatusHistory(ctx context.Context, id string) ([]models.StatusChange, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, appointment_id, from_status, to_status, actor, changed_at
         FROM appointment_events WHERE appointment_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get status history: %w", err)
	}
	defer rows.Close()

	var out []models.StatusChange
	for rows.Next() {
		var (
			c        models.StatusChange
			from, to string
			at       int64
		)
		if err := rows.Scan(&c.ID, &c.AppointmentID, &from, &to, &c.Actor, &at); err != nil {
			return nil, err
		}
		c.From = models.Status(from)
		c.To = models.Status(to)
		c.ChangedAt = fromMillis(at)
		out = append(out, c)
	}
	return out, rows.Err()
}

func insertEvent(ctx context.Context, tx *sql.Tx, id string, from, to models.Status, actor string, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO appointment_events (appointment_id, from_status, to_status, actor, changed_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(from), string(to), actor, toMillis(at))
	if err != nil {
		return fmt.Errorf("failed to record status change: %w", err)
	}
	return nil
}
