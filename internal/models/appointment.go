package models

import "time"

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusNoShow    Status = "no_show"
	StatusCompleted Status = "completed"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPending,
	StatusConfirmed,
	StatusCancelled,
	StatusExpired,
	StatusNoShow,
	StatusCompleted,
}

// ParseStatus validates a persisted status string.
func ParseStatus(raw string) (Status, bool) {
	for _, s := range AllStatuses {
		if string(s) == raw {
			return s, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCancelled, StatusExpired, StatusNoShow, StatusCompleted:
		return true
	case StatusPending, StatusConfirmed:
		return false
	}
	return true
}

// BlocksCalendar reports whether an appointment in this status occupies time.
// Cancelled, expired and no-show appointments never block a slot.
func (s Status) BlocksCalendar() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted:
		return true
	case StatusCancelled, StatusExpired, StatusNoShow:
		return false
	}
	return false
}

// CanTransition reports whether from -> to is an allowed lifecycle edge.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusPending:
		switch to {
		case StatusConfirmed, StatusCancelled, StatusExpired, StatusNoShow:
			return true
		}
	case StatusConfirmed:
		switch to {
		case StatusCompleted, StatusCancelled, StatusNoShow:
			return true
		}
	case StatusCancelled, StatusExpired, StatusNoShow, StatusCompleted:
		return false
	}
	return false
}

type Appointment struct {
	ID                string    `json:"id"`
	OwnerID           string    `json:"owner_id"`
	ClientID          string    `json:"client_id"`
	ClientName        string    `json:"client_name"`
	Phone             string    `json:"phone"`
	ServiceIDs        []string  `json:"service_ids"`
	Message           string    `json:"message,omitempty"`
	Address           string    `json:"address,omitempty"`
	StartAt           time.Time `json:"start_at"`
	DurationMinutes   int       `json:"duration_minutes"`
	TravelMinutes     int       `json:"travel_minutes"`
	BufferMinutes     int       `json:"buffer_minutes"`
	TravelProvisional bool      `json:"travel_provisional"`
	Status            Status    `json:"status"`
	CancelledBy       string    `json:"cancelled_by,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	Version           int64     `json:"version"`
}

// ServiceEnd is the end of the service itself, without travel or buffer.
func (a *Appointment) ServiceEnd() time.Time {
	return a.StartAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// Occupied is the effective occupied interval [start, start+duration+travel+buffer).
func (a *Appointment) Occupied() Interval {
	total := a.DurationMinutes + a.TravelMinutes + a.BufferMinutes
	return Interval{Start: a.StartAt, End: a.StartAt.Add(time.Duration(total) * time.Minute)}
}

// IsExpiredAt reports whether a pending reservation outlived its TTL.
func (a *Appointment) IsExpiredAt(now time.Time) bool {
	return a.Status == StatusPending && now.After(a.ExpiresAt)
}

// StatusChange is one row of the append-only audit trail.
type StatusChange struct {
	ID            int64     `json:"id"`
	AppointmentID string    `json:"appointment_id"`
	From          Status    `json:"from"`
	To            Status    `json:"to"`
	Actor         string    `json:"actor"`
	ChangedAt     time.Time `json:"changed_at"`
}
