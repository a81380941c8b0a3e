package models

import "time"

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Contains reports whether other lies fully inside i.
func (i Interval) Contains(other Interval) bool {
	return !other.Start.Before(i.Start) && !other.End.After(i.End)
}

const (
	SlotReasonDayDisabled  = "day_disabled"
	SlotReasonOutsideHours = "outside_hours"
	SlotReasonBreak        = "break"
	SlotReasonOccupied     = "occupied"
)

// Slot is a derived, display-only candidate interval.
type Slot struct {
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Blocked       bool      `json:"blocked"`
	Reason        string    `json:"reason,omitempty"`
	AppointmentID string    `json:"appointment_id,omitempty"`
}

// BookingRequest is the inbound booking payload.
type BookingRequest struct {
	OwnerID    string   `json:"owner_id"`
	Phone      string   `json:"phone"`
	ClientName string   `json:"client_name"`
	Date       string   `json:"date"`
	Time       string   `json:"time"`
	ServiceIDs []string `json:"service_ids"`
	Message    string   `json:"message,omitempty"`
	Address    string   `json:"address,omitempty"`
}
