package availability

import (
	"time"

	"slotkeeper/internal/models"
)

// Overlaps reports whether two half-open intervals intersect. Touching
// intervals (a.End == b.Start) do not overlap.
func Overlaps(a, b models.Interval) bool {
	return !HasBuffer(a, b, 0)
}

// HasBuffer reports whether the gap between the earlier interval's end and the
// later one's start is at least minMinutes.
func HasBuffer(a, b models.Interval, minMinutes int) bool {
	first, second := a, b
	if second.Start.Before(first.Start) {
		first, second = second, first
	}
	return second.Start.Sub(first.End) >= time.Duration(minMinutes)*time.Minute
}

// ActiveAppointments drops appointments whose status never blocks a slot.
func ActiveAppointments(list []*models.Appointment) []*models.Appointment {
	out := make([]*models.Appointment, 0, len(list))
	for _, a := range list {
		if a != nil && a.Status.BlocksCalendar() {
			out = append(out, a)
		}
	}
	return out
}

// FindConflicts returns every active appointment whose occupied interval
// overlaps candidate, in input order.
func FindConflicts(candidate models.Interval, existing []*models.Appointment) []*models.Appointment {
	var out []*models.Appointment
	for _, a := range ActiveAppointments(existing) {
		if Overlaps(candidate, a.Occupied()) {
			out = append(out, a)
		}
	}
	return out
}
