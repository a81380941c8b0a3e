package availability

import (
	"fmt"
	"time"

	"slotkeeper/internal/models"
)

// GenerateSlots walks the display range of date in granularity-minute steps.
// A slot is blocked when the day is disabled, when an active appointment
// occupies it, or when it is not fully inside an open interval.
func GenerateSlots(date time.Time, granularityMinutes int, existing []*models.Appointment, cal *Calendar) ([]models.Slot, error) {
	if granularityMinutes <= 0 {
		return nil, fmt.Errorf("granularity must be positive, got %d", granularityMinutes)
	}
	if cal == nil {
		return nil, fmt.Errorf("calendar is required")
	}

	day := cal.Day(date)
	active := ActiveAppointments(existing)
	display := cal.EffectiveDisplayRange(date, active)
	breaks := cal.BreakIntervals(date)
	open := cal.OpenIntervals(date)
	step := time.Duration(granularityMinutes) * time.Minute

	var slots []models.Slot
	for start := display.Start; start.Before(display.End); start = start.Add(step) {
		end := start.Add(step)
		if end.After(display.End) {
			end = display.End
		}
		iv := models.Interval{Start: start, End: end}
		slot := models.Slot{Start: start, End: end}

		switch {
		case !day.Enabled:
			slot.Blocked = true
			slot.Reason = models.SlotReasonDayDisabled
		default:
			if conflicts := FindConflicts(iv, active); len(conflicts) > 0 {
				slot.Blocked = true
				slot.Reason = models.SlotReasonOccupied
				slot.AppointmentID = conflicts[0].ID
			} else if !insideAny(open, iv) {
				slot.Blocked = true
				slot.Reason = models.SlotReasonOutsideHours
				for _, b := range breaks {
					if Overlaps(iv, b) {
						slot.Reason = models.SlotReasonBreak
						break
					}
				}
			}
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

func insideAny(open []models.Interval, iv models.Interval) bool {
	for _, o := range open {
		if o.Contains(iv) {
			return true
		}
	}
	return false
}
