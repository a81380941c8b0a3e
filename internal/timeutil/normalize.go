package timeutil

import (
	"fmt"
	"strings"
	"time"

	"slotkeeper/internal/models"
)

// ParseDate parses a YYYY-MM-DD civil date. The result carries only the
// calendar fields and is anchored at UTC midnight.
func ParseDate(raw string) (time.Time, error) {
	d, err := time.Parse(models.DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", raw)
	}
	return d, nil
}

// CivilDate strips a time down to its calendar date in loc.
func CivilDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ToInstant converts a wall-clock time on a civil date in loc to an absolute
// instant.
//
// A wall time repeated by a fall-back transition resolves to its first
// occurrence. A wall time skipped by a spring-forward transition resolves to
// the transition instant, the first valid instant after the gap.
func ToInstant(date time.Time, tod models.TimeOfDay, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := date.Date()
	wall := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Add(time.Duration(tod) * time.Minute)

	var valid, latest time.Time
	for _, probe := range []time.Time{wall.Add(-24 * time.Hour), wall, wall.Add(24 * time.Hour)} {
		_, offset := probe.In(loc).Zone()
		candidate := wall.Add(-time.Duration(offset) * time.Second)
		if latest.IsZero() || candidate.After(latest) {
			latest = candidate
		}
		if !sameWallClock(candidate.In(loc), wall) {
			continue
		}
		if valid.IsZero() || candidate.Before(valid) {
			valid = candidate
		}
	}
	if !valid.IsZero() {
		return valid.In(loc)
	}

	// Gap: the latest candidate lands after the transition, whose zone
	// period begins exactly at the first valid instant.
	start, _ := latest.In(loc).ZoneBounds()
	if start.IsZero() {
		return latest.In(loc)
	}
	return start.In(loc)
}

// StartOfDay is local midnight of date in loc, DST-resolved.
func StartOfDay(date time.Time, loc *time.Location) time.Time {
	return ToInstant(date, 0, loc)
}

// DayBounds returns [midnight, next midnight) of date in loc. The span is not
// always 24h.
func DayBounds(date time.Time, loc *time.Location) models.Interval {
	return models.Interval{
		Start: StartOfDay(date, loc),
		End:   StartOfDay(date.AddDate(0, 0, 1), loc),
	}
}

// WallClock splits an instant into its local civil date and time of day.
func WallClock(t time.Time, loc *time.Location) (time.Time, models.TimeOfDay) {
	local := t.In(loc)
	return CivilDate(local, loc), models.TimeOfDay(local.Hour()*60 + local.Minute())
}

func sameWallClock(local, wall time.Time) bool {
	ly, lm, ld := local.Date()
	wy, wm, wd := wall.Date()
	return ly == wy && lm == wm && ld == wd &&
		local.Hour() == wall.Hour() && local.Minute() == wall.Minute()
}
