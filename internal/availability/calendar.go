package availability

import (
	"sort"
	"time"

	"slotkeeper/internal/models"
	"slotkeeper/internal/timeutil"
)

// FallbackDay is the schedule used for a weekday with no configuration.
// It is open rather than closed so a partially configured owner stays bookable.
func FallbackDay(weekday time.Weekday) models.ScheduleDay {
	return models.ScheduleDay{
		Weekday: weekday,
		Enabled: true,
		Start:   models.FallbackDayStart,
		End:     models.FallbackDayEnd,
	}
}

// Calendar answers per-date working-hours questions for one owner.
type Calendar struct {
	loc  *time.Location
	days map[time.Weekday]models.ScheduleDay
}

// NewCalendar builds a calendar from an owner's weekly schedule.
func NewCalendar(owner *models.Owner) (*Calendar, error) {
	loc, err := owner.Location()
	if err != nil {
		return nil, err
	}
	days := make(map[time.Weekday]models.ScheduleDay, len(owner.Schedule))
	for wd, day := range owner.Schedule {
		if day.Enabled {
			if err := day.Validate(); err != nil {
				return nil, err
			}
		}
		day.Weekday = wd
		days[wd] = day
	}
	return &Calendar{loc: loc, days: days}, nil
}

func (c *Calendar) Location() *time.Location {
	return c.loc
}

// Day returns the configuration for the weekday of date.
func (c *Calendar) Day(date time.Time) models.ScheduleDay {
	wd := date.Weekday()
	if day, ok := c.days[wd]; ok {
		return day
	}
	return FallbackDay(wd)
}

// OpenIntervals returns the bookable intervals of date: working hours minus
// breaks. A disabled day has none.
func (c *Calendar) OpenIntervals(date time.Time) []models.Interval {
	day := c.Day(date)
	if !day.Enabled {
		return nil
	}

	breaks := append([]models.BreakInterval(nil), day.Breaks...)
	sort.Slice(breaks, func(i, j int) bool { return breaks[i].Start < breaks[j].Start })

	var out []models.Interval
	cursor := day.Start
	for _, b := range breaks {
		if b.End <= cursor {
			continue
		}
		if b.Start > cursor {
			out = append(out, c.interval(date, cursor, b.Start))
		}
		cursor = b.End
	}
	if cursor < day.End {
		out = append(out, c.interval(date, cursor, day.End))
	}
	return out
}

// BreakIntervals returns the configured breaks of date as instants.
func (c *Calendar) BreakIntervals(date time.Time) []models.Interval {
	day := c.Day(date)
	out := make([]models.Interval, 0, len(day.Breaks))
	for _, b := range day.Breaks {
		out = append(out, c.interval(date, b.Start, b.End))
	}
	return out
}

// Fits reports whether iv lies entirely inside one open interval of date.
func (c *Calendar) Fits(date time.Time, iv models.Interval) bool {
	return insideAny(c.OpenIntervals(date), iv)
}

// EffectiveDisplayRange is the configured range of date widened to the start
// hour of any active appointment that begins outside it.
func (c *Calendar) EffectiveDisplayRange(date time.Time, appointments []*models.Appointment) models.Interval {
	day := c.Day(date)
	lo, hi := day.Start, day.End
	if lo >= hi {
		// disabled days may carry no hours; show the fallback window blocked
		lo, hi = models.FallbackDayStart, models.FallbackDayEnd
	}

	for _, a := range ActiveAppointments(appointments) {
		apptDate, tod := timeutil.WallClock(a.StartAt, c.loc)
		if !apptDate.Equal(timeutil.CivilDate(date, time.UTC)) {
			continue
		}
		hour := models.TimeOfDay(tod.Hour() * 60)
		if hour < lo {
			lo = hour
		}
		if tod >= hi {
			next := hour + 60
			if next > models.EndOfDay {
				next = models.EndOfDay
			}
			hi = next
		}
	}
	return c.interval(date, lo, hi)
}

func (c *Calendar) interval(date time.Time, from, to models.TimeOfDay) models.Interval {
	return models.Interval{
		Start: timeutil.ToInstant(date, from, c.loc),
		End:   timeutil.ToInstant(date, to, c.loc),
	}
}
