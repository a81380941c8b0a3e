package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock time as minutes since local midnight.
type TimeOfDay int

const (
	MinutesPerDay = 24 * 60
	EndOfDay      = TimeOfDay(MinutesPerDay)
)

// ParseTimeOfDay parses "HH:MM". "24:00" is accepted as the end of the day.
func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	raw = strings.TrimSpace(raw)
	hh, mm, ok := strings.Cut(raw, ":")
	if !ok {
		return 0, fmt.Errorf("invalid time of day %q: expected HH:MM", raw)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("invalid hour in %q", raw)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || len(mm) != 2 {
		return 0, fmt.Errorf("invalid minute in %q", raw)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("time of day %q out of range", raw)
	}
	return TimeOfDay(h*60 + m), nil
}

func MustTimeOfDay(raw string) TimeOfDay {
	t, err := ParseTimeOfDay(raw)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// BreakInterval is a blocked sub-interval inside a working day.
type BreakInterval struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

// ScheduleDay is the working configuration of one weekday.
type ScheduleDay struct {
	Weekday time.Weekday    `json:"weekday"`
	Enabled bool            `json:"enabled"`
	Start   TimeOfDay       `json:"start"`
	End     TimeOfDay       `json:"end"`
	Breaks  []BreakInterval `json:"breaks"`
}

func (d ScheduleDay) Validate() error {
	if d.Start < 0 || d.End > EndOfDay {
		return fmt.Errorf("%s: hours out of range", d.Weekday)
	}
	if d.Start >= d.End {
		return fmt.Errorf("%s: start %s must be before end %s", d.Weekday, d.Start, d.End)
	}
	for _, b := range d.Breaks {
		if b.Start >= b.End {
			return fmt.Errorf("%s: break %s-%s is empty", d.Weekday, b.Start, b.End)
		}
		if b.Start < d.Start || b.End > d.End {
			return fmt.Errorf("%s: break %s-%s outside working hours", d.Weekday, b.Start, b.End)
		}
	}
	return nil
}

// Service is a bookable service from an owner's catalog.
type Service struct {
	ID              string `json:"id"`
	OwnerID         string `json:"owner_id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
}

// Owner is a service provider with a calendar.
type Owner struct {
	ID                 string                       `json:"id"`
	Name               string                       `json:"name"`
	Timezone           string                       `json:"timezone"`
	BaseAddress        string                       `json:"base_address"`
	GraceBufferMinutes int                          `json:"grace_buffer_minutes"`
	Schedule           map[time.Weekday]ScheduleDay `json:"schedule"`
	Services           []Service                    `json:"services"`
}

// Location resolves the owner's IANA timezone, UTC when unset.
func (o *Owner) Location() (*time.Location, error) {
	if strings.TrimSpace(o.Timezone) == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(o.Timezone)
	if err != nil {
		return nil, fmt.Errorf("owner %s: load timezone %q: %w", o.ID, o.Timezone, err)
	}
	return loc, nil
}

// ServiceByID looks up a catalog entry.
func (o *Owner) ServiceByID(id string) (Service, bool) {
	for _, s := range o.Services {
		if s.ID == id {
			return s, true
		}
	}
	return Service{}, false
}
