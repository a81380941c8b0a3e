package config

import (
	"fmt"
	"strings"
	"time"

	"slotkeeper/internal/models"
)

// OwnerConfig is the file representation of an owner and its catalog. The
// same tags are read by the main config and by the standalone owners file.
type OwnerConfig struct {
	ID                 string                       `yaml:"id"`
	Name               string                       `yaml:"name"`
	Timezone           string                       `yaml:"timezone"`
	BaseAddress        string                       `yaml:"base_address"`
	GraceBufferMinutes int                          `yaml:"grace_buffer_minutes"`
	Schedule           map[string]ScheduleDayConfig `yaml:"schedule"`
	Services           []ServiceConfig              `yaml:"services"`
}

type ScheduleDayConfig struct {
	// Enabled defaults to true when omitted.
	Enabled *bool         `yaml:"enabled"`
	Start   string        `yaml:"start"`
	End     string        `yaml:"end"`
	Breaks  []BreakConfig `yaml:"breaks"`
}

type BreakConfig struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

type ServiceConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Duration int    `yaml:"duration_minutes"`
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeekday accepts full lowercase names and three-letter abbreviations.
func ParseWeekday(raw string) (time.Weekday, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if wd, ok := weekdays[key]; ok {
		return wd, nil
	}
	for name, wd := range weekdays {
		if len(key) == 3 && strings.HasPrefix(name, key) {
			return wd, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", raw)
}

// ToModel converts and validates the owner.
func (o OwnerConfig) ToModel() (*models.Owner, error) {
	owner := &models.Owner{
		ID:                 o.ID,
		Name:               o.Name,
		Timezone:           o.Timezone,
		BaseAddress:        o.BaseAddress,
		GraceBufferMinutes: o.GraceBufferMinutes,
		Schedule:           make(map[time.Weekday]models.ScheduleDay, len(o.Schedule)),
	}
	if _, err := owner.Location(); err != nil {
		return nil, err
	}
	if o.GraceBufferMinutes < 0 {
		return nil, fmt.Errorf("owner %s: grace_buffer_minutes cannot be negative", o.ID)
	}

	for name, d := range o.Schedule {
		wd, err := ParseWeekday(name)
		if err != nil {
			return nil, fmt.Errorf("owner %s: %w", o.ID, err)
		}
		day, err := d.toModel(wd)
		if err != nil {
			return nil, fmt.Errorf("owner %s: %w", o.ID, err)
		}
		owner.Schedule[wd] = day
	}

	seen := make(map[string]bool)
	for _, s := range o.Services {
		if s.ID == "" || seen[s.ID] {
			return nil, fmt.Errorf("owner %s: service id %q is empty or duplicated", o.ID, s.ID)
		}
		if s.Duration <= 0 {
			return nil, fmt.Errorf("owner %s: service %s must have a positive duration", o.ID, s.ID)
		}
		seen[s.ID] = true
		owner.Services = append(owner.Services, models.Service{
			ID:              s.ID,
			OwnerID:         o.ID,
			Name:            s.Name,
			DurationMinutes: s.Duration,
		})
	}
	return owner, nil
}

func (d ScheduleDayConfig) toModel(wd time.Weekday) (models.ScheduleDay, error) {
	day := models.ScheduleDay{Weekday: wd, Enabled: d.Enabled == nil || *d.Enabled}
	if !day.Enabled && d.Start == "" && d.End == "" {
		return day, nil
	}

	var err error
	if day.Start, err = models.ParseTimeOfDay(d.Start); err != nil {
		return day, err
	}
	if day.End, err = models.ParseTimeOfDay(d.End); err != nil {
		return day, err
	}
	for _, b := range d.Breaks {
		start, err := models.ParseTimeOfDay(b.Start)
		if err != nil {
			return day, err
		}
		end, err := models.ParseTimeOfDay(b.End)
		if err != nil {
			return day, err
		}
		day.Breaks = append(day.Breaks, models.BreakInterval{Start: start, End: end})
	}
	return day, day.Validate()
}
