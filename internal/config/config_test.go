package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotkeeper/internal/models"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("SLOTKEEPER_DB", filepath.Join(tmpDir, "test.db"))

	yamlContent := `
database:
  path: "${SLOTKEEPER_DB}"
booking:
  pending_ttl: 15m
  travel_timeout: 1500ms
owners:
  - id: anna
    name: "Anna Nails"
    timezone: Europe/Berlin
    schedule:
      monday:
        start: "10:00"
        end: "18:00"
        breaks:
          - start: "13:00"
            end: "13:30"
      sun:
        enabled: false
    services:
      - id: manicure
        name: Manicure
        duration_minutes: 60
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(tmpDir, "test.db"), cfg.Database.Path)
	assert.Equal(t, 15*time.Minute, cfg.Booking.PendingTTL)
	assert.Equal(t, 1500*time.Millisecond, cfg.Booking.TravelTimeout)
	assert.Equal(t, models.DefaultRateLimitMax, cfg.Booking.RateLimitMax)
	assert.Equal(t, 24*time.Hour, cfg.Booking.RateLimitWindow)
	assert.Equal(t, models.DefaultSweepSchedule, cfg.Booking.SweepSchedule)
	assert.Equal(t, 8080, cfg.API.HTTP.Port)

	require.Len(t, cfg.Owners, 1)
	owner, err := cfg.Owners[0].ToModel()
	require.NoError(t, err)
	assert.True(t, owner.Schedule[time.Monday].Enabled)
	assert.Equal(t, models.MustTimeOfDay("13:00"), owner.Schedule[time.Monday].Breaks[0].Start)
	assert.False(t, owner.Schedule[time.Sunday].Enabled)
	assert.Equal(t, 60, owner.Services[0].DurationMinutes)
	assert.Equal(t, "anna", owner.Services[0].OwnerID)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	valid := func() Config {
		c := Config{Database: DatabaseConfig{Path: "path"}}
		c.applyDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "negative rate limit", mutate: func(c *Config) { c.Booking.RateLimitMax = -1 }, wantErr: true},
		{name: "negative travel", mutate: func(c *Config) { c.Booking.DefaultTravelMinutes = -5 }, wantErr: true},
		{
			name: "duplicate owners",
			mutate: func(c *Config) {
				c.Owners = []OwnerConfig{{ID: "a"}, {ID: "a"}}
			},
			wantErr: true,
		},
		{
			name: "bad timezone",
			mutate: func(c *Config) {
				c.Owners = []OwnerConfig{{ID: "a", Timezone: "Nowhere/City"}}
			},
			wantErr: true,
		},
		{
			name: "empty api key",
			mutate: func(c *Config) {
				c.API.Enabled = true
				c.API.Auth.Enabled = true
				c.API.Auth.APIKeys = []APIClientKey{{Name: "frontend"}}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOwnerConfigToModel(t *testing.T) {
	enabled := true
	base := OwnerConfig{
		ID:       "o",
		Timezone: "UTC",
		Schedule: map[string]ScheduleDayConfig{
			"friday": {Enabled: &enabled, Start: "09:00", End: "17:00"},
		},
		Services: []ServiceConfig{{ID: "s", Duration: 30}},
	}

	_, err := base.ToModel()
	require.NoError(t, err)

	bad := base
	bad.Schedule = map[string]ScheduleDayConfig{"funday": {Start: "09:00", End: "17:00"}}
	_, err = bad.ToModel()
	assert.Error(t, err)

	bad = base
	bad.Schedule = map[string]ScheduleDayConfig{"friday": {Start: "17:00", End: "09:00"}}
	_, err = bad.ToModel()
	assert.Error(t, err)

	bad = base
	bad.Schedule = map[string]ScheduleDayConfig{"friday": {Start: "09:00", End: "17:00", Breaks: []BreakConfig{{Start: "08:00", End: "08:30"}}}}
	_, err = bad.ToModel()
	assert.Error(t, err, "break outside working hours")

	bad = base
	bad.Services = []ServiceConfig{{ID: "s", Duration: 0}}
	_, err = bad.ToModel()
	assert.Error(t, err)
}

func TestParseWeekday(t *testing.T) {
	wd, err := ParseWeekday("Thu")
	require.NoError(t, err)
	assert.Equal(t, time.Thursday, wd)

	wd, err = ParseWeekday("saturday")
	require.NoError(t, err)
	assert.Equal(t, time.Saturday, wd)

	_, err = ParseWeekday("t")
	assert.Error(t, err)
}
