package timeutil

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotkeeper/internal/models"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func mustDate(t *testing.T, raw string) time.Time {
	t.Helper()
	d, err := ParseDate(raw)
	require.NoError(t, err)
	return d
}

func TestToInstant(t *testing.T) {
	ny := mustLoad(t, "America/New_York")

	t.Run("RegularDay", func(t *testing.T) {
		got := ToInstant(mustDate(t, "2025-06-10"), models.MustTimeOfDay("14:15"), ny)
		assert.Equal(t, time.Date(2025, 6, 10, 18, 15, 0, 0, time.UTC), got.UTC())
	})

	t.Run("SpringForwardGap", func(t *testing.T) {
		// 02:30 does not exist on 2025-03-09; clocks jump 02:00 EST -> 03:00 EDT.
		got := ToInstant(mustDate(t, "2025-03-09"), models.MustTimeOfDay("02:30"), ny)
		assert.Equal(t, time.Date(2025, 3, 9, 7, 0, 0, 0, time.UTC), got.UTC())
		assert.Equal(t, 3, got.Hour())
		assert.Equal(t, 0, got.Minute())
		name, _ := got.Zone()
		assert.Equal(t, "EDT", name)
	})

	t.Run("SpringForwardServiceEnd", func(t *testing.T) {
		start := ToInstant(mustDate(t, "2025-03-09"), models.MustTimeOfDay("01:30"), ny)
		end := start.Add(time.Hour)
		assert.Equal(t, time.Hour, end.Sub(start))
		// one elapsed hour shows as two hours on the wall clock
		assert.Equal(t, 3, end.Hour())
		assert.Equal(t, 30, end.Minute())
	})

	t.Run("FallBackRepeat", func(t *testing.T) {
		// 01:30 happens twice on 2025-11-02; the EDT occurrence is first.
		got := ToInstant(mustDate(t, "2025-11-02"), models.MustTimeOfDay("01:30"), ny)
		assert.Equal(t, time.Date(2025, 11, 2, 5, 30, 0, 0, time.UTC), got.UTC())
		name, _ := got.Zone()
		assert.Equal(t, "EDT", name)
	})

	t.Run("EndOfDay", func(t *testing.T) {
		got := ToInstant(mustDate(t, "2025-06-10"), models.EndOfDay, ny)
		assert.Equal(t, StartOfDay(mustDate(t, "2025-06-11"), ny), got)
	})

	t.Run("NilLocation", func(t *testing.T) {
		got := ToInstant(mustDate(t, "2025-06-10"), models.MustTimeOfDay("09:00"), nil)
		assert.Equal(t, time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC), got)
	})
}

func TestDayBounds(t *testing.T) {
	ny := mustLoad(t, "America/New_York")

	assert.Equal(t, 23*time.Hour, DayBounds(mustDate(t, "2025-03-09"), ny).Duration())
	assert.Equal(t, 25*time.Hour, DayBounds(mustDate(t, "2025-11-02"), ny).Duration())
	assert.Equal(t, 24*time.Hour, DayBounds(mustDate(t, "2025-06-10"), ny).Duration())
}

func TestWallClock(t *testing.T) {
	berlin := mustLoad(t, "Europe/Berlin")
	instant := time.Date(2025, 7, 1, 22, 45, 0, 0, time.UTC)

	date, tod := WallClock(instant, berlin)
	assert.Equal(t, mustDate(t, "2025-07-02"), date)
	assert.Equal(t, models.MustTimeOfDay("00:45"), tod)
}

func TestParseDate(t *testing.T) {
	_, err := ParseDate("2025-02-30")
	assert.Error(t, err)
	_, err = ParseDate("10.03.2025")
	assert.Error(t, err)
}
