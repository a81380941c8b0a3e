package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"slotkeeper/internal/domain"
	"slotkeeper/internal/events"
	"slotkeeper/internal/models"
)

func TestCheckBookingRequest_Accepted(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.svc.CheckBookingRequest(context.Background(), request("owner-1", "+1 (555) 000-0001", "10:00"))
	require.NoError(t, err)

	appt := res.Appointment
	assert.NotEmpty(t, appt.ID)
	assert.Equal(t, models.StatusPending, appt.Status)
	assert.Equal(t, "+15550000001", appt.Phone)
	assert.Equal(t, appt.Phone, appt.ClientID)
	assert.Equal(t, time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC), appt.StartAt)
	assert.Equal(t, 60, appt.DurationMinutes)
	assert.Equal(t, 0, appt.TravelMinutes, "no address, no travel")
	assert.False(t, appt.TravelProvisional)
	assert.Equal(t, 10, appt.BufferMinutes)
	assert.Equal(t, testNow.Add(30*time.Minute), appt.ExpiresAt)
	assert.Equal(t, 2, res.RateLimit.Remaining)
	assert.Equal(t, 1, f.eventCount(events.EventAppointmentCreated))

	stored, err := f.db.GetAppointment(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appt.Occupied(), stored.Occupied())
}

func TestCheckBookingRequest_RateLimitCountdownAndReset(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	phone := "+15550000001"

	var remaining []int
	for _, at := range []string{"09:00", "10:30", "14:00"} {
		res, err := f.svc.CheckBookingRequest(ctx, request("owner-1", phone, at))
		require.NoError(t, err)
		remaining = append(remaining, res.RateLimit.Remaining)
	}
	assert.Equal(t, []int{2, 1, 0}, remaining)

	_, err := f.svc.CheckBookingRequest(ctx, request("owner-1", phone, "16:00"))
	var rl *domain.RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, testNow.Add(24*time.Hour), rl.ResetTime)

	entry, ok := f.rates.Entry(phone)
	require.True(t, ok)
	assert.Equal(t, 3, entry.Count, "denial does not mutate the counter")

	f.clock.Advance(24*time.Hour + time.Millisecond)
	res, err := f.svc.CheckBookingRequest(ctx, request("owner-1", phone, "16:00"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.RateLimit.Remaining)
}

func TestCheckBookingRequest_RateLimitIsGlobalAcrossOwners(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	phone := "+15550000001"

	f.book(t, "owner-1", phone, "09:00")
	f.book(t, "owner-1", phone, "11:00")
	f.book(t, "owner-2", phone, "09:00")

	_, err := f.svc.CheckBookingRequest(ctx, request("owner-2", phone, "15:00"))
	assert.True(t, errors.Is(err, domain.ErrRateLimitExceeded))

	// a different phone is unaffected
	f.book(t, "owner-2", "+15550000002", "15:00")
}

func TestCheckBookingRequest_BlockIsPerOwner(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	phone := "+15550000001"

	_, err := f.gate.BlockClient(ctx, "owner-1", phone, "spam")
	require.NoError(t, err)

	_, err = f.svc.CheckBookingRequest(ctx, request("owner-1", phone, "10:00"))
	assert.True(t, errors.Is(err, domain.ErrClientBlocked))

	// the blocked attempt still consumed one
	entry, ok := f.rates.Entry(phone)
	require.True(t, ok)
	assert.Equal(t, 1, entry.Count)

	res, err := f.svc.CheckBookingRequest(ctx, request("owner-2", phone, "10:00"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.RateLimit.Remaining)
}

func TestCheckBookingRequest_RateLimitTakesPrecedenceOverBlock(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	phone := "+15550000001"

	f.book(t, "owner-2", phone, "09:00")
	f.book(t, "owner-2", phone, "11:00")
	f.book(t, "owner-2", phone, "15:00")

	_, err := f.gate.BlockClient(ctx, "owner-1", phone, "")
	require.NoError(t, err)

	_, err = f.svc.CheckBookingRequest(ctx, request("owner-1", phone, "10:00"))
	assert.True(t, errors.Is(err, domain.ErrRateLimitExceeded))
	assert.False(t, errors.Is(err, domain.ErrClientBlocked))
}

func TestCheckBookingRequest_Conflicts(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first := f.book(t, "owner-1", "+15550000001", "10:00")

	// occupied [10:00, 11:10)
	_, err := f.svc.CheckBookingRequest(ctx, request("owner-1", "+15550000002", "11:09"))
	var conflict *domain.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, first.ID, conflict.FirstID())

	_, err = f.svc.CheckBookingRequest(ctx, request("owner-1", "+15550000003", "09:00"))
	assert.True(t, errors.Is(err, domain.ErrSlotConflict), "new occupied [09:00,10:10) overlaps")

	// adjacent to the occupied end
	f.book(t, "owner-1", "+15550000004", "11:10")

	// the same time with another owner is free
	f.book(t, "owner-2", "+15550000002", "10:00")
}

func TestCheckBookingRequest_CancelledAppointmentsDoNotBlock(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first := f.book(t, "owner-1", "+15550000001", "10:00")
	_, err := f.lifecycle.Cancel(ctx, first.ID, "owner:owner-1")
	require.NoError(t, err)

	f.book(t, "owner-1", "+15550000002", "10:00")
}

func TestCheckBookingRequest_WorkingHours(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		date string
		at   string
		ok   bool
	}{
		{name: "before opening", date: bookingDate, at: "08:30"},
		{name: "across break", date: bookingDate, at: "12:30"},
		{name: "past closing", date: bookingDate, at: "17:30"},
		{name: "disabled sunday", date: "2025-03-09", at: "10:00"},
		{name: "ends at closing", date: bookingDate, at: "17:00", ok: true},
		{name: "right after break", date: bookingDate, at: "14:00", ok: true},
		{name: "unconfigured saturday uses fallback", date: "2025-03-08", at: "19:00", ok: true},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := request("owner-1", "+1555000010"+string(rune('0'+i)), tt.at)
			req.Date = tt.date
			_, err := f.svc.CheckBookingRequest(ctx, req)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, domain.ErrOutsideWorkingHours), "got %v", err)
		})
	}
}

func TestCheckBookingRequest_Validation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.CheckBookingRequest(ctx, models.BookingRequest{Date: "10/03/2025", Time: "25:00", Phone: "12"})
	var v *domain.ValidationError
	require.True(t, errors.As(err, &v))
	for _, field := range []string{"owner_id", "phone", "client_name", "date", "time", "service_ids"} {
		assert.Contains(t, v.Fields, field)
	}

	_, ok := f.rates.Entry("12")
	assert.False(t, ok, "malformed requests do not consume attempts")

	req := request("owner-1", "+15550000001", "10:00")
	req.ServiceIDs = []string{"massage"}
	_, err = f.svc.CheckBookingRequest(ctx, req)
	require.True(t, errors.As(err, &v))
	assert.Contains(t, v.Fields, "service_ids")

	req = request("owner-1", "+15550000001", "10:00")
	req.Date = "2025-03-01"
	_, err = f.svc.CheckBookingRequest(ctx, req)
	require.True(t, errors.As(err, &v))
	assert.Equal(t, "is in the past", v.Fields["time"])

	_, ok = f.rates.Entry("+15550000001")
	assert.False(t, ok)

	_, err = f.svc.CheckBookingRequest(ctx, request("ghost", "+15550000001", "10:00"))
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestCheckBookingRequest_ServiceDurationsAdd(t *testing.T) {
	f := newFixture(t, nil)
	req := request("owner-1", "+15550000001", "10:00")
	req.ServiceIDs = []string{"cut", "wash", "cut"}

	res, err := f.svc.CheckBookingRequest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 75, res.Appointment.DurationMinutes)
	assert.Equal(t, []string{"cut", "wash"}, res.Appointment.ServiceIDs)
}

func TestCheckBookingRequest_TravelTime(t *testing.T) {
	t.Run("estimate", func(t *testing.T) {
		est := &mockEstimator{}
		est.On("EstimateMinutes", mock.Anything, "Depot 1", "Client St 5").Return(25, nil)
		f := newFixture(t, est)

		req := request("owner-1", "+15550000001", "10:00")
		req.Address = "Client St 5"
		res, err := f.svc.CheckBookingRequest(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, 25, res.Appointment.TravelMinutes)
		assert.False(t, res.Appointment.TravelProvisional)
		assert.Equal(t, time.Date(2025, 3, 10, 11, 35, 0, 0, time.UTC), res.Appointment.Occupied().End)
		est.AssertExpectations(t)
	})

	t.Run("fallback", func(t *testing.T) {
		est := &mockEstimator{}
		est.On("EstimateMinutes", mock.Anything, mock.Anything, mock.Anything).Return(0, errors.New("maps down"))
		f := newFixture(t, est)

		req := request("owner-1", "+15550000001", "10:00")
		req.Address = "Client St 5"
		res, err := f.svc.CheckBookingRequest(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, 30, res.Appointment.TravelMinutes)
		assert.True(t, res.Appointment.TravelProvisional)
	})
}

func TestCheckBookingRequest_DaylightSavingGap(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	owner := workingOwner("owner-ny", "America/New_York")
	owner.Schedule[time.Sunday] = models.ScheduleDay{Weekday: time.Sunday, Enabled: true, Start: 0, End: models.EndOfDay}
	require.NoError(t, f.db.UpsertOwner(ctx, owner))

	req := request("owner-ny", "+15550000001", "02:30")
	req.Date = "2025-03-09"
	res, err := f.svc.CheckBookingRequest(ctx, req)
	require.NoError(t, err)
	// 02:30 does not exist; the first valid instant is 03:00 EDT
	assert.Equal(t, time.Date(2025, 3, 9, 7, 0, 0, 0, time.UTC), res.Appointment.StartAt)
}

func TestGetAvailability(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	appt := f.book(t, "owner-1", "+15550000001", "10:00")

	slots, err := f.svc.GetAvailability(ctx, "owner-1", bookingDate, 0)
	require.NoError(t, err)
	require.Len(t, slots, 36, "09:00-18:00 in 15 minute steps")

	byStart := make(map[string]models.Slot)
	for _, s := range slots {
		byStart[s.Start.Format("15:04")] = s
	}
	assert.False(t, byStart["09:45"].Blocked)
	assert.Equal(t, models.SlotReasonOccupied, byStart["10:00"].Reason)
	assert.Equal(t, appt.ID, byStart["11:00"].AppointmentID, "grace buffer occupies 11:00-11:10")
	assert.False(t, byStart["11:15"].Blocked)
	assert.Equal(t, models.SlotReasonBreak, byStart["13:30"].Reason)

	_, err = f.lifecycle.Cancel(ctx, appt.ID, "client")
	require.NoError(t, err)
	slots, err = f.svc.GetAvailability(ctx, "owner-1", bookingDate, 60)
	require.NoError(t, err)
	require.Len(t, slots, 9)
	assert.False(t, slots[1].Blocked, "cancelled appointments free their slots")

	sunday, err := f.svc.GetAvailability(ctx, "owner-1", "2025-03-09", 60)
	require.NoError(t, err)
	require.NotEmpty(t, sunday)
	for _, s := range sunday {
		assert.True(t, s.Blocked)
		assert.Equal(t, models.SlotReasonDayDisabled, s.Reason)
	}

	_, err = f.svc.GetAvailability(ctx, "owner-1", "tomorrow", 15)
	assert.True(t, errors.Is(err, domain.ErrValidation))
	_, err = f.svc.GetAvailability(ctx, "ghost", bookingDate, 15)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestListAppointments(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.book(t, "owner-1", "+15550000001", "10:00")

	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	list, err := f.svc.ListAppointments(ctx, "owner-1", day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = f.svc.ListAppointments(ctx, "owner-1", day, day)
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, "accepted", outcomeOf(nil))
	assert.Equal(t, "rate_limited", outcomeOf(&domain.RateLimitError{}))
	assert.Equal(t, "conflict", outcomeOf(&domain.ConflictError{}))
	assert.Equal(t, "invalid", outcomeOf(&domain.ValidationError{}))
	assert.Equal(t, "error", outcomeOf(errors.New("boom")))
}
