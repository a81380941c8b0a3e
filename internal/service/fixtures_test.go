package service

import (
	"context"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"slotkeeper/internal/availability"
	"slotkeeper/internal/database"
	"slotkeeper/internal/domain"
	"slotkeeper/internal/events"
	"slotkeeper/internal/models"
	"slotkeeper/internal/repository"
)

// Monday 2025-03-03, a week before the booked day.
var testNow = time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)

const bookingDate = "2025-03-10"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type mockEstimator struct {
	mock.Mock
}

func (m *mockEstimator) EstimateMinutes(ctx context.Context, origin, destination string) (int, error) {
	args := m.Called(ctx, origin, destination)
	return args.Int(0), args.Error(1)
}

type fixture struct {
	db        *database.DB
	rates     *repository.MemoryRateLimitStore
	blocks    *repository.MemoryBlockStore
	bus       *events.EventBus
	clock     *testClock
	gate      *AntiSpamGate
	lifecycle *Lifecycle
	svc       *BookingService
	published map[string]int
	mu        sync.Mutex
}

func workingOwner(id, tz string) *models.Owner {
	week := map[time.Weekday]models.ScheduleDay{
		time.Sunday: {Weekday: time.Sunday, Enabled: false},
	}
	for wd := time.Monday; wd <= time.Friday; wd++ {
		week[wd] = models.ScheduleDay{
			Weekday: wd,
			Enabled: true,
			Start:   models.MustTimeOfDay("09:00"),
			End:     models.MustTimeOfDay("18:00"),
			Breaks:  []models.BreakInterval{{Start: models.MustTimeOfDay("13:00"), End: models.MustTimeOfDay("14:00")}},
		}
	}
	return &models.Owner{
		ID:                 id,
		Name:               "Owner " + id,
		Timezone:           tz,
		BaseAddress:        "Depot 1",
		GraceBufferMinutes: 10,
		Schedule:           week,
		Services: []models.Service{
			{ID: "cut", OwnerID: id, Name: "Haircut", DurationMinutes: 60},
			{ID: "wash", OwnerID: id, Name: "Wash", DurationMinutes: 15},
		},
	}
}

func newFixture(t *testing.T, estimator domain.TravelEstimator) *fixture {
	t.Helper()
	logger := zerolog.Nop()

	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, db.UpsertOwner(ctx, workingOwner("owner-1", "UTC")))
	require.NoError(t, db.UpsertOwner(ctx, workingOwner("owner-2", "UTC")))

	f := &fixture{
		db:        db,
		rates:     repository.NewMemoryRateLimitStore(),
		blocks:    repository.NewMemoryBlockStore(),
		bus:       events.NewEventBus(),
		clock:     &testClock{now: testNow},
		published: make(map[string]int),
	}
	for _, ev := range []string{
		events.EventAppointmentCreated, events.EventAppointmentConfirmed, events.EventAppointmentCancelled,
		events.EventAppointmentExpired, events.EventAppointmentCompleted, events.EventAppointmentNoShow,
		events.EventTravelUpdated, events.EventTravelConflict, events.EventClientBlocked, events.EventClientUnblocked,
	} {
		eventType := ev
		f.bus.Subscribe(eventType, func(*events.Event) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.published[eventType]++
			return nil
		})
	}

	f.gate = NewAntiSpamGate(f.rates, f.blocks, f.bus, 3, 24*time.Hour, &logger).WithClock(f.clock)
	f.lifecycle = NewLifecycle(db, f.bus, 30*time.Minute, &logger).WithClock(f.clock)
	travel := availability.NewBufferCalculator(estimator, 50*time.Millisecond, 30, &logger)
	f.svc = NewBookingService(db, db, f.gate, f.lifecycle, travel, BookingPolicy{GraceBufferMinutes: 10, SlotGranularity: 15}, &logger).
		WithClock(f.clock)
	return f
}

func (f *fixture) eventCount(eventType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.published[eventType]
}

func request(ownerID, phone, at string) models.BookingRequest {
	return models.BookingRequest{
		OwnerID:    ownerID,
		Phone:      phone,
		ClientName: "Jane",
		Date:       bookingDate,
		Time:       at,
		ServiceIDs: []string{"cut"},
	}
}

func (f *fixture) book(t *testing.T, ownerID, phone, at string) *models.Appointment {
	t.Helper()
	res, err := f.svc.CheckBookingRequest(context.Background(), request(ownerID, phone, at))
	require.NoError(t, err)
	return res.Appointment
}
