package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"slotkeeper/internal/availability"
	"slotkeeper/internal/domain"
	"slotkeeper/internal/metrics"
	"slotkeeper/internal/models"
	"slotkeeper/internal/timeutil"
)

const (
	maxNameLength    = 100
	maxMessageLength = 1000
	minPhoneDigits   = 5
	maxPhoneDigits   = 15
)

// BookingResult is what an accepted booking request produces.
type BookingResult struct {
	Appointment *models.Appointment
	RateLimit   models.RateLimitDecision
}

// BookingPolicy holds the owner-independent defaults of the facade.
type BookingPolicy struct {
	GraceBufferMinutes int
	SlotGranularity    int
}

// BookingService is the entry point for booking requests and availability
// views. It wires the gate, the calendar, the travel buffer and the lifecycle.
type BookingService struct {
	owners       domain.OwnerStore
	appointments domain.AppointmentStore
	gate         *AntiSpamGate
	lifecycle    *Lifecycle
	travel       *availability.BufferCalculator
	policy       BookingPolicy
	clock        domain.Clock
	logger       *zerolog.Logger
}

func NewBookingService(
	owners domain.OwnerStore,
	appointments domain.AppointmentStore,
	gate *AntiSpamGate,
	lifecycle *Lifecycle,
	travel *availability.BufferCalculator,
	policy BookingPolicy,
	logger *zerolog.Logger,
) *BookingService {
	if policy.GraceBufferMinutes < 0 {
		policy.GraceBufferMinutes = models.DefaultGraceBufferMinutes
	}
	if policy.SlotGranularity <= 0 {
		policy.SlotGranularity = models.DefaultSlotGranularity
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &BookingService{
		owners:       owners,
		appointments: appointments,
		gate:         gate,
		lifecycle:    lifecycle,
		travel:       travel,
		policy:       policy,
		clock:        domain.SystemClock{},
		logger:       logger,
	}
}

// WithClock replaces the time source.
func (s *BookingService) WithClock(clock domain.Clock) *BookingService {
	s.clock = clock
	return s
}

// CheckBookingRequest validates req, passes it through the anti-spam gate and
// reserves the slot as a pending appointment. A malformed request never
// consumes a rate limit attempt; an attempt consumed by the gate is not given
// back when the slot later turns out to be taken.
func (s *BookingService) CheckBookingRequest(ctx context.Context, req models.BookingRequest) (*BookingResult, error) {
	result, err := s.checkBookingRequest(ctx, req)
	metrics.IncBookingOutcome(outcomeOf(err))
	return result, err
}

func (s *BookingService) checkBookingRequest(ctx context.Context, req models.BookingRequest) (*BookingResult, error) {
	phone, date, tod, err := validateRequest(req)
	if err != nil {
		return nil, err
	}

	owner, err := s.owners.GetOwner(ctx, strings.TrimSpace(req.OwnerID))
	if err != nil {
		return nil, err
	}
	cal, err := availability.NewCalendar(owner)
	if err != nil {
		return nil, fmt.Errorf("owner %s calendar: %w", owner.ID, err)
	}

	duration, serviceIDs, err := resolveServices(owner, req.ServiceIDs)
	if err != nil {
		return nil, err
	}

	start := timeutil.ToInstant(date, tod, cal.Location())
	if start.Before(s.clock.Now()) {
		return nil, &domain.ValidationError{Fields: map[string]string{"time": "is in the past"}}
	}

	decision, err := s.gate.Check(ctx, owner.ID, phone)
	if err != nil {
		return nil, err
	}

	estimate := s.travel.Estimate(ctx, owner.BaseAddress, req.Address)

	grace := owner.GraceBufferMinutes
	if grace == 0 {
		grace = s.policy.GraceBufferMinutes
	}

	appt := &models.Appointment{
		ID:                uuid.NewString(),
		OwnerID:           owner.ID,
		ClientID:          phone,
		ClientName:        strings.TrimSpace(req.ClientName),
		Phone:             phone,
		ServiceIDs:        serviceIDs,
		Message:           strings.TrimSpace(req.Message),
		Address:           strings.TrimSpace(req.Address),
		StartAt:           start.UTC(),
		DurationMinutes:   duration,
		TravelMinutes:     estimate.Minutes,
		BufferMinutes:     grace,
		TravelProvisional: estimate.Provisional,
	}

	if err := s.lifecycle.Create(ctx, appt, cal, date); err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			s.logger.Info().
				Str("owner_id", owner.ID).
				Time("start", appt.StartAt).
				Str("conflicting_appointment_id", conflict.FirstID()).
				Msg("Booking rejected: slot taken")
		}
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", appt.ID).
		Str("owner_id", owner.ID).
		Time("start", appt.StartAt).
		Int("travel_minutes", appt.TravelMinutes).
		Bool("travel_provisional", appt.TravelProvisional).
		Msg("Appointment reserved")

	return &BookingResult{Appointment: appt, RateLimit: decision}, nil
}

// GetAvailability renders the owner's day as fixed-size slots. Reads are not
// locked, so the view may be stale by the time a booking is attempted.
func (s *BookingService) GetAvailability(ctx context.Context, ownerID, rawDate string, granularity int) ([]models.Slot, error) {
	date, err := timeutil.ParseDate(rawDate)
	if err != nil {
		return nil, &domain.ValidationError{Fields: map[string]string{"date": err.Error()}}
	}
	if granularity < 0 {
		return nil, &domain.ValidationError{Fields: map[string]string{"granularity": "must be positive"}}
	}
	if granularity == 0 {
		granularity = s.policy.SlotGranularity
	}

	owner, err := s.owners.GetOwner(ctx, strings.TrimSpace(ownerID))
	if err != nil {
		return nil, err
	}
	cal, err := availability.NewCalendar(owner)
	if err != nil {
		return nil, fmt.Errorf("owner %s calendar: %w", owner.ID, err)
	}

	bounds := timeutil.DayBounds(date, cal.Location())
	existing, err := s.appointments.ListOwnerAppointments(ctx, owner.ID, bounds.Start, bounds.End)
	if err != nil {
		return nil, err
	}
	return availability.GenerateSlots(date, granularity, existing, cal)
}

// ListAppointments returns the owner's appointments intersecting [from, to).
func (s *BookingService) ListAppointments(ctx context.Context, ownerID string, from, to time.Time) ([]*models.Appointment, error) {
	if !from.Before(to) {
		return nil, &domain.ValidationError{Fields: map[string]string{"range": "from must be before to"}}
	}
	return s.appointments.ListOwnerAppointments(ctx, ownerID, from, to)
}

// Owner exposes the stored owner, used by exports and handlers.
func (s *BookingService) Owner(ctx context.Context, ownerID string) (*models.Owner, error) {
	return s.owners.GetOwner(ctx, ownerID)
}

func validateRequest(req models.BookingRequest) (string, time.Time, models.TimeOfDay, error) {
	v := &domain.ValidationError{}

	if strings.TrimSpace(req.OwnerID) == "" {
		v.Add("owner_id", "is required")
	}

	phone := models.NormalizePhone(req.Phone)
	digits := len(strings.TrimPrefix(phone, "+"))
	switch {
	case strings.TrimSpace(req.Phone) == "":
		v.Add("phone", "is required")
	case digits < minPhoneDigits || digits > maxPhoneDigits:
		v.Add("phone", fmt.Sprintf("must contain %d to %d digits", minPhoneDigits, maxPhoneDigits))
	}

	name := strings.TrimSpace(req.ClientName)
	switch {
	case name == "":
		v.Add("client_name", "is required")
	case utf8.RuneCountInString(name) > maxNameLength:
		v.Add("client_name", fmt.Sprintf("must be at most %d characters", maxNameLength))
	}

	date, err := timeutil.ParseDate(req.Date)
	if err != nil {
		v.Add("date", "must be YYYY-MM-DD")
	}

	tod, err := models.ParseTimeOfDay(req.Time)
	switch {
	case err != nil:
		v.Add("time", "must be HH:MM")
	case tod >= models.EndOfDay:
		v.Add("time", "must be before 24:00")
	}

	if len(req.ServiceIDs) == 0 {
		v.Add("service_ids", "at least one service is required")
	}
	if utf8.RuneCountInString(req.Message) > maxMessageLength {
		v.Add("message", fmt.Sprintf("must be at most %d characters", maxMessageLength))
	}

	return phone, date, tod, v.OrNil()
}

// resolveServices sums the durations of the selected services.
func resolveServices(owner *models.Owner, ids []string) (int, []string, error) {
	total := 0
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if seen[id] {
			continue
		}
		svc, ok := owner.ServiceByID(id)
		if !ok {
			return 0, nil, &domain.ValidationError{Fields: map[string]string{"service_ids": fmt.Sprintf("unknown service %q", id)}}
		}
		seen[id] = true
		total += svc.DurationMinutes
		out = append(out, id)
	}
	return total, out, nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	case errors.Is(err, domain.ErrRateLimitExceeded):
		return "rate_limited"
	case errors.Is(err, domain.ErrClientBlocked):
		return "blocked"
	case errors.Is(err, domain.ErrOutsideWorkingHours):
		return "outside_hours"
	case errors.Is(err, domain.ErrSlotConflict):
		return "conflict"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
