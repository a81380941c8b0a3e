package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"slotkeeper/internal/availability"
	"slotkeeper/internal/domain"
	"slotkeeper/internal/events"
	"slotkeeper/internal/metrics"
	"slotkeeper/internal/models"
)

// Lifecycle owns every status change of an appointment. Transitions are
// guarded updates, so of two racing writers exactly one wins and the other
// gets an InvalidTransition built from the status it lost to.
type Lifecycle struct {
	store    domain.AppointmentStore
	eventBus domain.EventPublisher
	ttl      time.Duration
	clock    domain.Clock
	logger   *zerolog.Logger
}

func NewLifecycle(store domain.AppointmentStore, eventBus domain.EventPublisher, ttl time.Duration, logger *zerolog.Logger) *Lifecycle {
	if ttl <= 0 {
		ttl = models.DefaultPendingTTL * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Lifecycle{
		store:    store,
		eventBus: eventBus,
		ttl:      ttl,
		clock:    domain.SystemClock{},
		logger:   logger,
	}
}

// WithClock replaces the time source.
func (l *Lifecycle) WithClock(clock domain.Clock) *Lifecycle {
	l.clock = clock
	return l
}

// Create inserts appt as pending with a fresh TTL. The service itself must
// fit inside one open interval of date; travel and grace may run past it.
func (l *Lifecycle) Create(ctx context.Context, appt *models.Appointment, cal *availability.Calendar, date time.Time) error {
	serviceIv := models.Interval{Start: appt.StartAt, End: appt.ServiceEnd()}
	if cal != nil && !cal.Fits(date, serviceIv) {
		return domain.ErrOutsideWorkingHours
	}

	now := l.clock.Now().UTC()
	appt.Status = models.StatusPending
	appt.CreatedAt = now
	appt.UpdatedAt = now
	appt.ExpiresAt = now.Add(l.ttl)

	err := l.store.CreatePendingWithLock(ctx, appt)
	if errors.Is(err, domain.ErrConcurrentInsert) {
		// один повтор: конкурент либо закоммитил (получим конфликт), либо откатился
		l.logger.Warn().Err(err).Str("owner_id", appt.OwnerID).Msg("Concurrent insert aborted, retrying once")
		err = l.store.CreatePendingWithLock(ctx, appt)
	}
	if err != nil {
		return err
	}

	metrics.IncTransition(string(models.StatusPending))
	l.publish(appt, appt.ClientID)
	return nil
}

func (l *Lifecycle) Get(ctx context.Context, id string) (*models.Appointment, error) {
	return l.store.GetAppointment(ctx, id)
}

func (l *Lifecycle) History(ctx context.Context, id string) ([]models.StatusChange, error) {
	if _, err := l.store.GetAppointment(ctx, id); err != nil {
		return nil, err
	}
	return l.store.GetStatusHistory(ctx, id)
}

// Confirm moves a live pending reservation to confirmed. A reservation past
// its TTL is expired on the spot and ErrReservationExpired is returned.
func (l *Lifecycle) Confirm(ctx context.Context, id, actor string) (*models.Appointment, error) {
	appt, err := l.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status != models.StatusPending {
		return nil, &domain.TransitionError{From: appt.Status, To: models.StatusConfirmed}
	}

	now := l.clock.Now().UTC()
	if appt.IsExpiredAt(now) {
		if _, err := l.apply(ctx, appt, models.StatusExpired, models.ActorSystem, now); err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
			return nil, err
		}
		return nil, fmt.Errorf("appointment %s: %w", id, domain.ErrReservationExpired)
	}
	return l.apply(ctx, appt, models.StatusConfirmed, actor, now)
}

// Cancel works from any non-terminal status and records who cancelled.
func (l *Lifecycle) Cancel(ctx context.Context, id, actor string) (*models.Appointment, error) {
	return l.transition(ctx, id, models.StatusCancelled, actor)
}

func (l *Lifecycle) Complete(ctx context.Context, id, actor string) (*models.Appointment, error) {
	return l.transition(ctx, id, models.StatusCompleted, actor)
}

func (l *Lifecycle) MarkNoShow(ctx context.Context, id, actor string) (*models.Appointment, error) {
	return l.transition(ctx, id, models.StatusNoShow, actor)
}

// ExpireSweep expires every pending reservation whose TTL lapsed before now
// and returns their ids. Running it twice with the same now changes nothing
// the second time.
func (l *Lifecycle) ExpireSweep(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := l.store.ExpirePending(ctx, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("expire sweep: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	metrics.AddExpired(len(ids))
	for _, id := range ids {
		metrics.IncTransition(string(models.StatusExpired))
		appt, err := l.store.GetAppointment(ctx, id)
		if err != nil {
			l.logger.Warn().Err(err).Str("appointment_id", id).Msg("Expired appointment vanished before notification")
			continue
		}
		l.publish(appt, models.ActorSystem)
	}
	l.logger.Info().Int("count", len(ids)).Msg("Expired pending reservations")
	return ids, nil
}

// ApplyTravelEstimate replaces a provisional travel time with a real one.
// The buffer never shrinks below what was already reserved. An estimate that
// would run into a neighbour is refused with *domain.ConflictError and the
// appointment keeps its provisional travel.
func (l *Lifecycle) ApplyTravelEstimate(ctx context.Context, id string, minutes int) (*models.Appointment, error) {
	if minutes < 0 {
		return nil, &domain.ValidationError{Fields: map[string]string{"travel_minutes": "cannot be negative"}}
	}
	appt, err := l.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status.IsTerminal() {
		return nil, fmt.Errorf("travel update on %s appointment %s: %w", appt.Status, id, domain.ErrInvalidTransition)
	}

	if minutes < appt.TravelMinutes {
		minutes = appt.TravelMinutes
	}
	if err := l.store.UpdateTravel(ctx, id, minutes, false); err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			// остаётся provisional, владелец решает сам
			l.logger.Warn().
				Str("appointment_id", id).
				Int("travel_minutes", minutes).
				Str("conflicting_appointment_id", conflict.FirstID()).
				Msg("Travel estimate overlaps a neighbour, keeping provisional travel")
			if l.eventBus != nil {
				payload := payloadFor(appt, models.ActorSystem)
				payload.TravelMinutes = minutes
				if pubErr := l.eventBus.PublishJSON(events.EventTravelConflict, payload); pubErr != nil {
					l.logger.Error().Err(pubErr).Str("appointment_id", id).Msg("Failed to publish travel conflict")
				}
			}
		}
		return nil, err
	}
	appt.TravelMinutes = minutes
	appt.TravelProvisional = false

	if l.eventBus != nil {
		if err := l.eventBus.PublishJSON(events.EventTravelUpdated, payloadFor(appt, "")); err != nil {
			l.logger.Error().Err(err).Str("appointment_id", id).Msg("Failed to publish travel update")
		}
	}
	return appt, nil
}

func (l *Lifecycle) transition(ctx context.Context, id string, to models.Status, actor string) (*models.Appointment, error) {
	appt, err := l.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	return l.apply(ctx, appt, to, actor, l.clock.Now().UTC())
}

func (l *Lifecycle) apply(ctx context.Context, appt *models.Appointment, to models.Status, actor string, now time.Time) (*models.Appointment, error) {
	if !appt.Status.CanTransition(to) {
		return nil, &domain.TransitionError{From: appt.Status, To: to}
	}

	err := l.store.TransitionStatus(ctx, appt.ID, appt.Status, to, actor, now)
	if errors.Is(err, domain.ErrStaleTransition) {
		current, getErr := l.store.GetAppointment(ctx, appt.ID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, &domain.TransitionError{From: current.Status, To: to}
	}
	if err != nil {
		return nil, err
	}

	appt.Status = to
	appt.UpdatedAt = now
	appt.Version++
	if to == models.StatusCancelled {
		appt.CancelledBy = actor
	}

	metrics.IncTransition(string(to))
	l.logger.Info().
		Str("appointment_id", appt.ID).
		Str("status", string(to)).
		Str("actor", actor).
		Msg("Appointment status changed")
	l.publish(appt, actor)
	return appt, nil
}

func (l *Lifecycle) publish(appt *models.Appointment, actor string) {
	if l.eventBus == nil {
		return
	}
	eventType, ok := events.TransitionEvents[string(appt.Status)]
	if !ok {
		return
	}
	if err := l.eventBus.PublishJSON(eventType, payloadFor(appt, actor)); err != nil {
		l.logger.Error().Err(err).Str("appointment_id", appt.ID).Msg("Failed to publish event")
	}
}

func payloadFor(appt *models.Appointment, actor string) events.AppointmentEventPayload {
	return events.AppointmentEventPayload{
		AppointmentID: appt.ID,
		OwnerID:       appt.OwnerID,
		ClientName:    appt.ClientName,
		Phone:         appt.Phone,
		Status:        string(appt.Status),
		StartAt:       appt.StartAt,
		ExpiresAt:     appt.ExpiresAt,
		TravelMinutes: appt.TravelMinutes,
		Provisional:   appt.TravelProvisional,
		ChangedBy:     actor,
	}
}
