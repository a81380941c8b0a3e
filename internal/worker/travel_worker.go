package worker

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"slotkeeper/internal/domain"
	"slotkeeper/internal/models"
)

// ProvisionalSource lists appointments still carrying a fallback travel time.
type ProvisionalSource interface {
	ListProvisional(ctx context.Context, limit int) ([]*models.Appointment, error)
}

// TravelLookup is a single bounded travel-time lookup with no fallback.
type TravelLookup interface {
	Lookup(ctx context.Context, origin, destination string) (int, error)
}

// TravelApplier stores a real travel estimate.
type TravelApplier interface {
	ApplyTravelEstimate(ctx context.Context, id string, minutes int) (*models.Appointment, error)
}

// TravelRecomputer retries the travel lookup for provisional appointments
// and replaces the default once the service answers.
type TravelRecomputer struct {
	source    ProvisionalSource
	owners    domain.OwnerStore
	lookup    TravelLookup
	applier   TravelApplier
	retry     RetryPolicy
	batchSize int
	logger    *zerolog.Logger
}

func NewTravelRecomputer(source ProvisionalSource, owners domain.OwnerStore, lookup TravelLookup, applier TravelApplier, retry RetryPolicy, logger *zerolog.Logger) *TravelRecomputer {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 3
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &TravelRecomputer{
		source:    source,
		owners:    owners,
		lookup:    lookup,
		applier:   applier,
		retry:     retry,
		batchSize: 50,
		logger:    logger,
	}
}

// RunOnce processes one batch and returns how many appointments were updated.
func (r *TravelRecomputer) RunOnce(ctx context.Context) (int, error) {
	pending, err := r.source.ListProvisional(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	origins := make(map[string]string)
	updated := 0
	for _, appt := range pending {
		if ctx.Err() != nil {
			return updated, ctx.Err()
		}

		origin, ok := origins[appt.OwnerID]
		if !ok {
			owner, err := r.owners.GetOwner(ctx, appt.OwnerID)
			if err != nil {
				r.logger.Warn().Err(err).Str("owner_id", appt.OwnerID).Msg("Owner lookup failed during travel recompute")
				continue
			}
			origin = owner.BaseAddress
			origins[appt.OwnerID] = origin
		}

		var minutes int
		err := r.retry.Do(ctx, func(ctx context.Context) error {
			var lookupErr error
			minutes, lookupErr = r.lookup.Lookup(ctx, origin, appt.Address)
			return lookupErr
		})
		if err != nil {
			r.logger.Debug().Err(err).Str("appointment_id", appt.ID).Msg("Travel time still unavailable")
			continue
		}

		if _, err := r.applier.ApplyTravelEstimate(ctx, appt.ID, minutes); err != nil {
			// статус мог смениться между выборкой и обновлением
			if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrNotFound) {
				continue
			}
			var conflict *domain.ConflictError
			if errors.As(err, &conflict) {
				r.logger.Warn().Str("appointment_id", appt.ID).Str("conflicting_appointment_id", conflict.FirstID()).
					Msg("Travel estimate left provisional, it overlaps a neighbour")
				continue
			}
			r.logger.Error().Err(err).Str("appointment_id", appt.ID).Msg("Failed to apply travel estimate")
			continue
		}
		updated++
	}

	if updated > 0 {
		r.logger.Info().Int("updated", updated).Int("checked", len(pending)).Msg("Provisional travel times recomputed")
	}
	return updated, nil
}

// Register schedules the recompute on spec.
func (r *TravelRecomputer) Register(sched *Scheduler, spec string) error {
	return sched.Add("travel_recompute", spec, func(ctx context.Context) {
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.Error().Err(err).Msg("Travel recompute failed")
		}
	})
}
