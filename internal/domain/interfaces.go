package domain

import (
	"context"
	"time"

	"slotkeeper/internal/models"
)

// AppointmentStore persists appointments and their audit trail.
type AppointmentStore interface {
	GetAppointment(ctx context.Context, id string) (*models.Appointment, error)
	ListOwnerAppointments(ctx context.Context, ownerID string, start, end time.Time) ([]*models.Appointment, error)
	// CreatePendingWithLock re-validates conflicts and inserts as one unit scoped
	// to the owner. Returns a *ConflictError when a competing booking landed first.
	CreatePendingWithLock(ctx context.Context, appt *models.Appointment) error
	// TransitionStatus moves id from one status to another only if the row is
	// still in from. Returns ErrStaleTransition when zero rows matched.
	TransitionStatus(ctx context.Context, id string, from, to models.Status, actor string, at time.Time) error
	ExpirePending(ctx context.Context, now time.Time) ([]string, error)
	UpdateTravel(ctx context.Context, id string, travelMinutes int, provisional bool) error
	ListProvisional(ctx context.Context, limit int) ([]*models.Appointment, error)
	GetStatusHistory(ctx context.Context, id string) ([]models.StatusChange, error)
}

// OwnerStore serves owner settings, schedules and service catalogs.
type OwnerStore interface {
	GetOwner(ctx context.Context, id string) (*models.Owner, error)
	UpsertOwner(ctx context.Context, owner *models.Owner) error
}

// RateLimitStore performs the atomic per-phone check-and-increment.
type RateLimitStore interface {
	CheckAndIncrement(ctx context.Context, phone string, limit int, window time.Duration, now time.Time) (models.RateLimitDecision, error)
}

// BlockStore holds owner-scoped block lists.
type BlockStore interface {
	IsBlocked(ctx context.Context, ownerID, phone string) (bool, error)
	Block(ctx context.Context, entry *models.BlockEntry) error
	Unblock(ctx context.Context, ownerID, phone string) error
	ListBlocked(ctx context.Context, ownerID string) ([]*models.BlockEntry, error)
}

// TravelEstimator is the external driving-time lookup.
type TravelEstimator interface {
	EstimateMinutes(ctx context.Context, origin, destination string) (int, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Clock lets tests control "now".
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
