package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"slotkeeper/internal/models"
)

var (
	ErrValidation            = errors.New("validation failed")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrClientBlocked         = errors.New("client is blocked")
	ErrSlotConflict          = errors.New("slot conflict")
	ErrOutsideWorkingHours   = errors.New("outside working hours")
	ErrTravelTimeUnavailable = errors.New("travel time unavailable")
	ErrReservationExpired    = errors.New("reservation expired")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrNotFound              = errors.New("not found")
	// ErrStaleTransition is returned by stores when a guarded update matched no row.
	ErrStaleTransition = errors.New("status changed concurrently")
	// ErrConcurrentInsert marks a transient insert abort worth one retry.
	ErrConcurrentInsert = errors.New("concurrent insert aborted")
)

// ValidationError carries field-level messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Add records a field error; the first message per field wins.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = msg
	}
}

// OrNil returns nil when no field failed.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

type RateLimitError struct {
	ResetTime time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded until %s", e.ResetTime.Format(time.RFC3339))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimitExceeded }

// ConflictError lists the active appointments that overlap a candidate.
type ConflictError struct {
	Conflicts []*models.Appointment
}

func (e *ConflictError) Error() string {
	if len(e.Conflicts) == 0 {
		return ErrSlotConflict.Error()
	}
	return fmt.Sprintf("slot conflict with appointment %s", e.Conflicts[0].ID)
}

func (e *ConflictError) Unwrap() error { return ErrSlotConflict }

// FirstID is the id reported to callers, empty when unknown.
func (e *ConflictError) FirstID() string {
	if len(e.Conflicts) == 0 {
		return ""
	}
	return e.Conflicts[0].ID
}

type TransitionError struct {
	From models.Status
	To   models.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move appointment from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
