package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"slotkeeper/internal/domain"
)

// writeServiceError maps domain errors onto HTTP responses.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		rateErr       *domain.RateLimitError
		conflictErr   *domain.ConflictError
		validationErr *domain.ValidationError
		transitionErr *domain.TransitionError
	)

	switch {
	case errors.As(err, &rateErr):
		retry := int(time.Until(rateErr.ResetTime).Seconds())
		if retry < 1 {
			retry = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":      "rate limit exceeded",
			"reset_time": rateErr.ResetTime.UTC(),
		})
	case errors.Is(err, domain.ErrClientBlocked):
		writeError(w, http.StatusForbidden, "client is blocked")
	case errors.Is(err, domain.ErrOutsideWorkingHours):
		writeError(w, http.StatusForbidden, "requested time is outside working hours")
	case errors.As(err, &conflictErr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":                      "slot conflict",
			"conflicting_appointment_id": conflictErr.FirstID(),
		})
	case errors.Is(err, domain.ErrConcurrentInsert):
		writeError(w, http.StatusConflict, "slot is being booked concurrently, try again")
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": validationErr.Fields,
		})
	case errors.Is(err, domain.ErrReservationExpired):
		writeError(w, http.StatusGone, "reservation expired")
	case errors.As(err, &transitionErr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": transitionErr.Error(),
			"from":  transitionErr.From,
			"to":    transitionErr.To,
		})
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		s.logger.Error().
			Err(err).
			Str("request_id", requestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
