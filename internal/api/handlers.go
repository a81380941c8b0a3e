package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"slotkeeper/internal/domain"
	"slotkeeper/internal/models"
	"slotkeeper/internal/timeutil"
)

const maxBodyBytes = 64 << 10

type rateLimitView struct {
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"reset_time"`
}

type bookingResponse struct {
	Appointment *models.Appointment `json:"appointment"`
	RateLimit   rateLimitView       `json:"rate_limit"`
}

type actorRequest struct {
	Actor string `json:"actor"`
}

type travelRequest struct {
	TravelMinutes *int `json:"travel_minutes"`
}

type blockRequest struct {
	Phone  string `json:"phone"`
	Reason string `json:"reason"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return &domain.ValidationError{Fields: map[string]string{"body": "invalid JSON body"}}
	}
	return nil
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req models.BookingRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	res, err := s.svc.Bookings.CheckBookingRequest(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, bookingResponse{
		Appointment: res.Appointment,
		RateLimit: rateLimitView{
			Remaining: res.RateLimit.Remaining,
			ResetTime: res.RateLimit.ResetTime.UTC(),
		},
	})
}

func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	granularity := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("granularity")); raw != "" {
		g, err := strconv.Atoi(raw)
		if err != nil {
			s.writeServiceError(w, r, &domain.ValidationError{Fields: map[string]string{"granularity": "must be an integer"}})
			return
		}
		granularity = g
	}

	date := r.URL.Query().Get("date")
	slots, err := s.svc.Bookings.GetAvailability(r.Context(), r.PathValue("owner"), date, granularity)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner_id": r.PathValue("owner"),
		"date":     date,
		"slots":    slots,
	})
}

// ownerRange resolves ?from=YYYY-MM-DD&to=YYYY-MM-DD (both inclusive) to
// instants in the owner's timezone.
func (s *HTTPServer) ownerRange(r *http.Request) (*models.Owner, time.Time, time.Time, error) {
	owner, err := s.svc.Bookings.Owner(r.Context(), r.PathValue("owner"))
	if err != nil {
		return nil, time.Time{}, time.Time{}, err
	}
	loc, err := owner.Location()
	if err != nil {
		return nil, time.Time{}, time.Time{}, err
	}

	v := &domain.ValidationError{}
	from, err := timeutil.ParseDate(r.URL.Query().Get("from"))
	if err != nil {
		v.Add("from", "expected YYYY-MM-DD")
	}
	to, err := timeutil.ParseDate(r.URL.Query().Get("to"))
	if err != nil {
		v.Add("to", "expected YYYY-MM-DD")
	}
	if err := v.OrNil(); err != nil {
		return nil, time.Time{}, time.Time{}, err
	}
	if to.Before(from) {
		return nil, time.Time{}, time.Time{}, &domain.ValidationError{Fields: map[string]string{"range": "from must not be after to"}}
	}
	return owner, timeutil.StartOfDay(from, loc), timeutil.StartOfDay(to.AddDate(0, 0, 1), loc), nil
}

func (s *HTTPServer) handleListAppointments(w http.ResponseWriter, r *http.Request) {
	owner, from, to, err := s.ownerRange(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	appts, err := s.svc.Bookings.ListAppointments(r.Context(), owner.ID, from, to)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if appts == nil {
		appts = []*models.Appointment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": appts})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.svc.Exporter == nil {
		writeError(w, http.StatusNotImplemented, "export is not configured")
		return
	}
	owner, from, to, err := s.ownerRange(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	// Пишем в буфер, чтобы ошибка не оборвала уже начатый ответ
	var buf bytes.Buffer
	if err := s.svc.Exporter.Write(r.Context(), &buf, owner, from, to); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	fileName := fmt.Sprintf("%s_%s.xlsx", owner.ID, r.URL.Query().Get("from"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *HTTPServer) handleGetAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := s.svc.Lifecycle.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.svc.Lifecycle.Get(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	history, err := s.svc.Lifecycle.History(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if history == nil {
		history = []models.StatusChange{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointment_id": id, "history": history})
}

type transitionFunc func(ctx context.Context, id, actor string) (*models.Appointment, error)

func (s *HTTPServer) transitionHandler(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body actorRequest
		if err := decodeJSON(w, r, &body, true); err != nil {
			s.writeServiceError(w, r, err)
			return
		}

		// с включённой авторизацией в аудит пишется только имя ключа
		actor := callerName(r.Context())
		if actor == "" {
			actor = strings.TrimSpace(body.Actor)
		}
		if actor == "" {
			actor = "api"
		}

		appt, err := fn(r.Context(), r.PathValue("id"), actor)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	}
}

func (s *HTTPServer) handleTravel(w http.ResponseWriter, r *http.Request) {
	var body travelRequest
	if err := decodeJSON(w, r, &body, false); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if body.TravelMinutes == nil {
		s.writeServiceError(w, r, &domain.ValidationError{Fields: map[string]string{"travel_minutes": "is required"}})
		return
	}

	appt, err := s.svc.Lifecycle.ApplyTravelEstimate(r.Context(), r.PathValue("id"), *body.TravelMinutes)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (s *HTTPServer) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	blocks, err := s.svc.Blocks.ListBlocked(r.Context(), r.PathValue("owner"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if blocks == nil {
		blocks = []*models.BlockEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocks": blocks})
}

func (s *HTTPServer) handleBlock(w http.ResponseWriter, r *http.Request) {
	var body blockRequest
	if err := decodeJSON(w, r, &body, false); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	entry, err := s.svc.Blocks.BlockClient(r.Context(), r.PathValue("owner"), body.Phone, body.Reason)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *HTTPServer) handleUnblock(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Blocks.UnblockClient(r.Context(), r.PathValue("owner"), r.PathValue("phone")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
