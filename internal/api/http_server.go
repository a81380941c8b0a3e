package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"slotkeeper/internal/config"
	"slotkeeper/internal/models"
	"slotkeeper/internal/service"
)

// Bookings is the booking facade used by the HTTP API.
type Bookings interface {
	CheckBookingRequest(ctx context.Context, req models.BookingRequest) (*service.BookingResult, error)
	GetAvailability(ctx context.Context, ownerID, rawDate string, granularity int) ([]models.Slot, error)
	ListAppointments(ctx context.Context, ownerID string, from, to time.Time) ([]*models.Appointment, error)
	Owner(ctx context.Context, ownerID string) (*models.Owner, error)
}

// Lifecycle drives appointment status changes.
type Lifecycle interface {
	Get(ctx context.Context, id string) (*models.Appointment, error)
	History(ctx context.Context, id string) ([]models.StatusChange, error)
	Confirm(ctx context.Context, id, actor string) (*models.Appointment, error)
	Cancel(ctx context.Context, id, actor string) (*models.Appointment, error)
	Complete(ctx context.Context, id, actor string) (*models.Appointment, error)
	MarkNoShow(ctx context.Context, id, actor string) (*models.Appointment, error)
	ApplyTravelEstimate(ctx context.Context, id string, minutes int) (*models.Appointment, error)
}

// BlockList manages owner-scoped client blocks.
type BlockList interface {
	BlockClient(ctx context.Context, ownerID, phone, reason string) (*models.BlockEntry, error)
	UnblockClient(ctx context.Context, ownerID, phone string) error
	ListBlocked(ctx context.Context, ownerID string) ([]*models.BlockEntry, error)
}

// Exporter renders an owner's appointments as a workbook.
type Exporter interface {
	Write(ctx context.Context, w io.Writer, owner *models.Owner, from, to time.Time) error
}

// Probe is a readiness check of one dependency.
type Probe func(ctx context.Context) error

// Services bundles what the HTTP API serves.
type Services struct {
	Bookings  Bookings
	Lifecycle Lifecycle
	Blocks    BlockList
	Exporter  Exporter
	Probes    map[string]Probe
}

// HTTPServer exposes the booking API over HTTP/JSON.
type HTTPServer struct {
	cfg    config.APIConfig
	svc    Services
	auth   *HTTPAuth
	server *http.Server
	logger *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, svc Services, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	srv := &HTTPServer{cfg: cfg, svc: svc, auth: NewHTTPAuth(cfg), logger: logger}

	mux := http.NewServeMux()
	srv.routes(mux)
	handler := loggingMiddleware(logger, recoverMiddleware(logger, mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return srv
}

func (s *HTTPServer) routes(mux *http.ServeMux) {
	handle := func(pattern, permission string, h http.HandlerFunc) {
		mux.Handle(pattern, instrument(pattern, s.auth.Require(permission, h)))
	}

	handle("POST /api/v1/bookings", PermBook, s.handleCreateBooking)
	handle("GET /api/v1/owners/{owner}/availability", PermRead, s.handleAvailability)
	handle("GET /api/v1/owners/{owner}/appointments", PermManage, s.handleListAppointments)
	handle("GET /api/v1/owners/{owner}/export", PermManage, s.handleExport)
	handle("GET /api/v1/owners/{owner}/blocks", PermManage, s.handleListBlocks)
	handle("POST /api/v1/owners/{owner}/blocks", PermManage, s.handleBlock)
	handle("DELETE /api/v1/owners/{owner}/blocks/{phone}", PermManage, s.handleUnblock)

	handle("GET /api/v1/appointments/{id}", PermRead, s.handleGetAppointment)
	handle("GET /api/v1/appointments/{id}/history", PermRead, s.handleHistory)
	handle("POST /api/v1/appointments/{id}/confirm", PermBook, s.transitionHandler(s.svc.Lifecycle.Confirm))
	handle("POST /api/v1/appointments/{id}/cancel", PermBook, s.transitionHandler(s.svc.Lifecycle.Cancel))
	handle("POST /api/v1/appointments/{id}/complete", PermManage, s.transitionHandler(s.svc.Lifecycle.Complete))
	handle("POST /api/v1/appointments/{id}/no-show", PermManage, s.transitionHandler(s.svc.Lifecycle.MarkNoShow))
	handle("POST /api/v1/appointments/{id}/travel", PermManage, s.handleTravel)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// Handler returns the full middleware-wrapped handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if failed := runProbes(ctx, s.svc.Probes); len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// runProbes returns the failing probe names with their errors.
func runProbes(ctx context.Context, probes map[string]Probe) map[string]string {
	failed := make(map[string]string)
	for name, probe := range probes {
		if err := probe(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	return failed
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
