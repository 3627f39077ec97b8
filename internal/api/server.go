package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"salonbook/internal/analytics"
	"salonbook/internal/booking"
	"salonbook/internal/metrics"
	"salonbook/internal/model"
	"salonbook/internal/syncpipe"
)

// SlotService computes availability.
type SlotService interface {
	ComputeAvailableSlots(ctx context.Context, tenantID, orgID string, date time.Time, durationMinutes int, staffID string) ([]model.TimeSlot, error)
	ComputeAvailableDays(ctx context.Context, tenantID, orgID string, from time.Time, days, durationMinutes int, staffID string) ([]model.DayAvailability, error)
}

// BookingService creates and updates reservations.
type BookingService interface {
	CreateReservation(ctx context.Context, req booking.NewReservation) (*model.Reservation, error)
	ChangeStatus(ctx context.Context, tenantID, orgID, id string, to model.ReservationStatus) (*model.Reservation, error)
	Reschedule(ctx context.Context, tenantID, orgID, id string, startUnix, endUnix int64) (*model.Reservation, error)
}

// MenuReader resolves menu durations and org settings.
type MenuReader interface {
	GetMenu(ctx context.Context, tenantID, orgID, menuID string) (*model.Menu, error)
	GetReservationConfig(ctx context.Context, tenantID, orgID string) (*model.ReservationConfig, error)
}

// SyncRunner starts and reports batch sync runs.
type SyncRunner interface {
	Trigger(ctx context.Context) (<-chan struct{}, error)
	Status() syncpipe.Status
}

// FactLister reads migrated reservations for reports.
type FactLister interface {
	ListFacts(ctx context.Context, tenantID, orgID string, from, to time.Time) ([]analytics.ReservationFact, error)
}

// Deps are the services behind the API. Sync and Facts may be nil when the
// analytics store is not configured, SlotCache when Redis is not.
type Deps struct {
	Slots     SlotService
	Booking   BookingService
	Menus     MenuReader
	Schedules ScheduleWriter
	Checker   ConflictChecker
	SlotCache SlotInvalidator
	Sync      SyncRunner
	Facts     FactLister
}

// HTTPServer serves the public API.
type HTTPServer struct {
	deps   Deps
	server *http.Server
	logger zerolog.Logger
}

// NewHTTPServer creates the API server listening on addr.
func NewHTTPServer(addr string, deps Deps, logger *zerolog.Logger) *HTTPServer {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "api").Logger()
	}
	s := &HTTPServer{deps: deps, logger: l}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}
	return s
}

// Handler returns the router.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("API server started")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/tenants/{tenant}/orgs/{org}", func(r chi.Router) {
			r.Get("/availability", s.handleAvailability)
			r.Get("/availability/days", s.handleAvailabilityDays)
			r.Post("/reservations", s.handleCreateReservation)
			if s.deps.Checker != nil {
				r.Get("/reservations/check", s.handleCheckReservation)
			}
			r.Patch("/reservations/{id}/status", s.handleChangeStatus)
			r.Patch("/reservations/{id}/time", s.handleReschedule)
			r.Get("/reports/completed.xlsx", s.handleCompletedReport)

			if s.deps.Schedules != nil {
				r.Put("/exceptions/{date}", s.handlePutException)
				r.Delete("/exceptions/{date}", s.handleDeleteException)
				r.Put("/staff/{staff}/schedule/{date}", s.handlePutStaffSchedule)
				r.Delete("/staff/{staff}/schedule/{date}", s.handleDeleteStaffSchedule)
			}
		})
		r.Post("/sync/run", s.handleSyncRun)
		r.Get("/sync/status", s.handleSyncStatus)
	})
	return r
}

func (s *HTTPServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.IncHTTPRequest(route, ww.Status())
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
