package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"salonbook/internal/booking"
	"salonbook/internal/domain"
	"salonbook/internal/model"
	"salonbook/internal/report"
	"salonbook/internal/slots"
	"salonbook/internal/syncpipe"
)

const (
	defaultCalendarDays = 7
	maxBodyBytes        = 1 << 20
)

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

type availabilityResponse struct {
	Date  string           `json:"date"`
	Slots []model.SlotInfo `json:"slots"`
}

type daysResponse struct {
	From string                  `json:"from"`
	Days []model.DayAvailability `json:"days"`
}

type createReservationRequest struct {
	StaffID       string   `json:"staff_id"`
	CustomerID    string   `json:"customer_id"`
	MenuIDs       []string `json:"menu_ids"`
	StartTimeUnix int64    `json:"start_time_unix"`
	EndTimeUnix   int64    `json:"end_time_unix"`
	PaymentMethod string   `json:"payment_method"`
	Notes         string   `json:"notes"`
	Status        string   `json:"status"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type timeRequest struct {
	StartTimeUnix int64 `json:"start_time_unix"`
	EndTimeUnix   int64 `json:"end_time_unix"`
}

func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	tenantID, orgID := chi.URLParam(r, "tenant"), chi.URLParam(r, "org")
	q := r.URL.Query()

	date, err := parseDate(q.Get("date"), "date")
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	duration, err := s.resolveDuration(r.Context(), tenantID, orgID, q.Get("duration"), q["menu_id"])
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	result, err := s.deps.Slots.ComputeAvailableSlots(r.Context(), tenantID, orgID, date, duration, q.Get("staff_id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, availabilityResponse{
		Date:  date.Format(model.DateLayout),
		Slots: model.ToSlotInfo(result),
	})
}

func (s *HTTPServer) handleAvailabilityDays(w http.ResponseWriter, r *http.Request) {
	tenantID, orgID := chi.URLParam(r, "tenant"), chi.URLParam(r, "org")
	q := r.URL.Query()

	from, err := parseDate(q.Get("from"), "from")
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	days := defaultCalendarDays
	if raw := q.Get("days"); raw != "" {
		days, err = strconv.Atoi(raw)
		if err != nil {
			s.writeServiceError(w, badRequest("days must be an integer"))
			return
		}
	}
	duration, err := s.resolveDuration(r.Context(), tenantID, orgID, q.Get("duration"), q["menu_id"])
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	result, err := s.deps.Slots.ComputeAvailableDays(r.Context(), tenantID, orgID, from, days, duration, q.Get("staff_id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, daysResponse{From: from.Format(model.DateLayout), Days: result})
}

func (s *HTTPServer) handleCreateReservation(w http.ResponseWriter, r *http.Request) {
	var req createReservationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, err)
		return
	}

	var status model.ReservationStatus
	if req.Status != "" {
		parsed, err := model.ParseReservationStatus(req.Status)
		if err != nil {
			s.writeServiceError(w, badRequest("%v", err))
			return
		}
		status = parsed
	}

	res, err := s.deps.Booking.CreateReservation(r.Context(), booking.NewReservation{
		TenantID:      chi.URLParam(r, "tenant"),
		OrgID:         chi.URLParam(r, "org"),
		StaffID:       req.StaffID,
		CustomerID:    req.CustomerID,
		MenuIDs:       req.MenuIDs,
		StartTimeUnix: req.StartTimeUnix,
		EndTimeUnix:   req.EndTimeUnix,
		PaymentMethod: req.PaymentMethod,
		Notes:         req.Notes,
		Status:        status,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *HTTPServer) handleChangeStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, err)
		return
	}
	to, err := model.ParseReservationStatus(req.Status)
	if err != nil {
		s.writeServiceError(w, badRequest("%v", err))
		return
	}

	res, err := s.deps.Booking.ChangeStatus(r.Context(), chi.URLParam(r, "tenant"), chi.URLParam(r, "org"), chi.URLParam(r, "id"), to)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleReschedule(w http.ResponseWriter, r *http.Request) {
	var req timeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, err)
		return
	}

	res, err := s.deps.Booking.Reschedule(r.Context(), chi.URLParam(r, "tenant"), chi.URLParam(r, "org"), chi.URLParam(r, "id"), req.StartTimeUnix, req.EndTimeUnix)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleSyncRun starts a run. With ?wait=true the response is sent when the
// run finishes or the client goes away.
func (s *HTTPServer) handleSyncRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sync == nil {
		writeError(w, http.StatusServiceUnavailable, "sync is not configured")
		return
	}
	done, err := s.deps.Sync.Trigger(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		select {
		case <-done:
			writeJSON(w, http.StatusOK, s.deps.Sync.Status())
		case <-r.Context().Done():
		}
		return
	}
	writeJSON(w, http.StatusAccepted, s.deps.Sync.Status())
}

func (s *HTTPServer) handleSyncStatus(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Sync == nil {
		writeError(w, http.StatusServiceUnavailable, "sync is not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Sync.Status())
}

// handleCompletedReport exports migrated reservations whose start falls on
// the dates from..to (inclusive) in the org timezone.
func (s *HTTPServer) handleCompletedReport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Facts == nil {
		writeError(w, http.StatusServiceUnavailable, "analytics store is not configured")
		return
	}
	tenantID, orgID := chi.URLParam(r, "tenant"), chi.URLParam(r, "org")
	q := r.URL.Query()

	from, err := parseDate(q.Get("from"), "from")
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	to := from
	if q.Get("to") != "" {
		if to, err = parseDate(q.Get("to"), "to"); err != nil {
			s.writeServiceError(w, err)
			return
		}
	}
	if to.Before(from) {
		s.writeServiceError(w, badRequest("to must not be before from"))
		return
	}

	cfg, err := s.deps.Menus.GetReservationConfig(r.Context(), tenantID, orgID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	loc := cfg.Location()
	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	end := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)

	facts, err := s.deps.Facts.ListFacts(r.Context(), tenantID, orgID, start, end)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename(orgID, from, to)))
	if err := report.WriteCompleted(w, facts, loc); err != nil {
		s.logger.Error().Err(err).Str("tenant", tenantID).Str("org", orgID).Msg("report export failed")
	}
}

// resolveDuration takes an explicit duration or sums the blocking time of the
// given menus.
func (s *HTTPServer) resolveDuration(ctx context.Context, tenantID, orgID, raw string, menuIDs []string) (int, error) {
	if raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil {
			return 0, badRequest("duration must be an integer")
		}
		return d, nil
	}
	if len(menuIDs) == 0 {
		return 0, badRequest("duration or menu_id is required")
	}

	total := 0
	for _, id := range menuIDs {
		m, err := s.deps.Menus.GetMenu(ctx, tenantID, orgID, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return 0, fmt.Errorf("menu %s: %w", id, domain.ErrNotFound)
			}
			return 0, err
		}
		if !m.IsActive {
			return 0, badRequest("menu %s is not offered", id)
		}
		total += m.EnsureDuration()
	}
	return total, nil
}

func parseDate(raw, field string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, badRequest("%s is required", field)
	}
	t, err := time.Parse(model.DateLayout, raw)
	if err != nil {
		return time.Time{}, badRequest("%s must be YYYY-MM-DD", field)
	}
	return t, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid JSON body: %v", err)
	}
	return nil
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, slots.ErrConfiguration):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, booking.ErrConflict), errors.Is(err, syncpipe.ErrAlreadyRunning):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, booking.ErrValidation),
		errors.Is(err, booking.ErrInvalidRange),
		errors.Is(err, booking.ErrOutsideWindow),
		errors.Is(err, booking.ErrCancelDeadline),
		errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, model.ErrInvalidSchedule):
		status = http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("request failed")
		if status == http.StatusInternalServerError {
			writeError(w, status, "internal error")
			return
		}
	}
	writeError(w, status, err.Error())
}
