package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"salonbook/internal/model"
)

// ScheduleWriter manages date overrides of orgs and staff.
type ScheduleWriter interface {
	SetHoliday(ctx context.Context, tenantID, orgID, date, notes string) error
	SetSpecialHours(ctx context.Context, tenantID, orgID, date, openTime, closeTime, notes string) error
	ArchiveException(ctx context.Context, tenantID, orgID, date string) error
	SetStaffSchedule(ctx context.Context, s *model.StaffSchedule) error
	ArchiveStaffSchedule(ctx context.Context, tenantID, orgID, staffID, date string) error
}

// SlotInvalidator drops cached availability of an org.
type SlotInvalidator interface {
	Invalidate(ctx context.Context, tenantID, orgID string, dates ...string)
}

// ConflictChecker validates a proposed range without booking it.
type ConflictChecker interface {
	Validate(ctx context.Context, tenantID, orgID, staffID string, startUnix, endUnix int64) error
}

type exceptionRequest struct {
	Type      string `json:"type"`
	OpenTime  string `json:"open_time"`
	CloseTime string `json:"close_time"`
	Notes     string `json:"notes"`
}

type staffScheduleRequest struct {
	Type      string `json:"type"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Notes     string `json:"notes"`
}

type checkResponse struct {
	Available bool `json:"available"`
}

func (s *HTTPServer) handlePutException(w http.ResponseWriter, r *http.Request) {
	tenantID, orgID, date := chi.URLParam(r, "tenant"), chi.URLParam(r, "org"), chi.URLParam(r, "date")

	var req exceptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, err)
		return
	}
	e := model.ExceptionSchedule{
		TenantID:  tenantID,
		OrgID:     orgID,
		Date:      date,
		Type:      model.ExceptionType(req.Type),
		OpenTime:  req.OpenTime,
		CloseTime: req.CloseTime,
		Notes:     req.Notes,
	}
	if err := e.Validate(); err != nil {
		s.writeServiceError(w, err)
		return
	}

	var err error
	if e.Type == model.ExceptionHoliday {
		err = s.deps.Schedules.SetHoliday(r.Context(), tenantID, orgID, date, e.Notes)
	} else {
		err = s.deps.Schedules.SetSpecialHours(r.Context(), tenantID, orgID, date, e.OpenTime, e.CloseTime, e.Notes)
	}
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.invalidateDate(r.Context(), tenantID, orgID, date)
	s.logger.Info().Str("tenant", tenantID).Str("org", orgID).Str("date", date).Str("type", req.Type).Msg("exception schedule set")
	e.Status = model.RecordActive
	writeJSON(w, http.StatusOK, e)
}

func (s *HTTPServer) handleDeleteException(w http.ResponseWriter, r *http.Request) {
	tenantID, orgID, date := chi.URLParam(r, "tenant"), chi.URLParam(r, "org"), chi.URLParam(r, "date")
	if _, err := parseDate(date, "date"); err != nil {
		s.writeServiceError(w, err)
		return
	}
	if err := s.deps.Schedules.ArchiveException(r.Context(), tenantID, orgID, date); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.invalidateDate(r.Context(), tenantID, orgID, date)
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handlePutStaffSchedule(w http.ResponseWriter, r *http.Request) {
	tenantID, orgID := chi.URLParam(r, "tenant"), chi.URLParam(r, "org")
	staffID, date := chi.URLParam(r, "staff"), chi.URLParam(r, "date")

	var req staffScheduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, err)
		return
	}
	sched := &model.StaffSchedule{
		TenantID:  tenantID,
		OrgID:     orgID,
		StaffID:   staffID,
		Date:      date,
		Type:      model.StaffScheduleType(req.Type),
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Notes:     req.Notes,
	}
	if err := sched.Validate(); err != nil {
		s.writeServiceError(w, err)
		return
	}
	if err := s.deps.Schedules.SetStaffSchedule(r.Context(), sched); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.invalidateDate(r.Context(), tenantID, orgID, date)
	s.logger.Info().Str("tenant", tenantID).Str("org", orgID).Str("staff", staffID).Str("date", date).Str("type", req.Type).Msg("staff schedule set")
	sched.Status = model.RecordActive
	writeJSON(w, http.StatusOK, sched)
}

func (s *HTTPServer) handleDeleteStaffSchedule(w http.ResponseWriter, r *http.Request) {
	tenantID, orgID := chi.URLParam(r, "tenant"), chi.URLParam(r, "org")
	staffID, date := chi.URLParam(r, "staff"), chi.URLParam(r, "date")
	if _, err := parseDate(date, "date"); err != nil {
		s.writeServiceError(w, err)
		return
	}
	if err := s.deps.Schedules.ArchiveStaffSchedule(r.Context(), tenantID, orgID, staffID, date); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.invalidateDate(r.Context(), tenantID, orgID, date)
	w.WriteHeader(http.StatusNoContent)
}

// handleCheckReservation answers whether a range could be booked right now.
// A conflict is reported as 409 with the reason in the error message.
func (s *HTTPServer) handleCheckReservation(w http.ResponseWriter, r *http.Request) {
	tenantID, orgID := chi.URLParam(r, "tenant"), chi.URLParam(r, "org")
	q := r.URL.Query()

	start, err := parseUnix(q.Get("start"), "start")
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	end, err := parseUnix(q.Get("end"), "end")
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if err := s.deps.Checker.Validate(r.Context(), tenantID, orgID, q.Get("staff_id"), start, end); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, checkResponse{Available: true})
}

func (s *HTTPServer) invalidateDate(ctx context.Context, tenantID, orgID, date string) {
	if s.deps.SlotCache != nil {
		s.deps.SlotCache.Invalidate(ctx, tenantID, orgID, date)
	}
}

func parseUnix(raw, field string) (int64, error) {
	if raw == "" {
		return 0, badRequest("%s is required", field)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, badRequest("%s must be a unix timestamp", field)
	}
	return v, nil
}
