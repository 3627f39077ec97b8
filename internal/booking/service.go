package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"salonbook/internal/clock"
	"salonbook/internal/domain"
	"salonbook/internal/events"
	"salonbook/internal/lock"
	"salonbook/internal/metrics"
	"salonbook/internal/model"
)

var (
	// ErrValidation wraps malformed reservation requests.
	ErrValidation = errors.New("validation failed")
	// ErrOutsideWindow is returned when the start is before the lead time or after the booking horizon.
	ErrOutsideWindow = errors.New("reservation outside booking window")
	// ErrCancelDeadline is returned when cancellation comes too close to the start.
	ErrCancelDeadline = errors.New("cancellation deadline passed")
)

// EventPublisher publishes domain events.
type EventPublisher interface {
	PublishJSON(eventType string, payload any) error
}

// Locker serializes bookings across processes.
type Locker interface {
	Lock(ctx context.Context, key string) (func(context.Context) error, error)
}

// SlotInvalidator drops cached availability touched by a booking change.
type SlotInvalidator interface {
	InvalidateRange(ctx context.Context, tenantID, orgID string, startUnix, endUnix int64, loc *time.Location)
}

// NewReservation is a booking request.
// EndTimeUnix may be zero, in which case the end follows from the menus.
type NewReservation struct {
	TenantID      string
	OrgID         string
	StaffID       string
	CustomerID    string
	MenuIDs       []string
	StartTimeUnix int64
	EndTimeUnix   int64
	PaymentMethod string
	Notes         string
	Status        model.ReservationStatus
}

// Service creates and updates reservations.
type Service struct {
	store  domain.ReservationStore
	reader domain.ScheduleReader
	clock  clock.Clock
	bus    EventPublisher
	locker Locker
	cache  SlotInvalidator
	logger zerolog.Logger
}

// NewService creates a booking service.
func NewService(store domain.ReservationStore, reader domain.ScheduleReader, clk clock.Clock, bus EventPublisher, logger *zerolog.Logger) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "booking").Logger()
	}
	return &Service{store: store, reader: reader, clock: clk, bus: bus, logger: l}
}

// UseLocker enables a cross-process lock per (org, staff).
func (s *Service) UseLocker(l Locker) { s.locker = l }

// UseSlotCache registers the availability cache to invalidate on changes.
func (s *Service) UseSlotCache(c SlotInvalidator) { s.cache = c }

// CreateReservation validates the request and inserts it. The conflict check
// and the insert share one store transaction.
func (s *Service) CreateReservation(ctx context.Context, req NewReservation) (*model.Reservation, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	menus, total, minutes, err := s.resolveMenus(ctx, req)
	if err != nil {
		return nil, err
	}

	end := req.EndTimeUnix
	if end == 0 {
		if minutes == 0 {
			return nil, fmt.Errorf("%w: end time or menus required", ErrValidation)
		}
		end = req.StartTimeUnix + int64(minutes)*60
	}
	if req.StartTimeUnix >= end {
		return nil, ErrInvalidRange
	}

	cfg, err := s.reader.GetReservationConfig(ctx, req.TenantID, req.OrgID)
	if err != nil {
		return nil, configError(req.TenantID, req.OrgID, err)
	}
	if err := s.checkWindow(cfg, req.StartTimeUnix); err != nil {
		return nil, err
	}

	status := req.Status
	if status == "" {
		status = model.StatusPending
	}
	if status != model.StatusPending && status != model.StatusConfirmed {
		return nil, fmt.Errorf("%w: initial status must be pending or confirmed", ErrValidation)
	}

	unlock, err := s.lock(ctx, req.TenantID, req.OrgID, req.StaffID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.clock.Now().UTC()
	r := &model.Reservation{
		ID:            uuid.NewString(),
		TenantID:      req.TenantID,
		OrgID:         req.OrgID,
		StaffID:       req.StaffID,
		CustomerID:    req.CustomerID,
		Menus:         menus,
		StartTimeUnix: req.StartTimeUnix,
		EndTimeUnix:   end,
		Status:        status,
		PaymentMethod: req.PaymentMethod,
		TotalPrice:    total,
		Notes:         req.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = s.store.WithinTx(ctx, func(tx domain.ReservationTx) error {
		txCfg, err := tx.GetReservationConfig(ctx, r.TenantID, r.OrgID)
		if err != nil {
			return configError(r.TenantID, r.OrgID, err)
		}
		existing, err := tx.ListActiveReservations(ctx, r.TenantID, r.OrgID, r.StartTimeUnix, r.EndTimeUnix)
		if err != nil {
			return fmt.Errorf("list reservations: %w", err)
		}
		if err := CheckConflict(existing, r.StaffID, r.StartTimeUnix, r.EndTimeUnix, txCfg.AvailableSheet); err != nil {
			return err
		}
		return tx.InsertReservation(ctx, r)
	})
	if err != nil {
		s.recordConflict(err)
		return nil, err
	}

	metrics.IncReservationCreated(string(r.Status))
	s.invalidate(ctx, r, cfg)
	s.publish(events.ReservationCreated, r, "")

	s.logger.Info().
		Str("reservation_id", r.ID).
		Str("tenant", r.TenantID).
		Str("org", r.OrgID).
		Str("staff", r.StaffID).
		Time("start", r.Start()).
		Time("end", r.End()).
		Msg("reservation created")

	return r, nil
}

// ChangeStatus moves a reservation along its lifecycle.
func (s *Service) ChangeStatus(ctx context.Context, tenantID, orgID, id string, to model.ReservationStatus) (*model.Reservation, error) {
	var (
		updated  *model.Reservation
		previous model.ReservationStatus
		cfg      *model.ReservationConfig
	)

	err := s.store.WithinTx(ctx, func(tx domain.ReservationTx) error {
		r, err := tx.GetReservation(ctx, tenantID, orgID, id)
		if err != nil {
			return err
		}
		next, err := r.Status.Transition(to)
		if err != nil {
			return err
		}

		cfg, err = tx.GetReservationConfig(ctx, tenantID, orgID)
		if err != nil {
			return configError(tenantID, orgID, err)
		}
		if next == model.StatusCanceled && cfg.AvailableCancelDays > 0 {
			// whole calendar days in the org timezone, so a DST shift does not move it
			deadline := r.Start().In(cfg.Location()).AddDate(0, 0, -cfg.AvailableCancelDays)
			if s.clock.Now().After(deadline) {
				return fmt.Errorf("%w: allowed until %s", ErrCancelDeadline, deadline.Format(time.RFC3339))
			}
		}

		previous = r.Status
		r.Status = next
		r.UpdatedAt = s.clock.Now().UTC()
		if err := tx.UpdateReservationStatus(ctx, r); err != nil {
			return err
		}
		updated = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.IncStatusChange(string(updated.Status))
	s.invalidate(ctx, updated, cfg)
	s.publish(events.ReservationStatusChanged, updated, previous)

	s.logger.Info().
		Str("reservation_id", updated.ID).
		Str("from", string(previous)).
		Str("to", string(updated.Status)).
		Msg("reservation status changed")

	return updated, nil
}

// Reschedule moves a pending or confirmed reservation to a new time range.
// endUnix may be zero to keep the current duration.
func (s *Service) Reschedule(ctx context.Context, tenantID, orgID, id string, startUnix, endUnix int64) (*model.Reservation, error) {
	current, err := s.store.GetReservation(ctx, tenantID, orgID, id)
	if err != nil {
		return nil, err
	}
	if current.Status != model.StatusPending && current.Status != model.StatusConfirmed {
		return nil, fmt.Errorf("%w: cannot reschedule %s reservation", ErrValidation, current.Status)
	}
	if endUnix == 0 {
		endUnix = startUnix + (current.EndTimeUnix - current.StartTimeUnix)
	}
	if startUnix >= endUnix {
		return nil, ErrInvalidRange
	}

	cfg, err := s.reader.GetReservationConfig(ctx, tenantID, orgID)
	if err != nil {
		return nil, configError(tenantID, orgID, err)
	}
	if err := s.checkWindow(cfg, startUnix); err != nil {
		return nil, err
	}

	unlock, err := s.lock(ctx, tenantID, orgID, current.StaffID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		updated          *model.Reservation
		oldStart, oldEnd int64
	)
	err = s.store.WithinTx(ctx, func(tx domain.ReservationTx) error {
		r, err := tx.GetReservation(ctx, tenantID, orgID, id)
		if err != nil {
			return err
		}
		if r.Status != model.StatusPending && r.Status != model.StatusConfirmed {
			return fmt.Errorf("%w: cannot reschedule %s reservation", ErrValidation, r.Status)
		}
		txCfg, err := tx.GetReservationConfig(ctx, tenantID, orgID)
		if err != nil {
			return configError(tenantID, orgID, err)
		}
		existing, err := tx.ListActiveReservations(ctx, tenantID, orgID, startUnix, endUnix)
		if err != nil {
			return fmt.Errorf("list reservations: %w", err)
		}
		if err := CheckConflict(excluding(existing, r.ID), r.StaffID, startUnix, endUnix, txCfg.AvailableSheet); err != nil {
			return err
		}

		oldStart, oldEnd = r.StartTimeUnix, r.EndTimeUnix
		r.StartTimeUnix, r.EndTimeUnix = startUnix, endUnix
		r.UpdatedAt = s.clock.Now().UTC()
		if err := tx.UpdateReservationTime(ctx, r); err != nil {
			return err
		}
		updated = r
		return nil
	})
	if err != nil {
		s.recordConflict(err)
		return nil, err
	}

	if s.cache != nil {
		s.cache.InvalidateRange(ctx, tenantID, orgID, oldStart, oldEnd, cfg.Location())
	}
	s.invalidate(ctx, updated, cfg)
	s.publish(events.ReservationRescheduled, updated, "")

	s.logger.Info().
		Str("reservation_id", updated.ID).
		Time("start", updated.Start()).
		Time("end", updated.End()).
		Msg("reservation rescheduled")

	return updated, nil
}

func validateRequest(req NewReservation) error {
	var missing []string
	if req.TenantID == "" {
		missing = append(missing, "tenant_id")
	}
	if req.OrgID == "" {
		missing = append(missing, "org_id")
	}
	if req.CustomerID == "" {
		missing = append(missing, "customer_id")
	}
	if req.StartTimeUnix <= 0 {
		missing = append(missing, "start_time_unix")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrValidation, strings.Join(missing, ", "))
	}
	if req.EndTimeUnix < 0 {
		return fmt.Errorf("%w: end_time_unix must not be negative", ErrValidation)
	}
	return nil
}

func (s *Service) resolveMenus(ctx context.Context, req NewReservation) ([]model.ReservationMenu, int64, int, error) {
	menus := make([]model.ReservationMenu, 0, len(req.MenuIDs))
	var total int64
	minutes := 0
	for _, id := range req.MenuIDs {
		m, err := s.reader.GetMenu(ctx, req.TenantID, req.OrgID, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, 0, 0, fmt.Errorf("%w: unknown menu %s", ErrValidation, id)
			}
			return nil, 0, 0, fmt.Errorf("get menu: %w", err)
		}
		if !m.IsActive {
			return nil, 0, 0, fmt.Errorf("%w: menu %s is not offered", ErrValidation, id)
		}
		d := m.EnsureDuration()
		menus = append(menus, model.ReservationMenu{MenuID: m.ID, Name: m.Name, Price: m.Price, Minutes: d})
		total += m.Price
		minutes += d
	}
	return menus, total, minutes, nil
}

// checkWindow applies the same day bounds as the availability calculator.
func (s *Service) checkWindow(cfg *model.ReservationConfig, startUnix int64) error {
	loc := cfg.Location()
	now := s.clock.Now().In(loc)
	today := model.StartOfDay(now)
	start := time.Unix(startUnix, 0).In(loc)
	day := model.StartOfDay(start)

	if day.Before(today) || day.After(today.AddDate(0, 0, cfg.ReservationLimitDays)) {
		return fmt.Errorf("%w: %s is outside the %d-day horizon", ErrOutsideWindow, day.Format(model.DateLayout), cfg.ReservationLimitDays)
	}
	earliest := now.Add(time.Duration(cfg.TodayFirstLaterMinutes) * time.Minute)
	if day.Equal(today) && start.Before(earliest) {
		return fmt.Errorf("%w: earliest start today is %s", ErrOutsideWindow, earliest.Format("15:04"))
	}
	return nil
}

func (s *Service) lock(ctx context.Context, tenantID, orgID, staffID string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	release, err := s.locker.Lock(ctx, lock.StaffKey(tenantID, orgID, staffID))
	if err != nil {
		return nil, fmt.Errorf("acquire booking lock: %w", err)
	}
	return func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn().Err(err).Str("staff", staffID).Msg("release booking lock")
		}
	}, nil
}

func (s *Service) recordConflict(err error) {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		metrics.IncReservationConflict(string(conflict.Reason))
		s.logger.Info().Str("reason", string(conflict.Reason)).Str("conflicting_id", conflict.ReservationID).Msg("reservation rejected")
	}
}

func (s *Service) invalidate(ctx context.Context, r *model.Reservation, cfg *model.ReservationConfig) {
	if s.cache == nil {
		return
	}
	var loc *time.Location
	if cfg != nil {
		loc = cfg.Location()
	}
	s.cache.InvalidateRange(ctx, r.TenantID, r.OrgID, r.StartTimeUnix, r.EndTimeUnix, loc)
}

func (s *Service) publish(eventType string, r *model.Reservation, previous model.ReservationStatus) {
	if s.bus == nil {
		return
	}
	payload := events.ReservationEvent{
		ReservationID:  r.ID,
		TenantID:       r.TenantID,
		OrgID:          r.OrgID,
		StaffID:        r.StaffID,
		Status:         string(r.Status),
		PreviousStatus: string(previous),
		StartTimeUnix:  r.StartTimeUnix,
		EndTimeUnix:    r.EndTimeUnix,
	}
	if err := s.bus.PublishJSON(eventType, payload); err != nil {
		s.logger.Warn().Err(err).Str("type", eventType).Msg("publish event")
	}
}
