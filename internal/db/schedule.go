package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"salonbook/internal/domain"
	"salonbook/internal/model"
)

// GetReservationConfig returns the booking rules of an org. Orgs deactivated
// by a catalog sync report domain.ErrNotFound.
func (db *DB) GetReservationConfig(ctx context.Context, tenantID, orgID string) (*model.ReservationConfig, error) {
	return getReservationConfig(ctx, db.DB, tenantID, orgID)
}

func getReservationConfig(ctx context.Context, q queryer, tenantID, orgID string) (*model.ReservationConfig, error) {
	var c model.ReservationConfig
	err := q.QueryRowContext(ctx, `
		SELECT c.tenant_id, c.org_id, c.interval_minutes, c.limit_days, c.cancel_days,
		       c.available_sheet, c.today_first_later_minutes, c.timezone, c.updated_at
		FROM reservation_configs c
		LEFT JOIN orgs o ON o.tenant_id = c.tenant_id AND o.id = c.org_id
		WHERE c.tenant_id = ? AND c.org_id = ? AND COALESCE(o.is_active, 1) = 1`,
		tenantID, orgID,
	).Scan(
		&c.TenantID, &c.OrgID, &c.ReservationIntervalMinutes, &c.ReservationLimitDays, &c.AvailableCancelDays,
		&c.AvailableSheet, &c.TodayFirstLaterMinutes, &c.Timezone, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertReservationConfig creates or replaces the booking rules of an org.
func (db *DB) UpsertReservationConfig(ctx context.Context, c *model.ReservationConfig) error {
	return upsertReservationConfig(ctx, db.DB, c)
}

func upsertReservationConfig(ctx context.Context, q queryer, c *model.ReservationConfig) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO reservation_configs (
			tenant_id, org_id, interval_minutes, limit_days, cancel_days,
			available_sheet, today_first_later_minutes, timezone, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, org_id) DO UPDATE SET
			interval_minutes = excluded.interval_minutes,
			limit_days = excluded.limit_days,
			cancel_days = excluded.cancel_days,
			available_sheet = excluded.available_sheet,
			today_first_later_minutes = excluded.today_first_later_minutes,
			timezone = excluded.timezone,
			updated_at = excluded.updated_at`,
		c.TenantID, c.OrgID, c.ReservationIntervalMinutes, c.ReservationLimitDays, c.AvailableCancelDays,
		c.AvailableSheet, c.TodayFirstLaterMinutes, c.Timezone, time.Now(),
	)
	return err
}

// GetWeekSchedule returns opening hours for a weekday (0 = Sunday).
func (db *DB) GetWeekSchedule(ctx context.Context, tenantID, orgID string, day int) (*model.WeekSchedule, error) {
	var s model.WeekSchedule
	var dow int
	err := db.QueryRowContext(ctx, `
		SELECT tenant_id, org_id, day_of_week, is_open, open_time, close_time, updated_at
		FROM week_schedules
		WHERE tenant_id = ? AND org_id = ? AND day_of_week = ?`,
		tenantID, orgID, day,
	).Scan(&s.TenantID, &s.OrgID, &dow, &s.IsOpen, &s.OpenTime, &s.CloseTime, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.DayOfWeek = time.Weekday(dow)
	return &s, nil
}

// UpsertWeekSchedule creates or replaces the hours of one weekday.
func (db *DB) UpsertWeekSchedule(ctx context.Context, s *model.WeekSchedule) error {
	return upsertWeekSchedule(ctx, db.DB, s)
}

func upsertWeekSchedule(ctx context.Context, q queryer, s *model.WeekSchedule) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO week_schedules (tenant_id, org_id, day_of_week, is_open, open_time, close_time, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, org_id, day_of_week) DO UPDATE SET
			is_open = excluded.is_open,
			open_time = excluded.open_time,
			close_time = excluded.close_time,
			updated_at = excluded.updated_at`,
		s.TenantID, s.OrgID, int(s.DayOfWeek), s.IsOpen, s.OpenTime, s.CloseTime, time.Now(),
	)
	return err
}

// Exception sources. Catalog syncs only archive rows they created.
const (
	SourceManual = "manual"
	SourceConfig = "config"
)

// GetExceptionSchedule returns the active override for a date, or nil.
func (db *DB) GetExceptionSchedule(ctx context.Context, tenantID, orgID, date string) (*model.ExceptionSchedule, error) {
	var e model.ExceptionSchedule
	err := db.QueryRowContext(ctx, `
		SELECT id, tenant_id, org_id, date, type, open_time, close_time, notes, status, created_at, updated_at
		FROM exception_schedules
		WHERE tenant_id = ? AND org_id = ? AND date = ? AND status = ?
		LIMIT 1`,
		tenantID, orgID, date, model.RecordActive,
	).Scan(
		&e.ID, &e.TenantID, &e.OrgID, &e.Date, &e.Type, &e.OpenTime, &e.CloseTime,
		&e.Notes, &e.Status, &e.CreatedAt, &e.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// SetException creates or replaces the override of one date and reactivates it.
func (db *DB) SetException(ctx context.Context, e *model.ExceptionSchedule) error {
	return setException(ctx, db.DB, e, SourceManual)
}

func setException(ctx context.Context, q queryer, e *model.ExceptionSchedule, source string) error {
	if e == nil {
		return fmt.Errorf("exception is nil")
	}
	if err := e.Validate(); err != nil {
		return err
	}

	now := time.Now()
	_, err := q.ExecContext(ctx, `
		INSERT INTO exception_schedules (
			tenant_id, org_id, date, type, open_time, close_time, notes, status, source, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, org_id, date) DO UPDATE SET
			type = excluded.type,
			open_time = excluded.open_time,
			close_time = excluded.close_time,
			notes = excluded.notes,
			status = excluded.status,
			source = excluded.source,
			updated_at = excluded.updated_at`,
		e.TenantID, e.OrgID, e.Date, e.Type, e.OpenTime, e.CloseTime, e.Notes, model.RecordActive, source, now, now,
	)
	return err
}

// SetHoliday closes an org on date.
func (db *DB) SetHoliday(ctx context.Context, tenantID, orgID, date, notes string) error {
	return db.SetException(ctx, &model.ExceptionSchedule{
		TenantID: tenantID,
		OrgID:    orgID,
		Date:     date,
		Type:     model.ExceptionHoliday,
		Notes:    notes,
	})
}

// SetSpecialHours replaces the weekly window on date.
func (db *DB) SetSpecialHours(ctx context.Context, tenantID, orgID, date, openTime, closeTime, notes string) error {
	return db.SetException(ctx, &model.ExceptionSchedule{
		TenantID:  tenantID,
		OrgID:     orgID,
		Date:      date,
		Type:      model.ExceptionSpecialHours,
		OpenTime:  openTime,
		CloseTime: closeTime,
		Notes:     notes,
	})
}

// ArchiveException soft-deletes the override of a date. Missing rows are not an error.
func (db *DB) ArchiveException(ctx context.Context, tenantID, orgID, date string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE exception_schedules SET status = ?, updated_at = ?
		WHERE tenant_id = ? AND org_id = ? AND date = ?`,
		model.RecordArchived, time.Now(), tenantID, orgID, date,
	)
	return err
}

// GetStaffSchedule returns the active staff override for a date, or nil.
func (db *DB) GetStaffSchedule(ctx context.Context, tenantID, orgID, staffID, date string) (*model.StaffSchedule, error) {
	var s model.StaffSchedule
	err := db.QueryRowContext(ctx, `
		SELECT id, tenant_id, org_id, staff_id, date, type, start_time, end_time, notes, status, created_at, updated_at
		FROM staff_schedules
		WHERE tenant_id = ? AND org_id = ? AND staff_id = ? AND date = ? AND status = ?
		LIMIT 1`,
		tenantID, orgID, staffID, date, model.RecordActive,
	).Scan(
		&s.ID, &s.TenantID, &s.OrgID, &s.StaffID, &s.Date, &s.Type, &s.StartTime, &s.EndTime,
		&s.Notes, &s.Status, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// SetStaffSchedule creates or replaces a staff override and reactivates it.
func (db *DB) SetStaffSchedule(ctx context.Context, s *model.StaffSchedule) error {
	if s == nil {
		return fmt.Errorf("staff schedule is nil")
	}
	if err := s.Validate(); err != nil {
		return err
	}

	now := time.Now()
	_, err := db.ExecContext(ctx, `
		INSERT INTO staff_schedules (
			tenant_id, org_id, staff_id, date, type, start_time, end_time, notes, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, org_id, staff_id, date) DO UPDATE SET
			type = excluded.type,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			notes = excluded.notes,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		s.TenantID, s.OrgID, s.StaffID, s.Date, s.Type, s.StartTime, s.EndTime, s.Notes, model.RecordActive, now, now,
	)
	return err
}

// ArchiveStaffSchedule soft-deletes a staff override.
func (db *DB) ArchiveStaffSchedule(ctx context.Context, tenantID, orgID, staffID, date string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE staff_schedules SET status = ?, updated_at = ?
		WHERE tenant_id = ? AND org_id = ? AND staff_id = ? AND date = ?`,
		model.RecordArchived, time.Now(), tenantID, orgID, staffID, date,
	)
	return err
}

// GetMenu returns one menu of an org.
func (db *DB) GetMenu(ctx context.Context, tenantID, orgID, menuID string) (*model.Menu, error) {
	var m model.Menu
	err := db.QueryRowContext(ctx, `
		SELECT id, tenant_id, org_id, name, price, time_to_min, ensure_time_to_min, is_active, updated_at
		FROM menus
		WHERE tenant_id = ? AND org_id = ? AND id = ?`,
		tenantID, orgID, menuID,
	).Scan(&m.ID, &m.TenantID, &m.OrgID, &m.Name, &m.Price, &m.TimeToMin, &m.EnsureTimeToMin, &m.IsActive, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpsertMenu creates or replaces a menu.
func (db *DB) UpsertMenu(ctx context.Context, m *model.Menu) error {
	return upsertMenu(ctx, db.DB, m)
}

func upsertMenu(ctx context.Context, q queryer, m *model.Menu) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO menus (tenant_id, org_id, id, name, price, time_to_min, ensure_time_to_min, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, org_id, id) DO UPDATE SET
			name = excluded.name,
			price = excluded.price,
			time_to_min = excluded.time_to_min,
			ensure_time_to_min = excluded.ensure_time_to_min,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		m.TenantID, m.OrgID, m.ID, m.Name, m.Price, m.TimeToMin, m.EnsureTimeToMin, m.IsActive, time.Now(),
	)
	return err
}
