package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the calendar date format used across storage and API.
const DateLayout = "2006-01-02"

// ErrInvalidSchedule marks schedule overrides that cannot be stored.
var ErrInvalidSchedule = errors.New("invalid schedule")

// WeekSchedule holds opening hours for one weekday of an org.
type WeekSchedule struct {
	TenantID  string       `json:"tenant_id"`
	OrgID     string       `json:"org_id"`
	DayOfWeek time.Weekday `json:"day_of_week"` // 0-6 (Sunday-Saturday)
	IsOpen    bool         `json:"is_open"`
	OpenTime  string       `json:"open_time"`  // "09:00"
	CloseTime string       `json:"close_time"` // "18:00"
	UpdatedAt time.Time    `json:"updated_at"`
}

// ExceptionType distinguishes closed days from days with special hours.
type ExceptionType string

const (
	ExceptionHoliday      ExceptionType = "holiday"
	ExceptionSpecialHours ExceptionType = "special_hours"
)

// ExceptionSchedule overrides the weekly schedule for a single date.
type ExceptionSchedule struct {
	ID        int64         `json:"id"`
	TenantID  string        `json:"tenant_id"`
	OrgID     string        `json:"org_id"`
	Date      string        `json:"date"` // YYYY-MM-DD
	Type      ExceptionType `json:"type"`
	OpenTime  string        `json:"open_time,omitempty"`
	CloseTime string        `json:"close_time,omitempty"`
	Notes     string        `json:"notes,omitempty"`
	Status    RecordStatus  `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Validate checks the date, type and hours of an override.
func (e *ExceptionSchedule) Validate() error {
	if _, err := time.Parse(DateLayout, e.Date); err != nil {
		return fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidSchedule)
	}
	switch e.Type {
	case ExceptionHoliday:
		return nil
	case ExceptionSpecialHours:
		return validateRange(e.OpenTime, e.CloseTime, "open_time", "close_time")
	default:
		return fmt.Errorf("%w: unknown exception type %q", ErrInvalidSchedule, e.Type)
	}
}

// StaffScheduleType is either a working-hours or an absence override.
type StaffScheduleType string

const (
	StaffWorking StaffScheduleType = "working"
	StaffAbsent  StaffScheduleType = "absent"
)

// StaffSchedule overrides availability of one staff member on a date.
// An absence without times covers the whole day.
type StaffSchedule struct {
	ID        int64             `json:"id"`
	TenantID  string            `json:"tenant_id"`
	OrgID     string            `json:"org_id"`
	StaffID   string            `json:"staff_id"`
	Date      string            `json:"date"`
	Type      StaffScheduleType `json:"type"`
	StartTime string            `json:"start_time,omitempty"`
	EndTime   string            `json:"end_time,omitempty"`
	Notes     string            `json:"notes,omitempty"`
	Status    RecordStatus      `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// WholeDay reports whether the override has no explicit time range.
func (s *StaffSchedule) WholeDay() bool {
	return s.StartTime == "" || s.EndTime == ""
}

// Validate checks the date, type and hours of a staff override. Working
// overrides need both times; absences may omit them to cover the whole day.
func (s *StaffSchedule) Validate() error {
	if s.StaffID == "" {
		return fmt.Errorf("%w: staff_id is required", ErrInvalidSchedule)
	}
	if _, err := time.Parse(DateLayout, s.Date); err != nil {
		return fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidSchedule)
	}
	switch s.Type {
	case StaffWorking:
	case StaffAbsent:
		if s.StartTime == "" && s.EndTime == "" {
			return nil
		}
	default:
		return fmt.Errorf("%w: unknown staff schedule type %q", ErrInvalidSchedule, s.Type)
	}
	return validateRange(s.StartTime, s.EndTime, "start_time", "end_time")
}

func validateRange(from, to, fromField, toField string) error {
	start, err := ParseClock(from)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidSchedule, fromField, err)
	}
	end, err := ParseClock(to)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidSchedule, toField, err)
	}
	if end <= start {
		return fmt.Errorf("%w: %s must be after %s", ErrInvalidSchedule, toField, fromField)
	}
	return nil
}

// ReservationConfig holds per-org booking rules.
type ReservationConfig struct {
	TenantID                   string    `json:"tenant_id"`
	OrgID                      string    `json:"org_id"`
	ReservationIntervalMinutes int       `json:"reservation_interval_minutes"`
	ReservationLimitDays       int       `json:"reservation_limit_days"`
	AvailableCancelDays        int       `json:"available_cancel_days"`
	AvailableSheet             int       `json:"available_sheet"` // 0 = unlimited
	TodayFirstLaterMinutes     int       `json:"today_first_later_minutes"`
	Timezone                   string    `json:"timezone"`
	UpdatedAt                  time.Time `json:"updated_at"`
}

// Location resolves the org timezone, falling back to UTC.
func (c *ReservationConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Menu is a bookable service.
// EnsureTimeToMin includes cleanup buffer and is what availability reserves.
type Menu struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id"`
	OrgID           string    `json:"org_id"`
	Name            string    `json:"name"`
	Price           int64     `json:"price"`
	TimeToMin       int       `json:"time_to_min"`
	EnsureTimeToMin int       `json:"ensure_time_to_min"`
	IsActive        bool      `json:"is_active"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// EnsureDuration returns the minutes to block for this menu.
func (m *Menu) EnsureDuration() int {
	if m.EnsureTimeToMin > 0 {
		return m.EnsureTimeToMin
	}
	return m.TimeToMin
}

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time format: %q", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 24 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	if hour == 24 && minute != 0 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	return hour*60 + minute, nil
}

// OnDate places "HH:MM" on the calendar day of date in date's location.
func OnDate(date time.Time, clock string) (time.Time, error) {
	minutes, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(date.Year(), date.Month(), date.Day(), minutes/60, minutes%60, 0, 0, date.Location()), nil
}

// StartOfDay truncates t to midnight in its location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
