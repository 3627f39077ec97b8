package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"salonbook/internal/model"
)

// DefaultSalonsPath is the catalog location when none is configured.
const DefaultSalonsPath = "configs/salons.yaml"

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// HoursConfig is an opening window.
type HoursConfig struct {
	Open  string `yaml:"open"`  // "09:00"
	Close string `yaml:"close"` // "18:00"
}

// ReservationRulesConfig mirrors model.ReservationConfig.
type ReservationRulesConfig struct {
	IntervalMinutes        int    `yaml:"interval_minutes"`
	LimitDays              int    `yaml:"limit_days"`
	CancelDays             int    `yaml:"cancel_days"`
	Sheets                 int    `yaml:"sheets"`
	TodayFirstLaterMinutes int    `yaml:"today_first_later_minutes"`
	Timezone               string `yaml:"timezone"`
}

// MenuConfig is one bookable service.
type MenuConfig struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	Price         int64  `yaml:"price"`
	Minutes       int    `yaml:"minutes"`
	BufferMinutes int    `yaml:"buffer_minutes"`
	IsActive      *bool  `yaml:"is_active,omitempty"`
}

// HolidayConfig closes one date.
type HolidayConfig struct {
	Date string `yaml:"date"` // "2026-01-01"
	Name string `yaml:"name"`
}

// SpecialHoursConfig replaces the weekly window on one date.
type SpecialHoursConfig struct {
	Date  string `yaml:"date"`
	Open  string `yaml:"open"`
	Close string `yaml:"close"`
	Notes string `yaml:"notes"`
}

// OrgConfig is one salon.
type OrgConfig struct {
	TenantID     string                  `yaml:"tenant_id"`
	ID           string                  `yaml:"id"`
	Name         string                  `yaml:"name"`
	Hours        map[string]*HoursConfig `yaml:"hours"` // weekday name -> window; absent or null = closed
	Reservation  *ReservationRulesConfig `yaml:"reservation,omitempty"`
	Menus        []MenuConfig            `yaml:"menus"`
	Holidays     []HolidayConfig         `yaml:"holidays"`
	SpecialHours []SpecialHoursConfig    `yaml:"special_hours"`
}

// SalonDefaults apply to orgs that leave a section out.
type SalonDefaults struct {
	Hours       map[string]*HoursConfig `yaml:"hours"`
	Reservation *ReservationRulesConfig `yaml:"reservation"`
	Holidays    []HolidayConfig         `yaml:"holidays"`
}

// SalonsConfig is the root of salons.yaml.
type SalonsConfig struct {
	Orgs     []OrgConfig   `yaml:"orgs"`
	Defaults SalonDefaults `yaml:"defaults"`
}

// LoadSalonsConfig loads and validates the salon catalog.
func LoadSalonsConfig(path string) (*SalonsConfig, error) {
	if path == "" {
		path = DefaultSalonsPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read salons config: %w", err)
	}
	return ParseSalonsConfig(data)
}

// ParseSalonsConfig decodes, fills defaults and validates a salon catalog.
func ParseSalonsConfig(data []byte) (*SalonsConfig, error) {
	var cfg SalonsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse salons config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate salons config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the catalog for errors.
func (c *SalonsConfig) Validate() error {
	if len(c.Orgs) == 0 {
		return fmt.Errorf("no orgs defined")
	}

	seen := make(map[string]bool)
	for i, o := range c.Orgs {
		prefix := fmt.Sprintf("orgs[%d]", i)
		if o.TenantID == "" {
			return fmt.Errorf("%s: tenant_id is required", prefix)
		}
		if o.ID == "" {
			return fmt.Errorf("%s: id is required", prefix)
		}
		key := o.TenantID + "/" + o.ID
		if seen[key] {
			return fmt.Errorf("%s: duplicate org %s", prefix, key)
		}
		seen[key] = true

		for day, h := range o.Hours {
			if _, ok := weekdays[day]; !ok {
				return fmt.Errorf("%s.hours: unknown weekday '%s'", prefix, day)
			}
			if h == nil {
				continue
			}
			if err := validateHours(h.Open, h.Close, fmt.Sprintf("%s.hours.%s", prefix, day)); err != nil {
				return err
			}
		}

		if o.Reservation == nil {
			return fmt.Errorf("%s: reservation rules are required", prefix)
		}
		if err := validateRules(o.Reservation, prefix+".reservation"); err != nil {
			return err
		}

		menuIDs := make(map[string]bool)
		for j, m := range o.Menus {
			mp := fmt.Sprintf("%s.menus[%d]", prefix, j)
			if m.ID == "" {
				return fmt.Errorf("%s: id is required", mp)
			}
			if menuIDs[m.ID] {
				return fmt.Errorf("%s: duplicate id '%s'", mp, m.ID)
			}
			menuIDs[m.ID] = true
			if m.Minutes <= 0 {
				return fmt.Errorf("%s.minutes must be positive", mp)
			}
			if m.BufferMinutes < 0 || m.Price < 0 {
				return fmt.Errorf("%s: buffer_minutes and price cannot be negative", mp)
			}
		}

		for j, h := range o.Holidays {
			if _, err := time.Parse(model.DateLayout, h.Date); err != nil {
				return fmt.Errorf("%s.holidays[%d]: invalid date format '%s', expected YYYY-MM-DD", prefix, j, h.Date)
			}
		}
		for j, s := range o.SpecialHours {
			sp := fmt.Sprintf("%s.special_hours[%d]", prefix, j)
			if _, err := time.Parse(model.DateLayout, s.Date); err != nil {
				return fmt.Errorf("%s: invalid date format '%s', expected YYYY-MM-DD", sp, s.Date)
			}
			if err := validateHours(s.Open, s.Close, sp); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateHours(open, closeAt, prefix string) error {
	start, err := model.ParseClock(open)
	if err != nil {
		return fmt.Errorf("%s.open: invalid format '%s', expected HH:MM", prefix, open)
	}
	end, err := model.ParseClock(closeAt)
	if err != nil {
		return fmt.Errorf("%s.close: invalid format '%s', expected HH:MM", prefix, closeAt)
	}
	if end <= start {
		return fmt.Errorf("%s: close must be after open", prefix)
	}
	return nil
}

func validateRules(r *ReservationRulesConfig, prefix string) error {
	if r.IntervalMinutes <= 0 {
		return fmt.Errorf("%s.interval_minutes must be positive", prefix)
	}
	if r.LimitDays < 0 || r.CancelDays < 0 || r.Sheets < 0 || r.TodayFirstLaterMinutes < 0 {
		return fmt.Errorf("%s: limit_days, cancel_days, sheets and today_first_later_minutes cannot be negative", prefix)
	}
	if r.Timezone != "" {
		if _, err := time.LoadLocation(r.Timezone); err != nil {
			return fmt.Errorf("%s.timezone: %w", prefix, err)
		}
	}
	return nil
}

// applyDefaults fills orgs that leave hours or rules out.
func (c *SalonsConfig) applyDefaults() {
	for i := range c.Orgs {
		o := &c.Orgs[i]
		if o.Hours == nil && c.Defaults.Hours != nil {
			o.Hours = c.Defaults.Hours
		}
		if o.Reservation == nil && c.Defaults.Reservation != nil {
			rules := *c.Defaults.Reservation
			o.Reservation = &rules
		}
		o.Holidays = append(append([]HolidayConfig(nil), c.Defaults.Holidays...), o.Holidays...)
	}
}

// WeekSchedules expands the hours map into one row per weekday.
func (o *OrgConfig) WeekSchedules() []model.WeekSchedule {
	out := make([]model.WeekSchedule, 0, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		ws := model.WeekSchedule{TenantID: o.TenantID, OrgID: o.ID, DayOfWeek: d}
		if h := o.Hours[strings.ToLower(d.String())]; h != nil {
			ws.IsOpen, ws.OpenTime, ws.CloseTime = true, h.Open, h.Close
		}
		out = append(out, ws)
	}
	return out
}

// ReservationConfig converts the rules section.
func (o *OrgConfig) ReservationConfig() model.ReservationConfig {
	r := o.Reservation
	if r == nil {
		r = &ReservationRulesConfig{}
	}
	return model.ReservationConfig{
		TenantID:                   o.TenantID,
		OrgID:                      o.ID,
		ReservationIntervalMinutes: r.IntervalMinutes,
		ReservationLimitDays:       r.LimitDays,
		AvailableCancelDays:        r.CancelDays,
		AvailableSheet:             r.Sheets,
		TodayFirstLaterMinutes:     r.TodayFirstLaterMinutes,
		Timezone:                   r.Timezone,
	}
}

// MenuModels converts the menus section. Buffer minutes extend the blocked duration.
func (o *OrgConfig) MenuModels() []model.Menu {
	out := make([]model.Menu, 0, len(o.Menus))
	for _, m := range o.Menus {
		active := true
		if m.IsActive != nil {
			active = *m.IsActive
		}
		menu := model.Menu{
			ID:        m.ID,
			TenantID:  o.TenantID,
			OrgID:     o.ID,
			Name:      m.Name,
			Price:     m.Price,
			TimeToMin: m.Minutes,
			IsActive:  active,
		}
		if m.BufferMinutes > 0 {
			menu.EnsureTimeToMin = m.Minutes + m.BufferMinutes
		}
		out = append(out, menu)
	}
	return out
}
