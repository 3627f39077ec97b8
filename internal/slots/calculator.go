package slots

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"salonbook/internal/clock"
	"salonbook/internal/domain"
	"salonbook/internal/metrics"
	"salonbook/internal/model"
)

// maxCalendarDays bounds ComputeAvailableDays requests.
const maxCalendarDays = 93

// Calculator computes bookable start times from org schedules and bookings.
type Calculator struct {
	reader domain.ScheduleReader
	clock  clock.Clock
	cache  *Cache
	logger zerolog.Logger
}

// NewCalculator creates a new availability calculator.
func NewCalculator(reader domain.ScheduleReader, clk clock.Clock, logger *zerolog.Logger) *Calculator {
	if clk == nil {
		clk = clock.System{}
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "slots").Logger()
	}
	return &Calculator{reader: reader, clock: clk, logger: l}
}

// UseCache enables the Redis read-through cache for computed slots.
func (c *Calculator) UseCache(cache *Cache) {
	c.cache = cache
}

// ComputeAvailableSlots returns bookable [start, start+duration) ranges on the
// calendar day of date in the org timezone. staffID may be empty for
// staff-agnostic queries. Dates outside the booking window yield an empty
// result; missing or invalid org settings yield a *ConfigurationError.
func (c *Calculator) ComputeAvailableSlots(ctx context.Context, tenantID, orgID string, date time.Time, durationMinutes int, staffID string) ([]model.TimeSlot, error) {
	started := time.Now()
	dateKey := date.Format(model.DateLayout)

	if c.cache != nil {
		if cached, ok := c.cache.Get(ctx, tenantID, orgID, staffID, dateKey, durationMinutes); ok {
			if fresh, err := c.revalidate(ctx, tenantID, orgID, date, cached); err == nil {
				metrics.IncSlotQuery("cached")
				return fresh, nil
			}
		}
	}

	slots, err := c.compute(ctx, tenantID, orgID, date, durationMinutes, staffID)
	metrics.ObserveSlotComputation(time.Since(started))
	if err != nil {
		var cfgErr *ConfigurationError
		if errors.As(err, &cfgErr) {
			metrics.IncSlotQuery("config_error")
			c.logger.Warn().Err(err).Str("tenant", tenantID).Str("org", orgID).Msg("availability rejected")
		} else {
			metrics.IncSlotQuery("error")
		}
		return nil, err
	}
	metrics.IncSlotQuery("ok")
	if slots == nil {
		// Outside the window; not cached because the window moves.
		return []model.TimeSlot{}, nil
	}

	if c.cache != nil {
		c.cache.Set(ctx, tenantID, orgID, staffID, dateKey, durationMinutes, slots)
	}
	return slots, nil
}

// ComputeAvailableDays counts bookable slots for each day starting at from.
// Days outside the booking window are omitted.
func (c *Calculator) ComputeAvailableDays(ctx context.Context, tenantID, orgID string, from time.Time, days, durationMinutes int, staffID string) ([]model.DayAvailability, error) {
	if days <= 0 || days > maxCalendarDays {
		return nil, configErr(tenantID, orgID, "days", fmt.Sprintf("must be between 1 and %d", maxCalendarDays), nil)
	}

	cfg, err := c.loadConfig(ctx, tenantID, orgID)
	if err != nil {
		return nil, err
	}
	today, last := c.window(cfg)
	loc := cfg.Location()

	first := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	result := make([]model.DayAvailability, 0, days)
	for i := 0; i < days; i++ {
		day := first.AddDate(0, 0, i)
		if day.Before(today) {
			continue
		}
		if day.After(last) {
			break
		}
		slots, err := c.ComputeAvailableSlots(ctx, tenantID, orgID, day, durationMinutes, staffID)
		if err != nil {
			return nil, err
		}
		result = append(result, model.DayAvailability{Date: day.Format(model.DateLayout), Slots: len(slots)})
	}
	return result, nil
}

// revalidate applies the clock-dependent rules to cached slots: the booking
// window and today's lead time move on while an entry sits in the cache.
func (c *Calculator) revalidate(ctx context.Context, tenantID, orgID string, date time.Time, cached []model.TimeSlot) ([]model.TimeSlot, error) {
	cfg, err := c.loadConfig(ctx, tenantID, orgID)
	if err != nil {
		return nil, err
	}
	loc := cfg.Location()
	today, last := c.window(cfg)
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
	if day.Before(today) || day.After(last) {
		return []model.TimeSlot{}, nil
	}
	if !day.Equal(today) {
		return cached, nil
	}

	earliest := c.clock.Now().In(loc).Add(time.Duration(cfg.TodayFirstLaterMinutes) * time.Minute)
	result := make([]model.TimeSlot, 0, len(cached))
	for _, s := range cached {
		if !s.Start.Before(earliest) {
			result = append(result, s)
		}
	}
	return result, nil
}

func (c *Calculator) loadConfig(ctx context.Context, tenantID, orgID string) (*model.ReservationConfig, error) {
	cfg, err := c.reader.GetReservationConfig(ctx, tenantID, orgID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, configErr(tenantID, orgID, "reservation_config", "missing", nil)
		}
		return nil, fmt.Errorf("get reservation config: %w", err)
	}
	if cfg.ReservationIntervalMinutes <= 0 {
		return nil, configErr(tenantID, orgID, "reservation_interval_minutes", "must be positive", nil)
	}
	if cfg.ReservationLimitDays < 0 {
		return nil, configErr(tenantID, orgID, "reservation_limit_days", "must not be negative", nil)
	}
	return cfg, nil
}

// window returns the first and last bookable calendar days in the org timezone.
func (c *Calculator) window(cfg *model.ReservationConfig) (time.Time, time.Time) {
	today := model.StartOfDay(c.clock.Now().In(cfg.Location()))
	return today, today.AddDate(0, 0, cfg.ReservationLimitDays)
}

// compute returns nil slots for days outside the booking window.
func (c *Calculator) compute(ctx context.Context, tenantID, orgID string, date time.Time, durationMinutes int, staffID string) ([]model.TimeSlot, error) {
	if durationMinutes <= 0 {
		return nil, configErr(tenantID, orgID, "duration", "must be positive", nil)
	}

	cfg, err := c.loadConfig(ctx, tenantID, orgID)
	if err != nil {
		return nil, err
	}

	loc := cfg.Location()
	now := c.clock.Now().In(loc)
	today, last := c.window(cfg)
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
	if day.Before(today) || day.After(last) {
		return nil, nil
	}
	dateKey := day.Format(model.DateLayout)

	week, err := c.reader.GetWeekSchedule(ctx, tenantID, orgID, int(day.Weekday()))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, configErr(tenantID, orgID, "week_schedule", fmt.Sprintf("no row for %s", day.Weekday()), nil)
		}
		return nil, fmt.Errorf("get week schedule: %w", err)
	}

	isOpen, openStr, closeStr := week.IsOpen, week.OpenTime, week.CloseTime

	exception, err := c.reader.GetExceptionSchedule(ctx, tenantID, orgID, dateKey)
	if err != nil {
		return nil, fmt.Errorf("get exception schedule: %w", err)
	}
	if exception != nil && exception.Status != model.RecordArchived {
		switch exception.Type {
		case model.ExceptionHoliday:
			isOpen = false
		case model.ExceptionSpecialHours:
			isOpen, openStr, closeStr = true, exception.OpenTime, exception.CloseTime
		}
	}
	if !isOpen {
		return []model.TimeSlot{}, nil
	}

	openAt, err := model.OnDate(day, openStr)
	if err != nil {
		return nil, configErr(tenantID, orgID, "open_time", "invalid", err)
	}
	closeAt, err := model.OnDate(day, closeStr)
	if err != nil {
		return nil, configErr(tenantID, orgID, "close_time", "invalid", err)
	}
	if !closeAt.After(openAt) {
		return nil, configErr(tenantID, orgID, "close_time", "must be after open_time", nil)
	}

	windowStart, windowEnd := openAt, closeAt
	var blockStart, blockEnd time.Time
	hasBlock := false

	if staffID != "" {
		override, err := c.reader.GetStaffSchedule(ctx, tenantID, orgID, staffID, dateKey)
		if err != nil {
			return nil, fmt.Errorf("get staff schedule: %w", err)
		}
		if override != nil && override.Status != model.RecordArchived {
			var from, to time.Time
			if !override.WholeDay() {
				if from, err = model.OnDate(day, override.StartTime); err != nil {
					return nil, configErr(tenantID, orgID, "staff_schedule.start_time", "invalid", err)
				}
				if to, err = model.OnDate(day, override.EndTime); err != nil {
					return nil, configErr(tenantID, orgID, "staff_schedule.end_time", "invalid", err)
				}
			}

			switch override.Type {
			case model.StaffAbsent:
				if override.WholeDay() {
					return []model.TimeSlot{}, nil
				}
				blockStart, blockEnd, hasBlock = from, to, true
			case model.StaffWorking:
				if !override.WholeDay() {
					if from.After(windowStart) {
						windowStart = from
					}
					if to.Before(windowEnd) {
						windowEnd = to
					}
					if !windowEnd.After(windowStart) {
						return []model.TimeSlot{}, nil
					}
				}
			}
		}
	}

	reservations, err := c.reader.ListActiveReservations(ctx, tenantID, orgID, windowStart.Unix(), windowEnd.Unix())
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}

	var earliest time.Time
	isToday := day.Equal(today)
	if isToday {
		earliest = now.Add(time.Duration(cfg.TodayFirstLaterMinutes) * time.Minute)
	}

	step := time.Duration(cfg.ReservationIntervalMinutes) * time.Minute
	duration := time.Duration(durationMinutes) * time.Minute
	result := make([]model.TimeSlot, 0)

	// Candidates stay aligned to the salon opening time even when a staff
	// working window starts later.
	for start := openAt; !start.Add(duration).After(windowEnd); start = start.Add(step) {
		end := start.Add(duration)
		if start.Before(windowStart) {
			continue
		}
		if isToday && start.Before(earliest) {
			continue
		}
		if hasBlock && isOverlapping(start, end, blockStart, blockEnd) {
			continue
		}
		if staffID != "" && staffBusy(reservations, staffID, start.Unix(), end.Unix()) {
			continue
		}
		if cfg.AvailableSheet > 0 && model.PeakConcurrency(reservations, start.Unix(), end.Unix())+1 > cfg.AvailableSheet {
			continue
		}
		result = append(result, model.TimeSlot{Start: start, End: end})
	}

	c.logger.Debug().
		Str("tenant", tenantID).
		Str("org", orgID).
		Str("staff", staffID).
		Str("date", dateKey).
		Int("duration", durationMinutes).
		Int("slots", len(result)).
		Msg("computed availability")

	return result, nil
}

func staffBusy(reservations []model.Reservation, staffID string, startUnix, endUnix int64) bool {
	for i := range reservations {
		r := &reservations[i]
		if r.StaffID == staffID && r.IsActive() && r.OverlapsRange(startUnix, endUnix) {
			return true
		}
	}
	return false
}

func isOverlapping(start1, end1, start2, end2 time.Time) bool {
	return start1.Before(end2) && start2.Before(end1)
}
