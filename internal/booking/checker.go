package booking

import (
	"context"
	"errors"
	"fmt"

	"salonbook/internal/domain"
	"salonbook/internal/model"
	"salonbook/internal/slots"
)

var (
	// ErrInvalidRange is returned when start is not strictly before end.
	ErrInvalidRange = errors.New("invalid time range: start must be before end")
	// ErrConflict marks every *ConflictError.
	ErrConflict = errors.New("reservation conflict")
)

// ConflictReason tells why a time range was rejected.
type ConflictReason string

const (
	ReasonStaffOverlap ConflictReason = "staff_overlap"
	ReasonSeatCapacity ConflictReason = "seat_capacity"
)

// ConflictError describes a rejected time range.
type ConflictError struct {
	Reason        ConflictReason
	ReservationID string // set for staff_overlap
	StaffID       string
	Concurrent    int // set for seat_capacity
	Capacity      int
}

func (e *ConflictError) Error() string {
	switch e.Reason {
	case ReasonStaffOverlap:
		return fmt.Sprintf("reservation conflict: staff %s already booked by reservation %s", e.StaffID, e.ReservationID)
	case ReasonSeatCapacity:
		return fmt.Sprintf("reservation conflict: %d concurrent reservations reach capacity %d", e.Concurrent, e.Capacity)
	default:
		return "reservation conflict"
	}
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// CheckConflict validates [startUnix, endUnix) for staffID against existing
// reservations of the org. existing may contain inactive rows and rows of
// other staff; sheets <= 0 disables the capacity rule.
func CheckConflict(existing []model.Reservation, staffID string, startUnix, endUnix int64, sheets int) error {
	if startUnix >= endUnix {
		return ErrInvalidRange
	}

	if staffID != "" {
		for i := range existing {
			r := &existing[i]
			if r.StaffID == staffID && r.IsActive() && r.OverlapsRange(startUnix, endUnix) {
				return &ConflictError{Reason: ReasonStaffOverlap, ReservationID: r.ID, StaffID: staffID}
			}
		}
	}

	if sheets > 0 {
		if peak := model.PeakConcurrency(existing, startUnix, endUnix); peak+1 > sheets {
			return &ConflictError{Reason: ReasonSeatCapacity, StaffID: staffID, Concurrent: peak, Capacity: sheets}
		}
	}
	return nil
}

func excluding(reservations []model.Reservation, id string) []model.Reservation {
	out := reservations[:0:0]
	for _, r := range reservations {
		if r.ID != id {
			out = append(out, r)
		}
	}
	return out
}

// Checker validates proposed reservations against stored bookings.
type Checker struct {
	reader domain.ScheduleReader
}

// NewChecker creates a conflict checker.
func NewChecker(reader domain.ScheduleReader) *Checker {
	return &Checker{reader: reader}
}

// Validate returns nil when [startUnix, endUnix) can be booked for staffID.
// It reads outside of any transaction; CreateReservation repeats the check
// inside its write transaction.
func (c *Checker) Validate(ctx context.Context, tenantID, orgID, staffID string, startUnix, endUnix int64) error {
	if startUnix >= endUnix {
		return ErrInvalidRange
	}
	cfg, err := c.reader.GetReservationConfig(ctx, tenantID, orgID)
	if err != nil {
		return configError(tenantID, orgID, err)
	}
	existing, err := c.reader.ListActiveReservations(ctx, tenantID, orgID, startUnix, endUnix)
	if err != nil {
		return fmt.Errorf("list reservations: %w", err)
	}
	return CheckConflict(existing, staffID, startUnix, endUnix, cfg.AvailableSheet)
}

func configError(tenantID, orgID string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return &slots.ConfigurationError{TenantID: tenantID, OrgID: orgID, Field: "reservation_config", Reason: "missing"}
	}
	return fmt.Errorf("get reservation config: %w", err)
}
