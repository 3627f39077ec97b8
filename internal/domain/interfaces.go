package domain

import (
	"context"
	"errors"

	"salonbook/internal/model"
)

// ErrNotFound is returned by stores when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ScheduleReader provides read access to org schedules and bookings.
type ScheduleReader interface {
	// GetReservationConfig returns booking rules for an org or ErrNotFound.
	GetReservationConfig(ctx context.Context, tenantID, orgID string) (*model.ReservationConfig, error)

	// GetWeekSchedule returns the opening hours for a weekday or ErrNotFound.
	GetWeekSchedule(ctx context.Context, tenantID, orgID string, day int) (*model.WeekSchedule, error)

	// GetExceptionSchedule returns the active override for a date, nil when there is none.
	GetExceptionSchedule(ctx context.Context, tenantID, orgID, date string) (*model.ExceptionSchedule, error)

	// GetStaffSchedule returns the active staff override for a date, nil when there is none.
	GetStaffSchedule(ctx context.Context, tenantID, orgID, staffID, date string) (*model.StaffSchedule, error)

	// ListActiveReservations returns active reservations of the org overlapping [startUnix, endUnix).
	ListActiveReservations(ctx context.Context, tenantID, orgID string, startUnix, endUnix int64) ([]model.Reservation, error)

	// GetMenu returns a menu or ErrNotFound.
	GetMenu(ctx context.Context, tenantID, orgID, menuID string) (*model.Menu, error)
}

// ReservationPage is one cursor-paginated read of reservations.
// NextCursor is the id of the last record; IsDone means nothing follows it.
type ReservationPage struct {
	Records    []model.Reservation
	NextCursor string
	IsDone     bool
}

// ReservationTx is the set of operations available inside a store transaction.
type ReservationTx interface {
	GetReservationConfig(ctx context.Context, tenantID, orgID string) (*model.ReservationConfig, error)
	ListActiveReservations(ctx context.Context, tenantID, orgID string, startUnix, endUnix int64) ([]model.Reservation, error)
	GetReservation(ctx context.Context, tenantID, orgID, id string) (*model.Reservation, error)
	InsertReservation(ctx context.Context, r *model.Reservation) error
	UpdateReservationStatus(ctx context.Context, r *model.Reservation) error
	UpdateReservationTime(ctx context.Context, r *model.Reservation) error
}

// ReservationStore persists reservations.
type ReservationStore interface {
	// WithinTx runs fn in a single write transaction. fn's error rolls it back.
	WithinTx(ctx context.Context, fn func(tx ReservationTx) error) error

	GetReservation(ctx context.Context, tenantID, orgID, id string) (*model.Reservation, error)
}
