package model

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a status change is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	StatusPending   ReservationStatus = "pending"
	StatusConfirmed ReservationStatus = "confirmed"
	StatusCompleted ReservationStatus = "completed"
	StatusCanceled  ReservationStatus = "canceled"
	StatusArchived  ReservationStatus = "archived"
)

var reservationTransitions = map[ReservationStatus][]ReservationStatus{
	StatusPending:   {StatusConfirmed, StatusCanceled},
	StatusConfirmed: {StatusCompleted, StatusCanceled},
	StatusCompleted: {StatusArchived},
	StatusCanceled:  {StatusArchived},
	StatusArchived:  nil,
}

// Valid reports whether s is a known status.
func (s ReservationStatus) Valid() bool {
	_, ok := reservationTransitions[s]
	return ok
}

// IsActive reports whether a reservation in this status blocks its time range.
func (s ReservationStatus) IsActive() bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusCompleted
}

// CanTransition checks if moving from s to next is allowed.
func (s ReservationStatus) CanTransition(next ReservationStatus) bool {
	for _, allowed := range reservationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition validates the move and returns the new status.
func (s ReservationStatus) Transition(next ReservationStatus) (ReservationStatus, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
	}
	return next, nil
}

// ParseReservationStatus converts raw input into a known status.
func ParseReservationStatus(raw string) (ReservationStatus, error) {
	s := ReservationStatus(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown reservation status %q", raw)
	}
	return s, nil
}

// RecordStatus is the lifecycle of schedule overrides.
// Archived rows are kept for history and ignored by availability.
type RecordStatus string

const (
	RecordActive   RecordStatus = "active"
	RecordArchived RecordStatus = "archived"
)

// CanTransition allows active <-> archived only.
func (s RecordStatus) CanTransition(next RecordStatus) bool {
	return (s == RecordActive && next == RecordArchived) || (s == RecordArchived && next == RecordActive)
}
