package model

import (
	"sort"
	"time"
)

// ReservationMenu is a menu line attached to a reservation.
type ReservationMenu struct {
	MenuID    string   `json:"menu_id"`
	Name      string   `json:"name"`
	Price     int64    `json:"price"`
	Minutes   int      `json:"minutes"`
	OptionIDs []string `json:"option_ids,omitempty"`
}

// Reservation is a booked time range for a staff member.
// Start and end are unix seconds; the range is half-open [start, end).
type Reservation struct {
	ID            string            `json:"id"`
	TenantID      string            `json:"tenant_id"`
	OrgID         string            `json:"org_id"`
	StaffID       string            `json:"staff_id"`
	CustomerID    string            `json:"customer_id"`
	Menus         []ReservationMenu `json:"menus,omitempty"`
	StartTimeUnix int64             `json:"start_time_unix"`
	EndTimeUnix   int64             `json:"end_time_unix"`
	Status        ReservationStatus `json:"status"`
	PaymentMethod string            `json:"payment_method,omitempty"`
	TotalPrice    int64             `json:"total_price"`
	Notes         string            `json:"notes,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Start returns the reservation start as time.Time (UTC).
func (r *Reservation) Start() time.Time {
	return time.Unix(r.StartTimeUnix, 0).UTC()
}

// End returns the reservation end as time.Time (UTC).
func (r *Reservation) End() time.Time {
	return time.Unix(r.EndTimeUnix, 0).UTC()
}

// Duration returns the length of the reservation.
func (r *Reservation) Duration() time.Duration {
	return time.Duration(r.EndTimeUnix-r.StartTimeUnix) * time.Second
}

// IsActive reports whether the reservation still occupies its time range.
func (r *Reservation) IsActive() bool {
	return r.Status.IsActive()
}

// ValidRange reports whether start is strictly before end.
func (r *Reservation) ValidRange() bool {
	return r.StartTimeUnix < r.EndTimeUnix
}

// OverlapsRange checks [start, end) against the reservation range.
// Abutting ranges do not overlap.
func (r *Reservation) OverlapsRange(startUnix, endUnix int64) bool {
	return r.StartTimeUnix < endUnix && startUnix < r.EndTimeUnix
}

// OverlapsWith checks if this reservation overlaps another one.
func (r *Reservation) OverlapsWith(other *Reservation) bool {
	return r.OverlapsRange(other.StartTimeUnix, other.EndTimeUnix)
}

// PeakConcurrency returns the largest number of reservations that are
// simultaneously in progress at any instant of [startUnix, endUnix).
// Inactive reservations are ignored.
func PeakConcurrency(reservations []Reservation, startUnix, endUnix int64) int {
	type edge struct {
		at    int64
		delta int
	}
	edges := make([]edge, 0, len(reservations)*2)
	for i := range reservations {
		r := &reservations[i]
		if !r.IsActive() || !r.OverlapsRange(startUnix, endUnix) {
			continue
		}
		edges = append(edges,
			edge{at: max(r.StartTimeUnix, startUnix), delta: 1},
			edge{at: min(r.EndTimeUnix, endUnix), delta: -1},
		)
	}
	// Ends sort before starts at the same instant: [a,b) and [b,c) never coexist.
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].at != edges[j].at {
			return edges[i].at < edges[j].at
		}
		return edges[i].delta < edges[j].delta
	})

	peak, current := 0, 0
	for _, e := range edges {
		current += e.delta
		if current > peak {
			peak = current
		}
	}
	return peak
}

// MenuMinutes sums the minutes of all attached menus.
func (r *Reservation) MenuMinutes() int {
	total := 0
	for _, m := range r.Menus {
		total += m.Minutes
	}
	return total
}
