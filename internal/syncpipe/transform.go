package syncpipe

import (
	"encoding/json"
	"fmt"
	"time"

	"salonbook/internal/analytics"
	"salonbook/internal/model"
)

// ToFact converts an operational reservation into its analytics row.
func ToFact(r *model.Reservation, migratedAt time.Time) (analytics.ReservationFact, error) {
	menus := r.Menus
	if menus == nil {
		menus = []model.ReservationMenu{}
	}
	encoded, err := json.Marshal(menus)
	if err != nil {
		return analytics.ReservationFact{}, fmt.Errorf("encode menus of %s: %w", r.ID, err)
	}

	return analytics.ReservationFact{
		ID:              r.ID,
		TenantID:        r.TenantID,
		OrgID:           r.OrgID,
		StaffID:         r.StaffID,
		CustomerID:      r.CustomerID,
		Menus:           string(encoded),
		StartTime:       r.Start().Format(time.RFC3339),
		EndTime:         r.End().Format(time.RFC3339),
		StartTimeUnix:   r.StartTimeUnix,
		EndTimeUnix:     r.EndTimeUnix,
		DurationMinutes: int(r.Duration() / time.Minute),
		Status:          string(r.Status),
		PaymentMethod:   r.PaymentMethod,
		TotalPrice:      r.TotalPrice,
		CreatedAt:       r.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       r.UpdatedAt.UTC().Format(time.RFC3339),
		MigratedAt:      migratedAt.UTC(),
	}, nil
}

// Transform converts a page of reservations and returns the facts with their source ids.
func Transform(records []model.Reservation, migratedAt time.Time) ([]analytics.ReservationFact, []string, error) {
	facts := make([]analytics.ReservationFact, 0, len(records))
	ids := make([]string, 0, len(records))
	for i := range records {
		f, err := ToFact(&records[i], migratedAt)
		if err != nil {
			return nil, nil, err
		}
		facts = append(facts, f)
		ids = append(ids, records[i].ID)
	}
	return facts, ids, nil
}
