package analytics

import (
	"time"

	"github.com/uptrace/bun"
)

// ReservationFact is a completed reservation as stored in the analytics database.
// Menus hold the JSON-encoded menu lines; textual times are RFC3339 in UTC.
type ReservationFact struct {
	bun.BaseModel `bun:"table:reservation_facts,alias:rf"`

	ID              string    `bun:"id,pk" json:"id"`
	TenantID        string    `bun:"tenant_id,notnull" json:"tenant_id"`
	OrgID           string    `bun:"org_id,notnull" json:"org_id"`
	StaffID         string    `bun:"staff_id,notnull" json:"staff_id"`
	CustomerID      string    `bun:"customer_id,notnull" json:"customer_id"`
	Menus           string    `bun:"menus,notnull" json:"menus"`
	StartTime       string    `bun:"start_time,notnull" json:"start_time"`
	EndTime         string    `bun:"end_time,notnull" json:"end_time"`
	StartTimeUnix   int64     `bun:"start_time_unix,notnull" json:"start_time_unix"`
	EndTimeUnix     int64     `bun:"end_time_unix,notnull" json:"end_time_unix"`
	DurationMinutes int       `bun:"duration_minutes,notnull" json:"duration_minutes"`
	Status          string    `bun:"status,notnull" json:"status"`
	PaymentMethod   string    `bun:"payment_method,notnull" json:"payment_method"`
	TotalPrice      int64     `bun:"total_price,notnull" json:"total_price"`
	CreatedAt       string    `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt       string    `bun:"updated_at,notnull" json:"updated_at"`
	MigratedAt      time.Time `bun:"migrated_at,notnull" json:"migrated_at"`
}
