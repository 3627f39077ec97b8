// Package report renders analytics facts as spreadsheets.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"salonbook/internal/analytics"
	"salonbook/internal/model"
)

// SheetName is the name of the completed reservations sheet.
const SheetName = "Completed"

var completedColumns = []string{
	"Reservation", "Staff", "Customer", "Date", "Start", "End",
	"Minutes", "Menus", "Payment", "Total", "Status",
}

// Filename returns the download name for an org's report.
func Filename(orgID string, from, to time.Time) string {
	return fmt.Sprintf("completed_%s_%s_%s.xlsx", orgID, from.Format(model.DateLayout), to.Format(model.DateLayout))
}

// WriteCompleted writes facts as an xlsx workbook. Times are shown in loc.
func WriteCompleted(out io.Writer, facts []analytics.ReservationFact, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}

	w := newSheetWriter()
	defer w.Close()

	if err := w.AddSheet(SheetName); err != nil {
		return err
	}
	if err := w.WriteHeader(completedColumns); err != nil {
		return err
	}

	var total int64
	for _, f := range facts {
		start := time.Unix(f.StartTimeUnix, 0).In(loc)
		end := time.Unix(f.EndTimeUnix, 0).In(loc)
		row := []any{
			f.ID,
			f.StaffID,
			f.CustomerID,
			start.Format(model.DateLayout),
			start.Format("15:04"),
			end.Format("15:04"),
			f.DurationMinutes,
			menuNames(f.Menus),
			f.PaymentMethod,
			f.TotalPrice,
			f.Status,
		}
		if err := w.WriteRow(row); err != nil {
			return err
		}
		total += f.TotalPrice
	}

	if len(facts) > 0 {
		summary := make([]any, len(completedColumns))
		for i := range summary {
			summary[i] = ""
		}
		summary[0] = "Total"
		summary[len(completedColumns)-2] = total
		if err := w.WriteRow(summary); err != nil {
			return err
		}
	}

	return w.Save(out)
}

// menuNames turns the stored JSON menu lines into "Cut, Shampoo".
func menuNames(raw string) string {
	var menus []model.ReservationMenu
	if err := json.Unmarshal([]byte(raw), &menus); err != nil {
		return raw
	}
	names := make([]string, 0, len(menus))
	for _, m := range menus {
		name := m.Name
		if name == "" {
			name = m.MenuID
		}
		names = append(names, name)
	}
	return strings.Join(names, ", ")
}
