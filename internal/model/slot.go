package model

import "time"

// TimeSlot is a bookable [Start, End) range.
type TimeSlot struct {
	Start time.Time
	End   time.Time
}

// SlotInfo is the API representation of a slot.
type SlotInfo struct {
	Start     string `json:"start"` // "10:00"
	End       string `json:"end"`   // "10:30"
	StartUnix int64  `json:"start_unix"`
	EndUnix   int64  `json:"end_unix"`
}

// ToSlotInfo converts slots for JSON output.
func ToSlotInfo(slots []TimeSlot) []SlotInfo {
	result := make([]SlotInfo, len(slots))
	for i, s := range slots {
		result[i] = SlotInfo{
			Start:     s.Start.Format("15:04"),
			End:       s.End.Format("15:04"),
			StartUnix: s.Start.Unix(),
			EndUnix:   s.End.Unix(),
		}
	}
	return result
}

// DayAvailability summarizes slots for a single date.
type DayAvailability struct {
	Date  string `json:"date"`
	Slots int    `json:"slots"`
}
