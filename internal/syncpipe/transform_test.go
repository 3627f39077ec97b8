package syncpipe

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salonbook/internal/model"
)

func TestToFact(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	start := time.Date(2026, 1, 10, 18, 0, 0, 0, tokyo)

	r := &model.Reservation{
		ID:            "r1",
		TenantID:      "acme",
		OrgID:         "shibuya",
		StaffID:       "alice",
		CustomerID:    "c1",
		Menus:         []model.ReservationMenu{{MenuID: "cut", Name: "Cut", Price: 5000, Minutes: 75}},
		StartTimeUnix: start.Unix(),
		EndTimeUnix:   start.Add(75 * time.Minute).Unix(),
		Status:        model.StatusCompleted,
		PaymentMethod: "card",
		TotalPrice:    5000,
		CreatedAt:     start.Add(-48 * time.Hour),
		UpdatedAt:     start.Add(2 * time.Hour),
	}

	f, err := ToFact(r, now)
	require.NoError(t, err)
	assert.Equal(t, "r1", f.ID)
	assert.Equal(t, "2026-01-10T09:00:00Z", f.StartTime)
	assert.Equal(t, "2026-01-10T10:15:00Z", f.EndTime)
	assert.Equal(t, 75, f.DurationMinutes)
	assert.Equal(t, `[{"menu_id":"cut","name":"Cut","price":5000,"minutes":75}]`, f.Menus)
	assert.Equal(t, "2026-01-08T09:00:00Z", f.CreatedAt)
	assert.Equal(t, "completed", f.Status)
	assert.Equal(t, now, f.MigratedAt)

	r.Menus = nil
	f, err = ToFact(r, now)
	require.NoError(t, err)
	assert.Equal(t, "[]", f.Menus)
}

func TestTransform(t *testing.T) {
	records := []model.Reservation{
		{ID: "a", StartTimeUnix: 100, EndTimeUnix: 160},
		{ID: "b", StartTimeUnix: 200, EndTimeUnix: 260},
	}
	facts, ids, err := Transform(records, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
	require.Len(t, facts, 2)
	assert.Equal(t, 1, facts[1].DurationMinutes)
}

func TestTimerScheduler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewTimerScheduler(ctx)

	var fired atomic.Int32
	s.After(0, func() { fired.Add(1) })
	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)

	s.After(time.Hour, func() { fired.Add(1) })
	assert.Equal(t, 1, s.Pending())

	cancel()
	assert.Eventually(t, func() bool { return s.Pending() == 0 }, time.Second, 5*time.Millisecond)

	s.After(0, func() { fired.Add(1) })
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}
