package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"salonbook/internal/analytics"
	"salonbook/internal/booking"
	"salonbook/internal/clock"
	"salonbook/internal/db"
	"salonbook/internal/events"
	"salonbook/internal/model"
	"salonbook/internal/slots"
	"salonbook/internal/syncpipe"
)

// now is Thursday 2026-01-15 08:00 UTC. The salon opens only on Fridays, 10:00-12:00.
var now = time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)

func at(day, h, m int) int64 {
	return time.Date(2026, 1, day, h, m, 0, 0, time.UTC).Unix()
}

type stubSync struct {
	err    error
	done   chan struct{}
	status syncpipe.Status
	calls  int
}

func (s *stubSync) Trigger(context.Context) (<-chan struct{}, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.done, nil
}

func (s *stubSync) Status() syncpipe.Status { return s.status }

type testServer struct {
	handler http.Handler
	store   *db.DB
	sink    *analytics.Sink
	sync    *stubSync
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	store, err := db.NewDB(filepath.Join(t.TempDir(), "api.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.UpsertReservationConfig(ctx, &model.ReservationConfig{
		TenantID:                   "acme",
		OrgID:                      "shibuya",
		ReservationIntervalMinutes: 30,
		ReservationLimitDays:       30,
		AvailableCancelDays:        1,
		AvailableSheet:             2,
	}))
	for d := time.Sunday; d <= time.Saturday; d++ {
		ws := &model.WeekSchedule{TenantID: "acme", OrgID: "shibuya", DayOfWeek: d}
		if d == time.Friday {
			ws.IsOpen, ws.OpenTime, ws.CloseTime = true, "10:00", "12:00"
		}
		require.NoError(t, store.UpsertWeekSchedule(ctx, ws))
	}
	require.NoError(t, store.UpsertMenu(ctx, &model.Menu{
		ID: "cut", TenantID: "acme", OrgID: "shibuya", Name: "Cut", Price: 5000, TimeToMin: 60, EnsureTimeToMin: 75, IsActive: true,
	}))
	require.NoError(t, store.UpsertMenu(ctx, &model.Menu{
		ID: "color", TenantID: "acme", OrgID: "shibuya", Name: "Color", Price: 8000, TimeToMin: 90, IsActive: false,
	}))

	bunDB, err := analytics.Open(":memory:")
	require.NoError(t, err)
	sink := analytics.NewSink(bunDB, 0, nil)
	t.Cleanup(func() { _ = sink.Close() })
	require.NoError(t, sink.CreateSchema(ctx))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	cache := slots.NewCache(rdb, time.Minute, nil)

	clk := clock.Fixed{At: now}
	calculator := slots.NewCalculator(store, clk, nil)
	calculator.UseCache(cache)
	bookings := booking.NewService(store, store, clk, events.NewEventBus(nil), nil)
	bookings.UseSlotCache(cache)

	runner := &stubSync{done: make(chan struct{})}
	srv := NewHTTPServer(":0", Deps{
		Slots:     calculator,
		Booking:   bookings,
		Menus:     store,
		Schedules: store,
		Checker:   booking.NewChecker(store),
		SlotCache: cache,
		Sync:      runner,
		Facts:     sink,
	}, nil)

	return &testServer{handler: srv.Handler(), store: store, sink: sink, sync: runner}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

const orgPath = "/api/v1/tenants/acme/orgs/shibuya"

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAvailability(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, orgPath+"/availability?date=2026-01-16&duration=60", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[availabilityResponse](t, rec)
	assert.Equal(t, "2026-01-16", resp.Date)
	require.Len(t, resp.Slots, 3)
	assert.Equal(t, "10:00", resp.Slots[0].Start)
	assert.Equal(t, "12:00", resp.Slots[2].End)

	// cut blocks 75 minutes
	rec = ts.do(t, http.MethodGet, orgPath+"/availability?date=2026-01-16&menu_id=cut", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[availabilityResponse](t, rec).Slots, 2)

	rec = ts.do(t, http.MethodGet, orgPath+"/availability?date=2026-01-17&duration=60", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[availabilityResponse](t, rec).Slots)
}

func TestAvailability_Errors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		path string
		code int
	}{
		{"missing date", orgPath + "/availability?duration=60", http.StatusBadRequest},
		{"bad date", orgPath + "/availability?date=16-01-2026&duration=60", http.StatusBadRequest},
		{"missing duration", orgPath + "/availability?date=2026-01-16", http.StatusBadRequest},
		{"non-numeric duration", orgPath + "/availability?date=2026-01-16&duration=abc", http.StatusBadRequest},
		{"zero duration", orgPath + "/availability?date=2026-01-16&duration=0", http.StatusUnprocessableEntity},
		{"unknown menu", orgPath + "/availability?date=2026-01-16&menu_id=perm", http.StatusNotFound},
		{"inactive menu", orgPath + "/availability?date=2026-01-16&menu_id=color", http.StatusBadRequest},
		{"unconfigured org", "/api/v1/tenants/acme/orgs/ginza/availability?date=2026-01-16&duration=60", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[errorResponse](t, rec).Error)
		})
	}
}

func TestAvailabilityDays(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, orgPath+"/availability/days?from=2026-01-15&days=3&duration=60", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[daysResponse](t, rec)
	assert.Equal(t, []model.DayAvailability{
		{Date: "2026-01-15", Slots: 0},
		{Date: "2026-01-16", Slots: 3},
		{Date: "2026-01-17", Slots: 0},
	}, resp.Days)

	rec = ts.do(t, http.MethodGet, orgPath+"/availability/days?from=2026-01-15&days=500&duration=60", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestReservationLifecycle(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, orgPath+"/reservations", createReservationRequest{
		StaffID: "alice", CustomerID: "cust-1", MenuIDs: []string{"cut"}, StartTimeUnix: at(16, 10, 0),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[model.Reservation](t, rec)
	assert.Equal(t, at(16, 11, 15), created.EndTimeUnix)
	assert.Equal(t, model.StatusPending, created.Status)

	rec = ts.do(t, http.MethodPost, orgPath+"/reservations", createReservationRequest{
		StaffID: "alice", CustomerID: "cust-2", StartTimeUnix: at(16, 11, 0), EndTimeUnix: at(16, 12, 0),
	})
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	// the booked slot disappears for alice
	rec = ts.do(t, http.MethodGet, orgPath+"/availability?date=2026-01-16&duration=60&staff_id=alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[availabilityResponse](t, rec).Slots)

	rec = ts.do(t, http.MethodPatch, orgPath+"/reservations/"+created.ID+"/status", statusRequest{Status: "confirmed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, model.StatusConfirmed, decode[model.Reservation](t, rec).Status)

	rec = ts.do(t, http.MethodPatch, orgPath+"/reservations/"+created.ID+"/status", statusRequest{Status: "archived"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPatch, orgPath+"/reservations/"+created.ID+"/time", timeRequest{StartTimeUnix: at(16, 10, 30)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	moved := decode[model.Reservation](t, rec)
	assert.Equal(t, at(16, 11, 45), moved.EndTimeUnix)

	rec = ts.do(t, http.MethodPatch, orgPath+"/reservations/missing/status", statusRequest{Status: "confirmed"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateReservation_BadRequests(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body any
		code int
	}{
		{"unknown field", map[string]any{"customer_id": "c", "start_time_unix": at(16, 10, 0), "seat": 3}, http.StatusBadRequest},
		{"missing customer", createReservationRequest{StartTimeUnix: at(16, 10, 0), EndTimeUnix: at(16, 11, 0)}, http.StatusBadRequest},
		{"bad status", createReservationRequest{CustomerID: "c", StartTimeUnix: at(16, 10, 0), EndTimeUnix: at(16, 11, 0), Status: "maybe"}, http.StatusBadRequest},
		{"inverted range", createReservationRequest{CustomerID: "c", StartTimeUnix: at(16, 11, 0), EndTimeUnix: at(16, 10, 0)}, http.StatusBadRequest},
		{"beyond horizon", createReservationRequest{CustomerID: "c", StartTimeUnix: at(16, 10, 0) + 90*86400, EndTimeUnix: at(16, 11, 0) + 90*86400}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, orgPath+"/reservations", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

func TestSyncEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.sync.status = syncpipe.Status{RunID: "run-1", State: syncpipe.StateFetching}

	rec := ts.do(t, http.MethodPost, "/api/v1/sync/run", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "run-1", decode[syncpipe.Status](t, rec).RunID)

	ts.sync.err = syncpipe.ErrAlreadyRunning
	rec = ts.do(t, http.MethodPost, "/api/v1/sync/run", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	ts.sync.err = nil
	ts.sync.status.State = syncpipe.StateDone
	close(ts.sync.done)
	rec = ts.do(t, http.MethodPost, "/api/v1/sync/run?wait=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, syncpipe.StateDone, decode[syncpipe.Status](t, rec).State)

	rec = ts.do(t, http.MethodGet, "/api/v1/sync/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, ts.sync.calls)
}

func TestSyncEndpoints_NotConfigured(t *testing.T) {
	srv := NewHTTPServer(":0", Deps{}, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sync/status", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCompletedReport(t *testing.T) {
	ts := newTestServer(t)
	start := time.Date(2026, 1, 9, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	require.NoError(t, ts.sink.Upsert(context.Background(), []analytics.ReservationFact{{
		ID: "r1", TenantID: "acme", OrgID: "shibuya", StaffID: "alice", CustomerID: "c1",
		Menus:     `[{"menu_id":"cut","name":"Cut"}]`,
		StartTime: start.Format(time.RFC3339), EndTime: end.Format(time.RFC3339),
		StartTimeUnix: start.Unix(), EndTimeUnix: end.Unix(), DurationMinutes: 60,
		Status: "completed", TotalPrice: 5000, MigratedAt: now,
	}}))

	rec := ts.do(t, http.MethodGet, orgPath+"/reports/completed.xlsx?from=2026-01-09", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "completed_shibuya_2026-01-09_2026-01-09.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Completed")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(rows), 2)
	assert.Equal(t, "Reservation", rows[0][0])
	assert.Equal(t, "r1", rows[1][0])

	rec = ts.do(t, http.MethodGet, orgPath+"/reports/completed.xlsx?from=2026-01-09&to=2026-01-01", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
