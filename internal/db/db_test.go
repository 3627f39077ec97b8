package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salonbook/internal/config"
	"salonbook/internal/domain"
	"salonbook/internal/model"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func reservation(id string, start time.Time, minutes int, status model.ReservationStatus) *model.Reservation {
	return &model.Reservation{
		ID:            id,
		TenantID:      "acme",
		OrgID:         "shibuya",
		StaffID:       "alice",
		CustomerID:    "c-" + id,
		Menus:         []model.ReservationMenu{{MenuID: "cut", Name: "Cut", Price: 5000, Minutes: minutes}},
		StartTimeUnix: start.Unix(),
		EndTimeUnix:   start.Add(time.Duration(minutes) * time.Minute).Unix(),
		Status:        status,
		TotalPrice:    5000,
		CreatedAt:     start.Add(-24 * time.Hour),
		UpdatedAt:     start.Add(-24 * time.Hour),
	}
}

func TestScheduleCRUD(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.GetReservationConfig(ctx, "acme", "shibuya")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, db.UpsertReservationConfig(ctx, &model.ReservationConfig{
		TenantID: "acme", OrgID: "shibuya", ReservationIntervalMinutes: 30, AvailableSheet: 2, Timezone: "Asia/Tokyo",
	}))
	require.NoError(t, db.UpsertReservationConfig(ctx, &model.ReservationConfig{
		TenantID: "acme", OrgID: "shibuya", ReservationIntervalMinutes: 15, AvailableSheet: 2, Timezone: "Asia/Tokyo",
	}))
	rc, err := db.GetReservationConfig(ctx, "acme", "shibuya")
	require.NoError(t, err)
	assert.Equal(t, 15, rc.ReservationIntervalMinutes)
	assert.Equal(t, "Asia/Tokyo", rc.Timezone)

	require.NoError(t, db.UpsertWeekSchedule(ctx, &model.WeekSchedule{
		TenantID: "acme", OrgID: "shibuya", DayOfWeek: time.Monday, IsOpen: true, OpenTime: "09:00", CloseTime: "18:00",
	}))
	ws, err := db.GetWeekSchedule(ctx, "acme", "shibuya", int(time.Monday))
	require.NoError(t, err)
	assert.True(t, ws.IsOpen)
	assert.Equal(t, time.Monday, ws.DayOfWeek)
	_, err = db.GetWeekSchedule(ctx, "acme", "shibuya", int(time.Sunday))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, db.SetHoliday(ctx, "acme", "shibuya", "2026-01-01", "New Year"))
	ex, err := db.GetExceptionSchedule(ctx, "acme", "shibuya", "2026-01-01")
	require.NoError(t, err)
	require.NotNil(t, ex)
	assert.Equal(t, model.ExceptionHoliday, ex.Type)

	// Replacing the override keeps one row per date.
	require.NoError(t, db.SetSpecialHours(ctx, "acme", "shibuya", "2026-01-01", "10:00", "14:00", ""))
	ex, err = db.GetExceptionSchedule(ctx, "acme", "shibuya", "2026-01-01")
	require.NoError(t, err)
	assert.Equal(t, model.ExceptionSpecialHours, ex.Type)
	assert.Equal(t, "10:00", ex.OpenTime)

	require.NoError(t, db.ArchiveException(ctx, "acme", "shibuya", "2026-01-01"))
	ex, err = db.GetExceptionSchedule(ctx, "acme", "shibuya", "2026-01-01")
	require.NoError(t, err)
	assert.Nil(t, ex)

	assert.Error(t, db.SetException(ctx, &model.ExceptionSchedule{TenantID: "acme", OrgID: "shibuya", Date: "2026-01-02", Type: "vacation"}))

	require.NoError(t, db.SetStaffSchedule(ctx, &model.StaffSchedule{
		TenantID: "acme", OrgID: "shibuya", StaffID: "alice", Date: "2026-01-15", Type: model.StaffAbsent,
	}))
	ss, err := db.GetStaffSchedule(ctx, "acme", "shibuya", "alice", "2026-01-15")
	require.NoError(t, err)
	require.NotNil(t, ss)
	assert.True(t, ss.WholeDay())
	require.NoError(t, db.ArchiveStaffSchedule(ctx, "acme", "shibuya", "alice", "2026-01-15"))
	ss, err = db.GetStaffSchedule(ctx, "acme", "shibuya", "alice", "2026-01-15")
	require.NoError(t, err)
	assert.Nil(t, ss)

	require.NoError(t, db.UpsertMenu(ctx, &model.Menu{
		ID: "cut", TenantID: "acme", OrgID: "shibuya", Name: "Cut", Price: 5000, TimeToMin: 60, EnsureTimeToMin: 75, IsActive: true,
	}))
	m, err := db.GetMenu(ctx, "acme", "shibuya", "cut")
	require.NoError(t, err)
	assert.Equal(t, 75, m.EnsureDuration())
	assert.True(t, m.IsActive)
	_, err = db.GetMenu(ctx, "acme", "shibuya", "perm")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReservations_ListAndTx(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	day := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)

	require.NoError(t, db.InsertReservation(ctx, reservation("r1", day, 60, model.StatusConfirmed)))
	require.NoError(t, db.InsertReservation(ctx, reservation("r2", day.Add(2*time.Hour), 60, model.StatusCanceled)))
	require.NoError(t, db.InsertReservation(ctx, reservation("r3", day.Add(3*time.Hour), 60, model.StatusPending)))

	got, err := db.GetReservation(ctx, "acme", "shibuya", "r1")
	require.NoError(t, err)
	require.Len(t, got.Menus, 1)
	assert.Equal(t, "cut", got.Menus[0].MenuID)

	_, err = db.GetReservation(ctx, "acme", "ginza", "r1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	list, err := db.ListActiveReservations(ctx, "acme", "shibuya", day.Unix(), day.Add(24*time.Hour).Unix())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "r1", list[0].ID)
	assert.Equal(t, "r3", list[1].ID)

	// Abutting range does not overlap.
	list, err = db.ListActiveReservations(ctx, "acme", "shibuya", day.Add(time.Hour).Unix(), day.Add(2*time.Hour).Unix())
	require.NoError(t, err)
	assert.Empty(t, list)

	errBoom := errors.New("boom")
	err = db.WithinTx(ctx, func(tx domain.ReservationTx) error {
		if err := tx.InsertReservation(ctx, reservation("r4", day.Add(5*time.Hour), 30, model.StatusPending)); err != nil {
			return err
		}
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	_, err = db.GetReservation(ctx, "acme", "shibuya", "r4")
	assert.ErrorIs(t, err, domain.ErrNotFound, "rolled back insert must not be visible")

	err = db.WithinTx(ctx, func(tx domain.ReservationTx) error {
		r, err := tx.GetReservation(ctx, "acme", "shibuya", "r3")
		if err != nil {
			return err
		}
		r.Status = model.StatusConfirmed
		if err := tx.UpdateReservationStatus(ctx, r); err != nil {
			return err
		}
		r.StartTimeUnix += 1800
		r.EndTimeUnix += 1800
		return tx.UpdateReservationTime(ctx, r)
	})
	require.NoError(t, err)
	got, err = db.GetReservation(ctx, "acme", "shibuya", "r3")
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, got.Status)
	assert.Equal(t, day.Add(3*time.Hour+30*time.Minute).Unix(), got.StartTimeUnix)

	err = db.WithinTx(ctx, func(tx domain.ReservationTx) error {
		return tx.UpdateReservationStatus(ctx, &model.Reservation{TenantID: "acme", OrgID: "shibuya", ID: "missing", Status: model.StatusCanceled})
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFetchCompleted_Pagination(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	now := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, db.InsertReservation(ctx, reservation(fmt.Sprintf("done-%d", i), base.Add(time.Duration(i)*time.Hour), 60, model.StatusCompleted)))
	}
	require.NoError(t, db.InsertReservation(ctx, reservation("future", now.Add(time.Hour), 60, model.StatusCompleted)))
	require.NoError(t, db.InsertReservation(ctx, reservation("confirmed", base, 60, model.StatusConfirmed)))

	page, err := db.FetchCompleted(ctx, now, "", 2)
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	assert.False(t, page.IsDone)
	assert.Equal(t, "done-1", page.NextCursor)

	page, err = db.FetchCompleted(ctx, now, page.NextCursor, 2)
	require.NoError(t, err)
	assert.Equal(t, "done-3", page.NextCursor)
	assert.False(t, page.IsDone)

	page, err = db.FetchCompleted(ctx, now, page.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.True(t, page.IsDone)
	assert.Equal(t, "done-4", page.NextCursor)

	page, err = db.FetchCompleted(ctx, now, page.NextCursor, 2)
	require.NoError(t, err)
	assert.Empty(t, page.Records)
	assert.True(t, page.IsDone)
	assert.Equal(t, "done-4", page.NextCursor)

	_, err = db.FetchCompleted(ctx, now, "", 0)
	assert.Error(t, err)
}

func TestDeleteReservations_Idempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

	ids := make([]string, 0, deleteChunk+3)
	for i := 0; i < deleteChunk+3; i++ {
		id := fmt.Sprintf("r%04d", i)
		ids = append(ids, id)
		require.NoError(t, db.InsertReservation(ctx, reservation(id, base.Add(time.Duration(i)*time.Minute), 1, model.StatusCompleted)))
	}

	require.NoError(t, db.DeleteReservations(ctx, ids))
	require.NoError(t, db.DeleteReservations(ctx, ids))
	require.NoError(t, db.DeleteReservations(ctx, nil))

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM reservations`).Scan(&n))
	assert.Zero(t, n)
}

func TestMarkCompleted(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	require.NoError(t, db.InsertReservation(ctx, reservation("past", now.Add(-2*time.Hour), 60, model.StatusConfirmed)))
	require.NoError(t, db.InsertReservation(ctx, reservation("running", now.Add(-30*time.Minute), 60, model.StatusConfirmed)))
	require.NoError(t, db.InsertReservation(ctx, reservation("pending", now.Add(-2*time.Hour), 60, model.StatusPending)))

	n, err := db.MarkCompleted(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := db.GetReservation(ctx, "acme", "shibuya", "past")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
}

func TestSyncSalonsFromConfig(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	assert.ErrorIs(t, db.SyncSalonsFromConfig(ctx, nil), ErrNilConfig)

	active := false
	cfg := &config.SalonsConfig{Orgs: []config.OrgConfig{
		{
			TenantID: "acme",
			ID:       "shibuya",
			Name:     "Shibuya",
			Hours:    map[string]*config.HoursConfig{"monday": {Open: "09:00", Close: "18:00"}},
			Reservation: &config.ReservationRulesConfig{
				IntervalMinutes: 30, Sheets: 2, Timezone: "Asia/Tokyo",
			},
			Menus: []config.MenuConfig{
				{ID: "cut", Name: "Cut", Price: 5000, Minutes: 60, BufferMinutes: 15},
				{ID: "color", Name: "Color", Minutes: 90, IsActive: &active},
			},
			Holidays:     []config.HolidayConfig{{Date: "2026-01-01", Name: "New Year"}},
			SpecialHours: []config.SpecialHoursConfig{{Date: "2026-12-31", Open: "10:00", Close: "14:00"}},
		},
		{
			TenantID:    "acme",
			ID:          "ginza",
			Reservation: &config.ReservationRulesConfig{IntervalMinutes: 15},
		},
	}}
	require.NoError(t, db.SyncSalonsFromConfig(ctx, cfg))

	rc, err := db.GetReservationConfig(ctx, "acme", "shibuya")
	require.NoError(t, err)
	assert.Equal(t, 30, rc.ReservationIntervalMinutes)

	mon, err := db.GetWeekSchedule(ctx, "acme", "shibuya", int(time.Monday))
	require.NoError(t, err)
	assert.True(t, mon.IsOpen)
	sun, err := db.GetWeekSchedule(ctx, "acme", "shibuya", int(time.Sunday))
	require.NoError(t, err)
	assert.False(t, sun.IsOpen)

	cut, err := db.GetMenu(ctx, "acme", "shibuya", "cut")
	require.NoError(t, err)
	assert.Equal(t, 75, cut.EnsureDuration())
	color, err := db.GetMenu(ctx, "acme", "shibuya", "color")
	require.NoError(t, err)
	assert.False(t, color.IsActive)

	ex, err := db.GetExceptionSchedule(ctx, "acme", "shibuya", "2026-12-31")
	require.NoError(t, err)
	require.NotNil(t, ex)
	assert.Equal(t, "14:00", ex.CloseTime)

	// Dropping ginza from the catalog deactivates it.
	cfg.Orgs = cfg.Orgs[:1]
	require.NoError(t, db.SyncSalonsFromConfig(ctx, cfg))
	_, err = db.GetReservationConfig(ctx, "acme", "ginza")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = db.GetReservationConfig(ctx, "acme", "shibuya")
	assert.NoError(t, err)
}

func TestBackupService(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.InsertReservation(ctx, reservation("r1", time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC), 60, model.StatusConfirmed)))

	dir := filepath.Join(t.TempDir(), "backups")
	svc := NewBackupService(db, dir, time.Hour, 7, nil)

	path, err := svc.PerformBackup(ctx)
	require.NoError(t, err)
	assert.FileExists(t, path)

	snapshot, err := NewDB(path, nil)
	require.NoError(t, err)
	defer snapshot.Close()
	got, err := snapshot.GetReservation(ctx, "acme", "shibuya", "r1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.StaffID)

	// Unrelated files are never touched.
	other := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(other, []byte("x"), 0o644))

	assert.Zero(t, svc.CleanupOldBackups(time.Now()))
	assert.Equal(t, 1, svc.CleanupOldBackups(time.Now().AddDate(0, 0, 8)))
	assert.NoFileExists(t, path)
	assert.FileExists(t, other)
}

func TestSyncSalonsFromConfig_ReloadArchivesRemovedOverrides(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	cfg := &config.SalonsConfig{Orgs: []config.OrgConfig{{
		TenantID:     "acme",
		ID:           "shibuya",
		Reservation:  &config.ReservationRulesConfig{IntervalMinutes: 30},
		Holidays:     []config.HolidayConfig{{Date: "2026-01-20", Name: "Staff training"}},
		SpecialHours: []config.SpecialHoursConfig{{Date: "2026-01-21", Open: "10:00", Close: "14:00"}},
	}}}
	require.NoError(t, db.SyncSalonsFromConfig(ctx, cfg))
	require.NoError(t, db.SetHoliday(ctx, "acme", "shibuya", "2026-01-22", "Plumbing"))

	ex, err := db.GetExceptionSchedule(ctx, "acme", "shibuya", "2026-01-20")
	require.NoError(t, err)
	require.NotNil(t, ex)

	cfg.Orgs[0].Holidays = nil
	require.NoError(t, db.SyncSalonsFromConfig(ctx, cfg))

	ex, err = db.GetExceptionSchedule(ctx, "acme", "shibuya", "2026-01-20")
	require.NoError(t, err)
	assert.Nil(t, ex, "holiday removed from the catalog must reopen the day")

	ex, err = db.GetExceptionSchedule(ctx, "acme", "shibuya", "2026-01-21")
	require.NoError(t, err)
	require.NotNil(t, ex)
	assert.Equal(t, model.ExceptionSpecialHours, ex.Type)

	ex, err = db.GetExceptionSchedule(ctx, "acme", "shibuya", "2026-01-22")
	require.NoError(t, err)
	require.NotNil(t, ex, "manual overrides survive a reload")

	// Listing the date again reactivates it.
	cfg.Orgs[0].Holidays = []config.HolidayConfig{{Date: "2026-01-20"}}
	cfg.Orgs[0].SpecialHours = nil
	require.NoError(t, db.SyncSalonsFromConfig(ctx, cfg))
	ex, err = db.GetExceptionSchedule(ctx, "acme", "shibuya", "2026-01-20")
	require.NoError(t, err)
	require.NotNil(t, ex)
	ex, err = db.GetExceptionSchedule(ctx, "acme", "shibuya", "2026-01-21")
	require.NoError(t, err)
	assert.Nil(t, ex)
}

func TestSyncSalonsFromConfig_DeactivatedOrgHasNoConfig(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	cfg := &config.SalonsConfig{Orgs: []config.OrgConfig{{
		TenantID:    "acme",
		ID:          "ginza",
		Reservation: &config.ReservationRulesConfig{IntervalMinutes: 30},
	}}}
	require.NoError(t, db.SyncSalonsFromConfig(ctx, cfg))
	_, err := db.GetReservationConfig(ctx, "acme", "ginza")
	require.NoError(t, err)

	require.NoError(t, db.SyncSalonsFromConfig(ctx, &config.SalonsConfig{}))
	_, err = db.GetReservationConfig(ctx, "acme", "ginza")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = db.WithinTx(ctx, func(tx domain.ReservationTx) error {
		_, err := tx.GetReservationConfig(ctx, "acme", "ginza")
		return err
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Back in the catalog, back in business.
	require.NoError(t, db.SyncSalonsFromConfig(ctx, cfg))
	_, err = db.GetReservationConfig(ctx, "acme", "ginza")
	assert.NoError(t, err)
}
