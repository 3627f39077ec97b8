package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"salonbook/internal/domain"
	"salonbook/internal/model"
)

// deleteChunk keeps IN lists well below SQLite's bound-parameter limit.
const deleteChunk = 500

const reservationColumns = `id, tenant_id, org_id, staff_id, customer_id, menus, start_time_unix, end_time_unix,
	status, payment_method, total_price, notes, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(s rowScanner) (*model.Reservation, error) {
	var r model.Reservation
	var menus string
	if err := s.Scan(
		&r.ID, &r.TenantID, &r.OrgID, &r.StaffID, &r.CustomerID, &menus, &r.StartTimeUnix, &r.EndTimeUnix,
		&r.Status, &r.PaymentMethod, &r.TotalPrice, &r.Notes, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if menus != "" {
		if err := json.Unmarshal([]byte(menus), &r.Menus); err != nil {
			return nil, fmt.Errorf("decode menus of %s: %w", r.ID, err)
		}
	}
	return &r, nil
}

func scanReservations(rows *sql.Rows) ([]model.Reservation, error) {
	defer rows.Close()
	var out []model.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// GetReservation returns one reservation of an org.
func (db *DB) GetReservation(ctx context.Context, tenantID, orgID, id string) (*model.Reservation, error) {
	return getReservation(ctx, db.DB, tenantID, orgID, id)
}

func getReservation(ctx context.Context, q queryer, tenantID, orgID, id string) (*model.Reservation, error) {
	r, err := scanReservation(q.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE tenant_id = ? AND org_id = ? AND id = ?`,
		tenantID, orgID, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reservation %s: %w", id, domain.ErrNotFound)
	}
	return r, err
}

// ListActiveReservations returns active reservations of the org overlapping [startUnix, endUnix).
func (db *DB) ListActiveReservations(ctx context.Context, tenantID, orgID string, startUnix, endUnix int64) ([]model.Reservation, error) {
	return listActiveReservations(ctx, db.DB, tenantID, orgID, startUnix, endUnix)
}

func listActiveReservations(ctx context.Context, q queryer, tenantID, orgID string, startUnix, endUnix int64) ([]model.Reservation, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE tenant_id = ? AND org_id = ?
		  AND start_time_unix < ? AND end_time_unix > ?
		  AND status IN (?, ?, ?)
		ORDER BY start_time_unix, id`,
		tenantID, orgID, endUnix, startUnix,
		model.StatusPending, model.StatusConfirmed, model.StatusCompleted,
	)
	if err != nil {
		return nil, err
	}
	return scanReservations(rows)
}

func insertReservation(ctx context.Context, q queryer, r *model.Reservation) error {
	if !r.ValidRange() {
		return fmt.Errorf("reservation %s: start must be before end", r.ID)
	}
	menus, err := json.Marshal(r.Menus)
	if err != nil {
		return fmt.Errorf("encode menus: %w", err)
	}
	if r.Menus == nil {
		menus = []byte("[]")
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO reservations (`+reservationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TenantID, r.OrgID, r.StaffID, r.CustomerID, string(menus), r.StartTimeUnix, r.EndTimeUnix,
		r.Status, r.PaymentMethod, r.TotalPrice, r.Notes, r.CreatedAt, r.UpdatedAt,
	)
	return err
}

// InsertReservation stores a reservation without conflict checks. Used for imports and tests.
func (db *DB) InsertReservation(ctx context.Context, r *model.Reservation) error {
	return insertReservation(ctx, db.DB, r)
}

func updateReservation(ctx context.Context, q queryer, query string, args ...any) error {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkCompleted moves confirmed reservations that ended before now to completed.
func (db *DB) MarkCompleted(ctx context.Context, now time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE reservations SET status = ?, updated_at = ?
		WHERE status = ? AND end_time_unix <= ?`,
		model.StatusCompleted, now, model.StatusConfirmed, now.Unix(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// FetchCompleted returns up to limit completed reservations that ended before
// before, ordered by id and strictly after cursor.
func (db *DB) FetchCompleted(ctx context.Context, before time.Time, cursor string, limit int) (domain.ReservationPage, error) {
	if limit <= 0 {
		return domain.ReservationPage{}, fmt.Errorf("limit must be positive, got %d", limit)
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE status = ? AND end_time_unix < ? AND id > ?
		ORDER BY id
		LIMIT ?`,
		model.StatusCompleted, before.Unix(), cursor, limit+1,
	)
	if err != nil {
		return domain.ReservationPage{}, err
	}
	records, err := scanReservations(rows)
	if err != nil {
		return domain.ReservationPage{}, err
	}

	page := domain.ReservationPage{IsDone: len(records) <= limit, NextCursor: cursor}
	if len(records) > limit {
		records = records[:limit]
	}
	page.Records = records
	if len(records) > 0 {
		page.NextCursor = records[len(records)-1].ID
	}
	return page, nil
}

// DeleteReservations hard-deletes reservations by id. Missing ids are ignored.
func (db *DB) DeleteReservations(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	var total int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		for start := 0; start < len(ids); start += deleteChunk {
			end := min(start+deleteChunk, len(ids))
			chunk := ids[start:end]
			placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
			args := make([]any, len(chunk))
			for i, id := range chunk {
				args[i] = id
			}
			res, err := tx.ExecContext(ctx, `DELETE FROM reservations WHERE id IN (`+placeholders+`)`, args...)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			total += n
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete reservations: %w", err)
	}
	db.logger.Debug().Int("requested", len(ids)).Int64("deleted", total).Msg("reservations deleted")
	return nil
}

// WithinTx runs fn inside one write transaction.
func (db *DB) WithinTx(ctx context.Context, fn func(tx domain.ReservationTx) error) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return fn(&txStore{tx: tx})
	})
}

func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("commit tx: %w", cerr)
		}
	}()
	return fn(tx)
}

type txStore struct {
	tx *sql.Tx
}

func (t *txStore) GetReservationConfig(ctx context.Context, tenantID, orgID string) (*model.ReservationConfig, error) {
	return getReservationConfig(ctx, t.tx, tenantID, orgID)
}

func (t *txStore) ListActiveReservations(ctx context.Context, tenantID, orgID string, startUnix, endUnix int64) ([]model.Reservation, error) {
	return listActiveReservations(ctx, t.tx, tenantID, orgID, startUnix, endUnix)
}

func (t *txStore) GetReservation(ctx context.Context, tenantID, orgID, id string) (*model.Reservation, error) {
	return getReservation(ctx, t.tx, tenantID, orgID, id)
}

func (t *txStore) InsertReservation(ctx context.Context, r *model.Reservation) error {
	return insertReservation(ctx, t.tx, r)
}

func (t *txStore) UpdateReservationStatus(ctx context.Context, r *model.Reservation) error {
	return updateReservation(ctx, t.tx, `
		UPDATE reservations SET status = ?, updated_at = ?
		WHERE tenant_id = ? AND org_id = ? AND id = ?`,
		r.Status, r.UpdatedAt, r.TenantID, r.OrgID, r.ID,
	)
}

func (t *txStore) UpdateReservationTime(ctx context.Context, r *model.Reservation) error {
	if !r.ValidRange() {
		return fmt.Errorf("reservation %s: start must be before end", r.ID)
	}
	return updateReservation(ctx, t.tx, `
		UPDATE reservations SET start_time_unix = ?, end_time_unix = ?, updated_at = ?
		WHERE tenant_id = ? AND org_id = ? AND id = ?`,
		r.StartTimeUnix, r.EndTimeUnix, r.UpdatedAt, r.TenantID, r.OrgID, r.ID,
	)
}
