package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"salonbook/internal/config"
	"salonbook/internal/model"
)

type orgKey struct{ tenantID, orgID string }

// SyncSalonsFromConfig applies salons.yaml to the database.
// It upserts orgs with their rules, weekly hours, menus and date overrides,
// archives overrides that were removed from the file and marks orgs missing
// from the file inactive.
func (db *DB) SyncSalonsFromConfig(ctx context.Context, cfg *config.SalonsConfig) error {
	if cfg == nil {
		return ErrNilConfig
	}

	now := time.Now()
	seen := make(map[orgKey]struct{}, len(cfg.Orgs))
	var menus, overrides, archived int

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		for i := range cfg.Orgs {
			o := &cfg.Orgs[i]

			// Preserve created_at if the org already exists.
			_, err := tx.ExecContext(ctx, `
				INSERT INTO orgs (tenant_id, id, name, is_active, created_at, updated_at)
				VALUES (?, ?, ?, 1, COALESCE((SELECT created_at FROM orgs WHERE tenant_id = ? AND id = ?), ?), ?)
				ON CONFLICT(tenant_id, id) DO UPDATE SET
					name = excluded.name,
					is_active = 1,
					updated_at = excluded.updated_at`,
				o.TenantID, o.ID, o.Name, o.TenantID, o.ID, now, now,
			)
			if err != nil {
				return fmt.Errorf("sync org %s/%s: %w", o.TenantID, o.ID, err)
			}
			seen[orgKey{o.TenantID, o.ID}] = struct{}{}

			rc := o.ReservationConfig()
			if err := upsertReservationConfig(ctx, tx, &rc); err != nil {
				return fmt.Errorf("sync org %s/%s rules: %w", o.TenantID, o.ID, err)
			}

			for _, ws := range o.WeekSchedules() {
				if err := upsertWeekSchedule(ctx, tx, &ws); err != nil {
					return fmt.Errorf("sync org %s/%s %s hours: %w", o.TenantID, o.ID, ws.DayOfWeek, err)
				}
			}

			for _, m := range o.MenuModels() {
				if err := upsertMenu(ctx, tx, &m); err != nil {
					return fmt.Errorf("sync menu %s of %s/%s: %w", m.ID, o.TenantID, o.ID, err)
				}
				menus++
			}

			dates := make([]string, 0, len(o.Holidays)+len(o.SpecialHours))
			for _, h := range o.Holidays {
				dates = append(dates, h.Date)
				err := setException(ctx, tx, &model.ExceptionSchedule{
					TenantID: o.TenantID,
					OrgID:    o.ID,
					Date:     h.Date,
					Type:     model.ExceptionHoliday,
					Notes:    h.Name,
				}, SourceConfig)
				if err != nil {
					return fmt.Errorf("sync holiday %s of %s/%s: %w", h.Date, o.TenantID, o.ID, err)
				}
				overrides++
			}
			for _, s := range o.SpecialHours {
				dates = append(dates, s.Date)
				err := setException(ctx, tx, &model.ExceptionSchedule{
					TenantID:  o.TenantID,
					OrgID:     o.ID,
					Date:      s.Date,
					Type:      model.ExceptionSpecialHours,
					OpenTime:  s.Open,
					CloseTime: s.Close,
					Notes:     s.Notes,
				}, SourceConfig)
				if err != nil {
					return fmt.Errorf("sync special hours %s of %s/%s: %w", s.Date, o.TenantID, o.ID, err)
				}
				overrides++
			}

			n, err := archiveStaleExceptions(ctx, tx, o.TenantID, o.ID, dates, now)
			if err != nil {
				return fmt.Errorf("archive overrides of %s/%s: %w", o.TenantID, o.ID, err)
			}
			archived += int(n)
		}

		return deactivateMissingOrgs(ctx, tx, seen, now)
	})
	if err != nil {
		return err
	}

	db.logger.Info().
		Int("orgs", len(seen)).
		Int("menus", menus).
		Int("overrides", overrides).
		Int("archived_overrides", archived).
		Msg("Salons config synced")
	return nil
}

// archiveStaleExceptions archives active catalog overrides of an org whose
// date is no longer listed. Manually set overrides are left alone.
func archiveStaleExceptions(ctx context.Context, tx *sql.Tx, tenantID, orgID string, keep []string, now time.Time) (int64, error) {
	query := `UPDATE exception_schedules SET status = ?, updated_at = ?
		WHERE tenant_id = ? AND org_id = ? AND source = ? AND status = ?`
	args := []any{model.RecordArchived, now, tenantID, orgID, SourceConfig, model.RecordActive}
	if len(keep) > 0 {
		query += ` AND date NOT IN (` + strings.TrimSuffix(strings.Repeat("?,", len(keep)), ",") + `)`
		for _, d := range keep {
			args = append(args, d)
		}
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// deactivateMissingOrgs marks orgs that disappeared from config inactive.
func deactivateMissingOrgs(ctx context.Context, tx *sql.Tx, seen map[orgKey]struct{}, now time.Time) error {
	rows, err := tx.QueryContext(ctx, `SELECT tenant_id, id FROM orgs WHERE is_active = 1`)
	if err != nil {
		return err
	}

	var missing []orgKey
	for rows.Next() {
		var k orgKey
		if err := rows.Scan(&k.tenantID, &k.orgID); err != nil {
			rows.Close()
			return err
		}
		if _, ok := seen[k]; !ok {
			missing = append(missing, k)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, k := range missing {
		if _, err := tx.ExecContext(ctx,
			`UPDATE orgs SET is_active = 0, updated_at = ? WHERE tenant_id = ? AND id = ?`,
			now, k.tenantID, k.orgID,
		); err != nil {
			return fmt.Errorf("deactivate org %s/%s: %w", k.tenantID, k.orgID, err)
		}
	}
	return nil
}
