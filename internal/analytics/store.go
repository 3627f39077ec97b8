package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // postgres driver
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"golang.org/x/time/rate"
)

// upsertChunk bounds the rows of a single INSERT statement.
const upsertChunk = 500

// Open connects to the analytics database. postgres:// DSNs use PostgreSQL,
// anything else is treated as a SQLite file path for local runs.
func Open(dsn string) (*bun.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("analytics dsn is empty")
	}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		sqldb, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		sqldb.SetMaxOpenConns(10)
		sqldb.SetMaxIdleConns(5)
		sqldb.SetConnMaxLifetime(time.Hour)
		if err := sqldb.Ping(); err != nil {
			_ = sqldb.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		return bun.NewDB(sqldb, pgdialect.New()), nil
	}

	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqldb.SetMaxOpenConns(1)
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

// Sink writes reservation facts to the analytics database.
type Sink struct {
	db      *bun.DB
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewSink creates a sink. writesPerSecond limits INSERT statements; zero or
// less means unlimited.
func NewSink(db *bun.DB, writesPerSecond float64, logger *zerolog.Logger) *Sink {
	limit := rate.Inf
	if writesPerSecond > 0 {
		limit = rate.Limit(writesPerSecond)
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "analytics").Logger()
	}
	return &Sink{
		db:      db,
		limiter: rate.NewLimiter(limit, 1),
		logger:  l,
	}
}

// CreateSchema creates the facts table and its report index if missing.
func (s *Sink) CreateSchema(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*ReservationFact)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create reservation_facts: %w", err)
	}

	_, err = s.db.NewCreateIndex().
		Model((*ReservationFact)(nil)).
		Index("idx_reservation_facts_org_start").
		Column("tenant_id", "org_id", "start_time_unix").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create reservation_facts index: %w", err)
	}
	return nil
}

// Upsert inserts facts or replaces rows with the same id.
func (s *Sink) Upsert(ctx context.Context, facts []ReservationFact) error {
	for start := 0; start < len(facts); start += upsertChunk {
		end := min(start+upsertChunk, len(facts))
		chunk := facts[start:end]

		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("wait for write budget: %w", err)
		}

		_, err := s.db.NewInsert().
			Model(&chunk).
			On("CONFLICT (id) DO UPDATE").
			Set("tenant_id = EXCLUDED.tenant_id").
			Set("org_id = EXCLUDED.org_id").
			Set("staff_id = EXCLUDED.staff_id").
			Set("customer_id = EXCLUDED.customer_id").
			Set("menus = EXCLUDED.menus").
			Set("start_time = EXCLUDED.start_time").
			Set("end_time = EXCLUDED.end_time").
			Set("start_time_unix = EXCLUDED.start_time_unix").
			Set("end_time_unix = EXCLUDED.end_time_unix").
			Set("duration_minutes = EXCLUDED.duration_minutes").
			Set("status = EXCLUDED.status").
			Set("payment_method = EXCLUDED.payment_method").
			Set("total_price = EXCLUDED.total_price").
			Set("created_at = EXCLUDED.created_at").
			Set("updated_at = EXCLUDED.updated_at").
			Set("migrated_at = EXCLUDED.migrated_at").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("upsert %d facts: %w", len(chunk), err)
		}
	}

	s.logger.Debug().Int("facts", len(facts)).Msg("facts upserted")
	return nil
}

// ListFacts returns facts of an org that started in [from, to), ordered by start.
func (s *Sink) ListFacts(ctx context.Context, tenantID, orgID string, from, to time.Time) ([]ReservationFact, error) {
	var facts []ReservationFact
	err := s.db.NewSelect().
		Model(&facts).
		Where("tenant_id = ?", tenantID).
		Where("org_id = ?", orgID).
		Where("start_time_unix >= ?", from.Unix()).
		Where("start_time_unix < ?", to.Unix()).
		Order("start_time_unix ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list facts: %w", err)
	}
	return facts, nil
}

// Count returns the number of stored facts.
func (s *Sink) Count(ctx context.Context) (int, error) {
	return s.db.NewSelect().Model((*ReservationFact)(nil)).Count(ctx)
}

// Close closes the underlying database.
func (s *Sink) Close() error {
	return s.db.Close()
}
