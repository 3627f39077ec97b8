package analytics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSink(t *testing.T) *Sink {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	sink := NewSink(db, 0, nil)
	t.Cleanup(func() { _ = sink.Close() })
	require.NoError(t, sink.CreateSchema(context.Background()))
	return sink
}

func fact(id string, start time.Time) ReservationFact {
	end := start.Add(time.Hour)
	return ReservationFact{
		ID:              id,
		TenantID:        "acme",
		OrgID:           "shibuya",
		StaffID:         "alice",
		CustomerID:      "c1",
		Menus:           `[{"menu_id":"cut"}]`,
		StartTime:       start.UTC().Format(time.RFC3339),
		EndTime:         end.UTC().Format(time.RFC3339),
		StartTimeUnix:   start.Unix(),
		EndTimeUnix:     end.Unix(),
		DurationMinutes: 60,
		Status:          "completed",
		TotalPrice:      5000,
		CreatedAt:       start.Add(-time.Hour).UTC().Format(time.RFC3339),
		UpdatedAt:       start.Add(-time.Hour).UTC().Format(time.RFC3339),
		MigratedAt:      time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestSink_UpsertIsIdempotent(t *testing.T) {
	sink := newTestSink(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

	facts := []ReservationFact{fact("r1", base), fact("r2", base.Add(2*time.Hour))}
	require.NoError(t, sink.Upsert(ctx, facts))
	require.NoError(t, sink.Upsert(ctx, facts))

	n, err := sink.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	changed := fact("r1", base)
	changed.TotalPrice = 7000
	require.NoError(t, sink.Upsert(ctx, []ReservationFact{changed}))

	got, err := sink.ListFacts(ctx, "acme", "shibuya", base, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "r1", got[0].ID)
	assert.EqualValues(t, 7000, got[0].TotalPrice)
	assert.Equal(t, `[{"menu_id":"cut"}]`, got[0].Menus)
	assert.Equal(t, "2026-01-10T09:00:00Z", got[0].StartTime)
}

func TestSink_UpsertLargeBatch(t *testing.T) {
	sink := newTestSink(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

	facts := make([]ReservationFact, 0, upsertChunk+10)
	for i := 0; i < upsertChunk+10; i++ {
		facts = append(facts, fact(fmt.Sprintf("r%04d", i), base.Add(time.Duration(i)*time.Minute)))
	}
	require.NoError(t, sink.Upsert(ctx, facts))

	n, err := sink.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, upsertChunk+10, n)
}

func TestSink_ListFactsScope(t *testing.T) {
	sink := newTestSink(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

	other := fact("g1", base)
	other.OrgID = "ginza"
	require.NoError(t, sink.Upsert(ctx, []ReservationFact{
		fact("r1", base),
		fact("r2", base.Add(48*time.Hour)),
		other,
	}))

	got, err := sink.ListFacts(ctx, "acme", "shibuya", base, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "r1", got[0].ID)

	got, err = sink.ListFacts(ctx, "acme", "shibuya", base.Add(time.Minute), base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSink_UpsertHonorsContext(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	sink := NewSink(db, 0.001, nil)
	defer sink.Close()
	require.NoError(t, sink.CreateSchema(context.Background()))

	base := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	require.NoError(t, sink.Upsert(context.Background(), []ReservationFact{fact("r1", base)}))

	// The single token is spent; the next write would wait far past the deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = sink.Upsert(ctx, []ReservationFact{fact("r2", base)})
	assert.Error(t, err)
}

func TestOpen_EmptyDSN(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}
