package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "salonbook"

var (
	once sync.Once

	slotQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_queries_total",
			Help:      "Count of availability computations by result.",
		},
		[]string{"result"},
	)

	slotDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "slot_computation_duration_seconds",
			Help:      "Time to compute available slots for one date.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1},
		},
	)

	slotCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_cache_lookups_total",
			Help:      "Count of slot cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	reservationCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_created_total",
			Help:      "Count of reservations created by status.",
		},
		[]string{"status"},
	)

	reservationConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_conflicts_total",
			Help:      "Count of rejected reservations by conflict reason.",
		},
		[]string{"reason"},
	)

	statusChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_status_changes_total",
			Help:      "Count of reservation status transitions by target status.",
		},
		[]string{"to"},
	)

	syncBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_batches_total",
			Help:      "Count of sync pipeline batches by result.",
		},
		[]string{"result"},
	)

	syncMigrated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_migrated_records_total",
			Help:      "Reservations moved to the analytics store.",
		},
	)

	syncStalled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_stalled_total",
			Help:      "Sync runs that exhausted their retries.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Count of API requests by route and status code.",
		},
		[]string{"route", "code"},
	)

	syncRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_running",
			Help:      "1 while a sync run is in flight.",
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			slotQueries, slotDuration, slotCache,
			reservationCreated, reservationConflicts, statusChanges,
			syncBatches, syncMigrated, syncStalled, syncRunning,
			httpRequests,
		)
	})
}

func IncSlotQuery(result string) {
	slotQueries.WithLabelValues(result).Inc()
}

func ObserveSlotComputation(d time.Duration) {
	slotDuration.Observe(d.Seconds())
}

func IncSlotCache(outcome string) {
	slotCache.WithLabelValues(outcome).Inc()
}

func IncReservationCreated(status string) {
	reservationCreated.WithLabelValues(status).Inc()
}

func IncReservationConflict(reason string) {
	reservationConflicts.WithLabelValues(reason).Inc()
}

func IncStatusChange(to string) {
	statusChanges.WithLabelValues(to).Inc()
}

func IncSyncBatch(result string) {
	syncBatches.WithLabelValues(result).Inc()
}

func AddSyncMigrated(n int) {
	syncMigrated.Add(float64(n))
}

func IncSyncStalled() {
	syncStalled.Inc()
}

func SetSyncRunning(running bool) {
	if running {
		syncRunning.Set(1)
		return
	}
	syncRunning.Set(0)
}

func IncHTTPRequest(route string, code int) {
	httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
