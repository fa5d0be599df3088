package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Lock manager metrics (C5)
	LockAcquisitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconsync_lock_acquisitions_total",
			Help: "Total lock acquisition attempts by tenant and result",
		},
		[]string{"tenant", "result"},
	)

	LockActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reconsync_lock_active",
			Help: "Whether the global lock is currently held by this process, by tenant (1/0)",
		},
		[]string{"tenant"},
	)

	LockHeartbeatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconsync_lock_heartbeats_total",
			Help: "Total lock renewal heartbeats by tenant and result",
		},
		[]string{"tenant", "result"},
	)

	// Change log metrics (C4)
	ChangelogPending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reconsync_changelog_pending",
			Help: "Unsynchronized change log entries by tenant",
		},
		[]string{"tenant"},
	)

	ChangelogAppendedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconsync_changelog_appended_total",
			Help: "Total change log entries appended by tenant and table",
		},
		[]string{"tenant", "table"},
	)

	// Replicator metrics (C7)
	PushEntriesAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconsync_push_entries_applied_total",
			Help: "Total change log entries successfully replayed to the network store",
		},
		[]string{"tenant", "table"},
	)

	PushDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reconsync_push_duration_seconds",
			Help:    "Duration of a full replication push cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tenant"},
	)

	PushFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconsync_push_failures_total",
			Help: "Total replication push cycles that failed by tenant and reason",
		},
		[]string{"tenant", "reason"},
	)

	// Batch writer metrics (C6)
	CRCSkipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconsync_crc_skips_total",
			Help: "Total rows skipped because their CRC matched the stored value",
		},
		[]string{"tenant", "table"},
	)

	BatchRowsWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconsync_batch_rows_written_total",
			Help: "Total rows written by the batch writer, by tenant, table and operation",
		},
		[]string{"tenant", "table", "operation"},
	)

	BatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reconsync_batch_duration_seconds",
			Help:    "Duration of a batch apply transaction in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tenant", "table"},
	)

	// Publisher metrics (C8)
	PublishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reconsync_publish_duration_seconds",
			Help:    "Duration of a file publish (stage + atomic rename) in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tenant", "kind"},
	)

	PublishFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconsync_publish_failures_total",
			Help: "Total publish failures by tenant, store kind and reason",
		},
		[]string{"tenant", "kind", "reason"},
	)

	// Reconciliation loop metrics (D3)
	ReconcileCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconsync_reconcile_cycles_total",
			Help: "Total reconciliation loop cycles by tenant and result",
		},
		[]string{"tenant", "result"},
	)

	ReconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reconsync_reconcile_duration_seconds",
			Help:    "Duration of a full tenant reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tenant"},
	)
)

func init() {
	prometheus.MustRegister(LockAcquisitionsTotal)
	prometheus.MustRegister(LockActive)
	prometheus.MustRegister(LockHeartbeatsTotal)
	prometheus.MustRegister(ChangelogPending)
	prometheus.MustRegister(ChangelogAppendedTotal)
	prometheus.MustRegister(PushEntriesAppliedTotal)
	prometheus.MustRegister(PushDuration)
	prometheus.MustRegister(PushFailuresTotal)
	prometheus.MustRegister(CRCSkipsTotal)
	prometheus.MustRegister(BatchRowsWrittenTotal)
	prometheus.MustRegister(BatchDuration)
	prometheus.MustRegister(PublishDuration)
	prometheus.MustRegister(PublishFailuresTotal)
	prometheus.MustRegister(ReconcileCyclesTotal)
	prometheus.MustRegister(ReconcileDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
