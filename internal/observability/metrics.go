package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "stormwater"

// Metrics holds the Prometheus counters and histograms for ingest, detection,
// alerting and scheduled jobs.
type Metrics struct {
	// Ingest metrics.
	IngestRows          *prometheus.CounterVec // labels: outcome={inserted,duplicate,rejected}
	FacilitiesCreated   prometheus.Counter
	ESMRSamplesImported prometheus.Counter

	// Detection metrics.
	ViolationsUpserted prometheus.Counter
	RecomputeDuration  prometheus.Histogram

	// Alert metrics.
	AlertsSent *prometheus.CounterVec // labels: channel={email,slack}, outcome={success,error}

	// Scheduled job metrics.
	CronRuns     *prometheus.CounterVec   // labels: job, outcome={success,error}
	CronDuration *prometheus.HistogramVec // labels: job

	EventsPublished *prometheus.CounterVec // labels: outcome={success,error}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.IngestRows,
		m.FacilitiesCreated,
		m.ESMRSamplesImported,
		m.ViolationsUpserted,
		m.RecomputeDuration,
		m.AlertsSent,
		m.CronRuns,
		m.CronDuration,
		m.EventsPublished,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics so tests can build as many
// as they like.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		IngestRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_rows_total",
			Help:      "Uploaded sample rows by outcome.",
		}, []string{"outcome"}),
		FacilitiesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "facilities_created_total",
			Help:      "Facilities created from uploads.",
		}),
		ESMRSamplesImported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "esmr_samples_imported_total",
			Help:      "eSMR samples inserted by bulk import or sync.",
		}),
		ViolationsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "violations_upserted_total",
			Help:      "Violation events created or refreshed by recompute.",
		}),
		RecomputeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recompute_duration_seconds",
			Help:      "Duration of a full violation recompute.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		AlertsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_sent_total",
			Help:      "Alert deliveries by channel and outcome.",
		}, []string{"channel", "outcome"}),
		CronRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cron_runs_total",
			Help:      "Scheduled job runs by job and outcome.",
		}, []string{"job", "outcome"}),
		CronDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cron_duration_seconds",
			Help:      "Scheduled job duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"job"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Violation events published to Kafka by outcome.",
		}, []string{"outcome"}),
	}
}
