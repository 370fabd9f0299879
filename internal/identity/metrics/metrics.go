package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the identity module.
type Metrics struct {
	// Registration outcomes by result
	RegistrationOutcome *prometheus.CounterVec

	// Duplicate ledger appends by matching scheme
	DuplicatesRecorded *prometheus.CounterVec

	// Backfill row outcomes by migration and result
	BackfillRows *prometheus.CounterVec

	// Overall registration latency
	RegisterLatency prometheus.Histogram
}

// New creates a new Metrics instance with all identity module metrics registered.
func New() *Metrics {
	return &Metrics{
		RegistrationOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "phonegate_registration_outcomes_total",
			Help: "Total registration outcomes by result",
		}, []string{"result"}), // result: "success", "duplicate", "rejected"

		DuplicatesRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "phonegate_duplicates_recorded_total",
			Help: "Total duplicate ledger appends by matching scheme",
		}, []string{"scheme"}),

		BackfillRows: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "phonegate_backfill_rows_total",
			Help: "Total backfill row outcomes by migration and result",
		}, []string{"migration", "result"}), // result: "updated", "skipped", "converted"

		RegisterLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "phonegate_register_duration_seconds",
			Help:    "Duration of full customer registration including duplicate resolution",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
	}
}

// IncrementRegistration records a registration outcome.
func (m *Metrics) IncrementRegistration(result string) {
	if m != nil {
		m.RegistrationOutcome.WithLabelValues(result).Inc()
	}
}

// IncrementDuplicate records a duplicate ledger append.
func (m *Metrics) IncrementDuplicate(scheme string) {
	if m != nil {
		m.DuplicatesRecorded.WithLabelValues(scheme).Inc()
	}
}

// IncrementBackfillRow records the outcome of one backfilled row.
func (m *Metrics) IncrementBackfillRow(migration, result string) {
	if m != nil {
		m.BackfillRows.WithLabelValues(migration, result).Inc()
	}
}

// ObserveRegisterLatency records the total registration duration.
func (m *Metrics) ObserveRegisterLatency(d time.Duration) {
	if m != nil {
		m.RegisterLatency.Observe(d.Seconds())
	}
}
