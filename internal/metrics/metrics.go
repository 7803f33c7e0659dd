// Package metrics holds the Prometheus collectors shared by the document and
// aggregator sides.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	global *Metrics
	once   sync.Once
)

// Metrics groups every collector. All names carry the "domscribr_" prefix.
type Metrics struct {
	// Document side
	PassesTotal       *prometheus.CounterVec
	RecordsEmitted    prometheus.Counter
	DuplicatesSkipped prometheus.Counter
	EmptySkipped      prometheus.Counter
	EmitFailures      prometheus.Counter

	// Aggregator side
	BatchesAppended  prometheus.Counter
	RecordsAppended  *prometheus.CounterVec
	PersistQueueSize prometheus.Gauge
	PersistFailures  prometheus.Counter
}

// New returns the process-wide collectors, registering them on first use.
//
//   - domscribr_harvest_passes_total{scope} - full or scoped passes run
//   - domscribr_records_emitted_total - records handed to the transport
//   - domscribr_duplicates_skipped_total - candidates already captured
//   - domscribr_empty_skipped_total - candidates with no content
//   - domscribr_emit_failures_total - batches the transport failed to deliver
//   - domscribr_batches_appended_total - batches appended to sessions
//   - domscribr_records_appended_total{role} - records appended, by role
//   - domscribr_persist_queue_size - store operations awaiting flush
//   - domscribr_persist_failures_total - failed flushes
func New() *Metrics {
	once.Do(func() {
		global = &Metrics{
			PassesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "domscribr_harvest_passes_total",
					Help: "Total number of harvest passes",
				},
				[]string{"scope"}, // "full" or "scoped"
			),
			RecordsEmitted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "domscribr_records_emitted_total",
				Help: "Total number of message records emitted",
			}),
			DuplicatesSkipped: promauto.NewCounter(prometheus.CounterOpts{
				Name: "domscribr_duplicates_skipped_total",
				Help: "Total number of candidates skipped as already captured",
			}),
			EmptySkipped: promauto.NewCounter(prometheus.CounterOpts{
				Name: "domscribr_empty_skipped_total",
				Help: "Total number of candidates skipped for empty content",
			}),
			EmitFailures: promauto.NewCounter(prometheus.CounterOpts{
				Name: "domscribr_emit_failures_total",
				Help: "Total number of record batches that failed to deliver",
			}),
			BatchesAppended: promauto.NewCounter(prometheus.CounterOpts{
				Name: "domscribr_batches_appended_total",
				Help: "Total number of batches appended to sessions",
			}),
			RecordsAppended: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "domscribr_records_appended_total",
					Help: "Total number of records appended to sessions",
				},
				[]string{"role"},
			),
			PersistQueueSize: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "domscribr_persist_queue_size",
				Help: "Store operations waiting to be flushed",
			}),
			PersistFailures: promauto.NewCounter(prometheus.CounterOpts{
				Name: "domscribr_persist_failures_total",
				Help: "Total number of failed store flushes",
			}),
		}
	})
	return global
}
