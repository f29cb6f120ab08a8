// Package metrics provides Prometheus instrumentation for the fastir pipeline.
//
// # Overview
//
// Metrics are registered once on the default registry through promauto and
// updated by the components that own the corresponding events:
//   - corpus streams count units read and shards opened
//   - the feature extractor counts outcomes and observes latency
//   - sinks count tables written
//
// # Basic Usage
//
//	timer := metrics.NewTimer()
//	table, ok := extractor.Extract(ctx, unit)
//	metrics.ExtractionDuration.Observe(timer.Stop().Seconds())
//
// The CLI exposes the registry over HTTP when --metrics-addr is set.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fastir"

// Extraction results
const (
	ResultTable  = "table"
	ResultAbsent = "absent"
)

var (
	// UnitsRead counts compiled units yielded by corpus streams.
	// Labels: source (stream kind: shards, kafka, memory)
	UnitsRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_read_total",
			Help:      "Total number of compiled units read from the corpus",
		},
		[]string{"source"},
	)

	// UnitBytes tracks the distribution of compiled unit sizes.
	UnitBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "unit_size_bytes",
			Help:      "Size of compiled units in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10), // 1KiB .. 256MiB
		},
	)

	// ShardsOpened counts corpus shards opened by sharded streams.
	// Labels: format (parquet, jsonl)
	ShardsOpened = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shards_opened_total",
			Help:      "Total number of corpus shards opened",
		},
		[]string{"format"},
	)

	// Extractions counts extraction outcomes.
	// Labels: result (table/absent), stage (empty for tables; decode, decoder_panic, deserialize, shape)
	Extractions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Total number of feature extractions by result",
		},
		[]string{"result", "stage"},
	)

	// ExtractionDuration tracks the latency of one extraction including the decoder call.
	ExtractionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_duration_seconds",
			Help:      "Latency of feature extraction per compiled unit",
			Buckets: []float64{
				0.001, // 1ms - cached or tiny modules
				0.01,  // 10ms
				0.05,
				0.1, // 100ms - typical module
				0.5,
				1,
				5,
				30, // decoder timeout territory
			},
		},
	)

	// FeatureRows counts rows (call sites) across extracted tables.
	FeatureRows = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feature_rows_total",
			Help:      "Total number of feature rows extracted",
		},
	)

	// TablesWritten counts feature tables persisted by sinks.
	// Labels: format (arrow, parquet, avro)
	TablesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tables_written_total",
			Help:      "Total number of feature tables written",
		},
		[]string{"format"},
	)
)

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration since creation. It can be called
// multiple times.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ObserveExtraction records the outcome of one extraction.
func ObserveExtraction(result, stage string, elapsed time.Duration, rows int64) {
	Extractions.WithLabelValues(result, stage).Inc()
	ExtractionDuration.Observe(elapsed.Seconds())
	if rows > 0 {
		FeatureRows.Add(float64(rows))
	}
}
