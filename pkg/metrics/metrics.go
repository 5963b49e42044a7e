// Package metrics holds the prometheus collectors for uploads, synthesis and
// query execution.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeRejected = "rejected"
)

var (
	uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csvsql_uploads_total",
			Help: "Total number of CSV uploads by outcome.",
		},
		[]string{"outcome"},
	)
	loadedRows = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "csvsql_loaded_rows",
			Help: "Row count of the currently loaded table.",
		},
	)
	loadedColumns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "csvsql_loaded_columns",
			Help: "Column count of the currently loaded table.",
		},
	)
	synthesisTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csvsql_synthesis_total",
			Help: "Total number of natural language to SQL requests by outcome.",
		},
		[]string{"outcome"},
	)
	synthesisLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "csvsql_synthesis_latency_ms",
			Help:    "Text generation latency in milliseconds.",
			Buckets: []float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000},
		},
	)
	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csvsql_query_executions_total",
			Help: "Total number of query executions by outcome.",
		},
		[]string{"outcome"},
	)
	executionLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "csvsql_query_latency_ms",
			Help:    "Query execution latency in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		},
	)
)

func init() {
	prometheus.MustRegister(
		uploadsTotal,
		loadedRows,
		loadedColumns,
		synthesisTotal,
		synthesisLatencyMs,
		executionsTotal,
		executionLatencyMs,
	)
}

func RecordUpload(outcome string, rows, columns int) {
	uploadsTotal.WithLabelValues(outcome).Inc()
	if outcome == OutcomeOK {
		loadedRows.Set(float64(rows))
		loadedColumns.Set(float64(columns))
	}
}

func RecordSynthesis(outcome string, latency time.Duration) {
	synthesisTotal.WithLabelValues(outcome).Inc()
	synthesisLatencyMs.Observe(float64(latency.Milliseconds()))
}

func RecordExecution(outcome string, latency time.Duration) {
	executionsTotal.WithLabelValues(outcome).Inc()
	if outcome != OutcomeRejected {
		executionLatencyMs.Observe(float64(latency.Milliseconds()))
	}
}

// Reset clears the loaded table gauges when the session closes.
func Reset() {
	loadedRows.Set(0)
	loadedColumns.Set(0)
}
