// Package metrics exports Prometheus counters for import runs. The Reporter
// derives every value from the progress events a run already emits.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/JonMunkholm/stockimport/internal/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "stockimport"

type metrics struct {
	runsTotal           *prometheus.CounterVec
	rowsTotal           *prometheus.CounterVec
	auditEntriesTotal   prometheus.Counter
	correlationWarnings prometheus.Counter
	retriesTotal        prometheus.Counter

	runDuration *prometheus.HistogramVec
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		runsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of finished import attempts.",
		}, []string{"result", "code"}),
		rowsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Total number of rows classified by committed runs.",
		}, []string{"bucket"}),
		auditEntriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_entries_total",
			Help:      "Total number of audit entries written by committed runs.",
		}),
		correlationWarnings: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "correlation_warnings_total",
			Help:      "Total number of inserted records that could not be matched to an id.",
		}),
		retriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Total number of re-attempted runs after a transient failure.",
		}),
		runDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of committed import runs.",
			Buckets: []float64{
				0.05, 0.1, 0.25, 0.5,
				1, 2.5, 5, 10,
				30, 60, 120, 300,
			},
		}, []string{"correlation"}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}

// Reporter is a core.ProgressReporter that records run outcomes.
type Reporter struct{}

// NewReporter returns a Reporter. All Reporters share one set of
// collectors registered with the default registry.
func NewReporter() *Reporter {
	getMetrics()
	return &Reporter{}
}

func (*Reporter) Report(_ context.Context, ev core.ProgressEvent) {
	m := getMetrics()
	switch ev.Type {
	case core.EventComplete:
		m.runsTotal.WithLabelValues("succeeded", "").Inc()
		m.rowsTotal.WithLabelValues("insertable").Add(number(ev.Payload["valid_count"]))
		m.rowsTotal.WithLabelValues("updatable").Add(number(ev.Payload["update_count"]))
		m.rowsTotal.WithLabelValues("invalid").Add(number(ev.Payload["invalid_count"]))
		m.auditEntriesTotal.Add(number(ev.Payload["audit_count"]))
		m.correlationWarnings.Add(number(ev.Payload["correlation_warnings"]))

		correlation, _ := ev.Payload["correlation"].(string)
		ms := number(ev.Payload["duration_ms"])
		m.runDuration.WithLabelValues(correlation).Observe((time.Duration(ms) * time.Millisecond).Seconds())
	case core.EventError:
		code, _ := ev.Payload["code"].(string)
		result := "failed"
		if code == "IMP001" {
			result = "cancelled"
		}
		m.runsTotal.WithLabelValues(result, code).Inc()
	}
}

// ObserveRetry counts one re-attempted run. Its signature matches
// jobs.RetryRunner.OnRetry.
func ObserveRetry(int, error, time.Duration) {
	getMetrics().retriesTotal.Inc()
}

// number reads a payload count. Events published in-process carry ints;
// decoded ones carry float64.
func number(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}
