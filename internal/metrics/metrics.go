package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels cycles that completed.
	OutcomeSuccess = "success"
	// OutcomeError labels cycles that failed (fetch or persistence issues).
	OutcomeError = "error"
)

// Cycle kinds.
const (
	KindTrain           = "train"
	KindDetect          = "detect"
	KindSelfDiagnostics = "self_diagnostics"
)

var (
	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_hotspots",
			Name:      "cycles_total",
			Help:      "Total number of train/detect/self-diagnostics cycles, partitioned by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	cycleDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mirador_hotspots",
			Name:      "cycle_seconds",
			Help:      "Cycle latency in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"kind"},
	)

	anomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_hotspots",
			Name:      "anomalies_total",
			Help:      "Anomalies reported by live detect cycles, partitioned by job.",
		},
		[]string{"job"},
	)

	jobFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_hotspots",
			Name:      "job_failures_total",
			Help:      "Per-job train/detect failures that were isolated from the rest of the cycle.",
		},
		[]string{"job", "operation"},
	)

	selfDiagnosticsF1 = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mirador_hotspots",
			Name:      "self_diagnostics_f1",
			Help:      "F1 score of the latest self-diagnostics fixture run per job.",
		},
		[]string{"job"},
	)
)

// Register attaches mirador-hotspots collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		cyclesTotal,
		cycleDurationSeconds,
		anomaliesTotal,
		jobFailuresTotal,
		selfDiagnosticsF1,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveCycle records a cycle duration and outcome label.
func ObserveCycle(kind string, duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	cyclesTotal.WithLabelValues(kind, label).Inc()
	if duration < 0 {
		duration = 0
	}
	cycleDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// AddAnomalies counts anomalies reported for job.
func AddAnomalies(job string, n int) {
	if n <= 0 {
		return
	}
	anomaliesTotal.WithLabelValues(job).Add(float64(n))
}

// IncJobFailure counts an isolated per-job failure.
func IncJobFailure(job, operation string) {
	jobFailuresTotal.WithLabelValues(job, operation).Inc()
}

// SetSelfDiagnosticsF1 publishes the latest fixture F1 for job.
func SetSelfDiagnosticsF1(job string, f1 float64) {
	selfDiagnosticsF1.WithLabelValues(job).Set(f1)
}
