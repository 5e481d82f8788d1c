package readiness

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "snapshots",
		Subsystem: "readiness",
		Name:      "passes_total",
		Help:      "Readiness passes by outcome.",
	}, []string{"outcome"})
	metricStepFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "snapshots",
		Subsystem: "readiness",
		Name:      "step_failures_total",
		Help:      "Fatal readiness step failures by step.",
	}, []string{"step"})
	metricFrameWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "snapshots",
		Subsystem: "readiness",
		Name:      "frame_warnings_total",
		Help:      "Best-effort frame checks that did not settle.",
	})
	metricPassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "snapshots",
		Subsystem: "readiness",
		Name:      "pass_duration_seconds",
		Help:      "Duration of readiness passes.",
		Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 90, 120, 180},
	})
)

func recordPass(r *Report) {
	outcome := "ready"
	if !r.Ready {
		outcome = "failed"
		metricStepFailures.WithLabelValues(string(r.FailedStep)).Inc()
	}
	metricPasses.WithLabelValues(outcome).Inc()
	metricPassDuration.Observe(r.Elapsed.Seconds())
}

func recordFrameWarnings(n int) {
	if n > 0 {
		metricFrameWarnings.Add(float64(n))
	}
}
