package cron

import (
	"github.com/FulgerX2007/scheduled-snapshots-app/pkg/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "snapshots",
		Subsystem: "capture",
		Name:      "runs_total",
		Help:      "Capture runs by target and final status.",
	}, []string{"target", "status"})
	metricRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "snapshots",
		Subsystem: "capture",
		Name:      "run_duration_seconds",
		Help:      "Wall time of capture runs including retries.",
		Buckets:   []float64{5, 10, 20, 30, 60, 120, 180, 300, 600},
	}, []string{"target"})
	metricArtifactBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "snapshots",
		Subsystem: "capture",
		Name:      "last_artifact_bytes",
		Help:      "Size of the artifacts written by the last successful run.",
	}, []string{"target"})
)

func recordRun(run *model.Run) {
	metricRuns.WithLabelValues(run.TargetName, run.Status).Inc()
	if run.FinishedAt != nil {
		metricRunDuration.WithLabelValues(run.TargetName).Observe(run.FinishedAt.Sub(run.StartedAt).Seconds())
	}
	if run.Status == model.RunStatusCompleted {
		metricArtifactBytes.WithLabelValues(run.TargetName).Set(float64(run.Bytes))
	}
}
