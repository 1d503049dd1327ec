// Package metrics provides Prometheus metrics for backup runs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Ning0612/sftparchive/internal/domain"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sftparchive_runs_total",
			Help: "Total number of backup runs",
		},
		[]string{"status"},
	)

	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sftparchive_run_duration_seconds",
			Help:    "Backup run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		},
	)

	filesMirrored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sftparchive_files_mirrored_total",
			Help: "Total files fetched from the remote",
		},
	)

	bytesMirrored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sftparchive_bytes_mirrored_total",
			Help: "Total bytes fetched from the remote",
		},
	)

	archivesPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sftparchive_archives_pruned_total",
			Help: "Total archives removed by retention",
		},
	)

	pruneFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sftparchive_prune_failures_total",
			Help: "Total archives retention failed to remove",
		},
	)

	lastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sftparchive_last_success_timestamp_seconds",
			Help: "Unix time of the last successful backup run",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRun records a finished backup run.
func RecordRun(report *domain.RunReport) {
	runsTotal.WithLabelValues(string(report.Status)).Inc()
	runDuration.Observe(report.Duration().Seconds())
	filesMirrored.Add(float64(report.Files))
	bytesMirrored.Add(float64(report.Bytes))
	RecordPrune(len(report.Pruned), report.PruneFailures)

	if report.Status == domain.RunSuccess {
		lastSuccess.Set(float64(report.EndTime.Unix()))
	}
}

// RecordPrune records a retention pass.
func RecordPrune(removed, failed int) {
	archivesPruned.Add(float64(removed))
	pruneFailures.Add(float64(failed))
}
