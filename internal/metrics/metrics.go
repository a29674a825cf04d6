package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TaskState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "model_downloader_task_state",
		Help: "Background task state (0 idle, 1 starting, 2 running, 3 stopping, 4 destroyed)",
	})

	TaskProgress = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "model_downloader_task_progress_percent",
		Help: "Last reported background task progress",
	})

	ProgressEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "model_downloader_progress_events_total",
		Help: "Total number of progress events published to observers",
	})

	WakeLockHeld = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "model_downloader_wake_lock_held",
		Help: "Whether the keep-alive wake lock is currently held",
	})

	WakeLockAcquired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "model_downloader_wake_lock_acquired_total",
		Help: "Total number of successful wake lock acquisitions",
	})

	WakeLockFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "model_downloader_wake_lock_failures_total",
		Help: "Total number of failed wake lock acquisitions or releases",
	})

	SurfaceErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "model_downloader_status_surface_errors_total",
		Help: "Total number of status surface post or cancel failures",
	})

	DigestComputations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "model_downloader_digest_computations_total",
		Help: "Total number of digest computations",
	})

	DigestFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "model_downloader_digest_failures_total",
		Help: "Total number of failed digest computations",
	})

	DigestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "model_downloader_digest_duration_seconds",
		Help:    "Digest computation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	})

	DigestBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "model_downloader_digest_bytes_total",
		Help: "Total bytes fed into digest computations",
	})

	FetchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "model_downloader_fetches_total",
		Help: "Total number of model fetch jobs",
	})

	FetchesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "model_downloader_fetches_failed_total",
		Help: "Total number of failed model fetch jobs",
	})

	DownloadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "model_downloader_download_bytes_total",
		Help: "Total bytes downloaded",
	})
)

// ProgressObserver mirrors progress events into TaskProgress.
type ProgressObserver struct{}

// OnProgress records the latest progress value.
func (ProgressObserver) OnProgress(value int) {
	TaskProgress.Set(float64(value))
	ProgressEvents.Inc()
}
