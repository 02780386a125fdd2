package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "yolodet_jobs_processed_total",
		Help: "Total number of detection jobs processed, by status",
	}, []string{"status"})

	JobProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "yolodet_job_processing_duration_seconds",
		Help:    "Duration of the detection pipeline stages",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"stage"})

	FramesStagedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "yolodet_frames_staged_total",
		Help: "Total number of frames staged for the external predictor",
	})

	DetectionsIngestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "yolodet_detections_ingested_total",
		Help: "Total number of detections ingested across all jobs",
	})

	RunProgress = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "yolodet_run_progress",
		Help: "Fraction of the current stage completed, per job",
	}, []string{"job_id"})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "yolodet_active_workers",
		Help: "Number of currently active workers processing jobs",
	})

	RetryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "yolodet_retry_total",
		Help: "Total number of retries",
	}, []string{"attempt"})
)
