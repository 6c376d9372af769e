package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Global collectors. promauto registers them with the default registry, so
// the CLI only has to expose promhttp.Handler to publish them.

var (
	// 1. Processor Runs (Counter)
	// Counts finished processor steps, labeled by processor id and outcome.
	ProcessorRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cvkit_processor_runs_total",
			Help: "Total number of processor steps executed",
		},
		[]string{"processor", "status"},
	)

	// 2. Processor Duration (Histogram)
	// Buckets span a small filter on a short clip up to a long reconstruction.
	ProcessorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cvkit_processor_duration_seconds",
			Help:    "Duration of processor steps in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"processor"},
	)

	// 3. Processor Progress (Gauge)
	// Last reported progress percentage of each processor.
	ProcessorProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cvkit_processor_progress_percent",
			Help: "Progress of the running processor, 0 to 100",
		},
		[]string{"processor"},
	)

	// 4. Reconstructed Keypoints (Counter)
	// outcome is "reconstructed" or "skipped".
	ReconstructedKeypoints = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cvkit_reconstructed_keypoints_total",
			Help: "Keypoints handled by 3D reconstruction, by outcome",
		},
		[]string{"outcome"},
	)

	// 5. Datastore Frames (Gauge)
	// Frames held by the datastore a pipeline step produced.
	DatastoreFrames = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cvkit_datastore_frames",
			Help: "Number of frames in the latest datastore, by flavor",
		},
		[]string{"flavor"},
	)
)
