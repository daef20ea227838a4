package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		pipelineRunsTotal,
		pipelineDuration,
		pipelineVariantsTotal,
		pipelineRecompressTotal,
		variantBytes,
		jobStatusTransitionsTotal,
		jobsInFlight,
	)
}

var (
	pipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_runs_total",
			Help: "Finished pipeline runs, labeled by final status.",
		},
		[]string{"status"}, // completed, failed, cancelled
	)

	pipelineDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_duration_seconds",
			Help:    "Wall clock time from PROCESSING to a final status.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64, 128},
		},
	)

	pipelineVariantsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_variants_total",
			Help: "Attached variants, labeled by whether they fit the size ceiling.",
		},
		[]string{"variant", "result"}, // result: within_limit, over_limit
	)

	pipelineRecompressTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_recompress_total",
			Help: "Variants that needed the fallback recompression.",
		},
		[]string{"variant"},
	)

	variantBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "variant_bytes",
			Help:    "Recorded size of attached variants.",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 9), // 16 KiB .. 4 MiB
		},
		[]string{"variant"},
	)

	jobStatusTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_status_transitions_total",
			Help: "Job status changes.",
		},
		[]string{"from", "to"},
	)

	jobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_jobs_in_flight",
			Help: "Jobs currently in PROCESSING on this instance.",
		},
	)
)

func IncPipelineRun(status string) {
	pipelineRunsTotal.WithLabelValues(norm(status)).Inc()
}

func ObservePipelineDuration(seconds float64) {
	pipelineDuration.Observe(seconds)
}

func IncVariant(variant string, withinLimit bool) {
	result := "within_limit"
	if !withinLimit {
		result = "over_limit"
	}
	pipelineVariantsTotal.WithLabelValues(norm(variant), result).Inc()
}

func IncRecompress(variant string) {
	pipelineRecompressTotal.WithLabelValues(norm(variant)).Inc()
}

func ObserveVariantBytes(variant string, n int64) {
	variantBytes.WithLabelValues(norm(variant)).Observe(float64(n))
}

func IncStatusTransition(from, to string) {
	jobStatusTransitionsTotal.WithLabelValues(norm(from), norm(to)).Inc()
}

func SetJobsInFlight(n int) {
	jobsInFlight.Set(float64(n))
}
