package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		aiAnalysisTotal,
		aiAnalysisLatency,
		aiPromptTokens,
	)
}

var (
	aiAnalysisTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_analysis_total",
			Help: "Image analysis calls per provider.",
		},
		[]string{"provider", "success"},
	)

	aiAnalysisLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_analysis_latency_ms",
			Help:    "Image analysis latency distribution in milliseconds.",
			Buckets: []float64{100, 250, 500, 1000, 2000, 4000, 8000, 16000, 30000},
		},
		[]string{"provider", "success"},
	)

	aiPromptTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_prompt_tokens_total",
			Help: "Estimated prompt text tokens sent per provider/model.",
		},
		[]string{"provider", "model"},
	)
)

func ObserveAnalysis(provider string, latencyMs int64, success bool) {
	ok := strconv.FormatBool(success)
	aiAnalysisTotal.WithLabelValues(norm(provider), ok).Inc()
	aiAnalysisLatency.WithLabelValues(norm(provider), ok).Observe(float64(latencyMs))
}

func AddPromptTokens(provider, model string, n int) {
	aiPromptTokens.WithLabelValues(norm(provider), norm(model)).Add(float64(n))
}
