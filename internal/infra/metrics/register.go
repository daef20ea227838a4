package metrics

import (
	"net/http"
	"runtime"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	promcollectors "github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set with -ldflags "-X product-image-pipeline/internal/infra/metrics.Version=..."
var (
	Version = "dev"
	Commit  = "none"
)

var (
	registry   = prometheus.NewRegistry()
	once       sync.Once
	collectors []prometheus.Collector
)

var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "pipeline_build_info",
		Help: "Always 1; labels carry the running build.",
	},
	[]string{"version", "commit", "go_version"},
)

func init() { register(buildInfo) }

// register queues collectors from each file's init.
func register(cs ...prometheus.Collector) {
	collectors = append(collectors, cs...)
}

// MustRegister adds every queued collector plus the go and process
// collectors to the service registry. Later calls do nothing.
func MustRegister() {
	once.Do(func() {
		registry.MustRegister(
			promcollectors.NewGoCollector(),
			promcollectors.NewProcessCollector(promcollectors.ProcessCollectorOpts{}),
		)
		registry.MustRegister(collectors...)
	})
}

func SetBuildInfo(version, commit string) {
	buildInfo.WithLabelValues(version, commit, runtime.Version()).Set(1)
}

// Handler serves the service registry, not the global default one.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
