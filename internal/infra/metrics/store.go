package metrics

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(dbConns, dbAcquireWait, jobCacheLookups) }

const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

var (
	dbConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipeline_db_connections",
			Help: "Postgres pool connections by state.",
		},
		[]string{"state"}, // max, total, idle, acquired
	)

	dbAcquireWait = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_db_acquire_wait_seconds",
			Help: "Cumulative time spent waiting for a pool connection.",
		},
	)

	jobCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_cache_lookups_total",
			Help: "Read-through cache lookups by cache and result.",
		},
		[]string{"cache", "result"},
	)
)

func IncCacheRequest(cacheName, result string) {
	jobCacheLookups.WithLabelValues(norm(cacheName), norm(result)).Inc()
}

// WatchPool samples pool stats every interval until ctx is done.
func WatchPool(ctx context.Context, pool *pgxpool.Pool, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		observePool(pool.Stat())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func observePool(st *pgxpool.Stat) {
	dbConns.WithLabelValues("max").Set(float64(st.MaxConns()))
	dbConns.WithLabelValues("total").Set(float64(st.TotalConns()))
	dbConns.WithLabelValues("idle").Set(float64(st.IdleConns()))
	dbConns.WithLabelValues("acquired").Set(float64(st.AcquiredConns()))
	dbAcquireWait.Set(st.AcquireDuration().Seconds())
}
