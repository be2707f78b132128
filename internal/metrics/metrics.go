package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 缓存
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelrec_cache_hits_total",
			Help: "Cache hits by keyspace",
		},
		[]string{"keyspace"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelrec_cache_misses_total",
			Help: "Cache misses by keyspace",
		},
		[]string{"keyspace"},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelrec_cache_errors_total",
			Help: "Cache backend errors by operation",
		},
		[]string{"operation"},
	)

	// 推荐生成
	RegenRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelrec_recommendation_runs_total",
			Help: "Recommendation generation runs by path and outcome",
		},
		[]string{"path", "outcome"},
	)

	RegenDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reelrec_recommendation_duration_seconds",
			Help:    "Duration of recommendation generation",
			Buckets: prometheus.DefBuckets,
		},
	)

	RegenQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reelrec_regen_queue_depth",
			Help: "Jobs waiting in the regeneration queue",
		},
	)

	RegenSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelrec_regen_submissions_total",
			Help: "Regeneration submissions by result (queued, coalesced, dropped)",
		},
		[]string{"result"},
	)
)

// Keyspace 取缓存 key 的第一段作为标签，避免高基数
func Keyspace(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i]
		}
	}
	return key
}
