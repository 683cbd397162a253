package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(cacheRequestsTotal) }

var cacheRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "plan_cache_requests_total",
		Help: "Plan cache lookups by cache and result.",
	},
	[]string{"cache", "result"}, // cache is 'plan' or 'plan_list'
)

// IncCacheRequest records one cache lookup outcome ('hit', 'miss' or 'error').
func IncCacheRequest(cacheName, result string) {
	cacheRequestsTotal.WithLabelValues(norm(cacheName), norm(result)).Inc()
}
