package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	APICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topografia_api_calls_total",
			Help: "Total survey API calls",
		},
		[]string{"method", "endpoint", "status"},
	)

	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "topografia_api_latency_seconds",
			Help:    "Survey API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topografia_token_refreshes_total",
			Help: "Access token refresh attempts after a 401",
		},
		[]string{"outcome"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topografia_cache_lookups_total",
			Help: "Query cache lookups by result (hit, miss, stale)",
		},
		[]string{"root", "result"},
	)

	CacheFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topografia_cache_fetches_total",
			Help: "Query cache fetches by outcome",
		},
		[]string{"root", "outcome"},
	)

	LoginLockouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "topografia_login_lockouts_total",
			Help: "Sign-in attempts rejected by the local lockout",
		},
	)

	AnalysesRun = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topografia_analyses_total",
			Help: "Project analyses computed by source",
		},
		[]string{"source"},
	)

	ExportsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topografia_exports_published_total",
			Help: "Readings exports uploaded to the FTP drop",
		},
		[]string{"status"},
	)
)
