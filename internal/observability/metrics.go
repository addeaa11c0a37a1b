package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ridematch", Name: "matches_total", Help: "Dispatch attempts by outcome"},
		[]string{"outcome"},
	)
	MatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "ridematch", Name: "match_latency_seconds", Help: "Time to rank candidates and create offers"})

	CandidatesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ridematch", Name: "candidates_dropped_total", Help: "Drivers removed from a ranking because scoring failed"},
		[]string{"reason"},
	)
	OracleFallbacks = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridematch", Name: "traffic_oracle_fallbacks_total", Help: "Traffic lookups that fell back to the neutral score"})
	TrafficCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ridematch", Name: "traffic_cache_total", Help: "Traffic cache lookups by result"},
		[]string{"result"},
	)

	OfferResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ridematch", Name: "offer_responses_total", Help: "Driver responses to ride offers"},
		[]string{"decision", "outcome"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ridematch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ridematch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
