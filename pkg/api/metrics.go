package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ooseRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oose_client_requests_total",
		Help: "Total client requests by destination type, path, and result.",
	}, []string{"type", "path", "result"})

	ooseRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "oose_client_request_duration_seconds",
		Help:    "Client request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"type", "path"})

	ooseCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oose_client_cache_total",
		Help: "Client cache lookups by result.",
	}, []string{"result"})

	ooseSessionRenewalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oose_session_renewals_total",
		Help: "Session renewals by result.",
	}, []string{"result"})
)

// resultLabel maps an error onto the "result" label value.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case IsNetwork(err):
		return "network_error"
	case IsUser(err):
		return "user_error"
	case IsNotFound(err):
		return "not_found"
	default:
		return "error"
	}
}

// RecordRequest records a completed request.
func RecordRequest(typ, path string, seconds float64, err error) {
	ooseRequestsTotal.WithLabelValues(typ, path, resultLabel(err)).Inc()
	ooseRequestDuration.WithLabelValues(typ, path).Observe(seconds)
}

// RecordCache records a cache hit or miss.
func RecordCache(hit bool) {
	if hit {
		ooseCacheTotal.WithLabelValues("hit").Inc()
	} else {
		ooseCacheTotal.WithLabelValues("miss").Inc()
	}
}

// RecordRenewal records a session renewal attempt.
func RecordRenewal(err error) {
	ooseSessionRenewalsTotal.WithLabelValues(resultLabel(err)).Inc()
}
