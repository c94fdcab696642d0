// Package metrics exposes the monitor's Prometheus collectors. Collectors
// are package-level so any layer can record without plumbing a registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Collection metrics
	CollectionCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgmon_collection_cycles_total",
			Help: "Total number of collection cycles by loop and status",
		},
		[]string{"loop", "status"},
	)

	CollectionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pgmon_collection_duration_seconds",
			Help:    "Collection cycle duration in seconds by loop",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"loop"},
	)

	TargetErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgmon_target_errors_total",
			Help: "Total number of per-target collection failures by loop",
		},
		[]string{"loop"},
	)

	SamplesInserted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pgmon_samples_inserted_total",
			Help: "Total number of statistics samples written to the warehouse",
		},
	)

	// Connection metrics
	RemotePools = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgmon_remote_pools",
			Help: "Number of open connection pools to monitored servers",
		},
	)

	SSHCacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgmon_ssh_cache_entries",
			Help: "Number of entries in the SSH disk usage cache",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgmon_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pgmon_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(CollectionCycles)
	prometheus.MustRegister(CollectionDuration)
	prometheus.MustRegister(TargetErrors)
	prometheus.MustRegister(SamplesInserted)
	prometheus.MustRegister(RemotePools)
	prometheus.MustRegister(SSHCacheEntries)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
