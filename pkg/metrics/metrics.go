package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Configuration metrics
	SnapshotGeneration = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "palisade_snapshot_generation",
			Help: "Generation of the currently installed configuration snapshot",
		},
	)

	GateInitialized = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "palisade_gate_initialized",
			Help: "Whether the initialization gate is open (1 = initialized)",
		},
	)

	ReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palisade_config_reloads_total",
			Help: "Total number of configuration reload attempts by outcome",
		},
		[]string{"outcome"},
	)

	ConfigWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palisade_config_writes_total",
			Help: "Total number of configuration document writes by type",
		},
		[]string{"type"},
	)

	// Broadcast metrics
	BroadcastsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "palisade_broadcasts_total",
			Help: "Total number of cluster config-update broadcasts initiated",
		},
	)

	BroadcastNodeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "palisade_broadcast_node_failures_total",
			Help: "Total number of per-node failures across all broadcasts",
		},
	)

	// Authentication / authorization metrics
	AuthResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palisade_auth_results_total",
			Help: "Total number of request authorization outcomes",
		},
		[]string{"outcome", "credential"},
	)

	// HTTP metrics. Byte counters are updated on every completed request
	// regardless of allow/deny outcome.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palisade_http_requests_total",
			Help: "Total number of HTTP requests by status class",
		},
		[]string{"status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "palisade_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	BytesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "palisade_http_rx_bytes_total",
			Help: "Total bytes received in HTTP request bodies",
		},
	)

	BytesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "palisade_http_tx_bytes_total",
			Help: "Total bytes sent in HTTP response bodies",
		},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "palisade_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "palisade_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)
)

func init() {
	prometheus.MustRegister(SnapshotGeneration)
	prometheus.MustRegister(GateInitialized)
	prometheus.MustRegister(ReloadsTotal)
	prometheus.MustRegister(ConfigWritesTotal)
	prometheus.MustRegister(BroadcastsTotal)
	prometheus.MustRegister(BroadcastNodeFailures)
	prometheus.MustRegister(AuthResultsTotal)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(BytesReceived)
	prometheus.MustRegister(BytesSent)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
