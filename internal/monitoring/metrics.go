package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lightswarm"

var (
	Registry = prometheus.NewRegistry()

	// ---- Swarm node ----

	PacketsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "packets_received_total",
			Help:      "Decoded datagrams by message kind.",
		},
		[]string{"kind"},
	)

	PacketsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "packets_dropped_total",
			Help:      "Datagrams dropped without processing, by reason.",
		},
		[]string{"reason"},
	)

	Broadcasts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "broadcasts_total",
			Help:      "Datagrams broadcast by this node, by message kind and result.",
		},
		[]string{"kind", "result"},
	)

	Rounds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "rounds_total",
			Help:      "Silence-triggered sample and broadcast rounds.",
		},
	)

	RoleChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "role_changes_total",
			Help:      "Leadership transitions, labelled by the new role.",
		},
		[]string{"role"},
	)

	SampleErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "sample_errors_total",
			Help:      "Rounds skipped because the signal source failed.",
		},
	)

	ResetsReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "resets_received_total",
			Help:      "Reset commands handled by this node.",
		},
	)

	IsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "is_leader",
			Help:      "1 while this node is the active reporter.",
		},
	)

	CurrentReading = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "reading",
			Help:      "Most recent local signal sample.",
		},
	)

	KnownPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "known_peers",
			Help:      "Swarm table slots holding a reading.",
		},
	)

	// ---- Serial board ----

	BoardLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "board",
			Name:      "lines_total",
			Help:      "Lines read from the serial board, by class.",
		},
		[]string{"class"},
	)

	// ---- Collector ----

	LeaderReports = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "leader_reports_total",
			Help:      "Leader reports accepted, by swarm id.",
		},
		[]string{"swarm_id"},
	)

	MasterChanges = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "master_changes_total",
			Help:      "Times the reporting swarm id changed.",
		},
	)

	ResetsTriggered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "resets_triggered_total",
			Help:      "Reset commands broadcast by the collector.",
		},
	)

	IgnoredPackets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "ignored_packets_total",
			Help:      "Datagrams the collector did not act on, by reason.",
		},
		[]string{"reason"},
	)

	// ---- Process / build info ----
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and git_sha).",
		},
		[]string{"version", "git_sha"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		PacketsReceived, PacketsDropped, Broadcasts, Rounds, RoleChanges,
		SampleErrors, ResetsReceived, IsLeader, CurrentReading, KnownPeers,
		BoardLines, LeaderReports, MasterChanges, ResetsTriggered, IgnoredPackets,
		buildInfo, uptime,
	)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", monitoring.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup with the ldflags-provided values.
func SetBuildInfo(version, gitSHA string) {
	buildInfo.WithLabelValues(version, gitSHA).Set(1)
}

// BoolGauge converts a flag for gauges such as IsLeader.
func BoolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
