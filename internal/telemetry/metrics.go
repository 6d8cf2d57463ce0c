package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	Registry = prometheus.NewRegistry()

	ProbesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rackmap",
			Name:      "probes_sent_total",
			Help:      "ARP requests transmitted, by interface.",
		},
		[]string{"interface"},
	)

	RepliesSeen = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rackmap",
			Name:      "replies_seen_total",
			Help:      "Matching ARP replies received, by interface.",
		},
		[]string{"interface"},
	)

	ChannelErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rackmap",
			Name:      "channel_errors_total",
			Help:      "Layer-2 channel failures, by interface and operation.",
		},
		[]string{"interface", "op"},
	)

	RoundDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rackmap",
			Name:      "discovery_round_seconds",
			Help:      "Wall time of one discovery round.",
			// 100ms .. ~25s, the ceiling sits in the upper buckets.
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 9),
		},
	)

	NeighborsFound = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rackmap",
			Name:      "neighbors_found",
			Help:      "Neighbors found by the last discovery round.",
		},
	)

	Syntheses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rackmap",
			Name:      "syntheses_total",
			Help:      "Map synthesis attempts, by result.",
		},
		[]string{"result"},
	)

	Racks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rackmap",
			Name:      "racks",
			Help:      "Racks in the last synthesized map.",
		},
	)

	OrphanHosts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rackmap",
			Name:      "orphan_hosts",
			Help:      "Hosts no accepted neighbor group claimed in the last clustering pass.",
		},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rackmap",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and git_sha).",
		},
		[]string{"version", "git_sha"},
	)

	startTime  = time.Now()
	runSeconds = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "rackmap",
			Name:      "run_seconds",
			Help:      "Seconds since the process started.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		ProbesSent, RepliesSeen, ChannelErrors, RoundDuration, NeighborsFound,
		Syntheses, Racks, OrphanHosts, buildInfo, runSeconds,
	)
}

// SetBuildInfo should be called once at startup, e.g. with ldflags-provided values.
func SetBuildInfo(version, gitSHA string) {
	buildInfo.WithLabelValues(version, gitSHA).Set(1)
}

// WriteTextfile dumps the registry in the text exposition format for a
// node_exporter textfile collector. The write is atomic.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, Registry)
}
