package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the gateway. Scraped from /metrics.
var (
	// Connection metrics
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gate_connections_total",
		Help: "Total number of WebSocket connections accepted",
	})

	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gate_connections_active",
		Help: "Current number of live message channels",
	})

	ConnectionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_connections_rejected_total",
		Help: "Connections rejected before upgrade, by reason",
	}, []string{"reason"})

	// Message metrics
	MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gate_messages_received_total",
		Help: "Inbound frames accepted and delivered to the message handler",
	})

	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gate_messages_sent_total",
		Help: "Outbound frames written to peers",
	})

	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_messages_dropped_total",
		Help: "Outbound messages dropped instead of queued, by reason",
	}, []string{"reason"})

	ProtocolViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_protocol_violations_total",
		Help: "Inbound frames that violated the text-JSON protocol, by kind",
	}, []string{"kind"})

	RateLimitedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gate_rate_limited_frames_total",
		Help: "Inbound frames dropped by the per-channel rate limiter",
	})

	// Placement metrics
	Placements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_placements_total",
		Help: "Placement decisions by policy and outcome",
	}, []string{"policy", "outcome"})

	ShardPopulation = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gate_shard_population",
		Help: "Current population per shard",
	}, []string{"shard"})

	// Aggregator metrics
	AggregatorErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_aggregator_errors_total",
		Help: "Failed aggregator round-trips, by operation",
	}, []string{"op"})

	// System metrics (fed by the SystemMonitor)
	SystemCPUPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gate_system_cpu_percent",
		Help: "Process host CPU utilization percentage",
	})

	SystemMemoryUsedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gate_system_memory_used_bytes",
		Help: "Host memory in use, bytes",
	})

	SystemGoroutines = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gate_goroutines",
		Help: "Current number of goroutines",
	})
)
