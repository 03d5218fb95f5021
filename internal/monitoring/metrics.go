package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RouterMetrics exports streaming router and store activity to Prometheus.
// It satisfies stream.Observer.
type RouterMetrics struct {
	commands       *prometheus.CounterVec
	updates        *prometheus.CounterVec
	failures       *prometheus.CounterVec
	dropped        *prometheus.CounterVec
	queueDepth     *prometheus.GaugeVec
	chunkLatency   prometheus.Histogram
	recordingState prometheus.Gauge
	prepares       *prometheus.CounterVec
}

// NewRouterMetrics creates the collectors and registers them with reg.
// A nil reg uses the default registerer.
func NewRouterMetrics(reg prometheus.Registerer) *RouterMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &RouterMetrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cardio_router_commands_total",
			Help: "Commands handled by the streaming worker, by kind.",
		}, []string{"kind"}),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cardio_router_updates_total",
			Help: "Updates emitted by the streaming worker, by kind.",
		}, []string{"kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cardio_router_stage_failures_total",
			Help: "Pipeline stage failures reported as failure updates.",
		}, []string{"stage"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cardio_router_dropped_total",
			Help: "Commands or updates lost to queue backpressure.",
		}, []string{"queue"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cardio_router_queue_length",
			Help: "Current number of messages buffered in a router queue.",
		}, []string{"queue"}),
		chunkLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cardio_router_chunk_seconds",
			Help:    "Time spent analysing one ECG chunk.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		recordingState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cardio_recording_state",
			Help: "Recording sub-state: 0 off, 1 starting, 2 recording, 3 error.",
		}),
		prepares: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cardio_store_prepares_total",
			Help: "Store prepare calls, by whether anything was recomputed.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.commands, m.updates, m.failures, m.dropped,
		m.queueDepth, m.chunkLatency, m.recordingState, m.prepares)
	return m
}

func (m *RouterMetrics) CommandHandled(kind string) { m.commands.WithLabelValues(kind).Inc() }

func (m *RouterMetrics) UpdateEmitted(kind string) { m.updates.WithLabelValues(kind).Inc() }

func (m *RouterMetrics) StageFailed(stage string) { m.failures.WithLabelValues(stage).Inc() }

func (m *RouterMetrics) Dropped(queue string) { m.dropped.WithLabelValues(queue).Inc() }

func (m *RouterMetrics) QueueDepth(queue string, n int) {
	m.queueDepth.WithLabelValues(queue).Set(float64(n))
}

func (m *RouterMetrics) ChunkProcessed(seconds float64) { m.chunkLatency.Observe(seconds) }

func (m *RouterMetrics) RecordingState(state int) { m.recordingState.Set(float64(state)) }

// Prepared counts a store prepare; recomputed is false when nothing was
// dirty.
func (m *RouterMetrics) Prepared(recomputed bool) {
	if recomputed {
		m.prepares.WithLabelValues("recomputed").Inc()
		return
	}
	m.prepares.WithLabelValues("cached").Inc()
}
