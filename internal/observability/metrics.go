package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the streaming client.
// A nil *Metrics is valid and records nothing, so library consumers that do
// not scrape can skip the registry entirely.
type Metrics struct {
	ActiveConnections    prometheus.Gauge
	StateTransitions     *prometheus.CounterVec
	FramesIn             *prometheus.CounterVec
	FramesOut            *prometheus.CounterVec
	UnknownFrames        prometheus.Counter
	Interrupts           prometheus.Counter
	SettingsResends      prometheus.Counter
	DroppedPlaybackBytes prometheus.Counter
	DroppedEvents        prometheus.Counter
	TimeToReady          prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of open streaming connections.",
		}),
		StateTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Connection state transitions by previous and new state.",
		}, []string{"from", "to"}),
		FramesIn: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_in_total",
			Help:      "Inbound frames by type.",
		}, []string{"type"}),
		FramesOut: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_out_total",
			Help:      "Outbound frames by type.",
		}, []string{"type"}),
		UnknownFrames: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unknown_frames_total",
			Help:      "Inbound frames dropped because their type is unrecognized.",
		}),
		Interrupts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interrupts_total",
			Help:      "Caller-initiated agent interruptions.",
		}),
		SettingsResends: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settings_resends_total",
			Help:      "Mid-connection settings retransmissions.",
		}),
		DroppedPlaybackBytes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_playback_bytes_total",
			Help:      "Agent audio bytes suppressed by the playback gate.",
		}),
		DroppedEvents: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_events_total",
			Help:      "Caller events dropped because the consumer lagged.",
		}),
		TimeToReady: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "time_to_ready_ms",
			Help:      "Time from transport connect to the Ready state in milliseconds.",
			Buckets:   []float64{50, 100, 200, 400, 700, 1000, 2000, 5000},
		}),
	}
}

func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
}

func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

func (m *Metrics) ObserveStateTransition(from, to string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) IncFrameIn(frameType string) {
	if m == nil {
		return
	}
	m.FramesIn.WithLabelValues(frameType).Inc()
}

func (m *Metrics) IncFrameOut(frameType string) {
	if m == nil {
		return
	}
	m.FramesOut.WithLabelValues(frameType).Inc()
}

func (m *Metrics) IncUnknownFrame() {
	if m == nil {
		return
	}
	m.UnknownFrames.Inc()
}

func (m *Metrics) IncInterrupt() {
	if m == nil {
		return
	}
	m.Interrupts.Inc()
}

func (m *Metrics) IncSettingsResend() {
	if m == nil {
		return
	}
	m.SettingsResends.Inc()
}

func (m *Metrics) AddDroppedPlaybackBytes(n int) {
	if m == nil {
		return
	}
	m.DroppedPlaybackBytes.Add(float64(n))
}

func (m *Metrics) IncDroppedEvent() {
	if m == nil {
		return
	}
	m.DroppedEvents.Inc()
}

func (m *Metrics) ObserveTimeToReady(d time.Duration) {
	if m == nil {
		return
	}
	m.TimeToReady.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
