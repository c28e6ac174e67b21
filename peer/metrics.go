package peer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors shared by peers.
// A nil *Metrics records nothing.
type Metrics struct {
	calls        *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	inflight     prometheus.Gauge
	served       *prometheus.CounterVec
	frames       *prometheus.CounterVec
	dropped      prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamrpc_calls_total",
			Help: "Outbound calls by method and outcome",
		}, []string{"method", "outcome"}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "streamrpc_call_duration_seconds",
			Help:    "Outbound call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamrpc_calls_inflight",
			Help: "Outbound calls waiting for a response",
		}),
		served: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamrpc_served_total",
			Help: "Inbound requests by method and outcome",
		}, []string{"method", "outcome"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamrpc_frames_total",
			Help: "Frames read and written by kind",
		}, []string{"direction", "kind"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamrpc_dropped_responses_total",
			Help: "Responses that matched no pending call",
		}),
	}
	for _, c := range []prometheus.Collector{m.calls, m.callDuration, m.inflight, m.served, m.frames, m.dropped} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) callStarted() {
	if m != nil {
		m.inflight.Inc()
	}
}

func (m *Metrics) callFinished(method, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.inflight.Dec()
	m.calls.WithLabelValues(method, outcome).Inc()
	m.callDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

func (m *Metrics) requestServed(method, outcome string) {
	if m != nil {
		m.served.WithLabelValues(method, outcome).Inc()
	}
}

func (m *Metrics) frame(direction, kind string) {
	if m != nil {
		m.frames.WithLabelValues(direction, kind).Inc()
	}
}

func (m *Metrics) responseDropped() {
	if m != nil {
		m.dropped.Inc()
	}
}
