package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "custodex"

// Result labels for Requests
const (
	ResultOK       = "ok"
	ResultFailed   = "failed"
	ResultRejected = "rejected"
)

// Metrics owns a private registry so several nodes can live in one process
// (tests, the seed command) without colliding on the default registerer.
type Metrics struct {
	registry *prometheus.Registry

	Requests   *prometheus.CounterVec
	Latency    *prometheus.HistogramVec
	Published  *prometheus.CounterVec
	LastSeq    prometheus.Gauge
	QueueDepth prometheus.Gauge
	WSClients  prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Signed requests by action and result.",
		}, []string{"action", "result"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "apply_seconds",
			Help:      "Time spent applying a verified request.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"action"}),
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "published_events_total",
			Help:      "Events handed to each sink, by result.",
		}, []string{"sink", "result"}),
		LastSeq: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_event_seq",
			Help:      "Sequence number of the newest committed event.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_requests",
			Help:      "Verified requests waiting for the writer.",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Connected websocket clients.",
		}),
	}
	m.registry.MustRegister(
		m.Requests, m.Latency, m.Published, m.LastSeq, m.QueueDepth, m.WSClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveRequest(action, result string, took time.Duration) {
	m.Requests.WithLabelValues(action, result).Inc()
	if result != ResultRejected {
		m.Latency.WithLabelValues(action).Observe(took.Seconds())
	}
}

func (m *Metrics) ObservePublish(sink string, n int, err error) {
	result := ResultOK
	if err != nil {
		result = ResultFailed
	}
	m.Published.WithLabelValues(sink, result).Add(float64(n))
}
