// Package metrics exposes scan pipeline counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/e7canasta/orion-scan/internal/session"
)

// Metrics holds Prometheus collectors for the scan service. It implements
// session.Observer.
type Metrics struct {
	registry *prometheus.Registry

	framesSampled   prometheus.Counter
	framesDropped   prometheus.Counter
	requests        prometheus.Counter
	results         *prometheus.CounterVec
	timeouts        prometheus.Counter
	workerRestarts  prometheus.Counter
	sessionsStarted prometheus.Counter
	sessionsEnded   *prometheus.CounterVec
	activeSessions  prometheus.Gauge
	decodeLatency   prometheus.Histogram
	httpRequests    *prometheus.CounterVec
}

var _ session.Observer = (*Metrics)(nil)

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		framesSampled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orion_scan_frames_sampled_total",
			Help: "Frames delivered by the camera sampler to a session",
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orion_scan_frames_dropped_total",
			Help: "Sampled frames skipped because a decode request was in flight",
		}),
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orion_scan_decode_requests_total",
			Help: "Decode requests dispatched to a worker",
		}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orion_scan_decode_results_total",
			Help: "Decode results received, by outcome (match, miss, stale)",
		}, []string{"outcome"}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orion_scan_decode_timeouts_total",
			Help: "Decode requests abandoned after the decode timeout",
		}),
		workerRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orion_scan_worker_restarts_total",
			Help: "Automatic decode worker re-creations",
		}),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orion_scan_sessions_started_total",
			Help: "Scan sessions started",
		}),
		sessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orion_scan_sessions_ended_total",
			Help: "Scan sessions finished, by terminal state and reason",
		}, []string{"state", "reason"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orion_scan_active_sessions",
			Help: "Scan sessions not yet terminal (0 or 1)",
		}),
		decodeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "orion_scan_decode_latency_seconds",
			Help:    "Round trip from dispatch to result",
			Buckets: []float64{.005, .01, .025, .05, .1, .2, .4, .8, 1.6},
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orion_scan_http_requests_total",
			Help: "HTTP requests served, by status class",
		}, []string{"code"}),
	}

	m.registry.MustRegister(
		m.framesSampled,
		m.framesDropped,
		m.requests,
		m.results,
		m.timeouts,
		m.workerRestarts,
		m.sessionsStarted,
		m.sessionsEnded,
		m.activeSessions,
		m.decodeLatency,
		m.httpRequests,
	)
	return m
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) FrameSampled()      { m.framesSampled.Inc() }
func (m *Metrics) FrameDropped()      { m.framesDropped.Inc() }
func (m *Metrics) RequestDispatched() { m.requests.Inc() }
func (m *Metrics) ResultStale()       { m.results.WithLabelValues("stale").Inc() }
func (m *Metrics) DecodeTimeout()     { m.timeouts.Inc() }
func (m *Metrics) WorkerRestarted()   { m.workerRestarts.Inc() }

func (m *Metrics) ResultApplied(match bool, latency time.Duration) {
	if match {
		m.results.WithLabelValues("match").Inc()
	} else {
		m.results.WithLabelValues("miss").Inc()
	}
	// Zero latency means the request had already timed out.
	if latency > 0 {
		m.decodeLatency.Observe(latency.Seconds())
	}
}

func (m *Metrics) SessionEnded(state session.State, reason string) {
	m.sessionsEnded.WithLabelValues(state.String(), reason).Inc()
	m.activeSessions.Set(0)
}

// SessionStarted records a new session.
func (m *Metrics) SessionStarted() {
	m.sessionsStarted.Inc()
	m.activeSessions.Set(1)
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
