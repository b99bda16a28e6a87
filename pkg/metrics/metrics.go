package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/codelaboratoryltd/lcpd/pkg/lcp"
	"github.com/codelaboratoryltd/lcpd/pkg/transport"
)

// TransportSource exposes transport counters for collection
type TransportSource interface {
	Stats() transport.Stats
}

// Metrics holds all Prometheus metrics
type Metrics struct {
	// LCP metrics
	lcpPackets    *prometheus.CounterVec
	lcpRounds     *prometheus.CounterVec
	lcpStale      *prometheus.CounterVec
	lcpMalformed  prometheus.Counter
	lcpNegotiated prometheus.Histogram

	// Session metrics
	sessionActive     prometheus.Gauge
	sessionTotal      prometheus.Counter
	sessionTerminated *prometheus.CounterVec
	sessionDuration   prometheus.Histogram

	// Transport metrics
	transportFrames     *prometheus.CounterVec
	transportDropped    prometheus.Counter
	transportReadErrors prometheus.Counter

	// References for collection
	transport TransportSource
	lastStats transport.Stats
	logger    *zap.Logger
}

// New creates a new Metrics instance; src may be nil
func New(src TransportSource, logger *zap.Logger) *Metrics {
	m := &Metrics{
		transport: src,
		logger:    logger,

		lcpPackets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lcpd_lcp_packets_total",
				Help: "LCP packets by direction and code",
			},
			[]string{"direction", "code"},
		),

		lcpRounds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lcpd_lcp_configure_requests_total",
				Help: "Configure-Requests received by verdict",
			},
			[]string{"verdict"},
		),

		lcpStale: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lcpd_lcp_stale_responses_total",
				Help: "Configure responses dropped for an unexpected identifier",
			},
			[]string{"code"},
		),

		lcpMalformed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lcpd_lcp_malformed_total",
				Help: "LCP frames dropped as too short",
			},
		),

		lcpNegotiated: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lcpd_lcp_negotiation_seconds",
				Help:    "Time from session creation to LCP Opened",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 3, 10, 30},
			},
		),

		sessionActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lcpd_sessions_active",
				Help: "Number of active sessions",
			},
		),

		sessionTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lcpd_sessions_total",
				Help: "Total sessions created",
			},
		),

		sessionTerminated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lcpd_sessions_terminated_total",
				Help: "Sessions freed by terminate cause",
			},
			[]string{"cause"},
		),

		sessionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lcpd_session_duration_seconds",
				Help:    "Session lifetime",
				Buckets: prometheus.ExponentialBuckets(1, 4, 10),
			},
		),

		transportFrames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lcpd_transport_frames_total",
				Help: "Frames through the transport by direction",
			},
			[]string{"direction"},
		),

		transportDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lcpd_transport_dropped_total",
				Help: "Frames the transport could not deliver",
			},
		),

		transportReadErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lcpd_transport_read_errors_total",
				Help: "Socket read errors",
			},
		),
	}

	return m
}

// Collectors returns every metric, for registration
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		// LCP metrics
		m.lcpPackets,
		m.lcpRounds,
		m.lcpStale,
		m.lcpMalformed,
		m.lcpNegotiated,
		// Session metrics
		m.sessionActive,
		m.sessionTotal,
		m.sessionTerminated,
		m.sessionDuration,
		// Transport metrics
		m.transportFrames,
		m.transportDropped,
		m.transportReadErrors,
	}
}

// Register registers all metrics with Prometheus
func (m *Metrics) Register() error {
	return m.RegisterWith(prometheus.DefaultRegisterer)
}

// RegisterWith registers all metrics with reg
func (m *Metrics) RegisterWith(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			// Ignore already registered errors
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	return nil
}

// --- Metric update methods ---

// RecordPacket counts an LCP packet sent ("tx") or received ("rx")
func (m *Metrics) RecordPacket(direction string, code lcp.Code) {
	m.lcpPackets.WithLabelValues(direction, code.String()).Inc()
}

// RecordRound counts a Configure-Request by its verdict
func (m *Metrics) RecordRound(verdict lcp.Outcome) {
	m.lcpRounds.WithLabelValues(verdict.String()).Inc()
}

// RecordStale counts a dropped response
func (m *Metrics) RecordStale(code lcp.Code) {
	m.lcpStale.WithLabelValues(code.String()).Inc()
}

// RecordMalformed counts a frame too short to parse
func (m *Metrics) RecordMalformed() {
	m.lcpMalformed.Inc()
}

// RecordSessionStart records a new session being created.
func (m *Metrics) RecordSessionStart() {
	m.sessionTotal.Inc()
	m.sessionActive.Inc()
}

// RecordSessionEnd records a session being freed.
func (m *Metrics) RecordSessionEnd(cause lcp.TerminateCause, duration time.Duration) {
	m.sessionActive.Dec()
	m.sessionTerminated.WithLabelValues(cause.String()).Inc()
	m.sessionDuration.Observe(duration.Seconds())
}

// RecordLinkUp records how long LCP took to reach Opened
func (m *Metrics) RecordLinkUp(negotiation time.Duration) {
	m.lcpNegotiated.Observe(negotiation.Seconds())
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// Collect updates metrics from the transport
func (m *Metrics) Collect() {
	if m.transport == nil {
		return
	}

	stats := m.transport.Stats()

	// Calculate deltas and add to counters
	if stats.FramesIn > m.lastStats.FramesIn {
		m.transportFrames.WithLabelValues("rx").Add(float64(stats.FramesIn - m.lastStats.FramesIn))
	}
	if stats.FramesOut > m.lastStats.FramesOut {
		m.transportFrames.WithLabelValues("tx").Add(float64(stats.FramesOut - m.lastStats.FramesOut))
	}
	if stats.Dropped > m.lastStats.Dropped {
		m.transportDropped.Add(float64(stats.Dropped - m.lastStats.Dropped))
	}
	if stats.ReadErrors > m.lastStats.ReadErrors {
		m.transportReadErrors.Add(float64(stats.ReadErrors - m.lastStats.ReadErrors))
	}

	m.lastStats = stats
}

// StartCollector collects metrics every interval until stopCh is closed
func (m *Metrics) StartCollector(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.Collect()
		}
	}
}
