// Package metrics holds the Prometheus collectors for call ingest.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session close outcomes.
const (
	OutcomeCompleted       = "completed"
	OutcomeError           = "error"
	OutcomeIdle            = "idle"
	OutcomeShutdown        = "shutdown"
	OutcomeRelayOpenFailed = "relay_open_failed"
)

// Metrics contains all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsStarted prometheus.Counter
	SessionsClosed  *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Audio and relay metrics
	MediaFrames       prometheus.Counter
	BlocksForwarded   prometheus.Counter
	BlockSendFailures prometheus.Counter
	Recognitions      prometheus.Counter

	// Outcome metrics
	Notifications     prometheus.Counter
	PersistenceErrors prometheus.Counter
	Classifications   *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates all collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dispatch_active_sessions",
			Help: "Current number of live call sessions",
		}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_sessions_started_total",
			Help: "Total number of call sessions started",
		}),
		SessionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_sessions_closed_total",
			Help: "Total number of call sessions closed, by outcome",
		}, []string{"outcome"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dispatch_session_duration_seconds",
			Help:    "Duration of call sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),

		MediaFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_media_frames_total",
			Help: "Total number of inbound media frames",
		}),
		BlocksForwarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_audio_blocks_forwarded_total",
			Help: "Total number of audio blocks sent to the recognition backend",
		}),
		BlockSendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_audio_block_send_failures_total",
			Help: "Total number of audio blocks the relay failed to send",
		}),
		Recognitions: factory.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_recognition_events_total",
			Help: "Total number of recognition results received",
		}),

		Notifications: factory.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_notifications_total",
			Help: "Total number of transcript notifications broadcast",
		}),
		PersistenceErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_persistence_errors_total",
			Help: "Total number of failed record store writes",
		}),
		Classifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_classifications_total",
			Help: "Total number of transcript classifications, by priority",
		}, []string{"priority"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dispatch_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}, []string{"method", "endpoint"}),
	}
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionClosed(outcome string, lifetime time.Duration) {
	if m == nil {
		return
	}
	m.SessionsClosed.WithLabelValues(outcome).Inc()
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(lifetime.Seconds())
}

// RelayOpenFailed counts a start that never reached streaming.
func (m *Metrics) RelayOpenFailed() {
	if m == nil {
		return
	}
	m.SessionsClosed.WithLabelValues(OutcomeRelayOpenFailed).Inc()
}

func (m *Metrics) MediaFrame() {
	if m == nil {
		return
	}
	m.MediaFrames.Inc()
}

func (m *Metrics) BlockForwarded() {
	if m == nil {
		return
	}
	m.BlocksForwarded.Inc()
}

func (m *Metrics) BlockSendFailed() {
	if m == nil {
		return
	}
	m.BlockSendFailures.Inc()
}

func (m *Metrics) Recognition() {
	if m == nil {
		return
	}
	m.Recognitions.Inc()
}

func (m *Metrics) Notification() {
	if m == nil {
		return
	}
	m.Notifications.Inc()
}

func (m *Metrics) PersistenceError() {
	if m == nil {
		return
	}
	m.PersistenceErrors.Inc()
}

func (m *Metrics) Classified(priority string) {
	if m == nil {
		return
	}
	m.Classifications.WithLabelValues(priority).Inc()
}

func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
