package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the translation service
type Metrics struct {
	// UDP packet metrics
	PacketsReceived  prometheus.Counter
	PacketsProcessed prometheus.Counter
	ParseErrors      prometheus.Counter
	QueueSize        prometheus.Gauge

	// Session metrics
	ActiveSessions    prometheus.Gauge
	SessionsCreated   prometheus.Counter
	SessionsDestroyed prometheus.Counter
	SessionsRecreated prometheus.Counter
	SessionDuration   prometheus.Histogram

	// Audio dispatch metrics
	FramesDispatched      prometheus.Counter
	FramesDroppedNoSource prometheus.Counter

	// Recognition metrics
	RecognitionEvents *prometheus.CounterVec

	// Caption delivery metrics
	CaptionsDelivered prometheus.Counter
	CaptionsDropped   prometheus.Counter

	// Control channel metrics
	ControlClients prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// UDP packet metrics
		PacketsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vrt_packets_received_total",
			Help: "Total number of UDP audio packets received",
		}),
		PacketsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vrt_packets_processed_total",
			Help: "Total number of UDP audio packets successfully processed",
		}),
		ParseErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vrt_parse_errors_total",
			Help: "Total number of packet parsing errors",
		}),
		QueueSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vrt_packet_queue_size",
			Help: "Current number of packets in processing queue",
		}),

		// Session metrics
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vrt_active_sessions",
			Help: "Current number of live translation sessions",
		}),
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vrt_sessions_created_total",
			Help: "Total number of translation sessions created",
		}),
		SessionsDestroyed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vrt_sessions_destroyed_total",
			Help: "Total number of translation sessions destroyed",
		}),
		SessionsRecreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vrt_sessions_recreated_total",
			Help: "Total number of sessions destroyed because the listener target set changed",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vrt_session_duration_seconds",
			Help:    "Lifetime of translation sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),

		// Audio dispatch metrics
		FramesDispatched: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vrt_frames_dispatched_total",
			Help: "Total number of audio frames handed to a session",
		}),
		FramesDroppedNoSource: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vrt_frames_dropped_no_source_total",
			Help: "Total number of audio frames dropped because the speaker announced no source language",
		}),

		// Recognition metrics
		RecognitionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vrt_recognition_events_total",
			Help: "Total number of recognition events by result reason",
		}, []string{"reason"}),

		// Caption delivery metrics
		CaptionsDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vrt_captions_delivered_total",
			Help: "Total number of captions delivered to listeners",
		}),
		CaptionsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vrt_captions_dropped_total",
			Help: "Total number of captions that could not be delivered",
		}),

		// Control channel metrics
		ControlClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vrt_control_clients",
			Help: "Current number of connected control channel clients",
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vrt_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vrt_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vrt_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordPacketReceived increments the packets received counter
func (m *Metrics) RecordPacketReceived() {
	m.PacketsReceived.Inc()
}

// RecordPacketProcessed increments the packets processed counter
func (m *Metrics) RecordPacketProcessed() {
	m.PacketsProcessed.Inc()
}

// RecordParseError increments the parse errors counter
func (m *Metrics) RecordParseError() {
	m.ParseErrors.Inc()
}

// SetQueueSize sets the current queue size
func (m *Metrics) SetQueueSize(size int) {
	m.QueueSize.Set(float64(size))
}

// SetActiveSessions sets the current number of live sessions
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
}

// RecordSessionDestroyed increments the sessions destroyed counter and records lifetime
func (m *Metrics) RecordSessionDestroyed(durationSeconds float64) {
	m.SessionsDestroyed.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordSessionRecreated counts a session torn down for a target set change
func (m *Metrics) RecordSessionRecreated() {
	m.SessionsRecreated.Inc()
}

// RecordFrameDispatched increments the frames dispatched counter
func (m *Metrics) RecordFrameDispatched() {
	m.FramesDispatched.Inc()
}

// RecordFrameDroppedNoSource counts a frame dropped for want of a source language
func (m *Metrics) RecordFrameDroppedNoSource() {
	m.FramesDroppedNoSource.Inc()
}

// RecordRecognitionEvent counts one recognition event by reason
func (m *Metrics) RecordRecognitionEvent(reason string) {
	m.RecognitionEvents.WithLabelValues(reason).Inc()
}

// RecordCaptionDelivered increments the captions delivered counter
func (m *Metrics) RecordCaptionDelivered() {
	m.CaptionsDelivered.Inc()
}

// RecordCaptionDropped increments the captions dropped counter
func (m *Metrics) RecordCaptionDropped() {
	m.CaptionsDropped.Inc()
}

// SetControlClients sets the current number of control channel clients
func (m *Metrics) SetControlClients(count int) {
	m.ControlClients.Set(float64(count))
}

// RecordHTTPRequest records an HTTP request with its duration
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
