package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the call session engine
type Metrics struct {
	// Session lifecycle metrics
	SessionsStarted   prometheus.Counter
	SessionsStopped   prometheus.Counter
	SessionsCompleted prometheus.Counter
	AutoAdvances      prometheus.Counter
	ManualNavigations prometheus.Counter
	SessionDuration   prometheus.Histogram

	// Audio capture metrics
	QuantaProcessed prometheus.Counter
	FramesEmitted   prometheus.Counter
	FramesDropped   prometheus.Counter

	// Transcription stream metrics
	StreamStatus      prometheus.Gauge
	ReconnectAttempts prometheus.Counter
	FramesSent        prometheus.Counter
	EventsReceived    prometheus.Counter

	// Classification metrics
	ClassifyRequests  prometheus.Counter
	ClassifySuccesses prometheus.Counter
	ClassifyFailures  prometheus.Counter
	ClassifyRejected  prometheus.Counter
	ClassifyDuration  prometheus.Histogram
	LabelEMA          *prometheus.GaugeVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Session lifecycle metrics
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ccse_sessions_started_total",
			Help: "Total number of sessions started",
		}),
		SessionsStopped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ccse_sessions_stopped_total",
			Help: "Total number of sessions stopped",
		}),
		SessionsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ccse_sessions_completed_total",
			Help: "Total number of sessions that completed every section",
		}),
		AutoAdvances: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ccse_section_auto_advances_total",
			Help: "Total number of automatic section advances",
		}),
		ManualNavigations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ccse_section_manual_navigations_total",
			Help: "Total number of manual section navigations",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ccse_session_duration_seconds",
			Help:    "Duration of completed or stopped sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(30, 2, 10), // 30s to ~4 hours
		}),

		// Audio capture metrics
		QuantaProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ccse_audio_quanta_processed_total",
			Help: "Total number of capture quanta processed",
		}),
		FramesEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ccse_audio_frames_emitted_total",
			Help: "Total number of PCM frames emitted downstream",
		}),
		FramesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ccse_audio_frames_dropped_total",
			Help: "Total number of PCM frames dropped on a full queue",
		}),

		// Transcription stream metrics
		StreamStatus: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ccse_stream_status",
			Help: "Current transcription stream status (0=pending, 1=active, 2=reconnecting, 3=failed)",
		}),
		ReconnectAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ccse_stream_reconnect_attempts_total",
			Help: "Total number of stream reconnect attempts",
		}),
		FramesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ccse_stream_frames_sent_total",
			Help: "Total number of audio frames written to the stream",
		}),
		EventsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ccse_stream_events_received_total",
			Help: "Total number of transcript events received from the stream",
		}),

		// Classification metrics
		ClassifyRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ccse_classify_requests_total",
			Help: "Total number of classification requests dispatched",
		}),
		ClassifySuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ccse_classify_successes_total",
			Help: "Total number of successful classification responses",
		}),
		ClassifyFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ccse_classify_failures_total",
			Help: "Total number of failed classification requests",
		}),
		ClassifyRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ccse_classify_rejected_total",
			Help: "Total number of submissions rejected before dispatch",
		}),
		ClassifyDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ccse_classify_duration_seconds",
			Help:    "Duration of classification requests",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		LabelEMA: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ccse_classify_label_ema",
			Help: "Exponential moving average of classification scores per label",
		}, []string{"label"}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ccse_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ccse_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ccse_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionStarted increments the sessions started counter
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
}

// RecordSessionStopped increments the sessions stopped counter and records duration
func (m *Metrics) RecordSessionStopped(durationSeconds float64) {
	m.SessionsStopped.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordSessionCompleted increments the sessions completed counter
func (m *Metrics) RecordSessionCompleted() {
	m.SessionsCompleted.Inc()
}

// RecordAutoAdvance increments the auto-advance counter
func (m *Metrics) RecordAutoAdvance() {
	m.AutoAdvances.Inc()
}

// RecordManualNavigation increments the manual navigation counter
func (m *Metrics) RecordManualNavigation() {
	m.ManualNavigations.Inc()
}

// AddQuantaProcessed adds a batch of processed quanta to the counter
func (m *Metrics) AddQuantaProcessed(n uint64) {
	m.QuantaProcessed.Add(float64(n))
}

// AddFramesEmitted adds a batch of emitted frames to the counter
func (m *Metrics) AddFramesEmitted(n uint64) {
	m.FramesEmitted.Add(float64(n))
}

// AddFramesDropped adds a batch of dropped frames to the counter
func (m *Metrics) AddFramesDropped(n uint64) {
	m.FramesDropped.Add(float64(n))
}

// SetStreamStatus sets the stream status gauge
func (m *Metrics) SetStreamStatus(status int) {
	m.StreamStatus.Set(float64(status))
}

// RecordReconnectAttempt increments the reconnect attempts counter
func (m *Metrics) RecordReconnectAttempt() {
	m.ReconnectAttempts.Inc()
}

// AddFramesSent adds a batch of sent frames to the counter
func (m *Metrics) AddFramesSent(n uint64) {
	m.FramesSent.Add(float64(n))
}

// RecordEventReceived increments the events received counter
func (m *Metrics) RecordEventReceived() {
	m.EventsReceived.Inc()
}

// RecordClassifyRequest increments the classification requests counter
func (m *Metrics) RecordClassifyRequest() {
	m.ClassifyRequests.Inc()
}

// RecordClassifySuccess records a successful classification
func (m *Metrics) RecordClassifySuccess(durationSeconds float64) {
	m.ClassifySuccesses.Inc()
	m.ClassifyDuration.Observe(durationSeconds)
}

// RecordClassifyFailure records a failed classification
func (m *Metrics) RecordClassifyFailure(durationSeconds float64) {
	m.ClassifyFailures.Inc()
	m.ClassifyDuration.Observe(durationSeconds)
}

// RecordClassifyRejected increments the rejected submissions counter
func (m *Metrics) RecordClassifyRejected() {
	m.ClassifyRejected.Inc()
}

// SetLabelEMA sets the per-label EMA gauge
func (m *Metrics) SetLabelEMA(label string, ema float64) {
	m.LabelEMA.WithLabelValues(label).Set(ema)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
