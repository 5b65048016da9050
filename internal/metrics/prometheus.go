package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the scriber. Each instance owns its registry.
type Metrics struct {
	Registry *prometheus.Registry

	// Capture metrics
	SegmentsCaptured  prometheus.Counter
	SegmentsDiscarded *prometheus.CounterVec
	PayloadSize       prometheus.Histogram

	// Dispatch metrics
	DispatchesSent      prometheus.Counter
	DispatchesSucceeded prometheus.Counter
	DispatchesFailed    prometheus.Counter
	DispatchesCoalesced prometheus.Counter
	DispatchInFlight    prometheus.Gauge
	DispatchDuration    prometheus.Histogram

	// Session metrics
	SessionsStarted prometheus.Counter
	SessionsStopped prometheus.Counter
	SessionFailures *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Transcript metrics
	TranscriptChars prometheus.Gauge
	Milestones      prometheus.Counter

	// Recognition metrics (service side)
	Recognitions        *prometheus.CounterVec
	RecognitionDuration prometheus.Histogram
	UploadSize          prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		SegmentsCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_segments_captured_total",
			Help: "Total number of audio segments delivered by the capture source",
		}),
		SegmentsDiscarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_segments_discarded_total",
			Help: "Total number of segments discarded before accumulation",
		}, []string{"reason"}),
		PayloadSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_payload_size_bytes",
			Help:    "Size of accumulated payloads handed to the dispatch queue",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 14), // 1KB to ~8MB
		}),

		DispatchesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_dispatches_sent_total",
			Help: "Total number of transcription requests sent",
		}),
		DispatchesSucceeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_dispatches_succeeded_total",
			Help: "Total number of successful transcription requests",
		}),
		DispatchesFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_dispatches_failed_total",
			Help: "Total number of failed transcription requests",
		}),
		DispatchesCoalesced: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_dispatches_coalesced_total",
			Help: "Total number of queued payloads superseded before being sent",
		}),
		DispatchInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_dispatch_in_flight",
			Help: "Number of transcription requests currently in flight (0 or 1)",
		}),
		DispatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_dispatch_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		}),

		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_sessions_started_total",
			Help: "Total number of sessions started",
		}),
		SessionsStopped: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_sessions_stopped_total",
			Help: "Total number of sessions ended",
		}),
		SessionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_session_failures_total",
			Help: "Total number of session failures by error kind",
		}, []string{"kind"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_session_duration_seconds",
			Help:    "Duration of sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),

		TranscriptChars: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_transcript_chars",
			Help: "Character count of the current session transcript",
		}),
		Milestones: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_transcript_milestones_total",
			Help: "Total number of transcript length milestones reached",
		}),

		Recognitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_recognitions_total",
			Help: "Total number of recognitions by outcome",
		}, []string{"outcome"}),
		RecognitionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_recognition_duration_seconds",
			Help:    "Duration of speech recognition calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		UploadSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_upload_size_bytes",
			Help:    "Size of uploaded audio files",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 14),
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scribe_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// Handler returns the exposition handler for this instance's registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// RecordSegmentCaptured increments the captured segment counter
func (m *Metrics) RecordSegmentCaptured() {
	m.SegmentsCaptured.Inc()
}

// RecordSegmentDiscarded records a segment dropped before accumulation
func (m *Metrics) RecordSegmentDiscarded(reason string) {
	m.SegmentsDiscarded.WithLabelValues(reason).Inc()
}

// RecordPayload records the size of an accumulated payload
func (m *Metrics) RecordPayload(sizeBytes int) {
	m.PayloadSize.Observe(float64(sizeBytes))
}

// RecordDispatchSent marks a request as sent and in flight
func (m *Metrics) RecordDispatchSent() {
	m.DispatchesSent.Inc()
	m.DispatchInFlight.Set(1)
}

// RecordDispatchDone records the outcome of the in-flight request
func (m *Metrics) RecordDispatchDone(success bool, durationSeconds float64) {
	if success {
		m.DispatchesSucceeded.Inc()
	} else {
		m.DispatchesFailed.Inc()
	}
	m.DispatchDuration.Observe(durationSeconds)
	m.DispatchInFlight.Set(0)
}

// RecordDispatchCoalesced increments the superseded payload counter
func (m *Metrics) RecordDispatchCoalesced() {
	m.DispatchesCoalesced.Inc()
}

// RecordSessionStarted increments the started sessions counter and resets transcript gauges
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
	m.TranscriptChars.Set(0)
}

// RecordSessionStopped increments the stopped sessions counter and records duration
func (m *Metrics) RecordSessionStopped(durationSeconds float64) {
	m.SessionsStopped.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordSessionFailure records a session-level failure of the given kind
func (m *Metrics) RecordSessionFailure(kind string) {
	m.SessionFailures.WithLabelValues(kind).Inc()
}

// SetTranscriptChars sets the current transcript length
func (m *Metrics) SetTranscriptChars(count int) {
	m.TranscriptChars.Set(float64(count))
}

// RecordMilestone increments the milestone counter
func (m *Metrics) RecordMilestone() {
	m.Milestones.Inc()
}

// RecordRecognition records one recognition call on the service
func (m *Metrics) RecordRecognition(outcome string, durationSeconds float64, uploadBytes int64) {
	m.Recognitions.WithLabelValues(outcome).Inc()
	m.RecognitionDuration.Observe(durationSeconds)
	m.UploadSize.Observe(float64(uploadBytes))
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
