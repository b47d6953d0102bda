package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the emotion relay service
type Metrics struct {
	// Session lifecycle metrics
	ActiveSessions    prometheus.Gauge
	SessionsCreated   prometheus.Counter
	SessionsFinalized *prometheus.CounterVec
	SessionsDisplaced prometheus.Counter
	AdmissionErrors   prometheus.Counter
	SessionDuration   prometheus.Histogram

	// Media relay metrics
	ChunksReceived  prometheus.Counter
	ChunksForwarded prometheus.Counter
	ChunksDropped   prometheus.Counter

	// Analysis connection metrics
	AnalysisConnectFailures prometheus.Counter
	AnalysisRuntimeErrors   prometheus.Counter
	AnalysisResults         prometheus.Counter
	AnalysisForwarded       prometheus.Counter
	FinalizeWait            prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Session lifecycle metrics
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_sessions",
			Help: "Current number of active relay sessions",
		}),
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_sessions_created_total",
			Help: "Total number of sessions admitted",
		}),
		SessionsFinalized: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_sessions_finalized_total",
			Help: "Total number of sessions finalized by terminal status",
		}, []string{"status"}),
		SessionsDisplaced: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_sessions_displaced_total",
			Help: "Total number of active sessions displaced by a new admission for the same pair",
		}),
		AdmissionErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_admission_errors_total",
			Help: "Total number of rejected admissions",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_session_duration_seconds",
			Help:    "Duration of relay sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),

		// Media relay metrics
		ChunksReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_chunks_received_total",
			Help: "Total number of binary media chunks received from clients",
		}),
		ChunksForwarded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_chunks_forwarded_total",
			Help: "Total number of media chunks forwarded to the analysis service",
		}),
		ChunksDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_chunks_dropped_total",
			Help: "Total number of media chunks dropped for unknown or non-active sessions",
		}),

		// Analysis connection metrics
		AnalysisConnectFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_analysis_connect_failures_total",
			Help: "Total number of failed analysis-service connection attempts",
		}),
		AnalysisRuntimeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_analysis_runtime_errors_total",
			Help: "Total number of analysis connection errors after a successful open",
		}),
		AnalysisResults: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_analysis_results_total",
			Help: "Total number of emotion identifiers resolved by the analysis service",
		}),
		AnalysisForwarded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_analysis_messages_forwarded_total",
			Help: "Total number of analysis-service messages forwarded to clients",
		}),
		FinalizeWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_finalize_wait_seconds",
			Help:    "Time spent waiting for the final analysis message during finalize",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionCreated increments the created counter and active gauge
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
	m.ActiveSessions.Inc()
}

// RecordSessionFinalized records a terminal transition and session duration
func (m *Metrics) RecordSessionFinalized(status string, durationSeconds float64) {
	m.SessionsFinalized.WithLabelValues(status).Inc()
	m.SessionDuration.Observe(durationSeconds)
	m.ActiveSessions.Dec()
}

// RecordSessionDisplaced increments the displacement counter
func (m *Metrics) RecordSessionDisplaced() {
	m.SessionsDisplaced.Inc()
}

// RecordAdmissionError increments the rejected-admission counter
func (m *Metrics) RecordAdmissionError() {
	m.AdmissionErrors.Inc()
}

// RecordChunkReceived increments the chunks received counter
func (m *Metrics) RecordChunkReceived() {
	m.ChunksReceived.Inc()
}

// RecordChunkForwarded increments the chunks forwarded counter
func (m *Metrics) RecordChunkForwarded() {
	m.ChunksForwarded.Inc()
}

// RecordChunkDropped increments the chunks dropped counter
func (m *Metrics) RecordChunkDropped() {
	m.ChunksDropped.Inc()
}

// RecordAnalysisConnectFailure increments the connect failure counter
func (m *Metrics) RecordAnalysisConnectFailure() {
	m.AnalysisConnectFailures.Inc()
}

// RecordAnalysisRuntimeError increments the post-connect error counter
func (m *Metrics) RecordAnalysisRuntimeError() {
	m.AnalysisRuntimeErrors.Inc()
}

// RecordAnalysisResult increments the resolved-result counter
func (m *Metrics) RecordAnalysisResult() {
	m.AnalysisResults.Inc()
}

// RecordAnalysisForwarded increments the forwarded-message counter
func (m *Metrics) RecordAnalysisForwarded() {
	m.AnalysisForwarded.Inc()
}

// RecordFinalizeWait records the duration of the result-or-timeout wait
func (m *Metrics) RecordFinalizeWait(seconds float64) {
	m.FinalizeWait.Observe(seconds)
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
