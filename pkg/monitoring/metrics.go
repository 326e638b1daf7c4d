package monitoring

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session lifecycle metrics
	activeSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "voice_sessions_active",
			Help: "Number of currently active voice sessions",
		},
		[]string{"service"},
	)

	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_sessions_total",
			Help: "Total number of voice sessions started",
		},
		[]string{"service"},
	)

	sessionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voice_session_duration_seconds",
			Help:    "Duration of completed voice sessions",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"service"},
	)

	// Tool dispatch metrics
	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tool_calls_total",
			Help: "Total number of tool invocations by tool name and outcome",
		},
		[]string{"service", "tool", "status"},
	)

	toolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tool_call_duration_seconds",
			Help:    "Duration of tool invocations",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"service", "tool"},
	)

	// Model stream metrics
	streamTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_stream_timeouts_total",
			Help: "Total number of model stream read timeouts that triggered a heartbeat",
		},
		[]string{"service"},
	)

	streamEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_stream_events_total",
			Help: "Total number of events decoded from the model stream by type",
		},
		[]string{"service", "event_type"},
	)

	// Transcription metrics
	transcriptLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcript_lines_total",
			Help: "Total number of final transcript lines emitted",
		},
		[]string{"service"},
	)

	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"service", "method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
)

func init() {
	prometheus.MustRegister(
		activeSessions,
		sessionsTotal,
		sessionDuration,
		toolCallsTotal,
		toolCallDuration,
		streamTimeouts,
		streamEvents,
		transcriptLines,
		httpRequestsTotal,
		httpRequestDuration,
	)
}

// MetricsCollector records application metrics for a named service
type MetricsCollector struct {
	serviceName string
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(serviceName string) *MetricsCollector {
	return &MetricsCollector{serviceName: serviceName}
}

// SessionStarted records the beginning of a voice session
func (mc *MetricsCollector) SessionStarted() {
	sessionsTotal.WithLabelValues(mc.serviceName).Inc()
	activeSessions.WithLabelValues(mc.serviceName).Inc()
}

// SessionEnded records the end of a voice session
func (mc *MetricsCollector) SessionEnded(duration time.Duration) {
	activeSessions.WithLabelValues(mc.serviceName).Dec()
	sessionDuration.WithLabelValues(mc.serviceName).Observe(duration.Seconds())
}

// RecordToolCall records a tool invocation with its outcome
func (mc *MetricsCollector) RecordToolCall(tool string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	toolCallsTotal.WithLabelValues(mc.serviceName, tool, status).Inc()
	toolCallDuration.WithLabelValues(mc.serviceName, tool).Observe(duration.Seconds())
}

// RecordStreamTimeout records a model stream read timeout
func (mc *MetricsCollector) RecordStreamTimeout() {
	streamTimeouts.WithLabelValues(mc.serviceName).Inc()
}

// RecordStreamEvent records a decoded model stream event
func (mc *MetricsCollector) RecordStreamEvent(eventType string) {
	streamEvents.WithLabelValues(mc.serviceName, eventType).Inc()
}

// RecordTranscriptLine records a final transcript line
func (mc *MetricsCollector) RecordTranscriptLine() {
	transcriptLines.WithLabelValues(mc.serviceName).Inc()
}

// RecordHTTPRequest records an HTTP request
func (mc *MetricsCollector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(mc.serviceName, method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(mc.serviceName, method, path).Observe(duration.Seconds())
}

// Handler returns the Prometheus metrics HTTP handler
func (mc *MetricsCollector) Handler() http.Handler {
	return promhttp.Handler()
}

// HTTPMiddleware instruments HTTP handlers with request metrics
func (mc *MetricsCollector) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		mc.RecordHTTPRequest(r.Method, r.URL.Path, wrapped.statusCode, time.Since(start))
	})
}

// responseWriter captures the status code for metrics
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack exposes the underlying connection so websocket upgrades work
// through the metrics middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}
