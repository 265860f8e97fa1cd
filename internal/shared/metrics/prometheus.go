package metrics

import (
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Intake metrics
	inboundMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_messages_total",
			Help: "Inbound messages by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	resolutionDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "case_resolution_decisions_total",
			Help: "Case resolver decisions by channel and matching rule",
		},
		[]string{"channel", "rule"},
	)

	casesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cases_created_total",
			Help: "Total number of cases created",
		},
		[]string{"channel", "category"},
	)

	casesStatusChanged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cases_status_changed_total",
			Help: "Total number of case status changes",
		},
		[]string{"from_status", "to_status"},
	)

	caseEventsObserved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "case_events_observed_total",
			Help: "Case events seen on the event bus",
		},
		[]string{"type"},
	)

	// Extraction metrics
	extractions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fact_extractions_total",
			Help: "Fact extractions by operation and source (ai, fallback, assumed_complete)",
		},
		[]string{"operation", "source"},
	)

	aiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "AI completion request duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"status"},
	)

	// Delivery metrics
	deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_deliveries_total",
			Help: "Outbound notifications by channel, kind and result",
		},
		[]string{"channel", "kind", "result"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath collapses case codes and UUIDs so label cardinality stays bounded
func normalizePath(path string) string {
	if len(path) > 100 {
		return "/api/..."
	}
	return idSegment.ReplaceAllString(path, "/{id}")
}

var idSegment = regexp.MustCompile(`/(INC-[A-Z0-9]{6}|[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})`)

// --- Business metric helpers ---

// RecordInbound records an inbound message outcome (created, attached, duplicate, ignored, failed)
func RecordInbound(channel, outcome string) {
	inboundMessages.WithLabelValues(channel, outcome).Inc()
}

// RecordResolution records which resolver rule decided a message
func RecordResolution(channel, rule string) {
	resolutionDecisions.WithLabelValues(channel, rule).Inc()
}

// RecordCaseCreated records a case creation
func RecordCaseCreated(channel, category string) {
	casesCreated.WithLabelValues(channel, category).Inc()
}

// RecordCaseStatusChange records a case status change
func RecordCaseStatusChange(fromStatus, toStatus string) {
	casesStatusChanged.WithLabelValues(fromStatus, toStatus).Inc()
}

// RecordCaseEvent records a case event observed on the bus
func RecordCaseEvent(eventType string) {
	caseEventsObserved.WithLabelValues(eventType).Inc()
}

// RecordExtraction records where an analysis came from
func RecordExtraction(operation, source string) {
	extractions.WithLabelValues(operation, source).Inc()
}

// RecordAIRequest records an AI completion round trip
func RecordAIRequest(status string, duration time.Duration) {
	aiRequestDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordDelivery records an outbound notification result
func RecordDelivery(channel, kind string, ok bool) {
	result := "failed"
	if ok {
		result = "sent"
	}
	deliveries.WithLabelValues(channel, kind, result).Inc()
}
