package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry prometheus.Gatherer

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestsActive  prometheus.Gauge

	// Pipeline metrics
	SubmissionsTotal   *prometheus.CounterVec
	SubmissionDuration *prometheus.HistogramVec
	StateTransitions   *prometheus.CounterVec
	PopupsDismissed    *prometheus.CounterVec
	FieldFills         *prometheus.CounterVec
	FormScore          prometheus.Histogram
	FillConfidence     prometheus.Histogram
	CaptchasSeen       *prometheus.CounterVec

	// Processor metrics
	BatchesTotal      prometheus.Counter
	CampaignsFinished *prometheus.CounterVec
	SubmissionsActive prometheus.Gauge
	Requeued          prometheus.Counter
	LearnedDomains    prometheus.Gauge
}

// NewMetrics registers every metric on reg. A nil reg uses a fresh registry.
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	if namespace == "" {
		namespace = "contactpilot"
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	m := &Metrics{
		registry: reg,

		// HTTP metrics
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_active",
				Help:      "Number of active HTTP requests",
			},
		),

		// Pipeline metrics
		SubmissionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submissions_total",
				Help:      "Submissions processed by outcome and error code",
			},
			[]string{"status", "code"},
		),
		SubmissionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "submission_duration_seconds",
				Help:      "Time spent on one submission",
				Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 45, 60, 90, 120},
			},
			[]string{"status"},
		),
		StateTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_transitions_total",
				Help:      "Submission state machine transitions",
			},
			[]string{"state"},
		),
		PopupsDismissed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "popups_dismissed_total",
				Help:      "Overlays handled by pass and action",
			},
			[]string{"pass", "action"},
		),
		FieldFills: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "field_fills_total",
				Help:      "Field fill outcomes by value source",
			},
			[]string{"source", "result"},
		),
		FormScore: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "form_score",
				Help:      "Score of the selected contact form",
				Buckets:   []float64{4, 6, 8, 10, 12, 15, 20, 25},
			},
		),
		FillConfidence: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fill_confidence",
				Help:      "Mean confidence of filled fields per submission",
				Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
			},
		),
		CaptchasSeen: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "captchas_total",
				Help:      "Challenges seen on selected forms",
			},
			[]string{"solved"},
		),

		// Processor metrics
		BatchesTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Batches processed",
			},
		),
		CampaignsFinished: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "campaigns_finished_total",
				Help:      "Campaign runs by final status",
			},
			[]string{"status"},
		),
		SubmissionsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "submissions_active",
				Help:      "Submissions currently being processed",
			},
		),
		Requeued: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submissions_requeued_total",
				Help:      "Failed submissions re-queued for another attempt",
			},
		),
		LearnedDomains: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "learned_domains",
				Help:      "Domains with learned field mappings",
			},
		),
	}

	return m
}

// Handler returns the Prometheus HTTP handler for this instance's registry
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordSubmission records the outcome of one submission. code is empty on
// success.
func (m *Metrics) RecordSubmission(status, code string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SubmissionsTotal.WithLabelValues(status, code).Inc()
	m.SubmissionDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordTransition counts entry into a state machine state
func (m *Metrics) RecordTransition(state string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(state).Inc()
}

// RecordPopup counts one handled overlay
func (m *Metrics) RecordPopup(pass, action string) {
	if m == nil {
		return
	}
	m.PopupsDismissed.WithLabelValues(pass, action).Inc()
}

// RecordFieldFill counts one field fill
func (m *Metrics) RecordFieldFill(source string, ok bool) {
	if m == nil {
		return
	}
	result := "filled"
	if !ok {
		result = "failed"
	}
	m.FieldFills.WithLabelValues(source, result).Inc()
}

// RecordForm records the selected form's score and the fill confidence
func (m *Metrics) RecordForm(score int, confidence float64) {
	if m == nil {
		return
	}
	m.FormScore.Observe(float64(score))
	if confidence > 0 {
		m.FillConfidence.Observe(confidence)
	}
}

// RecordCaptcha counts a detected challenge
func (m *Metrics) RecordCaptcha(solved bool) {
	if m == nil {
		return
	}
	m.CaptchasSeen.WithLabelValues(strconv.FormatBool(solved)).Inc()
}

// RecordBatch counts one processed batch
func (m *Metrics) RecordBatch() {
	if m == nil {
		return
	}
	m.BatchesTotal.Inc()
}

// RecordCampaign counts a finished campaign run
func (m *Metrics) RecordCampaign(status string) {
	if m == nil {
		return
	}
	m.CampaignsFinished.WithLabelValues(status).Inc()
}

// RecordRequeued counts re-queued submissions
func (m *Metrics) RecordRequeued(n int) {
	if m == nil {
		return
	}
	m.Requeued.Add(float64(n))
}

// SetLearnedDomains reports the size of the learned mapping store
func (m *Metrics) SetLearnedDomains(n int) {
	if m == nil {
		return
	}
	m.LearnedDomains.Set(float64(n))
}

// TrackActive increments the active gauge and returns the matching decrement
func (m *Metrics) TrackActive() func() {
	if m == nil {
		return func() {}
	}
	m.SubmissionsActive.Inc()
	return m.SubmissionsActive.Dec
}

// HTTPMiddleware returns middleware for recording HTTP metrics
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.HTTPRequestsActive.Inc()
		defer m.HTTPRequestsActive.Dec()

		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		m.RecordHTTPRequest(r.Method, r.URL.Path, wrapped.statusCode, time.Since(start))
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
