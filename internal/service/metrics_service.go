package service

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	webhookEvents   *prometheus.CounterVec
	submissions     prometheus.Counter
	gradings        prometheus.Counter
	logins          prometheus.Counter
	emailsQueued    prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Webhook deliveries by provider and outcome",
	}, []string{"provider", "outcome"})

	submissions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reflection_submissions_total",
		Help: "Total reflection submissions",
	})

	gradings := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reflection_gradings_total",
		Help: "Total reflection grading decisions",
	})

	logins := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "logins_total",
		Help: "Total successful logins",
	})

	emailsQueued := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "emails_queued_total",
		Help: "Total emails placed on the delivery queue",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, webhookEvents, submissions, gradings, logins, emailsQueued, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		webhookEvents:   webhookEvents,
		submissions:     submissions,
		gradings:        gradings,
		logins:          logins,
		emailsQueued:    emailsQueued,
	}
}

// Handler exposes the scrape endpoint.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// ObserveHTTPRequest records one served request.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	code := strconv.Itoa(status)
	s.requestDuration.WithLabelValues(method, path, code).Observe(duration.Seconds())
	s.requestTotal.WithLabelValues(method, path, code).Inc()
}

// CountWebhookEvent records one webhook delivery outcome.
func (s *MetricsService) CountWebhookEvent(provider string, duplicate bool) {
	outcome := "processed"
	if duplicate {
		outcome = "duplicate"
	}
	s.webhookEvents.WithLabelValues(provider, outcome).Inc()
}

// CountSubmission records one reflection submission.
func (s *MetricsService) CountSubmission() { s.submissions.Inc() }

// CountGrading records one grading decision.
func (s *MetricsService) CountGrading() { s.gradings.Inc() }

// CountLogin records one successful login.
func (s *MetricsService) CountLogin() { s.logins.Inc() }

// CountEmailQueued records one email placed on the delivery queue.
func (s *MetricsService) CountEmailQueued() { s.emailsQueued.Inc() }
