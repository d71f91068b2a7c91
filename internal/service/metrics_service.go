package service

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the allocation
// engine: HTTP request metrics plus domain counters around seats and matching.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	matchingDecisions *prometheus.CounterVec
	seatReservations  prometheus.Counter
	seatReleases      prometheus.Counter
	promotions        prometheus.Counter
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

	matchingDecisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matching_decisions_total",
		Help: "Matching pass decisions by outcome",
	}, []string{"outcome"})

	seatReservations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "seats_reserved_total",
		Help: "Successful seat reservations against the capacity ledger",
	})

	seatReleases := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "seats_released_total",
		Help: "Seat releases on drop",
	})

	promotions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "waitlist_promotions_total",
		Help: "Waitlisted enrollments promoted into a seat",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, matchingDecisions,
		seatReservations, seatReleases, promotions, goroutines)

	return &MetricsService{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		matchingDecisions: matchingDecisions,
		seatReservations:  seatReservations,
		seatReleases:      seatReleases,
		promotions:        promotions,
	}
}

// Handler exposes the Prometheus scrape endpoint.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// ObserveHTTPRequest records a completed HTTP request.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	code := strconv.Itoa(status)
	s.requestDuration.WithLabelValues(method, path, code).Observe(duration.Seconds())
	s.requestTotal.WithLabelValues(method, path, code).Inc()
}

// RecordMatchingDecision counts one decision of a matching pass.
func (s *MetricsService) RecordMatchingDecision(outcome string) {
	s.matchingDecisions.WithLabelValues(outcome).Inc()
}

// RecordSeatReserved counts a committed seat reservation.
func (s *MetricsService) RecordSeatReserved() {
	s.seatReservations.Inc()
}

// RecordSeatReleased counts a committed seat release.
func (s *MetricsService) RecordSeatReleased() {
	s.seatReleases.Inc()
}

// RecordPromotion counts a committed waitlist promotion.
func (s *MetricsService) RecordPromotion() {
	s.promotions.Inc()
}
