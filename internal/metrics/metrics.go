// Package metrics exposes Prometheus instrumentation for the tick loop and
// the HTTP API, grounded in the lake-api service's metrics package.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wireguard_manage_build_info",
			Help: "Build information of the wireguard-manage service",
		},
		[]string{"version", "commit", "date"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wireguard_manage_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wireguard_manage_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wireguard_manage_tick_duration_seconds",
			Help:    "Duration of session engine ticks in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
	)

	TickErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wireguard_manage_tick_errors_total",
			Help: "Total number of per-peer errors observed during ticks",
		},
	)

	LiveSessionsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wireguard_manage_live_sessions",
			Help: "Current size of the in-memory live session map",
		},
	)
)

// Middleware records HTTP request counters and latency histograms.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = r.URL.Path
		}

		status := strconv.Itoa(ww.Status())
		duration := time.Since(start).Seconds()

		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// RecordTick records a tick's duration and whether it produced per-peer
// errors.
func RecordTick(duration time.Duration, errCount int) {
	TickDuration.Observe(duration.Seconds())
	if errCount > 0 {
		TickErrorsTotal.Add(float64(errCount))
	}
}
