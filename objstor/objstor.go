package main

import (
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mhbvr/photocat/objstore/httpstore"
	"github.com/mhbvr/photocat/tracing"
)

var (
	// HTTP instrumentation metrics
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "objstor_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "handler"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "objstor_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "handler", "code"},
	)

	httpRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "objstor_http_requests_in_flight",
			Help: "Current number of HTTP requests being served",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestsInFlight)
}

// responseWriterWithStatus wraps http.ResponseWriter to capture status code
type responseWriterWithStatus struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriterWithStatus) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriterWithStatus) Write(b []byte) (int, error) {
	if rw.statusCode == 0 {
		rw.statusCode = 200
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// loggingMiddleware logs each HTTP request with details
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriterWithStatus{
			ResponseWriter: w,
			statusCode:     200, // default status code
		}

		// Get client IP (handle potential proxy headers)
		clientIP := r.RemoteAddr
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			clientIP = strings.Split(xff, ",")[0]
		} else if xri := r.Header.Get("X-Real-IP"); xri != "" {
			clientIP = xri
		}

		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		log.Printf("[%s] %s %s %d %d bytes %v %s \"%s\"",
			start.Format("2006-01-02 15:04:05"),
			r.Method,
			r.URL.Path,
			rw.statusCode,
			rw.bytesWritten,
			duration,
			clientIP,
			r.UserAgent(),
		)
	})
}

// SetupServer creates the HTTP server with all middleware and routes configured
func SetupServer(storageDir string) (http.Handler, func(), error) {
	// Initialize tracing
	zpagesHandler, cleanup, err := tracing.Initialize("objstor")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize tracing: %v", err)
	}

	objects := httpstore.NewHandler(storageDir, log.Default())

	// Object API with promhttp instrumentation
	objectHandler := promhttp.InstrumentHandlerDuration(
		httpRequestDuration.MustCurryWith(prometheus.Labels{"handler": "object"}),
		promhttp.InstrumentHandlerCounter(
			httpRequestsTotal.MustCurryWith(prometheus.Labels{"handler": "object"}),
			promhttp.InstrumentHandlerInFlight(
				httpRequestsInFlight,
				objects,
			),
		),
	)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /tracez", zpagesHandler)
	mux.Handle("/", objectHandler)

	// Wrap the entire mux with middleware layers:
	// 1. Logging middleware (outermost)
	// 2. OpenTelemetry tracing middleware
	handler := loggingMiddleware(otelhttp.NewHandler(mux, "request"))

	return handler, cleanup, nil
}
