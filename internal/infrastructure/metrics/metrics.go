package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Generation
	GenerationRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "textgen_generation_requests_total",
			Help: "Generation requests by outcome",
		},
		[]string{"result"}, // result: success|invalid_argument|inference_failure|unavailable
	)
	GenerationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "textgen_generation_duration_seconds",
			Help:    "Histogram of generator call durations in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms..~100s
		},
	)
	InflightGenerations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "textgen_generations_inflight",
			Help: "Current number of generator calls in progress",
		},
	)
	RequestedMaxLength = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "textgen_requested_max_length",
			Help:    "Effective max_length passed to the generator",
			Buckets: prometheus.ExponentialBuckets(16, 2, 8), // 16..2048
		},
	)

	// LLM backend
	LLMRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "textgen_llm_requests_total",
			Help: "Number of backend requests by backend",
		},
		[]string{"backend"},
	)

	// HTTP
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed.",
		},
		[]string{"method", "path"},
	)
	HTTPErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total number of HTTP request errors.",
		},
		[]string{"method", "path", "status"},
	)

	// Websockets
	WebsocketConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "textgen_ws_connections",
			Help: "Current number of open websocket connections",
		},
	)

	// Errors
	Errors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "textgen_errors_total",
			Help: "Errors encountered in components",
		},
		[]string{"component", "type"},
	)
)

func init() {
	prometheus.MustRegister(
		// Generation
		GenerationRequests,
		GenerationDurationSeconds,
		InflightGenerations,
		RequestedMaxLength,
		// LLM
		LLMRequests,
		// HTTP
		HTTPRequestDuration,
		HTTPRequests,
		HTTPErrors,
		// WS
		WebsocketConnections,
		// Errors
		Errors,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// StartMetricsServer serves /metrics on addr until ctx is canceled.
func StartMetricsServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Generation
func IncGeneration(result string) {
	GenerationRequests.WithLabelValues(result).Inc()
}

func ObserveGenerationDuration(d time.Duration) {
	GenerationDurationSeconds.Observe(d.Seconds())
}

func IncInflight() {
	InflightGenerations.Inc()
}

func DecInflight() {
	InflightGenerations.Dec()
}

func ObserveMaxLength(n int) {
	RequestedMaxLength.Observe(float64(n))
}

// LLM
func IncLLMRequest(backend string) {
	LLMRequests.WithLabelValues(backend).Inc()
}

// HTTP
func ObserveHTTPRequest(method, path string, status int, d time.Duration) {
	statusStr := strconv.Itoa(status)
	HTTPRequests.WithLabelValues(method, path).Inc()
	HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(d.Seconds())
	if status >= 400 {
		HTTPErrors.WithLabelValues(method, path, statusStr).Inc()
	}
}

// Websocket
func IncWSConnections() {
	WebsocketConnections.Inc()
}

func DecWSConnections() {
	WebsocketConnections.Dec()
}

// Errors
func IncError(component, typ string) {
	Errors.WithLabelValues(component, typ).Inc()
}
