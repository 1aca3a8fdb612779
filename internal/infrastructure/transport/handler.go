package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"textgen/app/config"
	"textgen/app/usecase"
	"textgen/internal/domain/entity"
	"textgen/internal/infrastructure/metrics"
)

type GenerationHandler struct {
	generation   usecase.GenerationUsecase
	logger       *slog.Logger
	upgrader     websocket.Upgrader
	maxBodyBytes int64
	limiter      *rate.Limiter // nil when rate limiting is disabled
}

type HandlerOptions struct {
	MaxBodyBytes   int64
	RateLimit      config.RateLimitConfig
	AllowedOrigins []string
}

func NewGenerationHandler(
	generation usecase.GenerationUsecase,
	opts HandlerOptions,
	logger *slog.Logger,
) *GenerationHandler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}

	var limiter *rate.Limiter
	if opts.RateLimit.Enabled {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit.RequestsPerSecond), opts.RateLimit.Burst)
	}

	return &GenerationHandler{
		generation: generation,
		logger:     logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(opts.AllowedOrigins),
		},
		maxBodyBytes: opts.MaxBodyBytes,
		limiter:      limiter,
	}
}

// withMetrics records count, latency and errors per route. path is the
// route template so label cardinality stays bounded.
func (h *GenerationHandler) withMetrics(path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rw, r)

		metrics.ObserveHTTPRequest(r.Method, path, rw.status, time.Since(start))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (h *GenerationHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.withMetrics("/health", h.handleHealth)).Methods(http.MethodGet)
	r.HandleFunc("/generate", h.withMetrics("/generate", h.withRateLimit(h.handleGenerate))).Methods(http.MethodPost)
	r.HandleFunc("/ws/generate", h.handleGenerateWS).Methods(http.MethodGet)

	// Prometheus
	r.Handle("/metrics", metrics.Handler())
}

func (h *GenerationHandler) withRateLimit(next http.HandlerFunc) http.HandlerFunc {
	if h.limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.limiter.Allow() {
			h.writeGenerationError(w, r, usecase.ErrRateLimited)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorBody{Error: err.Error()})
}

// statusFor maps the service error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, usecase.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, usecase.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, usecase.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		// *usecase.InferenceError and anything unexpected
		return http.StatusInternalServerError
	}
}

func (h *GenerationHandler) writeGenerationError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	logger := h.logger.With("request_id", RequestIDFromContext(r.Context()), "status", code)
	if code >= http.StatusInternalServerError {
		logger.Error("generate failed", "err", err)
	} else {
		logger.Warn("generate rejected", "err", err)
	}
	writeError(w, code, err)
}

// GET /health
func (h *GenerationHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.generation.Health())
}

// POST /generate
func (h *GenerationHandler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	req, err := entity.DecodeGenerationRequest(r.Body)
	if err != nil {
		h.writeGenerationError(w, r, fmt.Errorf("%w: %w", usecase.ErrInvalidArgument, err))
		return
	}

	resp, err := h.generation.Generate(r.Context(), req)
	if err != nil {
		h.writeGenerationError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
