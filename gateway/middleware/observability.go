package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"loanchain/observability/logging"
	"loanchain/observability/metrics"
)

type ObservabilityConfig struct {
	LogRequests bool
}

// Observability records request metrics and, optionally, one access log line
// per request. Tracing is handled by the otelhttp wrapper around the router.
type Observability struct {
	cfg     ObservabilityConfig
	logger  *slog.Logger
	metrics *metrics.GatewayMetrics
	now     func() time.Time
}

func NewObservability(cfg ObservabilityConfig, logger *slog.Logger) *Observability {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observability{cfg: cfg, logger: logger, metrics: metrics.Gateway(), now: time.Now}
}

func (o *Observability) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := o.now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		duration := o.now().Sub(start)

		route := routePattern(r)
		o.metrics.Observe(route, r.Method, recorder.status, duration)
		if !o.cfg.LogRequests {
			return
		}
		attrs := []any{
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", recorder.status),
			slog.Duration("duration", duration),
		}
		if caller, ok := CallerFromContext(r.Context()); ok {
			attrs = append(attrs, logging.MaskField("caller", caller.String()))
		}
		o.logger.Info("http request", attrs...)
	})
}

// routePattern prefers the matched chi pattern so path parameters do not
// explode metric cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
