package gateway

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wava-studio/wava-gateway/internal/telemetry"
)

// RequestMetrics records one request counter and latency sample per
// request, labelled by the matched route pattern.
func RequestMetrics(metrics *telemetry.Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			metrics.RecordRequest(route, r.Method, strconv.Itoa(status), float64(elapsed.Milliseconds()))
			logger.Info("request completed",
				"request_id", w.Header().Get("X-Request-ID"),
				"method", r.Method,
				"route", route,
				"status_code", status,
				"duration_ms", elapsed.Milliseconds(),
				"bytes", ww.BytesWritten(),
			)
		})
	}
}
