package ratelimit

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/wava-studio/wava-gateway/internal/config"
	"github.com/wava-studio/wava-gateway/internal/httputil"
	"github.com/wava-studio/wava-gateway/internal/telemetry"
)

const (
	headerRateLimitRequests          = "X-RateLimit-Limit-Requests"
	headerRateLimitRemainingRequests = "X-RateLimit-Remaining-Requests"
	headerRateLimitReset             = "X-RateLimit-Reset-Requests"
	headerRetryAfter                 = "Retry-After"
)

// ClientKey identifies the caller by address. chi's RealIP middleware has
// already rewritten RemoteAddr from forwarding headers when it runs first.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return r.RemoteAddr
	}
	return host
}

// Middleware enforces the per-client request window.
func Middleware(limiter *Limiter, cfg func() config.RateLimitConfig, metrics *telemetry.Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := cfg()
			if !c.Enabled || c.RequestsPerWindow <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			reqID := w.Header().Get("X-Request-ID")
			client := ClientKey(r)
			result, err := limiter.Check(r.Context(), "req:"+client, c.RequestsPerWindow, c.Window)
			if err != nil {
				logger.Warn("rate limit check failed", "request_id", reqID, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set(headerRateLimitRequests, strconv.FormatInt(c.RequestsPerWindow, 10))
			w.Header().Set(headerRateLimitRemainingRequests, strconv.FormatInt(result.Remaining, 10))
			w.Header().Set(headerRateLimitReset, result.ResetAt.UTC().Format(time.RFC3339))

			if !result.Allowed {
				logger.Warn("rate limit exceeded",
					"request_id", reqID,
					"client", client,
					"limit", c.RequestsPerWindow,
					"window", c.Window,
				)
				metrics.RecordRateLimitHit("requests")
				w.Header().Set(headerRetryAfter, strconv.Itoa(int(result.RetryAfter.Round(time.Second).Seconds())))
				httputil.WriteRateLimitError(w, reqID,
					fmt.Sprintf("Too many requests: %d per %s. Wait %s and try again.",
						c.RequestsPerWindow, c.Window, result.RetryAfter.Round(time.Second)))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
