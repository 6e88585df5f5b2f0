package router

import (
	"context"
	"errors"
	"math"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wava-studio/wava-gateway/internal/router/adapters"
	"github.com/wava-studio/wava-gateway/internal/types"
)

// Classification decides what the orchestrator does after a failed attempt.
type Classification struct {
	Kind      types.ErrorKind
	Retryable bool
	Fallback  bool
	// RetryAfter is the server-requested wait; zero means none was given.
	RetryAfter time.Duration
}

var (
	retryAfterSecRe = regexp.MustCompile(`(?i)retry\s*after\s*(\d+)\s*s`)
	retryAfterMsRe  = regexp.MustCompile(`(?i)retry\s*after\s*(\d+)\s*ms\b`)
)

var malformedMarkers = []string{
	"invalid json payload",
	"cannot find field",
	`unknown name "role"`,
	`unknown name "parts"`,
}

// Classify maps an attempt error to a Classification. It is a pure function
// of the error's status code and message; maxRetryAfter caps the hint.
//
// Message matching is a last resort for backends that do not report a status.
// It stays in this one function so it can be tightened without touching the
// retry loop.
func Classify(err error, maxRetryAfter time.Duration) Classification {
	if err == nil {
		return Classification{Kind: types.KindUnknown}
	}
	status := 0
	var se *adapters.StatusError
	if errors.As(err, &se) {
		status = se.StatusCode
	}
	msg := strings.ToLower(err.Error())

	// Numeric markers in the text only count when the backend gave no status.
	bare := status == 0

	switch {
	case (status == 400 || (bare && strings.Contains(msg, "400"))) && containsAny(msg, malformedMarkers...):
		return Classification{Kind: types.KindMalformedRequest}

	case status == 401 || status == 403 || strings.Contains(msg, "api key") ||
		(bare && containsAny(msg, "401", "403")):
		return Classification{Kind: types.KindAuth}

	case status == 429 || containsAny(msg, "rate limit", "resource_exhausted", "quota") ||
		(bare && strings.Contains(msg, "429")):
		return Classification{
			Kind:       types.KindQuota,
			Retryable:  true,
			Fallback:   true,
			RetryAfter: parseRetryAfter(msg, maxRetryAfter),
		}

	case status == 404 || strings.Contains(msg, "not found") || (bare && strings.Contains(msg, "404")):
		return Classification{Kind: types.KindNotFound, Fallback: true}

	case status == 500 || status == 502 || status == 503 || status == 504 ||
		(bare && containsAny(msg, "500", "502", "503", "504", "internal error", "unavailable", "overloaded")):
		return Classification{Kind: types.KindServer, Retryable: true, Fallback: true}

	case isNetworkError(err) || containsAny(msg, "network", "timeout", "timed out", "fetch", "econnreset", "connection"):
		return Classification{Kind: types.KindNetwork, Retryable: true, Fallback: true}
	}

	return Classification{Kind: types.KindUnknown, Fallback: true}
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// parseRetryAfter extracts "retry after Ns" or "retry after Nms" from msg.
func parseRetryAfter(msg string, limit time.Duration) time.Duration {
	var d time.Duration
	if m := retryAfterMsRe.FindStringSubmatch(msg); m != nil {
		d = scaled(m[1], time.Millisecond)
	} else if m := retryAfterSecRe.FindStringSubmatch(msg); m != nil {
		d = scaled(m[1], time.Second)
	}
	if limit > 0 && d > limit {
		return limit
	}
	return d
}

// scaled parses digits as a count of unit, saturating instead of overflowing.
func scaled(digits string, unit time.Duration) time.Duration {
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n > int64(math.MaxInt64/unit) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(n) * unit
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
