package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wava-studio/wava-gateway/internal/filter"
	"github.com/wava-studio/wava-gateway/internal/router"
	"github.com/wava-studio/wava-gateway/internal/types"
)

// APIError is the JSON error envelope returned by every /v1 endpoint.
type APIError struct {
	Error APIErrorBody `json:"error"`
}

type APIErrorBody struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, requestID string, statusCode int, errType, code, message string) {
	w.Header().Set("X-Request-ID", requestID)
	WriteJSON(w, statusCode, APIError{
		Error: APIErrorBody{
			Message:   message,
			Type:      errType,
			Code:      code,
			RequestID: requestID,
		},
	})
}

func WriteCredentialError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusUnauthorized, "authentication_error", "missing_credential", message)
}

func WriteRateLimitError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusTooManyRequests, "rate_limit_error", "rate_limit_exceeded", message)
}

func WriteBadRequestError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusBadRequest, "invalid_request_error", "invalid_request", message)
}

func WriteInternalError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusInternalServerError, "server_error", "internal_error", message)
}

func WriteServiceUnavailableError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusServiceUnavailable, "server_error", "service_unavailable", message)
}

func WriteContentBlockedError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusUnavailableForLegalReasons, "content_filter_error", "content_blocked", message)
}

// Classified is the HTTP rendering of a generation failure.
type Classified struct {
	Status int
	Type   string
	Code   string
}

// Classify maps a workflow error onto a status, type and code.
func Classify(err error) Classified {
	var ex *router.ExhaustedError
	var blocked *filter.BlockedError
	switch {
	case errors.As(err, &blocked):
		return Classified{http.StatusUnavailableForLegalReasons, "content_filter_error", "content_blocked"}
	case errors.As(err, &ex):
		return Classified{http.StatusServiceUnavailable, "upstream_error", "models_exhausted"}
	case errors.Is(err, context.DeadlineExceeded):
		return Classified{http.StatusGatewayTimeout, "timeout_error", "deadline_exceeded"}
	case errors.Is(err, context.Canceled):
		return Classified{499, "client_error", "cancelled"}
	}

	switch types.KindOf(err) {
	case types.KindAuth:
		return Classified{http.StatusUnauthorized, "authentication_error", "invalid_credential"}
	case types.KindQuota:
		return Classified{http.StatusTooManyRequests, "rate_limit_error", "upstream_quota"}
	case types.KindMalformedRequest:
		return Classified{http.StatusBadRequest, "invalid_request_error", "malformed_request"}
	case types.KindParseFailure:
		return Classified{http.StatusBadGateway, "upstream_error", "unparseable_response"}
	case types.KindTimeout:
		return Classified{http.StatusGatewayTimeout, "timeout_error", "job_timeout"}
	case types.KindJobFailed:
		return Classified{http.StatusBadGateway, "upstream_error", "job_failed"}
	case types.KindNotFound, types.KindServer, types.KindNetwork:
		return Classified{http.StatusBadGateway, "upstream_error", "upstream_unavailable"}
	default:
		return Classified{http.StatusInternalServerError, "server_error", "internal_error"}
	}
}

// WriteClassifiedError renders err with its mapped status and a short
// user-facing message.
func WriteClassifiedError(w http.ResponseWriter, requestID string, err error) {
	c := Classify(err)
	WriteError(w, requestID, c.Status, c.Type, c.Code, types.UserMessage(err))
}
