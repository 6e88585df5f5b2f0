// Package proxy implements the same-origin job-queue endpoint that lets a
// browser create and poll predictions without ever seeing the upstream token.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/wava-studio/wava-gateway/internal/httputil"
	"github.com/wava-studio/wava-gateway/internal/prediction"
)

const (
	allowMethods = "GET,OPTIONS,PATCH,DELETE,POST,PUT"
	allowHeaders = "X-CSRF-Token, X-Requested-With, Accept, Accept-Version, Content-Length, Content-MD5, Content-Type, Date, X-Api-Version"

	maxRequestBody = 8 << 20
)

// Upstream is the raw job API behind the proxy.
type Upstream interface {
	CreateRaw(ctx context.Context, version string, input map[string]any) (json.RawMessage, error)
	GetRaw(ctx context.Context, id string) (json.RawMessage, error)
	HasToken() bool
}

// Handler serves the job-queue protocol: POST creates a job, GET ?id= reads one.
type Handler struct {
	upstream func() Upstream
	logger   *slog.Logger
}

// NewHandler builds the proxy. upstream is called per request so a config
// reload can swap the token.
func NewHandler(upstream func() Upstream, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{upstream: upstream, logger: logger}
}

type errorBody struct {
	Error string `json:"error"`
}

type createRequest struct {
	Version string         `json:"version"`
	Input   map[string]any `json:"input"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setCORS(w.Header())

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	up := h.upstream()
	if up == nil || !up.HasToken() {
		httputil.WriteJSON(w, http.StatusInternalServerError, errorBody{"Server Error: REPLICATE_API_TOKEN is not configured."})
		return
	}

	switch r.Method {
	case http.MethodPost:
		h.create(w, r, up)
	case http.MethodGet:
		h.get(w, r, up)
	default:
		httputil.WriteJSON(w, http.StatusMethodNotAllowed, errorBody{"Method not allowed"})
	}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request, up Upstream) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, errorBody{"Failed to read request body"})
		return
	}
	var req createRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, errorBody{"Invalid JSON body"})
		return
	}

	raw, err := up.CreateRaw(r.Context(), req.Version, req.Input)
	if err != nil {
		h.logger.Warn("proxy create failed", "version", req.Version, "error", err)
		httputil.WriteJSON(w, http.StatusInternalServerError, errorBody{upstreamMessage(err, "Failed to create prediction")})
		return
	}
	writeRaw(w, http.StatusCreated, raw)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request, up Upstream) {
	ids := r.URL.Query()["id"]
	if len(ids) != 1 || ids[0] == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, errorBody{"Missing or invalid prediction ID"})
		return
	}

	raw, err := up.GetRaw(r.Context(), ids[0])
	if err != nil {
		h.logger.Warn("proxy get failed", "id", ids[0], "error", err)
		httputil.WriteJSON(w, http.StatusInternalServerError, errorBody{upstreamMessage(err, "Failed to fetch prediction")})
		return
	}
	writeRaw(w, http.StatusOK, raw)
}

// upstreamMessage prefers the upstream's own detail text, then the fallback
// for rejected calls, then the transport error text.
func upstreamMessage(err error, fallback string) string {
	var ue *prediction.UpstreamError
	if errors.As(err, &ue) {
		if ue.Detail != "" {
			return ue.Detail
		}
		return fallback
	}
	return err.Error()
}

func writeRaw(w http.ResponseWriter, status int, raw json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(raw)
}

func setCORS(h http.Header) {
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", allowMethods)
	h.Set("Access-Control-Allow-Headers", allowHeaders)
}
