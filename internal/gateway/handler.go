package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wava-studio/wava-gateway/internal/auth"
	"github.com/wava-studio/wava-gateway/internal/config"
	"github.com/wava-studio/wava-gateway/internal/httputil"
	"github.com/wava-studio/wava-gateway/internal/ratelimit"
	"github.com/wava-studio/wava-gateway/internal/router"
	"github.com/wava-studio/wava-gateway/internal/router/adapters"
	"github.com/wava-studio/wava-gateway/internal/store"
	"github.com/wava-studio/wava-gateway/internal/telemetry"
	"github.com/wava-studio/wava-gateway/internal/types"
	"github.com/wava-studio/wava-gateway/internal/workflow"
)

// maxBodyBytes bounds request bodies; reference images arrive inline as base64.
const maxBodyBytes = 20 << 20

// HistoryReader is the read side of the generation history store.
type HistoryReader interface {
	Recent(ctx context.Context, client string, limit int) ([]store.Entry, error)
	Get(ctx context.Context, client string, id uuid.UUID) (*store.Entry, error)
}

// RenderQuota is the daily image allowance renders draw from.
type RenderQuota interface {
	Reserve(ctx context.Context, client string, want, limit int64) (ratelimit.QuotaResult, error)
	Release(ctx context.Context, client string, n int64) error
}

// Handler holds dependencies for the gateway HTTP handlers.
type Handler struct {
	workflows *workflow.Service
	models    adapters.ModelLister
	history   HistoryReader
	quota     RenderQuota
	limits    func() config.RateLimitConfig
	metrics   *telemetry.Metrics
	logger    *slog.Logger
}

// Deps are the Handler's collaborators. History and Quota are optional.
type Deps struct {
	Workflows *workflow.Service
	Models    adapters.ModelLister
	History   HistoryReader
	Quota     RenderQuota
	Limits    func() config.RateLimitConfig
	Metrics   *telemetry.Metrics
	Logger    *slog.Logger
}

func NewHandler(d Deps) *Handler {
	h := &Handler{
		workflows: d.Workflows,
		models:    d.Models,
		history:   d.History,
		quota:     d.Quota,
		limits:    d.Limits,
		metrics:   d.Metrics,
		logger:    d.Logger,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.quota == nil {
		h.quota = ratelimit.NewRenderQuota(nil, h.logger)
	}
	if h.limits == nil {
		h.limits = func() config.RateLimitConfig { return config.RateLimitConfig{} }
	}
	return h
}

// caller returns the resolved credentials, or writes an error when the
// credential middleware did not run.
func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (workflow.Caller, bool) {
	c, ok := auth.CallerFromContext(r.Context())
	if !ok {
		h.logger.Error("caller missing from context", "path", r.URL.Path)
		httputil.WriteInternalError(w, w.Header().Get("X-Request-ID"), "Request credentials were not resolved")
	}
	return c, ok
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	reqID := w.Header().Get("X-Request-ID")
	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteBadRequestError(w, reqID, "Request body is too large")
			return false
		}
		httputil.WriteBadRequestError(w, reqID, "Failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return false
	}
	return true
}

// reserveRenders takes n images from the caller's daily render quota. On
// denial it writes the 429 and reports false.
func (h *Handler) reserveRenders(w http.ResponseWriter, r *http.Request, c workflow.Caller, n int) (ratelimit.QuotaResult, bool) {
	limit := h.limits().DailyRenders
	res, err := h.quota.Reserve(r.Context(), c.Client, int64(n), limit)
	if err != nil {
		h.logger.Warn("render quota reserve failed", "client", c.Client, "error", err)
		return ratelimit.QuotaResult{Allowed: true}, true
	}
	if res.Allowed {
		return res, true
	}
	reqID := w.Header().Get("X-Request-ID")
	h.logger.Warn("render quota exceeded",
		"request_id", reqID,
		"client", c.Client,
		"used", res.Used,
		"limit", res.Limit,
		"requested", n,
	)
	h.metrics.RecordRateLimitHit("renders")
	w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(res.ResetAt).Seconds())))
	httputil.WriteRateLimitError(w, reqID, fmt.Sprintf(
		"Daily image limit reached (%d of %d used). Try again after %s.",
		res.Used, res.Limit, res.ResetAt.Format(time.RFC3339)))
	return res, false
}

// settleRenders gives back the reserved images that were never produced.
func (h *Handler) settleRenders(ctx context.Context, c workflow.Caller, res ratelimit.QuotaResult, produced int) {
	unused := res.Reserved - int64(produced)
	if unused <= 0 {
		return
	}
	if err := h.quota.Release(context.WithoutCancel(ctx), c.Client, unused); err != nil {
		h.logger.Warn("release render quota failed", "client", c.Client, "unused", unused, "error", err)
	}
}

// Thumbnail handles POST /v1/thumbnails
func (h *Handler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	c, ok := h.caller(w, r)
	if !ok {
		return
	}
	var in workflow.ThumbnailInput
	if !decodeBody(w, r, &in) {
		return
	}
	reserved, ok := h.reserveRenders(w, r, c, 1)
	if !ok {
		return
	}

	res, err := h.workflows.Thumbnail(r.Context(), c, in)
	if err != nil {
		h.settleRenders(r.Context(), c, reserved, 0)
		h.logger.Warn("thumbnail failed", "request_id", reqID, "error", err)
		httputil.WriteClassifiedError(w, reqID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// PlanDetailPage handles POST /v1/detail-pages/plan
func (h *Handler) PlanDetailPage(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	c, ok := h.caller(w, r)
	if !ok {
		return
	}
	var in workflow.DetailPageInput
	if !decodeBody(w, r, &in) {
		return
	}

	plan, err := h.workflows.PlanDetailPage(r.Context(), c, in)
	if err != nil {
		h.logger.Warn("detail plan failed", "request_id", reqID, "error", err)
		httputil.WriteClassifiedError(w, reqID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, plan)
}

type detailImagesRequest struct {
	ProductName string             `json:"product_name"`
	Sections    []workflow.Section `json:"sections"`
}

// detailImagesResult is the final event. On failure it carries the
// sections finished before the error.
type detailImagesResult struct {
	Sections []workflow.Section     `json:"sections"`
	Error    *httputil.APIErrorBody `json:"error,omitempty"`
}

// RenderDetailImages handles POST /v1/detail-pages/images. Progress is
// streamed as server-sent events, ending in a result or error event.
func (h *Handler) RenderDetailImages(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	c, ok := h.caller(w, r)
	if !ok {
		return
	}
	var in detailImagesRequest
	if !decodeBody(w, r, &in) {
		return
	}

	// Failures known before the first render get a plain JSON status.
	if c.ReplicateToken == "" {
		httputil.WriteClassifiedError(w, reqID, &workflow.MissingCredentialError{Service: "Replicate"})
		return
	}
	if len(in.Sections) == 0 {
		httputil.WriteClassifiedError(w, reqID, &workflow.InputError{
			Field:   "sections",
			Message: "Add at least one section before generating images.",
		})
		return
	}
	reserved, ok := h.reserveRenders(w, r, c, len(in.Sections))
	if !ok {
		return
	}

	stream, ok := startEventStream(w, reqID)
	if !ok {
		h.settleRenders(r.Context(), c, reserved, 0)
		return
	}
	h.logger.Info("detail image stream started",
		"request_id", reqID,
		"sections", len(in.Sections),
		"client", c.Client,
	)

	done, err := h.workflows.RenderDetailImages(r.Context(), c, in.ProductName, in.Sections, func(p workflow.Progress) {
		if err := stream.Send(eventProgress, p); err != nil {
			h.logger.Debug("progress event dropped", "request_id", reqID, "error", err)
		}
	})
	h.settleRenders(r.Context(), c, reserved, len(done))
	if done == nil {
		done = []workflow.Section{}
	}

	if err != nil {
		cl := httputil.Classify(err)
		stream.Send(eventError, detailImagesResult{
			Sections: done,
			Error: &httputil.APIErrorBody{
				Message:   types.UserMessage(err),
				Type:      cl.Type,
				Code:      cl.Code,
				RequestID: reqID,
			},
		})
		return
	}
	stream.Send(eventResult, detailImagesResult{Sections: done})
}

type featuresRequest struct {
	ProductName string `json:"product_name"`
}

type featuresResponse struct {
	Features string `json:"features"`
}

// SuggestFeatures handles POST /v1/features
func (h *Handler) SuggestFeatures(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	c, ok := h.caller(w, r)
	if !ok {
		return
	}
	var in featuresRequest
	if !decodeBody(w, r, &in) {
		return
	}

	text, err := h.workflows.SuggestFeatures(r.Context(), c, in.ProductName)
	if err != nil {
		h.logger.Warn("feature suggestion failed", "request_id", reqID, "error", err)
		httputil.WriteClassifiedError(w, reqID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, featuresResponse{Features: text})
}

type modelListResponse struct {
	Object string               `json:"object"`
	Data   []adapters.ModelInfo `json:"data"`
}

// ListModels handles GET /v1/models. Only models that accept
// generateContent are listed.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	c, ok := h.caller(w, r)
	if !ok {
		return
	}
	if c.GeminiKey == "" {
		httputil.WriteClassifiedError(w, reqID, &workflow.MissingCredentialError{Service: "Gemini"})
		return
	}

	all, err := h.models.ListModels(r.Context(), c.GeminiKey)
	if err != nil {
		h.logger.Warn("list models failed", "request_id", reqID, "error", err)
		httputil.WriteClassifiedError(w, reqID, &router.Error{Class: router.Classify(err, 0).Kind, Err: err})
		return
	}
	models := make([]adapters.ModelInfo, 0, len(all))
	for _, m := range all {
		if m.SupportsGenerate() {
			models = append(models, m)
		}
	}
	httputil.WriteJSON(w, http.StatusOK, modelListResponse{Object: "list", Data: models})
}

type historyResponse struct {
	Object string        `json:"object"`
	Data   []store.Entry `json:"data"`
}

// ListHistory handles GET /v1/history?limit=N
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	c, ok := h.caller(w, r)
	if !ok {
		return
	}
	if h.history == nil {
		httputil.WriteServiceUnavailableError(w, reqID, "Generation history is not enabled")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httputil.WriteBadRequestError(w, reqID, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := h.history.Recent(r.Context(), c.Client, limit)
	if err != nil {
		h.logger.Error("history query failed", "request_id", reqID, "error", err)
		httputil.WriteInternalError(w, reqID, "Failed to load generation history")
		return
	}
	if entries == nil {
		entries = []store.Entry{}
	}
	httputil.WriteJSON(w, http.StatusOK, historyResponse{Object: "list", Data: entries})
}

// GetHistory handles GET /v1/history/{id}
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	c, ok := h.caller(w, r)
	if !ok {
		return
	}
	if h.history == nil {
		httputil.WriteServiceUnavailableError(w, reqID, "Generation history is not enabled")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteBadRequestError(w, reqID, "id must be a UUID")
		return
	}

	entry, err := h.history.Get(r.Context(), c.Client, id)
	if errors.Is(err, store.ErrNotFound) {
		httputil.WriteError(w, reqID, http.StatusNotFound, "invalid_request_error", "not_found", "No generation with that id")
		return
	}
	if err != nil {
		h.logger.Error("history lookup failed", "request_id", reqID, "error", err)
		httputil.WriteInternalError(w, reqID, "Failed to load generation history")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entry)
}
