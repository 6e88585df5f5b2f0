package prediction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/wava-studio/wava-gateway/internal/config"
	"github.com/wava-studio/wava-gateway/internal/types"
)

const maxBody = 4 << 20

// Backend creates and reads asynchronous prediction jobs.
type Backend interface {
	Create(ctx context.Context, version string, input map[string]any) (*types.Prediction, error)
	Get(ctx context.Context, id string) (*types.Prediction, error)
}

// ReplicateBackend talks to the Replicate predictions REST API.
type ReplicateBackend struct {
	cfg    config.ProviderConfig
	client *http.Client
}

func NewReplicateBackend(cfg config.ProviderConfig, client *http.Client) *ReplicateBackend {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if client == nil {
		client = cfg.HTTPClient()
	}
	return &ReplicateBackend{cfg: cfg, client: client}
}

// WithToken returns a copy of the backend that authenticates with token.
// An empty token keeps the configured one.
func (b *ReplicateBackend) WithToken(token string) *ReplicateBackend {
	cp := *b
	if token != "" {
		cp.cfg.APIKey = token
	}
	return &cp
}

// HasToken reports whether an upstream token is configured.
func (b *ReplicateBackend) HasToken() bool { return b.cfg.APIKey != "" }

func (b *ReplicateBackend) Create(ctx context.Context, version string, input map[string]any) (*types.Prediction, error) {
	raw, err := b.CreateRaw(ctx, version, input)
	if err != nil {
		return nil, err
	}
	return decodePrediction("create", raw)
}

func (b *ReplicateBackend) Get(ctx context.Context, id string) (*types.Prediction, error) {
	raw, err := b.GetRaw(ctx, id)
	if err != nil {
		return nil, err
	}
	return decodePrediction("get", raw)
}

// CreateRaw submits a job and returns the upstream job document unchanged.
func (b *ReplicateBackend) CreateRaw(ctx context.Context, version string, input map[string]any) (json.RawMessage, error) {
	data, err := json.Marshal(createBody{Version: version, Input: input})
	if err != nil {
		return nil, fmt.Errorf("marshal prediction request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL+"/predictions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	return b.do(req, "create", http.StatusCreated)
}

// GetRaw fetches a job and returns the upstream job document unchanged.
func (b *ReplicateBackend) GetRaw(ctx context.Context, id string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.BaseURL+"/predictions/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	return b.do(req, "get", http.StatusOK)
}

func (b *ReplicateBackend) do(req *http.Request, op string, want int) (json.RawMessage, error) {
	req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range b.cfg.Headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, transportError(req, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, transportError(req, op, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != want {
		var e struct {
			Detail string `json:"detail"`
		}
		_ = json.Unmarshal(body, &e)
		return nil, &UpstreamError{Op: op, StatusCode: resp.StatusCode, Detail: e.Detail}
	}
	return body, nil
}

func decodePrediction(op string, raw []byte) (*types.Prediction, error) {
	var p types.Prediction
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("unmarshal response: %w", err)}
	}
	if p.ID == "" {
		return nil, &TransportError{Op: op, Err: errors.New("response has no id")}
	}
	return &p, nil
}

// transportError keeps cancellation and deadlines as plain context errors so
// they classify as such; anything else is a NETWORK failure.
func transportError(req *http.Request, op string, err error) error {
	if ctxErr := req.Context().Err(); ctxErr != nil {
		return fmt.Errorf("%s prediction: %w", op, ctxErr)
	}
	return &TransportError{Op: op, Err: err}
}

type createBody struct {
	Version string         `json:"version"`
	Input   map[string]any `json:"input"`
}
