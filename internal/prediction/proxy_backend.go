package prediction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/wava-studio/wava-gateway/internal/types"
)

// ProxyBackend drives jobs through a deployed gateway's job-queue proxy
// instead of calling the upstream directly. The proxy holds the token.
type ProxyBackend struct {
	endpoint string
	client   *http.Client
}

// NewProxyBackend targets endpoint, e.g. https://host/api/replicate.
func NewProxyBackend(endpoint string, client *http.Client) *ProxyBackend {
	if client == nil {
		client = http.DefaultClient
	}
	return &ProxyBackend{endpoint: endpoint, client: client}
}

func (b *ProxyBackend) Create(ctx context.Context, version string, input map[string]any) (*types.Prediction, error) {
	data, err := json.Marshal(createBody{Version: version, Input: input})
	if err != nil {
		return nil, fmt.Errorf("marshal prediction request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return b.do(req, "create", http.StatusCreated)
}

func (b *ProxyBackend) Get(ctx context.Context, id string) (*types.Prediction, error) {
	u, err := url.Parse(b.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse proxy endpoint: %w", err)
	}
	q := u.Query()
	q.Set("id", id)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	return b.do(req, "get", http.StatusOK)
}

func (b *ProxyBackend) do(req *http.Request, op string, want int) (*types.Prediction, error) {
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, transportError(req, op, fmt.Errorf("via proxy: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, transportError(req, op, fmt.Errorf("read proxy response: %w", err))
	}
	if resp.StatusCode != want {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &e)
		if e.Error == "" {
			e.Error = fmt.Sprintf("proxy request failed (%d)", resp.StatusCode)
		}
		return nil, &UpstreamError{Op: op, StatusCode: resp.StatusCode, Detail: e.Error}
	}
	return decodePrediction(op, body)
}
