package adapters

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

const maxErrorBody = 64 << 10

// ErrEmptyResponse is returned when the model answered without any text.
var ErrEmptyResponse = errors.New("gemini: empty response")

// GeminiAdapter calls the Gemini generateContent REST API.
type GeminiAdapter struct {
	cfg    config.ProviderConfig
	client *http.Client
}

func NewGeminiAdapter(cfg config.ProviderConfig, client *http.Client) *GeminiAdapter {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if client == nil {
		client = cfg.HTTPClient()
	}
	return &GeminiAdapter{cfg: cfg, client: client}
}

func (a *GeminiAdapter) Name() string { return config.ProviderGemini }

func (a *GeminiAdapter) Generate(ctx context.Context, credential, model string, call *types.ModelCall) (string, error) {
	httpReq, err := a.transformRequest(ctx, credential, model, call)
	if err != nil {
		return "", err
	}
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("gemini network error calling %s: %w", model, err)
	}
	return a.transformResponse(resp)
}

func (a *GeminiAdapter) transformRequest(ctx context.Context, credential, model string, call *types.ModelCall) (*http.Request, error) {
	body := geminiRequestBody{
		Contents:         call.Contents,
		GenerationConfig: &call.Config,
	}
	if call.SystemInstruction != "" {
		body.SystemInstruction = &types.Content{
			Parts: []types.Part{types.TextPart(call.SystemInstruction)},
		}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal gemini request: %w", err)
	}

	endpoint := a.cfg.BaseURL + "/models/" + url.PathEscape(model) + ":generateContent"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	a.setHeaders(httpReq, credential)
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

func (a *GeminiAdapter) transformResponse(resp *http.Response) (string, error) {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", readStatusError(resp)
	}

	var out geminiResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("unmarshal gemini response: %w", err)
	}

	if len(out.Candidates) == 0 {
		if out.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("%w: prompt blocked (%s)", ErrEmptyResponse, out.PromptFeedback.BlockReason)
		}
		return "", ErrEmptyResponse
	}
	var b strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	if b.Len() == 0 {
		if reason := out.Candidates[0].FinishReason; reason != "" && reason != "STOP" {
			return "", fmt.Errorf("%w: finish reason %s", ErrEmptyResponse, reason)
		}
		return "", ErrEmptyResponse
	}
	return b.String(), nil
}

// ListModels returns every model visible to credential.
func (a *GeminiAdapter) ListModels(ctx context.Context, credential string) ([]ModelInfo, error) {
	var models []ModelInfo
	pageToken := ""
	for {
		endpoint := a.cfg.BaseURL + "/models?pageSize=1000"
		if pageToken != "" {
			endpoint += "&pageToken=" + url.QueryEscape(pageToken)
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("create http request: %w", err)
		}
		a.setHeaders(httpReq, credential)

		resp, err := a.client.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("gemini network error listing models: %w", err)
		}
		page, err := decodeModelPage(resp)
		if err != nil {
			return nil, err
		}
		for _, m := range page.Models {
			models = append(models, ModelInfo{
				Name:             strings.TrimPrefix(m.Name, "models/"),
				DisplayName:      m.DisplayName,
				InputTokenLimit:  m.InputTokenLimit,
				OutputTokenLimit: m.OutputTokenLimit,
				Methods:          m.SupportedGenerationMethods,
			})
		}
		if page.NextPageToken == "" {
			return models, nil
		}
		pageToken = page.NextPageToken
	}
}

func decodeModelPage(resp *http.Response) (*geminiModelList, error) {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, readStatusError(resp)
	}
	var page geminiModelList
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("unmarshal gemini model list: %w", err)
	}
	return &page, nil
}

func (a *GeminiAdapter) setHeaders(req *http.Request, credential string) {
	if credential == "" {
		credential = a.cfg.APIKey
	}
	req.Header.Set("x-goog-api-key", credential)
	for k, v := range a.cfg.Headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
}

// readStatusError turns an error response into *StatusError, keeping the
// upstream message when the body is the usual {"error":{...}} envelope.
func readStatusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	se := &StatusError{StatusCode: resp.StatusCode}

	var envelope geminiErrorBody
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		se.Status = envelope.Error.Status
		se.Message = envelope.Error.Message
	} else {
		se.Message = strings.TrimSpace(string(body))
	}
	if se.Message == "" {
		se.Message = http.StatusText(resp.StatusCode)
	}
	return se
}

type geminiRequestBody struct {
	Contents          []types.Content         `json:"contents"`
	SystemInstruction *types.Content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *types.GenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponseBody struct {
	Candidates []struct {
		Content      types.Content `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type geminiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

type geminiModelList struct {
	Models []struct {
		Name                       string   `json:"name"`
		DisplayName                string   `json:"displayName"`
		InputTokenLimit            int      `json:"inputTokenLimit"`
		OutputTokenLimit           int      `json:"outputTokenLimit"`
		SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
	} `json:"models"`
	NextPageToken string `json:"nextPageToken"`
}
