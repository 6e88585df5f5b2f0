package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wava-studio/wava-gateway/internal/config"
	"github.com/wava-studio/wava-gateway/internal/types"
)

func newTestAdapter(t *testing.T, h http.HandlerFunc) *GeminiAdapter {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewGeminiAdapter(config.ProviderConfig{BaseURL: srv.URL + "/", Timeout: 5 * time.Second}, srv.Client())
}

func testCall() *types.ModelCall {
	return &types.ModelCall{
		Model:             "gemini-2.5-pro",
		Contents:          []types.Content{types.UserContent(types.TextPart("x"))},
		SystemInstruction: "be brief",
		Config: types.GenerationConfig{
			Temperature:      0.7,
			TopP:             0.95,
			TopK:             64,
			MaxOutputTokens:  2048,
			ResponseMIMEType: "application/json",
			ResponseSchema:   map[string]any{"type": "object"},
		},
	}
}

func TestGeminiAdapter_Generate(t *testing.T) {
	var gotBody map[string]any
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-2.5-pro:generateContent" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("x-goog-api-key"); got != "key-1" {
			t.Errorf("api key header = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"prompt\":"},{"text":"\"ok\"}"}]},"finishReason":"STOP"}]}`))
	})

	text, err := a.Generate(context.Background(), "key-1", "gemini-2.5-pro", testCall())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != `{"prompt":"ok"}` {
		t.Errorf("text = %q", text)
	}

	gc, ok := gotBody["generationConfig"].(map[string]any)
	if !ok {
		t.Fatalf("missing generationConfig in %v", gotBody)
	}
	if gc["responseMimeType"] != "application/json" || gc["topK"] != float64(64) {
		t.Errorf("generationConfig = %v", gc)
	}
	si, ok := gotBody["systemInstruction"].(map[string]any)
	if !ok {
		t.Fatalf("missing systemInstruction")
	}
	if _, hasRole := si["role"]; hasRole {
		t.Error("systemInstruction should not carry a role")
	}
}

func TestGeminiAdapter_StatusError(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":429,"message":"Quota exceeded, retry after 2s","status":"RESOURCE_EXHAUSTED"}}`))
	})

	_, err := a.Generate(context.Background(), "k", "m1", testCall())
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.StatusCode != 429 || se.Status != "RESOURCE_EXHAUSTED" {
		t.Errorf("status error = %+v", se)
	}
	if !strings.Contains(err.Error(), "429") || !strings.Contains(err.Error(), "retry after 2s") {
		t.Errorf("error text should carry code and message: %q", err.Error())
	}
}

func TestGeminiAdapter_NonJSONErrorBody(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream connect error", http.StatusBadGateway)
	})

	_, err := a.Generate(context.Background(), "k", "m1", testCall())
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != 502 {
		t.Fatalf("expected 502 StatusError, got %v", err)
	}
	if se.Message != "upstream connect error" {
		t.Errorf("message = %q", se.Message)
	}
}

func TestGeminiAdapter_EmptyResponse(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[],"promptFeedback":{"blockReason":"SAFETY"}}`))
	})

	_, err := a.Generate(context.Background(), "k", "m1", testCall())
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
	if !strings.Contains(err.Error(), "SAFETY") {
		t.Errorf("error should mention block reason: %v", err)
	}
}

func TestGeminiAdapter_DefaultCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-goog-api-key"); got != "server-key" {
			t.Errorf("api key header = %q", got)
		}
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}`))
	}))
	defer srv.Close()

	a := NewGeminiAdapter(config.ProviderConfig{BaseURL: srv.URL, APIKey: "server-key"}, srv.Client())
	if _, err := a.Generate(context.Background(), "", "m1", testCall()); err != nil {
		t.Fatalf("Generate: %v", err)
	}
}

func TestGeminiAdapter_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	a := NewGeminiAdapter(config.ProviderConfig{BaseURL: base}, &http.Client{Timeout: time.Second})
	_, err := a.Generate(context.Background(), "k", "m1", testCall())
	if err == nil || !strings.Contains(err.Error(), "network") {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestGeminiAdapter_ListModels(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("pageToken") == "" {
			w.Write([]byte(`{"models":[{"name":"models/gemini-2.5-pro","displayName":"Gemini 2.5 Pro","supportedGenerationMethods":["generateContent","countTokens"]}],"nextPageToken":"p2"}`))
			return
		}
		w.Write([]byte(`{"models":[{"name":"models/text-embedding-004","supportedGenerationMethods":["embedContent"]}]}`))
	})

	models, err := a.ListModels(context.Background(), "k")
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("models = %d, want 2", len(models))
	}
	if models[0].Name != "gemini-2.5-pro" || !models[0].SupportsGenerate() {
		t.Errorf("first model = %+v", models[0])
	}
	if models[1].SupportsGenerate() {
		t.Error("embedding model should not support generateContent")
	}
}
