package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wava-studio/wava-gateway/internal/workflow"
)

func serve(t *testing.T, keys ServerKeys, req *http.Request) workflow.Caller {
	t.Helper()
	var got workflow.Caller
	var seen bool
	mw := Middleware(func() ServerKeys { return keys })
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, seen = CallerFromContext(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if !seen {
		t.Fatal("caller not stored on context")
	}
	return got
}

func TestMiddleware_HeaderCredentials(t *testing.T) {
	req := httptest.NewRequest("POST", "/v1/thumbnails", nil)
	req.Header.Set(HeaderGeminiKey, "  AIzaCallerKey  ")
	req.Header.Set(HeaderReplicateToken, "r8_caller")

	c := serve(t, ServerKeys{Gemini: "server-gemini", Replicate: "server-replicate"}, req)
	if c.GeminiKey != "AIzaCallerKey" {
		t.Errorf("expected trimmed caller key, got %q", c.GeminiKey)
	}
	if c.ReplicateToken != "r8_caller" {
		t.Errorf("expected caller token, got %q", c.ReplicateToken)
	}
	if c.Client != Fingerprint("AIzaCallerKey") {
		t.Errorf("expected key fingerprint as client, got %q", c.Client)
	}
}

func TestMiddleware_FallsBackToServerKeys(t *testing.T) {
	req := httptest.NewRequest("POST", "/v1/thumbnails", nil)
	req.RemoteAddr = "203.0.113.7:51234"

	c := serve(t, ServerKeys{Gemini: "server-gemini", Replicate: "server-replicate"}, req)
	if c.GeminiKey != "server-gemini" || c.ReplicateToken != "server-replicate" {
		t.Errorf("expected server keys, got %+v", c)
	}
	if c.Client != "ip:203.0.113.7" {
		t.Errorf("expected address identity, got %q", c.Client)
	}
}

func TestMiddleware_PartialFallback(t *testing.T) {
	req := httptest.NewRequest("POST", "/v1/detail-pages/images", nil)
	req.Header.Set(HeaderReplicateToken, "r8_only")

	c := serve(t, ServerKeys{Gemini: "server-gemini"}, req)
	if c.GeminiKey != "server-gemini" {
		t.Errorf("expected server gemini key, got %q", c.GeminiKey)
	}
	if c.ReplicateToken != "r8_only" {
		t.Errorf("expected caller token, got %q", c.ReplicateToken)
	}
	if c.Client != Fingerprint("r8_only") {
		t.Errorf("expected token fingerprint as client, got %q", c.Client)
	}
}

func TestMiddleware_NoCredentialsAnywhere(t *testing.T) {
	req := httptest.NewRequest("GET", "/v1/models", nil)
	c := serve(t, ServerKeys{}, req)
	if c.GeminiKey != "" || c.ReplicateToken != "" {
		t.Errorf("expected empty credentials, got %+v", c)
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("secret-one")
	if a != Fingerprint("secret-one") {
		t.Error("fingerprint not stable")
	}
	if a == Fingerprint("secret-two") {
		t.Error("distinct keys share a fingerprint")
	}
	if strings.Contains(a, "secret") {
		t.Error("fingerprint leaks the key")
	}
	if len(a) != len("key:")+16 {
		t.Errorf("unexpected fingerprint length %d", len(a))
	}
}

func TestSafePrefix(t *testing.T) {
	if got := safePrefix("AIzaSyAbcdefghijklmnop"); got != "AIzaSyAb..." {
		t.Errorf("got %q", got)
	}
	if got := safePrefix("short"); got != "***" {
		t.Errorf("got %q", got)
	}
}
