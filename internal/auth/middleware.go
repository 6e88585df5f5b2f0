package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/wava-studio/wava-gateway/internal/ratelimit"
	"github.com/wava-studio/wava-gateway/internal/workflow"
)

const (
	HeaderGeminiKey      = "X-Gemini-Api-Key"
	HeaderReplicateToken = "X-Replicate-Api-Token"
)

// ServerKeys are the deployment's own credentials, used when a caller sends none.
type ServerKeys struct {
	Gemini    string
	Replicate string
}

// Middleware resolves the caller's upstream credentials and identity and
// stores them on the request context. It never rejects a request: each
// workflow decides which credential it needs.
func Middleware(fallback func() ServerKeys) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gemini := strings.TrimSpace(r.Header.Get(HeaderGeminiKey))
			replicate := strings.TrimSpace(r.Header.Get(HeaderReplicateToken))

			client := "ip:" + ratelimit.ClientKey(r)
			if gemini != "" {
				client = Fingerprint(gemini)
			} else if replicate != "" {
				client = Fingerprint(replicate)
			}

			if gemini == "" || replicate == "" {
				keys := fallback()
				if gemini == "" {
					gemini = keys.Gemini
				}
				if replicate == "" {
					replicate = keys.Replicate
				}
			}

			slog.Debug("caller resolved",
				"request_id", w.Header().Get("X-Request-ID"),
				"client", client,
				"gemini_key", safePrefix(gemini),
				"has_replicate_token", replicate != "",
			)

			ctx := ContextWithCaller(r.Context(), workflow.Caller{
				GeminiKey:      gemini,
				ReplicateToken: replicate,
				Client:         client,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

