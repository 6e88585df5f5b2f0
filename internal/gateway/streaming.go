package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/wava-studio/wava-gateway/internal/httputil"
)

// Server-sent event names on the detail image stream.
const (
	eventProgress = "progress"
	eventResult   = "result"
	eventError    = "error"
)

type eventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// startEventStream writes the SSE response headers. It reports false, after
// writing an error, when the connection cannot be flushed incrementally.
func startEventStream(w http.ResponseWriter, reqID string) (*eventStream, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteInternalError(w, reqID, "Streaming not supported")
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Request-ID", reqID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &eventStream{w: w, flusher: flusher}, true
}

// Send writes one named event with a JSON data line and flushes it.
func (s *eventStream) Send(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
