package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/wava-studio/wava-gateway/internal/config"
	"github.com/wava-studio/wava-gateway/internal/recovery"
	"github.com/wava-studio/wava-gateway/internal/types"
)

// scriptedBackend replays per-model responses in order. The last entry for a
// model repeats once the script runs out.
type scriptedBackend struct {
	mu     sync.Mutex
	script map[string][]result
	calls  []string
	seen   []*types.ModelCall
}

type result struct {
	text string
	err  error
}

func (b *scriptedBackend) Generate(_ context.Context, _, model string, call *types.ModelCall) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, model)
	b.seen = append(b.seen, call)
	steps := b.script[model]
	if len(steps) == 0 {
		return "", errors.New("no script for " + model)
	}
	n := 0
	for _, c := range b.calls {
		if c == model {
			n++
		}
	}
	if n > len(steps) {
		n = len(steps)
	}
	r := steps[n-1]
	return r.text, r.err
}

func (b *scriptedBackend) count(model string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if c == model {
			n++
		}
	}
	return n
}

type recordingSleeper struct {
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return ctx.Err()
}

func testSettings(queue ...string) config.TextModelsConfig {
	cfg := config.DefaultModelsConfig().Text
	cfg.Queue = queue
	return cfg
}

func newTestOrchestrator(b *scriptedBackend, sleeper Sleeper, cfg config.TextModelsConfig, opts ...Option) *Orchestrator {
	base := []Option{
		WithSleeper(sleeper),
		WithJitterSource(func(int64) int64 { return 0 }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	return New(b, Static(cfg), append(base, opts...)...)
}

func textRequest() *types.GenerationRequest {
	return &types.GenerationRequest{
		Contents: []types.Content{types.UserContent(types.TextPart("x"))},
	}
}

func TestGenerate_FallbackOrder(t *testing.T) {
	serverErr := statusErr(503, "UNAVAILABLE", "overloaded")
	b := &scriptedBackend{script: map[string][]result{
		"A": {{err: serverErr}},
		"B": {{err: serverErr}},
		"C": {{text: "from C"}},
		"D": {{text: "from D"}},
	}}
	o := newTestOrchestrator(b, &recordingSleeper{}, testSettings("A", "B", "C", "D"))

	text, err := o.Generate(context.Background(), "key", textRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "from C" {
		t.Errorf("text = %q, want from C", text)
	}
	if b.count("D") != 0 {
		t.Error("model after the successful one must not be attempted")
	}
	if b.count("A") != 3 || b.count("B") != 3 {
		t.Errorf("server errors should be retried: A=%d B=%d", b.count("A"), b.count("B"))
	}
}

func TestGenerate_AuthAbortsImmediately(t *testing.T) {
	b := &scriptedBackend{script: map[string][]result{
		"A": {{err: statusErr(403, "PERMISSION_DENIED", "API key not valid")}},
		"B": {{text: "unused"}},
	}}
	o := newTestOrchestrator(b, &recordingSleeper{}, testSettings("A", "B"))

	_, err := o.Generate(context.Background(), "bad", textRequest())
	if len(b.calls) != 1 {
		t.Fatalf("calls = %v, want exactly one", b.calls)
	}
	var rerr *Error
	if !errors.As(err, &rerr) || rerr.Class != types.KindAuth {
		t.Fatalf("expected AUTH *Error, got %v", err)
	}
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		t.Error("auth failure must not be reported as exhaustion")
	}
}

func TestGenerate_MalformedAbortsWithoutFallback(t *testing.T) {
	b := &scriptedBackend{script: map[string][]result{
		"A": {{err: statusErr(400, "INVALID_ARGUMENT", `Invalid JSON payload received. Unknown name "role"`)}},
		"B": {{text: "unused"}},
	}}
	o := newTestOrchestrator(b, &recordingSleeper{}, testSettings("A", "B"))

	_, err := o.Generate(context.Background(), "key", textRequest())
	if types.KindOf(err) != types.KindMalformedRequest {
		t.Fatalf("kind = %s, want MALFORMED_REQUEST", types.KindOf(err))
	}
	if len(b.calls) != 1 {
		t.Errorf("calls = %v, want one", b.calls)
	}
}

func TestGenerate_RetryCap(t *testing.T) {
	for _, maxRetries := range []int{0, 1, 2, 4} {
		b := &scriptedBackend{script: map[string][]result{
			"A": {{err: statusErr(429, "RESOURCE_EXHAUSTED", "quota")}},
			"B": {{text: "ok"}},
		}}
		cfg := testSettings("A", "B")
		cfg.Retry.MaxRetries = maxRetries
		o := newTestOrchestrator(b, &recordingSleeper{}, cfg)

		if _, err := o.Generate(context.Background(), "key", textRequest()); err != nil {
			t.Fatalf("K=%d: Generate: %v", maxRetries, err)
		}
		if got := b.count("A"); got != maxRetries+1 {
			t.Errorf("K=%d: calls to A = %d, want %d", maxRetries, got, maxRetries+1)
		}
	}
}

func TestGenerate_Exhaustion(t *testing.T) {
	b := &scriptedBackend{script: map[string][]result{
		"A": {{err: statusErr(404, "NOT_FOUND", "model not found")}},
		"B": {{err: errors.New("gemini: empty response")}},
		"C": {{err: statusErr(500, "INTERNAL", "boom")}},
	}}
	o := newTestOrchestrator(b, &recordingSleeper{}, testSettings("A", "B", "C"))

	_, err := o.Generate(context.Background(), "key", textRequest())
	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	want := []string{"A", "B", "C"}
	if len(ex.Attempted) != len(want) {
		t.Fatalf("attempted = %v, want %v", ex.Attempted, want)
	}
	for i := range want {
		if ex.Attempted[i] != want[i] {
			t.Errorf("attempted[%d] = %s, want %s", i, ex.Attempted[i], want[i])
		}
	}
	if types.KindOf(err) != types.KindServer {
		t.Errorf("last kind = %s, want SERVER", types.KindOf(err))
	}
	// NOT_FOUND and UNKNOWN are not retried; SERVER is retried twice.
	if b.count("A") != 1 || b.count("B") != 1 || b.count("C") != 3 {
		t.Errorf("calls = %v", b.calls)
	}
}

func TestGenerate_RetryAfterHintScenario(t *testing.T) {
	b := &scriptedBackend{script: map[string][]result{
		"m1": {{err: statusErr(429, "", "rate limit, retry after 2s")}},
		"m2": {{text: `{"prompt":"ok generated prompt text"}`}},
	}}
	sleeper := &recordingSleeper{}
	o := newTestOrchestrator(b, sleeper, testSettings("m1", "m2"))

	text, err := o.Generate(context.Background(), "key", textRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if b.count("m1") != 3 || b.count("m2") != 1 {
		t.Errorf("calls = %v, want m1×3 then m2×1", b.calls)
	}
	if len(sleeper.waits) != 2 {
		t.Fatalf("waits = %v, want two", sleeper.waits)
	}
	for i, w := range sleeper.waits {
		if w != 2*time.Second {
			t.Errorf("wait[%d] = %v, want 2s from server hint", i, w)
		}
	}

	res, err := recovery.New("prompt", nil).Parse(text, recovery.Field{Name: "prompt", Required: true})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := res.Get("prompt"); got != "ok generated prompt text" {
		t.Errorf("prompt = %q", got)
	}
}

func TestGenerate_BackoffWithoutHint(t *testing.T) {
	b := &scriptedBackend{script: map[string][]result{
		"A": {{err: statusErr(503, "", "unavailable")}, {err: statusErr(503, "", "unavailable")}, {text: "third time"}},
	}}
	sleeper := &recordingSleeper{}
	o := newTestOrchestrator(b, sleeper, testSettings("A"))

	if _, err := o.Generate(context.Background(), "key", textRequest()); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	want := []time.Duration{600 * time.Millisecond, 1200 * time.Millisecond}
	if len(sleeper.waits) != len(want) {
		t.Fatalf("waits = %v, want %v", sleeper.waits, want)
	}
	for i := range want {
		if sleeper.waits[i] != want[i] {
			t.Errorf("wait[%d] = %v, want %v", i, sleeper.waits[i], want[i])
		}
	}
}

func TestGenerate_CancelledDuringWait(t *testing.T) {
	b := &scriptedBackend{script: map[string][]result{
		"A": {{err: statusErr(429, "", "retry after 5s")}},
		"B": {{text: "unused"}},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	sleeper := SleeperFunc(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	})
	o := newTestOrchestrator(b, sleeper, testSettings("A", "B"))

	_, err := o.Generate(ctx, "key", textRequest())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if b.count("B") != 0 {
		t.Error("cancellation must abandon remaining models")
	}
}

func TestGenerate_EmptyRequest(t *testing.T) {
	b := &scriptedBackend{}
	o := newTestOrchestrator(b, &recordingSleeper{}, testSettings("A"))

	_, err := o.Generate(context.Background(), "key", &types.GenerationRequest{})
	if types.KindOf(err) != types.KindMalformedRequest {
		t.Fatalf("kind = %s, want MALFORMED_REQUEST", types.KindOf(err))
	}
	if len(b.calls) != 0 {
		t.Error("no backend call expected")
	}
}

func TestGenerate_RequestReusedAcrossModels(t *testing.T) {
	b := &scriptedBackend{script: map[string][]result{
		"A": {{err: statusErr(404, "", "not found")}},
		"B": {{text: "ok"}},
	}}
	o := newTestOrchestrator(b, &recordingSleeper{}, testSettings("A", "B"))
	req := textRequest()
	req.SystemInstruction = "sys"
	req.ResponseSchema = map[string]any{"type": "object"}

	if _, err := o.Generate(context.Background(), "key", req); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(b.seen) != 2 {
		t.Fatalf("seen = %d calls", len(b.seen))
	}
	for _, call := range b.seen {
		if &call.Contents[0] != &req.Contents[0] {
			t.Error("contents should be shared, not copied per model")
		}
		if call.SystemInstruction != "sys" || call.Config.ResponseMIMEType != "application/json" {
			t.Errorf("call = %+v", call)
		}
	}
	if b.seen[0].Model != "A" || b.seen[1].Model != "B" {
		t.Error("per-call model should vary")
	}
}

func TestGenerate_CallerQueueOverride(t *testing.T) {
	b := &scriptedBackend{script: map[string][]result{
		"override": {{text: "ok"}},
	}}
	o := newTestOrchestrator(b, &recordingSleeper{}, testSettings("A", "B"))
	req := textRequest()
	req.Options.ModelQueue = []string{"override"}

	if _, err := o.Generate(context.Background(), "key", req); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(b.calls) != 1 || b.calls[0] != "override" {
		t.Errorf("calls = %v", b.calls)
	}
}

func TestGenerate_OpenCircuitSkipsModel(t *testing.T) {
	b := &scriptedBackend{script: map[string][]result{
		"A": {{err: statusErr(404, "", "not found")}},
		"B": {{text: "ok"}},
	}}
	ht := NewHealthTracker(1, time.Hour)
	o := newTestOrchestrator(b, &recordingSleeper{}, testSettings("A", "B"), WithHealthTracker(ht))

	for i := 0; i < 2; i++ {
		if _, err := o.Generate(context.Background(), "key", textRequest()); err != nil {
			t.Fatalf("Generate #%d: %v", i, err)
		}
	}
	if b.count("A") != 1 {
		t.Errorf("A should be skipped once its circuit opens, calls = %v", b.calls)
	}
}

// halfOpenAbort opens A's circuit, lets the interval pass, and runs one
// half-open call that ends with the given abort. It returns the backend and
// the clock so callers can check that A is tried again afterwards.
func halfOpenAbort(t *testing.T, ctx context.Context, abort result, sleeper Sleeper) (*scriptedBackend, *Orchestrator, *fakeClock) {
	t.Helper()
	b := &scriptedBackend{script: map[string][]result{
		"A": {{err: statusErr(404, "", "not found")}, abort, {text: "recovered"}},
		"B": {{text: "fallback"}},
	}}
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	ht := NewHealthTracker(1, time.Minute)
	ht.now = clock.now
	cfg := testSettings("A", "B")
	cfg.Retry.MaxRetries = 1
	o := newTestOrchestrator(b, sleeper, cfg, WithHealthTracker(ht))

	if text, err := o.Generate(context.Background(), "key", textRequest()); err != nil || text != "fallback" {
		t.Fatalf("first Generate = %q, %v", text, err)
	}
	if ht.Breaker("A").State() != StateOpen {
		t.Fatalf("A should be open, got %s", ht.Breaker("A").State())
	}

	clock.advance(2 * time.Minute)
	if _, err := o.Generate(ctx, "key", textRequest()); err == nil {
		t.Fatal("half-open call should have aborted")
	}
	if b.count("A") != 2 {
		t.Fatalf("A calls = %d, want 2", b.count("A"))
	}
	return b, o, clock
}

func assertRecovers(t *testing.T, b *scriptedBackend, o *Orchestrator, clock *fakeClock) {
	t.Helper()
	clock.advance(time.Hour)
	text, err := o.Generate(context.Background(), "key", textRequest())
	if err != nil {
		t.Fatalf("Generate after abort: %v", err)
	}
	if text != "recovered" {
		t.Errorf("text = %q, A should be tried again after an aborted half-open call", text)
	}
	if b.count("A") != 3 {
		t.Errorf("A calls = %d, want 3", b.count("A"))
	}
}

func TestGenerate_HalfOpenAuthErrorReleasesCircuit(t *testing.T) {
	b, o, clock := halfOpenAbort(t, context.Background(), result{err: statusErr(401, "UNAUTHENTICATED", "bad key")}, &recordingSleeper{})
	assertRecovers(t, b, o, clock)
}

func TestGenerate_HalfOpenMalformedReleasesCircuit(t *testing.T) {
	b, o, clock := halfOpenAbort(t, context.Background(), result{err: statusErr(400, "INVALID_ARGUMENT", "Invalid JSON payload received")}, &recordingSleeper{})
	assertRecovers(t, b, o, clock)
}

func TestGenerate_HalfOpenCancelReleasesCircuit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// The half-open call fails retryably and the caller goes away during the backoff.
	sleeper := SleeperFunc(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	})
	b, o, clock := halfOpenAbort(t, ctx, result{err: statusErr(503, "UNAVAILABLE", "overloaded")}, sleeper)
	assertRecovers(t, b, o, clock)
}

func TestResolveQueue(t *testing.T) {
	if got := ResolveQueue(nil, nil); len(got) != len(config.DefaultModelQueue) {
		t.Errorf("default queue = %v", got)
	}
	if got := ResolveQueue(nil, []string{"x", ""}); len(got) != 1 || got[0] != "x" {
		t.Errorf("configured queue = %v", got)
	}
}

func TestBuildCall_MimeHintWithoutSchema(t *testing.T) {
	req := textRequest()
	req.Options.ResponseMIMEType = "text/plain"
	call := BuildCall("m", req, testSettings())
	if call.Config.ResponseMIMEType != "text/plain" || call.Config.ResponseSchema != nil {
		t.Errorf("config = %+v", call.Config)
	}
	if call.Config.Temperature != 0.7 || call.Config.TopK != 64 || call.Config.MaxOutputTokens != 2048 {
		t.Errorf("sampling params = %+v", call.Config)
	}
}
