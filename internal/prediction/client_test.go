package prediction

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/wava-studio/wava-gateway/internal/config"
	"github.com/wava-studio/wava-gateway/internal/types"
)

// fakeBackend returns the scripted statuses in order on Get; the last one repeats.
type fakeBackend struct {
	mu        sync.Mutex
	created   *types.Prediction
	statuses  []*types.Prediction
	createErr error
	getErr    error
	gets      int
	lastInput map[string]any
	lastVer   string
}

func (f *fakeBackend) Create(_ context.Context, version string, input map[string]any) (*types.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastVer, f.lastInput = version, input
	if f.createErr != nil {
		return nil, f.createErr
	}
	cp := *f.created
	return &cp, nil
}

func (f *fakeBackend) Get(_ context.Context, id string) (*types.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return nil, f.getErr
	}
	i := f.gets - 1
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	cp := *f.statuses[i]
	return &cp, nil
}

func job(status types.PredictionStatus) *types.Prediction {
	return &types.Prediction{ID: "p1", Status: status}
}

func testImageSettings(maxAttempts int) config.ImageModelsConfig {
	cfg := config.DefaultModelsConfig().Image
	cfg.MaxAttempts = maxAttempts
	return cfg
}

func newTestClient(b Backend, maxAttempts int) (*Client, *[]time.Duration) {
	var waits []time.Duration
	c := NewClient(b, Static(testImageSettings(maxAttempts)),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			waits = append(waits, d)
			return ctx.Err()
		}),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return c, &waits
}

func TestSubmitAndAwait_SucceedsAfterThreePolls(t *testing.T) {
	done := job(types.StatusSucceeded)
	done.Output = json.RawMessage(`["https://cdn.example/out-0.png","https://cdn.example/out-1.png"]`)
	b := &fakeBackend{
		created:  job(types.StatusStarting),
		statuses: []*types.Prediction{job(types.StatusQueued), job(types.StatusProcessing), done},
	}
	c, waits := newTestClient(b, 60)

	out, err := c.SubmitAndAwait(context.Background(), "v1", map[string]any{"prompt": "x"})
	if err != nil {
		t.Fatalf("SubmitAndAwait: %v", err)
	}
	if b.gets != 3 {
		t.Errorf("polls = %d, want 3", b.gets)
	}
	if len(*waits) != 3 || (*waits)[0] != 1500*time.Millisecond {
		t.Errorf("waits = %v, want three 1.5s waits", *waits)
	}
	first, err := out.First()
	if err != nil || first != "https://cdn.example/out-0.png" {
		t.Errorf("First = %q, %v", first, err)
	}
}

func TestSubmitAndAwait_TimeoutNotJobFailed(t *testing.T) {
	b := &fakeBackend{
		created:  job(types.StatusStarting),
		statuses: []*types.Prediction{job(types.StatusProcessing)},
	}
	c, _ := newTestClient(b, 5)

	_, err := c.SubmitAndAwait(context.Background(), "v1", nil)
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	var jf *JobFailedError
	if errors.As(err, &jf) {
		t.Error("timeout must not be reported as job failure")
	}
	if types.KindOf(err) != types.KindTimeout {
		t.Errorf("kind = %s", types.KindOf(err))
	}
	if b.gets != 5 || te.Attempts != 5 {
		t.Errorf("polls = %d (attempts %d), want 5", b.gets, te.Attempts)
	}
}

func TestSubmitAndAwait_Failed(t *testing.T) {
	failed := job(types.StatusFailed)
	failed.Error = json.RawMessage(`"CUDA out of memory"`)
	b := &fakeBackend{created: job(types.StatusStarting), statuses: []*types.Prediction{failed}}
	c, _ := newTestClient(b, 60)

	_, err := c.SubmitAndAwait(context.Background(), "v1", nil)
	var jf *JobFailedError
	if !errors.As(err, &jf) {
		t.Fatalf("expected JobFailedError, got %v", err)
	}
	if jf.Reason != "CUDA out of memory" || jf.Status != types.StatusFailed {
		t.Errorf("error = %+v", jf)
	}
}

func TestSubmitAndAwait_CanceledUsesStatusAsReason(t *testing.T) {
	b := &fakeBackend{created: job(types.StatusStarting), statuses: []*types.Prediction{job(types.StatusCanceled)}}
	c, _ := newTestClient(b, 60)

	_, err := c.SubmitAndAwait(context.Background(), "v1", nil)
	var jf *JobFailedError
	if !errors.As(err, &jf) || jf.Reason != "canceled" {
		t.Fatalf("expected canceled JobFailedError, got %v", err)
	}
}

func TestSubmitAndAwait_CreateErrorIsFatal(t *testing.T) {
	b := &fakeBackend{createErr: &UpstreamError{Op: "create", StatusCode: 422, Detail: "invalid version"}}
	c, _ := newTestClient(b, 60)

	_, err := c.SubmitAndAwait(context.Background(), "v1", nil)
	var ue *UpstreamError
	if !errors.As(err, &ue) || ue.Detail != "invalid version" {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if b.gets != 0 {
		t.Error("no polling after a failed create")
	}
}

func TestSubmitAndAwait_PollErrorIsFatal(t *testing.T) {
	b := &fakeBackend{created: job(types.StatusStarting), getErr: errors.New("connection reset")}
	c, _ := newTestClient(b, 60)

	if _, err := c.SubmitAndAwait(context.Background(), "v1", nil); err == nil {
		t.Fatal("expected error")
	}
	if b.gets != 1 {
		t.Errorf("gets = %d, want 1", b.gets)
	}
}

func TestSubmitAndAwait_AlreadyTerminalOnCreate(t *testing.T) {
	done := job(types.StatusSucceeded)
	done.Output = json.RawMessage(`"https://cdn.example/single.png"`)
	b := &fakeBackend{created: done}
	c, _ := newTestClient(b, 60)

	out, err := c.SubmitAndAwait(context.Background(), "v1", nil)
	if err != nil {
		t.Fatalf("SubmitAndAwait: %v", err)
	}
	if b.gets != 0 {
		t.Errorf("gets = %d, want 0", b.gets)
	}
	if first, _ := out.First(); first != "https://cdn.example/single.png" {
		t.Errorf("First = %q", first)
	}
}

func TestSubmitAndAwait_IgnoresRegression(t *testing.T) {
	done := job(types.StatusSucceeded)
	done.Output = json.RawMessage(`["u"]`)
	b := &fakeBackend{
		created:  job(types.StatusStarting),
		statuses: []*types.Prediction{job(types.StatusProcessing), job(types.StatusQueued), done},
	}
	c, _ := newTestClient(b, 60)

	if _, err := c.SubmitAndAwait(context.Background(), "v1", nil); err != nil {
		t.Fatalf("SubmitAndAwait: %v", err)
	}
}

func TestSubmitAndAwait_ContextCancelled(t *testing.T) {
	b := &fakeBackend{created: job(types.StatusStarting), statuses: []*types.Prediction{job(types.StatusProcessing)}}
	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(b, Static(testImageSettings(60)), WithSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	_, err := c.SubmitAndAwait(ctx, "v1", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if b.gets != 0 {
		t.Errorf("gets = %d, want 0", b.gets)
	}
}

func TestSubmitForFirst_EmptyOutput(t *testing.T) {
	done := job(types.StatusSucceeded)
	done.Output = json.RawMessage(`[]`)
	b := &fakeBackend{created: done}
	c, _ := newTestClient(b, 60)

	_, err := c.SubmitForFirst(context.Background(), "v1", nil)
	if types.KindOf(err) != types.KindJobFailed {
		t.Fatalf("kind = %s, want JOB_FAILED (err %v)", types.KindOf(err), err)
	}
}

func TestRenderStandard_Input(t *testing.T) {
	done := job(types.StatusSucceeded)
	done.Output = json.RawMessage(`["https://cdn.example/a.png"]`)
	b := &fakeBackend{created: done}
	c, _ := newTestClient(b, 60)

	url, err := c.RenderStandard(context.Background(), "a red sneaker", 0, 768)
	if err != nil {
		t.Fatalf("RenderStandard: %v", err)
	}
	if url != "https://cdn.example/a.png" {
		t.Errorf("url = %q", url)
	}
	want := config.DefaultModelsConfig().Image.Standard
	if b.lastVer != want.Version {
		t.Errorf("version = %q", b.lastVer)
	}
	if b.lastInput["width"] != 1024 || b.lastInput["height"] != 768 {
		t.Errorf("size = %v x %v", b.lastInput["width"], b.lastInput["height"])
	}
	if b.lastInput["scheduler"] != "K_EULER" || b.lastInput["apply_watermark"] != false {
		t.Errorf("input = %v", b.lastInput)
	}
}

func TestRenderControlNet_Resolution(t *testing.T) {
	done := job(types.StatusSucceeded)
	done.Output = json.RawMessage(`["https://cdn.example/edges.png","https://cdn.example/b.png"]`)

	tests := []struct {
		w, h int
		want int
	}{
		{800, 1200, 1200},
		{0, 0, 512},
		{1024, 0, 512},
	}
	for _, tt := range tests {
		b := &fakeBackend{created: done}
		c, _ := newTestClient(b, 60)
		if _, err := c.RenderControlNet(context.Background(), "data:image/jpeg;base64,AAA", "p", tt.w, tt.h); err != nil {
			t.Fatalf("RenderControlNet: %v", err)
		}
		if got := b.lastInput["image_resolution"]; got != tt.want {
			t.Errorf("%dx%d: resolution = %v, want %d", tt.w, tt.h, got, tt.want)
		}
		if b.lastInput["low_threshold"] != 100 || b.lastInput["high_threshold"] != 200 {
			t.Errorf("thresholds = %v/%v", b.lastInput["low_threshold"], b.lastInput["high_threshold"])
		}
	}
}

func TestOutput(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{`["a","b"]`, []string{"a", "b"}},
		{`"single"`, []string{"single"}},
		{`null`, nil},
		{``, nil},
		{`["", "x"]`, []string{"x"}},
	}
	for _, tt := range tests {
		got := Output(tt.raw).All()
		if len(got) != len(tt.want) {
			t.Errorf("All(%s) = %v, want %v", tt.raw, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("All(%s)[%d] = %q, want %q", tt.raw, i, got[i], tt.want[i])
			}
		}
	}
	if _, err := Output(`[]`).First(); !errors.Is(err, ErrNoOutput) {
		t.Errorf("First on empty = %v", err)
	}
}
