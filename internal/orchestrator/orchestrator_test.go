package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echosight/echosight/internal/config"
	"github.com/echosight/echosight/internal/inference"
	"github.com/echosight/echosight/internal/prompts"
	"github.com/echosight/echosight/pkg/analysis"
	"github.com/echosight/echosight/pkg/bus"
	"github.com/echosight/echosight/pkg/errors"
	"github.com/echosight/echosight/pkg/events"
	"github.com/echosight/echosight/pkg/frames"
	"github.com/echosight/echosight/pkg/logging"
)

// stubSource is a controllable frames.Source.
type stubSource struct {
	active  atomic.Bool
	nilNext atomic.Bool
}

func (s *stubSource) CurrentFrame() (*frames.Frame, error) {
	if s.nilNext.Load() {
		return nil, errors.ErrCaptureUnavailable
	}
	return &frames.Frame{
		PixelData: []byte{1, 2, 3},
		Width:     640,
		Height:    480,
		Timestamp: time.Now(),
	}, nil
}

func (s *stubSource) Active() bool { return s.active.Load() }

// stubAnalyzer records calls and can block or fail on demand.
type stubAnalyzer struct {
	connected atomic.Bool
	err       error
	block     chan struct{}

	mu    sync.Mutex
	calls []inference.AnalyzeOptions
	texts []string
}

func (a *stubAnalyzer) Analyze(ctx context.Context, frame *frames.Frame, prompt string, opts inference.AnalyzeOptions) (*analysis.Result, error) {
	a.mu.Lock()
	a.calls = append(a.calls, opts)
	a.texts = append(a.texts, prompt)
	a.mu.Unlock()

	if a.block != nil {
		select {
		case <-a.block:
		case <-ctx.Done():
			return nil, errors.ErrCanceled
		}
	}
	if a.err != nil {
		return nil, a.err
	}
	return &analysis.Result{
		RequestID:    opts.RequestID,
		Content:      "A quiet room with a desk.",
		Confidence:   72,
		ResponseTime: 10 * time.Millisecond,
		Timestamp:    time.Now(),
		IsRealtime:   opts.IsRealtime,
		Model:        "test-model",
	}, nil
}

func (a *stubAnalyzer) Connected() bool { return a.connected.Load() }

func (a *stubAnalyzer) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

func (a *stubAnalyzer) lastPrompt() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.texts) == 0 {
		return ""
	}
	return a.texts[len(a.texts)-1]
}

// recorder collects published events by type.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) record(ctx context.Context, evt events.Event) error {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
	return nil
}

func (r *recorder) ofType(t events.Type) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, evt := range r.events {
		if evt.Type == t {
			out = append(out, evt)
		}
	}
	return out
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *stubAnalyzer, *stubSource, *recorder) {
	t.Helper()

	cfg := config.Default()
	cfg.Realtime.Interval = 10 * time.Millisecond

	source := &stubSource{}
	source.active.Store(true)
	client := &stubAnalyzer{}
	client.connected.Store(true)

	b := bus.New("test")
	t.Cleanup(b.Close)

	rec := &recorder{}
	for _, typ := range []events.Type{
		events.TypeAnalysisStarted,
		events.TypeAnalysisCompleted,
		events.TypeAnalysisError,
		events.TypeNotice,
		events.TypeRealtimeChanged,
	} {
		b.Subscribe(typ, rec.record)
	}

	o := New(cfg, client, source, b, logging.NewNopLogger())
	t.Cleanup(o.Shutdown)
	return o, client, source, rec
}

func TestAnalyzeFrameHappyPath(t *testing.T) {
	o, client, _, rec := newTestOrchestrator(t)

	result, err := o.AnalyzeFrame(context.Background(), WithPrompt("What is on the desk?"))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.NotEqual(t, uuid.Nil, result.RequestID)
	assert.Equal(t, "A quiet room with a desk.", result.Content)
	assert.Zero(t, o.InFlight())

	started := rec.ofType(events.TypeAnalysisStarted)
	require.Len(t, started, 1)
	payload := started[0].Payload.(events.AnalysisStarted)
	assert.Equal(t, result.RequestID.String(), payload.RequestID)
	assert.Equal(t, "What is on the desk?", payload.Prompt)
	assert.False(t, payload.IsRealtime)

	completed := rec.ofType(events.TypeAnalysisCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, result.RequestID, completed[0].Payload.(events.AnalysisCompleted).Result.RequestID)

	assert.Equal(t, "What is on the desk?", client.lastPrompt())
	assert.Empty(t, rec.ofType(events.TypeAnalysisError))
}

func TestAnalyzeFramePreconditionOrder(t *testing.T) {
	o, client, source, rec := newTestOrchestrator(t)

	// Camera first.
	source.active.Store(false)
	_, err := o.AnalyzeFrame(context.Background())
	var precond *errors.PreconditionError
	require.ErrorAs(t, err, &precond)
	assert.Equal(t, "camera", precond.Precondition)

	// Then connection.
	source.active.Store(true)
	client.connected.Store(false)
	_, err = o.AnalyzeFrame(context.Background())
	require.ErrorAs(t, err, &precond)
	assert.Equal(t, "connection", precond.Precondition)

	// Then frame availability.
	client.connected.Store(true)
	source.nilNext.Store(true)
	_, err = o.AnalyzeFrame(context.Background())
	require.ErrorAs(t, err, &precond)
	assert.Equal(t, "frame", precond.Precondition)

	// Precondition failures narrate a notice and never touch the
	// analysis event stream or the client.
	assert.Len(t, rec.ofType(events.TypeNotice), 3)
	assert.Empty(t, rec.ofType(events.TypeAnalysisStarted))
	assert.Empty(t, rec.ofType(events.TypeAnalysisError))
	assert.Zero(t, client.callCount())
}

func TestAnalyzeFrameErrorPublishesAnalysisError(t *testing.T) {
	o, client, _, rec := newTestOrchestrator(t)
	client.err = errors.NewAPIError("/v1/chat/completions", 503, "overloaded")

	_, err := o.AnalyzeFrame(context.Background())
	require.Error(t, err)
	assert.Zero(t, o.InFlight())

	errs := rec.ofType(events.TypeAnalysisError)
	require.Len(t, errs, 1)
	payload := errs[0].Payload.(events.AnalysisError)
	assert.Equal(t, string(errors.ClassOverloaded), payload.Class)
	assert.False(t, payload.IsRealtime)
	assert.Empty(t, rec.ofType(events.TypeAnalysisCompleted))
}

func TestAnalyzeFrameConcurrencyCeiling(t *testing.T) {
	o, client, _, rec := newTestOrchestrator(t)
	client.block = make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < o.requests.MaxConcurrentRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.AnalyzeFrame(context.Background())
		}()
	}

	require.Eventually(t, func() bool {
		return o.InFlight() == o.requests.MaxConcurrentRequests
	}, time.Second, 2*time.Millisecond)

	// One more over the ceiling is rejected with a busy notice.
	_, err := o.AnalyzeFrame(context.Background())
	assert.ErrorIs(t, err, errors.ErrOverloaded)
	assert.Equal(t, o.requests.MaxConcurrentRequests, o.InFlight())
	require.Len(t, rec.ofType(events.TypeNotice), 1)

	close(client.block)
	wg.Wait()
	assert.Zero(t, o.InFlight())
}

func TestShutdownCancelsInFlight(t *testing.T) {
	o, client, _, _ := newTestOrchestrator(t)
	client.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := o.AnalyzeFrame(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool { return o.InFlight() == 1 }, time.Second, 2*time.Millisecond)

	o.Shutdown()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("in-flight request not canceled by shutdown")
	}
	assert.Zero(t, o.InFlight())

	// Idempotent.
	o.Shutdown()

	_, err := o.AnalyzeFrame(context.Background())
	assert.ErrorIs(t, err, errors.ErrShutdown)
}

func TestRealtimeLoop(t *testing.T) {
	o, client, _, rec := newTestOrchestrator(t)

	o.SetRealtime(true)
	assert.True(t, o.Realtime())

	require.Eventually(t, func() bool { return client.callCount() >= 2 }, time.Second, 5*time.Millisecond)

	// Ticks use the realtime profile regardless of user prompt settings.
	assert.Equal(t, prompts.RealtimeBrief, client.lastPrompt())
	client.mu.Lock()
	opts := client.calls[0]
	client.mu.Unlock()
	assert.True(t, opts.IsRealtime)
	assert.Equal(t, o.requests.RealtimeMaxTokens, opts.MaxTokens)
	assert.Equal(t, o.requests.RealtimeTimeout, opts.Timeout)

	o.SetRealtime(false)
	assert.False(t, o.Realtime())

	changes := rec.ofType(events.TypeRealtimeChanged)
	require.GreaterOrEqual(t, len(changes), 2)
	assert.True(t, changes[0].Payload.(events.RealtimeChanged).Enabled)
	assert.False(t, changes[len(changes)-1].Payload.(events.RealtimeChanged).Enabled)

	// Double disable is a no-op.
	o.SetRealtime(false)
}

func TestRealtimeSkipsTicksAtCapacity(t *testing.T) {
	o, client, _, _ := newTestOrchestrator(t)
	client.block = make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < o.requests.MaxConcurrentRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.AnalyzeFrame(context.Background())
		}()
	}
	require.Eventually(t, func() bool {
		return o.InFlight() == o.requests.MaxConcurrentRequests
	}, time.Second, 2*time.Millisecond)
	manualCalls := client.callCount()

	o.SetRealtime(true)
	time.Sleep(60 * time.Millisecond)

	// Every tick during saturation skips; nothing queued behind the ceiling.
	assert.Equal(t, manualCalls, client.callCount())
	assert.Equal(t, o.requests.MaxConcurrentRequests, o.InFlight())

	close(client.block)
	wg.Wait()
	o.SetRealtime(false)
}

func TestRealtimeStopsOnCameraLoss(t *testing.T) {
	o, _, source, rec := newTestOrchestrator(t)

	o.SetRealtime(true)
	source.active.Store(false)

	require.Eventually(t, func() bool { return !o.Realtime() }, time.Second, 5*time.Millisecond)

	changes := rec.ofType(events.TypeRealtimeChanged)
	require.GreaterOrEqual(t, len(changes), 2)
	assert.False(t, changes[len(changes)-1].Payload.(events.RealtimeChanged).Enabled)
}

func TestRealtimeStopsOnDisconnect(t *testing.T) {
	o, client, _, _ := newTestOrchestrator(t)

	o.SetRealtime(true)
	client.connected.Store(false)

	require.Eventually(t, func() bool { return !o.Realtime() }, time.Second, 5*time.Millisecond)
}

func TestRealtimeTickErrorKeepsLoopAlive(t *testing.T) {
	o, client, _, _ := newTestOrchestrator(t)
	client.err = errors.NewTimeoutError("analyze", 8*time.Second, nil)

	o.SetRealtime(true)
	require.Eventually(t, func() bool { return client.callCount() >= 3 }, time.Second, 5*time.Millisecond)
	assert.True(t, o.Realtime(), "tick failures must not stop the loop")
	o.SetRealtime(false)
}
