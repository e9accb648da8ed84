// Package orchestrator coordinates the analysis request lifecycle: it checks
// preconditions, enforces the in-flight ceiling, dispatches frames to the
// inference client, and publishes lifecycle events on the bus. It is the only
// writer of the in-flight set.
package orchestrator

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/echosight/echosight/internal/config"
	"github.com/echosight/echosight/internal/inference"
	"github.com/echosight/echosight/pkg/analysis"
	"github.com/echosight/echosight/pkg/bus"
	"github.com/echosight/echosight/pkg/errors"
	"github.com/echosight/echosight/pkg/events"
	"github.com/echosight/echosight/pkg/frames"
	"github.com/echosight/echosight/pkg/logging"
)

// Analyzer is the slice of the inference client the orchestrator depends on.
type Analyzer interface {
	Analyze(ctx context.Context, frame *frames.Frame, prompt string, opts inference.AnalyzeOptions) (*analysis.Result, error)
	Connected() bool
}

type inflightEntry struct {
	request *analysis.Request
	cancel  context.CancelFunc
}

// Orchestrator owns the in-flight request set and the realtime polling loop.
type Orchestrator struct {
	client Analyzer
	source frames.Source
	bus    *bus.Bus
	logger *zerolog.Logger

	requests config.RequestConfig
	realtime config.RealtimeConfig

	mu         sync.Mutex
	inflight   map[uuid.UUID]*inflightEntry
	polling    bool
	pollCancel context.CancelFunc
	down       bool

	pollWG     sync.WaitGroup
	inflightWG sync.WaitGroup
}

// New wires an orchestrator. The bus receives analysis lifecycle events,
// notices for precondition failures, and realtime mode transitions.
func New(cfg *config.Config, client Analyzer, source frames.Source, b *bus.Bus, logger *zerolog.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.Default()
	}
	log := logger.With().Str("component", "orchestrator").Logger()

	return &Orchestrator{
		client:   client,
		source:   source,
		bus:      b,
		logger:   &log,
		requests: cfg.Requests,
		realtime: cfg.Realtime,
		inflight: make(map[uuid.UUID]*inflightEntry),
	}
}

// AnalyzeFrame runs one analysis end to end: preconditions, admission into
// the in-flight set, dispatch, and lifecycle events. Precondition failures
// surface a Notice on the bus and never produce analysis events.
func (o *Orchestrator) AnalyzeFrame(ctx context.Context, opts ...AnalyzeOption) (*analysis.Result, error) {
	params := newAnalyzeParams(o.requests)
	for _, opt := range opts {
		opt(&params)
	}

	// Preconditions, cheapest first. Each failure is narrated, not
	// surfaced as an analysis error.
	if !o.source.Active() {
		o.notice(ctx, events.NoticeWarning, "Camera is not active. Start the camera to analyze.", !params.isRealtime)
		return nil, errors.NewPreconditionError("camera", "frame source inactive")
	}
	if !o.client.Connected() {
		o.notice(ctx, events.NoticeWarning, "Not connected to the vision server.", !params.isRealtime)
		return nil, errors.NewPreconditionError("connection", "inference server unreachable")
	}
	frame, err := o.source.CurrentFrame()
	if err != nil || frame == nil {
		o.notice(ctx, events.NoticeWarning, "No camera frame is available.", !params.isRealtime)
		return nil, errors.NewPreconditionError("frame", "no frame available")
	}

	requestID := uuid.New()
	dispatchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	request := &analysis.Request{
		ID:          requestID,
		Prompt:      params.prompt,
		MaxTokens:   params.maxTokens,
		Temperature: params.temperature,
		IsRealtime:  params.isRealtime,
		Timeout:     params.timeout,
	}

	if err := o.admit(requestID, request, cancel); err != nil {
		if errors.Is(err, errors.ErrOverloaded) && !params.isRealtime {
			o.notice(ctx, events.NoticeInfo, "Analysis already in progress. Please wait.", true)
		}
		return nil, err
	}
	defer o.release(requestID)

	o.bus.Publish(ctx, events.AnalysisStarted{
		RequestID:  requestID.String(),
		Prompt:     params.prompt,
		IsRealtime: params.isRealtime,
	})

	result, err := o.client.Analyze(dispatchCtx, frame, params.prompt, inference.AnalyzeOptions{
		RequestID:   requestID,
		IsRealtime:  params.isRealtime,
		MaxTokens:   params.maxTokens,
		Temperature: params.temperature,
		Timeout:     params.timeout,
	})
	if err != nil {
		o.logger.Warn().
			Str("request_id", requestID.String()).
			Bool("realtime", params.isRealtime).
			Err(err).
			Msg("Analysis failed")
		o.bus.Publish(ctx, events.AnalysisError{
			RequestID:  requestID.String(),
			Class:      string(errors.Classify(err)),
			Message:    err.Error(),
			IsRealtime: params.isRealtime,
		})
		return nil, err
	}

	o.logger.Debug().
		Str("request_id", requestID.String()).
		Dur("response_time", result.ResponseTime).
		Int("confidence", result.Confidence).
		Msg("Analysis completed")
	o.bus.Publish(ctx, events.AnalysisCompleted{Result: *result})
	return result, nil
}

// admit adds the request to the in-flight set unless the orchestrator is shut
// down or the concurrency ceiling is reached.
func (o *Orchestrator) admit(id uuid.UUID, request *analysis.Request, cancel context.CancelFunc) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.down {
		return errors.ErrShutdown
	}
	if len(o.inflight) >= o.requests.MaxConcurrentRequests {
		return errors.ErrOverloaded
	}
	o.inflight[id] = &inflightEntry{request: request, cancel: cancel}
	o.inflightWG.Add(1)
	return nil
}

// release removes the request from the in-flight set. Safe against double
// release; the waitgroup is only decremented for a present entry.
func (o *Orchestrator) release(id uuid.UUID) {
	o.mu.Lock()
	_, present := o.inflight[id]
	delete(o.inflight, id)
	o.mu.Unlock()
	if present {
		o.inflightWG.Done()
	}
}

// InFlight reports the number of requests currently dispatched.
func (o *Orchestrator) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.inflight)
}

func (o *Orchestrator) atCapacity() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.inflight) >= o.requests.MaxConcurrentRequests
}

func (o *Orchestrator) notice(ctx context.Context, level events.NoticeLevel, message string, spoken bool) {
	o.bus.Publish(ctx, events.Notice{Level: level, Message: message, Spoken: spoken})
}

// Shutdown stops the polling loop, cancels every in-flight request, and waits
// for the set to drain. Calling it more than once is a no-op.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	if o.down {
		o.mu.Unlock()
		return
	}
	o.down = true
	wasPolling := o.polling
	o.polling = false
	cancelPoll := o.pollCancel
	o.pollCancel = nil

	cancels := make([]context.CancelFunc, 0, len(o.inflight))
	for _, entry := range o.inflight {
		cancels = append(cancels, entry.cancel)
	}
	o.mu.Unlock()

	if cancelPoll != nil {
		cancelPoll()
	}
	o.pollWG.Wait()

	for _, cancel := range cancels {
		cancel()
	}
	o.inflightWG.Wait()

	if wasPolling {
		o.bus.Publish(context.Background(), events.RealtimeChanged{Enabled: false})
	}
	o.logger.Info().Msg("Orchestrator shut down")
}
