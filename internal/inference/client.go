// Package inference implements the client for the remote vision-language
// server. It owns connection health, the two-tier timeout scheme, image
// size adaptation, error classification, and retry with exponential
// backoff. The orchestrator above it only ever sees a classified error or
// a finished result.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/echosight/echosight/internal/config"
	"github.com/echosight/echosight/pkg/analysis"
	"github.com/echosight/echosight/pkg/bus"
	"github.com/echosight/echosight/pkg/errors"
	"github.com/echosight/echosight/pkg/frames"
	"github.com/echosight/echosight/pkg/logging"
	"github.com/echosight/echosight/pkg/retry"
)

// Client talks to the OpenAI-compatible vision endpoint.
type Client struct {
	baseURL string
	apiKey  string
	model   string

	manualTimeout   time.Duration
	realtimeTimeout time.Duration
	healthInterval  time.Duration
	healthTimeout   time.Duration
	reconnectDelay  time.Duration
	warmupOnConnect bool

	genParams  config.RequestConfig
	retryCfg   config.RetryConfig
	imageCfg   config.ImageConfig
	confidence confidenceBand

	http   *http.Client
	bus    *bus.Bus
	logger *zerolog.Logger
	conn   connection

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates an inference client. The bus receives ConnectionChanged
// events; nothing else is published from this layer.
func New(cfg *config.Config, b *bus.Bus, logger *zerolog.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	log := logger.With().Str("component", "inference").Logger()

	return &Client{
		baseURL:         cfg.Server.BaseURL,
		apiKey:          cfg.Server.APIKey,
		model:           cfg.Server.Model,
		manualTimeout:   cfg.Requests.ManualTimeout,
		realtimeTimeout: cfg.Requests.RealtimeTimeout,
		healthInterval:  cfg.Server.HealthCheckInterval,
		healthTimeout:   cfg.Server.HealthCheckTimeout,
		reconnectDelay:  cfg.Server.ReconnectDelay,
		warmupOnConnect: cfg.Server.WarmupOnConnect,
		genParams:       cfg.Requests,
		retryCfg:        cfg.Retry,
		imageCfg:        cfg.Image,
		confidence: confidenceBand{
			min: cfg.Requests.MinConfidence,
			max: cfg.Requests.MaxConfidence,
		},
		// Per-request deadlines come from contexts, so the transport
		// itself carries no timeout.
		http:   &http.Client{},
		bus:    b,
		logger: &log,
		stopCh: make(chan struct{}),
	}
}

// AnalyzeOptions tune a single analysis request.
type AnalyzeOptions struct {
	// RequestID correlates the result with the orchestrator's in-flight
	// record. A zero value gets a fresh ID.
	RequestID uuid.UUID

	// IsRealtime selects the short timeout tier and disables retrying
	// timeouts so the polling loop fails fast.
	IsRealtime bool

	// MaxTokens, Temperature, and Timeout override the configured
	// defaults when non-zero.
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Analyze sends one frame and prompt to the server and returns the
// narrated-ready result. Transient failures are retried internally
// according to the configured policy; the caller only sees the terminal
// outcome.
func (c *Client) Analyze(ctx context.Context, frame *frames.Frame, prompt string, opts AnalyzeOptions) (*analysis.Result, error) {
	if prompt == "" {
		return nil, &errors.ValidationError{Field: "prompt", Message: "must not be empty"}
	}
	if !c.Connected() {
		return nil, errors.ErrNotConnected
	}

	payload, err := c.preparePayload(frame)
	if err != nil {
		return nil, err
	}

	requestID := opts.RequestID
	if requestID == uuid.Nil {
		requestID = uuid.New()
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		if opts.IsRealtime {
			timeout = c.realtimeTimeout
		} else {
			timeout = c.manualTimeout
		}
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.genParams.MaxTokens
	}
	temperature := opts.Temperature
	if temperature <= 0 {
		temperature = c.genParams.Temperature
	}

	body := chatRequest{
		Model: c.model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "image", ImageURL: &imageURL{URL: payload}},
				{Type: "text", Text: prompt},
			},
		}},
		MaxTokens:         maxTokens,
		Temperature:       temperature,
		TopP:              c.genParams.TopP,
		RepetitionPenalty: c.genParams.RepetitionPenalty,
		Stream:            false,
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding request")
	}

	started := time.Now()
	var response *chatResponse

	policy := c.retryPolicy(opts.IsRealtime)
	err = retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			c.logger.Debug().
				Str("request_id", requestID.String()).
				Int("attempt", attempt).
				Msg("Retrying inference request")
		}
		resp, err := c.dispatch(ctx, encoded, timeout)
		if err != nil {
			return err
		}
		response = resp
		return nil
	})
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(started)
	content := response.Choices[0].Message.Content

	return &analysis.Result{
		RequestID:    requestID,
		Content:      content,
		Confidence:   c.confidence.score(content, elapsed),
		ResponseTime: elapsed,
		Timestamp:    time.Now(),
		IsRealtime:   opts.IsRealtime,
		Model:        response.Model,
		Usage:        response.Usage,
	}, nil
}

// retryPolicy builds the per-mode retry policy. Realtime mode adds
// timeouts to the deny-list: a slow tick is abandoned, not retried, so the
// polling loop stays responsive. Manual requests may retry a timeout.
func (c *Client) retryPolicy(isRealtime bool) retry.Policy {
	policy := retry.Policy{
		MaxAttempts: c.retryCfg.MaxAttempts,
		BaseDelay:   c.retryCfg.BaseDelay,
		MaxDelay:    c.retryCfg.MaxDelay,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
	if isRealtime {
		policy.Retryable = func(err error) bool {
			if errors.IsTimeout(err) {
				return false
			}
			return retry.DefaultRetryable(err)
		}
	} else {
		policy.Retryable = retry.DefaultRetryable
	}
	return policy
}

// dispatch performs one POST /v1/chat/completions attempt under its own
// deadline and classifies any failure.
func (c *Client) dispatch(ctx context.Context, body []byte, timeout time.Duration) (*chatResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrapf(err, "creating request")
	}
	c.applyHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, errors.NewTimeoutError("analyze", timeout, err)
		}
		return nil, errors.Wrapf(err, "sending request")
	}
	defer drainAndClose(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := "request failed"
		var errBody errorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errBody); decodeErr == nil && errBody.Error != "" {
			message = errBody.Error
		}
		return nil, errors.NewAPIError("/v1/chat/completions", resp.StatusCode, message)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &errors.InvalidResponseError{
			Endpoint: "/v1/chat/completions",
			Message:  "decoding response payload",
			Err:      err,
		}
	}
	if len(parsed.Choices) == 0 {
		return nil, &errors.InvalidResponseError{
			Endpoint: "/v1/chat/completions",
			Message:  "response has no choices",
		}
	}
	return &parsed, nil
}

// Models lists the models the server advertises.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, errors.Wrapf(err, "creating models request")
	}
	c.applyHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "listing models")
	}
	defer drainAndClose(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.NewAPIError("/v1/models", resp.StatusCode, "listing models failed")
	}

	var parsed modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &errors.InvalidResponseError{Endpoint: "/v1/models", Message: "decoding models payload", Err: err}
	}

	ids := make([]string, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// Stats fetches the server's performance counters.
func (c *Client) Stats(ctx context.Context) (*ServerStats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/stats", nil)
	if err != nil {
		return nil, errors.Wrapf(err, "creating stats request")
	}
	c.applyHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching stats")
	}
	defer drainAndClose(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.NewAPIError("/stats", resp.StatusCode, "fetching stats failed")
	}

	var parsed ServerStats
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &errors.InvalidResponseError{Endpoint: "/stats", Message: "decoding stats payload", Err: err}
	}
	return &parsed, nil
}

// applyHeaders sets the common request headers.
func (c *Client) applyHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if req.Method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// drainAndClose empties the body so the connection can be reused.
func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
