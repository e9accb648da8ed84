package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echosight/echosight/internal/config"
	"github.com/echosight/echosight/pkg/bus"
	"github.com/echosight/echosight/pkg/errors"
	"github.com/echosight/echosight/pkg/frames"
	"github.com/echosight/echosight/pkg/logging"
	"github.com/echosight/echosight/pkg/retry"
)

func healthyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status": "healthy",
			"model":  "test-model",
		})
	}
}

func chatHandler(content string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{
				"prompt_tokens":     120,
				"completion_tokens": 40,
				"total_tokens":      160,
			},
		})
	}
}

// newTestClient builds a client against the given mux, fast-tuned for tests,
// and marks it connected through a real health probe.
func newTestClient(t *testing.T, mux *http.ServeMux) (*Client, *bus.Bus) {
	t.Helper()

	if mux == nil {
		mux = http.NewServeMux()
	}
	mux.HandleFunc("/health", healthyHandler())

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.Server.BaseURL = srv.URL
	cfg.Server.WarmupOnConnect = false
	cfg.Retry.MaxAttempts = 3
	cfg.Retry.BaseDelay = 2 * time.Millisecond
	cfg.Retry.MaxDelay = 20 * time.Millisecond

	b := bus.New("test")
	t.Cleanup(b.Close)

	c := New(cfg, b, logging.NewNopLogger())
	t.Cleanup(c.Stop)

	require.True(t, c.CheckConnection(context.Background()), "test server should report healthy")
	return c, b
}

func testFrame() *frames.Frame {
	return &frames.Frame{
		PixelData: []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10},
		Width:     640,
		Height:    480,
		Timestamp: time.Now(),
	}
}

func TestAnalyzeHappyPath(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", chatHandler("A kitchen with a red mug on the counter."))
	c, _ := newTestClient(t, mux)

	requestID := uuid.New()
	result, err := c.Analyze(context.Background(), testFrame(), "Describe the scene", AnalyzeOptions{
		RequestID: requestID,
	})
	require.NoError(t, err)

	assert.Equal(t, requestID, result.RequestID)
	assert.Equal(t, "A kitchen with a red mug on the counter.", result.Content)
	assert.Equal(t, "test-model", result.Model)
	assert.Equal(t, 160, result.Usage.TotalTokens)
	assert.False(t, result.IsRealtime)
	assert.GreaterOrEqual(t, result.Confidence, c.confidence.min)
	assert.LessOrEqual(t, result.Confidence, c.confidence.max)
	assert.Greater(t, result.ResponseTime, time.Duration(0))
}

func TestAnalyzeGeneratesRequestID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", chatHandler("ok"))
	c, _ := newTestClient(t, mux)

	result, err := c.Analyze(context.Background(), testFrame(), "Describe", AnalyzeOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, result.RequestID)
}

func TestAnalyzeNotConnected(t *testing.T) {
	cfg := config.Default()
	cfg.Server.BaseURL = "http://127.0.0.1:1"
	b := bus.New("test")
	t.Cleanup(b.Close)
	c := New(cfg, b, logging.NewNopLogger())
	t.Cleanup(c.Stop)

	_, err := c.Analyze(context.Background(), testFrame(), "Describe", AnalyzeOptions{})
	assert.ErrorIs(t, err, errors.ErrNotConnected)
}

func TestAnalyzeEmptyPrompt(t *testing.T) {
	c, _ := newTestClient(t, nil)

	_, err := c.Analyze(context.Background(), testFrame(), "", AnalyzeOptions{})
	var verr *errors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "prompt", verr.Field)
}

func TestAnalyzeNilFrame(t *testing.T) {
	c, _ := newTestClient(t, nil)

	_, err := c.Analyze(context.Background(), nil, "Describe", AnalyzeOptions{})
	assert.ErrorIs(t, err, errors.ErrCaptureUnavailable)
}

func TestAnalyzeUnauthorizedNotRetried(t *testing.T) {
	var attempts atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid api key"})
	})
	c, _ := newTestClient(t, mux)

	_, err := c.Analyze(context.Background(), testFrame(), "Describe", AnalyzeOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnauthorized)
	assert.Equal(t, errors.ClassUnauthorized, errors.Classify(err))
	assert.Equal(t, int32(1), attempts.Load(), "auth failures must not be retried")
}

func TestAnalyzeInvalidResponseNotRetried(t *testing.T) {
	var attempts atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	})
	c, _ := newTestClient(t, mux)

	_, err := c.Analyze(context.Background(), testFrame(), "Describe", AnalyzeOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsInvalidResponse(err))
	assert.Equal(t, int32(1), attempts.Load())
}

func TestAnalyzeRetriesOverloadedThenSucceeds(t *testing.T) {
	var attempts atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		chatHandler("third time lucky")(w, r)
	})
	c, _ := newTestClient(t, mux)

	result, err := c.Analyze(context.Background(), testFrame(), "Describe", AnalyzeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "third time lucky", result.Content)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestAnalyzeRetryExhausted(t *testing.T) {
	var attempts atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	c, _ := newTestClient(t, mux)

	_, err := c.Analyze(context.Background(), testFrame(), "Describe", AnalyzeOptions{})
	require.Error(t, err)

	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, int32(3), attempts.Load())
	assert.True(t, errors.IsOverloaded(err))
}

func TestAnalyzeRealtimeTimeoutFailsFast(t *testing.T) {
	var attempts atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		select {
		case <-time.After(200 * time.Millisecond):
		case <-r.Context().Done():
		}
	})
	c, _ := newTestClient(t, mux)

	started := time.Now()
	_, err := c.Analyze(context.Background(), testFrame(), "Describe", AnalyzeOptions{
		IsRealtime: true,
		Timeout:    50 * time.Millisecond,
	})
	elapsed := time.Since(started)

	require.Error(t, err)
	assert.True(t, errors.IsTimeout(err))
	assert.Equal(t, int32(1), attempts.Load(), "realtime timeouts must not be retried")
	assert.Less(t, elapsed, 150*time.Millisecond, "realtime timeout must fail fast")
}

func TestAnalyzeManualTimeoutIsRetried(t *testing.T) {
	var attempts atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			select {
			case <-time.After(200 * time.Millisecond):
			case <-r.Context().Done():
			}
			return
		}
		chatHandler("recovered")(w, r)
	})
	c, _ := newTestClient(t, mux)

	result, err := c.Analyze(context.Background(), testFrame(), "Describe", AnalyzeOptions{
		Timeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Content)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestAnalyzeContextCancellation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	})
	c, _ := newTestClient(t, mux)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.Analyze(ctx, testFrame(), "Describe", AnalyzeOptions{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, errors.ErrTimeout, "caller cancellation is not a server timeout")
}

func TestAnalyzeSendsAuthAndParams(t *testing.T) {
	var got chatRequest
	var auth string
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		chatHandler("ok")(w, r)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	mux.HandleFunc("/health", healthyHandler())

	cfg := config.Default()
	cfg.Server.BaseURL = srv.URL
	cfg.Server.APIKey = "secret-key"
	cfg.Server.WarmupOnConnect = false

	b := bus.New("test")
	t.Cleanup(b.Close)
	c := New(cfg, b, logging.NewNopLogger())
	t.Cleanup(c.Stop)
	require.True(t, c.CheckConnection(context.Background()))

	_, err := c.Analyze(context.Background(), testFrame(), "Read the label", AnalyzeOptions{
		MaxTokens:   77,
		Temperature: 0.4,
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret-key", auth)
	assert.Equal(t, 77, got.MaxTokens)
	assert.InDelta(t, 0.4, got.Temperature, 0.001)
	require.Len(t, got.Messages, 1)
	require.Len(t, got.Messages[0].Content, 2)
	assert.Equal(t, "image", got.Messages[0].Content[0].Type)
	assert.Contains(t, got.Messages[0].Content[0].ImageURL.URL, "data:image/jpeg;base64,")
	assert.Equal(t, "Read the label", got.Messages[0].Content[1].Text)
}

func TestModels(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"id": "HuggingFaceTB/SmolVLM-Instruct", "object": "model"},
			},
		})
	})
	c, _ := newTestClient(t, mux)

	models, err := c.Models(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"HuggingFaceTB/SmolVLM-Instruct"}, models)
}

func TestStats(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ServerStats{
			RequestsProcessed: 42,
			SuccessRate:       0.95,
		})
	})
	c, _ := newTestClient(t, mux)

	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, stats.RequestsProcessed)
	assert.InDelta(t, 0.95, stats.SuccessRate, 0.001)
}

func TestConfidenceBand(t *testing.T) {
	band := confidenceBand{min: 60, max: 95}

	short := band.score("ok", 30*time.Second)
	long := band.score(
		"A detailed description of a kitchen scene with a counter, a red mug, a window above the sink, and a bowl of fruit to the left of the stove.",
		time.Second,
	)

	assert.GreaterOrEqual(t, short, 60)
	assert.LessOrEqual(t, long, 95)
	assert.Greater(t, long, short, "longer fast answers score higher")
}
