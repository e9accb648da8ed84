// Package constants provides shared defaults used throughout the echosight
// codebase: timeouts, retry limits, concurrency ceilings, and image handling
// thresholds. All of these are overridable through configuration.
package constants

import "time"

// Timeout constants define the two inference timeout tiers and related
// durations. Realtime and manual timeouts are deliberately independent
// values: realtime must fail fast to keep the polling loop responsive.
const (
	// DefaultManualTimeout bounds a manually triggered analysis request.
	DefaultManualTimeout = 30 * time.Second

	// DefaultRealtimeTimeout bounds a polling-tick analysis request.
	DefaultRealtimeTimeout = 8 * time.Second

	// DefaultHealthCheckTimeout bounds a single health-check ping.
	DefaultHealthCheckTimeout = 5 * time.Second

	// DefaultHealthCheckInterval is how often the connection is probed.
	DefaultHealthCheckInterval = 15 * time.Second

	// DefaultReconnectDelay is how long to wait after a failed health
	// check before attempting to reconnect.
	DefaultReconnectDelay = 5 * time.Second

	// DefaultRealtimeInterval is the live-analysis polling period.
	DefaultRealtimeInterval = 3 * time.Second

	// DefaultFrameMaxAge is the staleness threshold beyond which a held
	// frame is recaptured.
	DefaultFrameMaxAge = 500 * time.Millisecond
)

// Retry constants define the backoff schedule for retryable inference
// failures.
const (
	// DefaultMaxAttempts is the attempt ceiling including the first try.
	DefaultMaxAttempts = 3

	// DefaultRetryBaseDelay is the delay before the first retry; each
	// subsequent delay doubles.
	DefaultRetryBaseDelay = 250 * time.Millisecond

	// DefaultRetryMaxDelay caps the computed backoff.
	DefaultRetryMaxDelay = 5 * time.Second
)

// Concurrency constants bound overlapping work.
const (
	// DefaultMaxConcurrentRequests is the in-flight analysis ceiling.
	DefaultMaxConcurrentRequests = 2
)

// Image constants control downscaling before upload. Larger images improve
// text recognition but cost latency; these are tradeoff knobs, not policy.
const (
	// DefaultMaxImageBytes is the encoded size above which a frame is
	// downscaled and recompressed.
	DefaultMaxImageBytes = 1 << 20 // 1 MiB

	// DefaultMaxImageDim is the target bound for the longer image edge
	// when downscaling.
	DefaultMaxImageDim = 512

	// DefaultJPEGQuality is the recompression quality.
	DefaultJPEGQuality = 85
)

// Generation constants are the model parameters sent with each request.
const (
	// DefaultMaxTokens is the token ceiling for manual analysis.
	DefaultMaxTokens = 300

	// DefaultRealtimeMaxTokens is the reduced ceiling used by the
	// polling loop.
	DefaultRealtimeMaxTokens = 100

	// DefaultTemperature keeps descriptions consistent between frames.
	DefaultTemperature = 0.1

	// DefaultTopP is the nucleus sampling bound.
	DefaultTopP = 0.9

	// DefaultRepetitionPenalty discourages looping output.
	DefaultRepetitionPenalty = 1.1
)

// Confidence constants bound the heuristic confidence signal attached to
// results. It is a soft UX signal, not a statistical guarantee.
const (
	// DefaultMinConfidence is the lower clamp.
	DefaultMinConfidence = 60

	// DefaultMaxConfidence is the upper clamp.
	DefaultMaxConfidence = 95
)

// Narration constants shape speech output.
const (
	// DefaultSpeechChunkLength is the maximum utterance length before
	// text is split at sentence boundaries.
	DefaultSpeechChunkLength = 220

	// DefaultSpeechQueueSize bounds pending utterances.
	DefaultSpeechQueueSize = 16
)

// Projection constants shape the result history.
const (
	// DefaultHistoryTTL is how long a result stays in the recent-result
	// history.
	DefaultHistoryTTL = 10 * time.Minute

	// DefaultHistorySweep is the eviction sweep interval.
	DefaultHistorySweep = time.Minute
)

// DefaultBaseURL is the inference endpoint used when none is configured.
const DefaultBaseURL = "http://localhost:8000"

// DefaultModel is the model identifier sent with inference requests.
const DefaultModel = "HuggingFaceTB/SmolVLM-Instruct"
