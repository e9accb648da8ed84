// Package analysis defines the request and result types shared between the
// orchestrator, the inference client, and event consumers.
package analysis

import (
	"time"

	"github.com/google/uuid"
)

// Request describes a single dispatch to the inference server. It is created
// by the orchestrator immediately before dispatch and lives until a completion
// or error event; retries inside the client reuse the same logical request.
type Request struct {
	ID          uuid.UUID
	Prompt      string
	MaxTokens   int
	Temperature float64
	IsRealtime  bool
	Timeout     time.Duration
	StartedAt   time.Time
}

// Result is produced exactly once per successful Request. It is immutable and
// consumed read-only by both the narrator and the projector.
type Result struct {
	RequestID    uuid.UUID
	Content      string
	Confidence   int
	ResponseTime time.Duration
	Timestamp    time.Time
	IsRealtime   bool

	// Model and Usage echo the server's response metadata when present.
	Model string
	Usage Usage
}

// Usage reports token accounting from the inference server.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
