package inference

import "github.com/echosight/echosight/pkg/analysis"

// Wire types for the OpenAI-compatible vision endpoint.

type chatRequest struct {
	Model             string        `json:"model"`
	Messages          []chatMessage `json:"messages"`
	MaxTokens         int           `json:"max_tokens"`
	Temperature       float64       `json:"temperature"`
	TopP              float64       `json:"top_p"`
	RepetitionPenalty float64       `json:"repetition_penalty"`
	Stream            bool          `json:"stream"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

// contentPart is either an image part (Type "image" with ImageURL set) or a
// text part (Type "text" with Text set).
type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Model   string         `json:"model"`
	Choices []chatChoice   `json:"choices"`
	Usage   analysis.Usage `json:"usage"`

	// ProcessingMetadata echoes server-side accessibility metadata when
	// the server provides it.
	ProcessingMetadata map[string]any `json:"accessibility_metadata,omitempty"`
}

type chatChoice struct {
	Index   int `json:"index"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type healthResponse struct {
	Status              string   `json:"status"`
	Model               string   `json:"model"`
	Purpose             string   `json:"purpose,omitempty"`
	UptimeSeconds       float64  `json:"uptime_seconds,omitempty"`
	RequestsProcessed   int      `json:"requests_processed,omitempty"`
	AverageResponseTime float64  `json:"average_response_time,omitempty"`
	Capabilities        []string `json:"accessibility_features,omitempty"`
}

// healthy reports whether the status field indicates a usable server.
func (h *healthResponse) healthy() bool {
	switch h.Status {
	case "healthy", "ok":
		return true
	default:
		return false
	}
}

type modelsResponse struct {
	Data []modelInfo `json:"data"`
}

// ModelInfo describes one model advertised by the server.
type modelInfo struct {
	ID           string   `json:"id"`
	Object       string   `json:"object"`
	OwnedBy      string   `json:"owned_by"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// ServerStats mirrors the server's /stats payload.
type ServerStats struct {
	RequestsProcessed   int     `json:"requests_processed"`
	AverageResponseTime float64 `json:"average_response_time"`
	Errors              int     `json:"errors"`
	UptimeSeconds       float64 `json:"uptime_seconds"`
	SuccessRate         float64 `json:"success_rate"`
}

type errorResponse struct {
	Error       string   `json:"error"`
	ErrorType   string   `json:"error_type,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}
