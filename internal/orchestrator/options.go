package orchestrator

import (
	"time"

	"github.com/echosight/echosight/internal/config"
	"github.com/echosight/echosight/internal/prompts"
)

// analyzeParams carries the effective parameters for one AnalyzeFrame call.
type analyzeParams struct {
	prompt      string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	isRealtime  bool
}

func newAnalyzeParams(cfg config.RequestConfig) analyzeParams {
	return analyzeParams{
		prompt:      prompts.Default(),
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     cfg.ManualTimeout,
	}
}

// AnalyzeOption customizes a single AnalyzeFrame call.
type AnalyzeOption func(*analyzeParams)

// WithPrompt replaces the default scene-description prompt.
func WithPrompt(prompt string) AnalyzeOption {
	return func(p *analyzeParams) {
		if prompt != "" {
			p.prompt = prompt
		}
	}
}

// WithPreset selects one of the embedded prompt presets. An unknown kind
// leaves the prompt unchanged.
func WithPreset(kind prompts.Kind) AnalyzeOption {
	return func(p *analyzeParams) {
		if preset, ok := prompts.ByKind(kind); ok {
			p.prompt = preset.Prompt
		}
	}
}

// WithMaxTokens overrides the response token ceiling.
func WithMaxTokens(n int) AnalyzeOption {
	return func(p *analyzeParams) {
		if n > 0 {
			p.maxTokens = n
		}
	}
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) AnalyzeOption {
	return func(p *analyzeParams) {
		if t > 0 {
			p.temperature = t
		}
	}
}

// WithTimeout overrides the request timeout tier.
func WithTimeout(d time.Duration) AnalyzeOption {
	return func(p *analyzeParams) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// asRealtime applies the realtime profile: brief prompt, reduced token
// ceiling, and the short timeout tier. User prompt preferences do not apply
// to polling ticks.
func (o *Orchestrator) asRealtime() AnalyzeOption {
	return func(p *analyzeParams) {
		p.prompt = prompts.RealtimeBrief
		p.maxTokens = o.requests.RealtimeMaxTokens
		p.timeout = o.requests.RealtimeTimeout
		p.isRealtime = true
	}
}
