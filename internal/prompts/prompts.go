// Package prompts holds the accessibility prompt presets and the prompt-kind
// detection used to pick generation parameters. The presets ship embedded in
// the binary so the client works offline before any configuration exists.
package prompts

import (
	_ "embed"
	"strings"
	"sync"

	"github.com/goccy/go-yaml"

	"github.com/echosight/echosight/pkg/errors"
)

//go:embed presets.yaml
var presetsYAML []byte

// Kind classifies a prompt the same way the inference server does, so the
// client can anticipate the server's parameter adjustments.
type Kind string

// Prompt kinds.
const (
	KindGeneral     Kind = "general"
	KindScene       Kind = "scene"
	KindTextReading Kind = "text_reading"
	KindNavigation  Kind = "navigation"
	KindSafety      Kind = "safety"
	KindShopping    Kind = "shopping"
	KindSocial      Kind = "social"
)

// RealtimeBrief is the fixed short prompt substituted during live analysis.
// The polling loop always uses it regardless of the user's configured
// prompt; that substitution is a latency control, not a preference.
const RealtimeBrief = "Briefly describe what is in front of the camera in one or two short sentences."

// Preset is a named accessibility prompt.
type Preset struct {
	Kind   Kind   `yaml:"kind"`
	Label  string `yaml:"label"`
	Prompt string `yaml:"prompt"`
}

type presetFile struct {
	Presets []Preset `yaml:"presets"`
}

var (
	loadOnce sync.Once
	loaded   []Preset
	loadErr  error
)

// Presets returns the embedded preset catalog.
func Presets() ([]Preset, error) {
	loadOnce.Do(func() {
		var file presetFile
		if err := yaml.Unmarshal(presetsYAML, &file); err != nil {
			loadErr = errors.NewConfigError("prompts", "decoding embedded presets", err)
			return
		}
		loaded = file.Presets
	})
	return loaded, loadErr
}

// ByKind returns the preset for a kind, or false when none exists.
func ByKind(kind Kind) (Preset, bool) {
	presets, err := Presets()
	if err != nil {
		return Preset{}, false
	}
	for _, p := range presets {
		if p.Kind == kind {
			return p, true
		}
	}
	return Preset{}, false
}

// Default returns the scene-description preset used when the user has not
// chosen a prompt.
func Default() string {
	if p, ok := ByKind(KindScene); ok {
		return p.Prompt
	}
	return "Describe this image in detail for a blind person."
}

// Detect classifies a free-form prompt. Mirrors the server's keyword
// matching so client-side parameter choices line up with server behavior.
func Detect(prompt string) Kind {
	p := strings.ToLower(prompt)
	switch {
	case strings.Contains(p, "text") && strings.Contains(p, "read"):
		return KindTextReading
	case strings.Contains(p, "navigate") || strings.Contains(p, "obstacle"):
		return KindNavigation
	case strings.Contains(p, "safety") || strings.Contains(p, "hazard"):
		return KindSafety
	case strings.Contains(p, "price") || strings.Contains(p, "product") || strings.Contains(p, "brand"):
		return KindShopping
	case strings.Contains(p, "people") || strings.Contains(p, "expression"):
		return KindSocial
	case strings.Contains(p, "blind person") || strings.Contains(p, "describe"):
		return KindScene
	default:
		return KindGeneral
	}
}
