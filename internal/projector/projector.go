// Package projector turns bus events into display updates. Consumers register
// render hooks per semantic field instead of subscribing to raw events, which
// keeps presentation code free of event plumbing. A TTL store keeps the recent
// result history for recall.
package projector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/echosight/echosight/internal/config"
	"github.com/echosight/echosight/pkg/analysis"
	"github.com/echosight/echosight/pkg/bus"
	"github.com/echosight/echosight/pkg/events"
	"github.com/echosight/echosight/pkg/logging"
)

// Field names a renderable slot on the surface.
type Field string

// Renderable fields.
const (
	FieldStatus     Field = "status"
	FieldContent    Field = "content"
	FieldConfidence Field = "confidence"
	FieldLatency    Field = "latency"
)

// RenderFunc receives the new value for a field.
type RenderFunc func(value string)

// Projector subscribes to analysis and connectivity events and fans values
// out to registered render hooks.
type Projector struct {
	bus    *bus.Bus
	logger *zerolog.Logger

	mu    sync.RWMutex
	hooks map[Field][]RenderFunc

	history *cache.Cache
	subs    []bus.Subscription
}

// New builds a projector with the given history retention.
func New(cfg config.ProjectorConfig, b *bus.Bus, logger *zerolog.Logger) *Projector {
	if logger == nil {
		logger = logging.Default()
	}
	log := logger.With().Str("component", "projector").Logger()

	return &Projector{
		bus:     b,
		logger:  &log,
		hooks:   make(map[Field][]RenderFunc),
		history: cache.New(cfg.HistoryTTL, cfg.HistoryTTL),
	}
}

// OnRender registers a hook for a field. Hooks run on the publishing
// goroutine and must not block.
func (p *Projector) OnRender(field Field, fn RenderFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hooks[field] = append(p.hooks[field], fn)
}

// Start subscribes to the projected event types.
func (p *Projector) Start() {
	p.subs = append(p.subs,
		bus.On(p.bus, func(ctx context.Context, evt events.Event, payload events.AnalysisStarted) error {
			if payload.IsRealtime {
				p.render(FieldStatus, "Watching...")
			} else {
				p.render(FieldStatus, "Analyzing...")
			}
			return nil
		}),
		bus.On(p.bus, func(ctx context.Context, evt events.Event, payload events.AnalysisCompleted) error {
			p.project(payload.Result)
			return nil
		}),
		bus.On(p.bus, func(ctx context.Context, evt events.Event, payload events.AnalysisError) error {
			p.render(FieldStatus, "Analysis failed: "+payload.Class)
			return nil
		}),
		bus.On(p.bus, func(ctx context.Context, evt events.Event, payload events.ConnectionChanged) error {
			if payload.Connected {
				p.render(FieldStatus, "Connected to "+payload.Model)
			} else {
				p.render(FieldStatus, "Disconnected")
			}
			return nil
		}),
		bus.On(p.bus, func(ctx context.Context, evt events.Event, payload events.Notice) error {
			p.render(FieldStatus, payload.Message)
			return nil
		}),
	)
}

// Stop removes the bus subscriptions. The history survives until its TTL.
func (p *Projector) Stop() {
	for _, sub := range p.subs {
		p.bus.Unsubscribe(sub)
	}
	p.subs = nil
}

func (p *Projector) project(result analysis.Result) {
	p.render(FieldStatus, "Done")
	p.render(FieldContent, result.Content)
	p.render(FieldConfidence, fmt.Sprintf("%d%%", result.Confidence))
	p.render(FieldLatency, result.ResponseTime.Round(10*time.Millisecond).String())

	p.history.SetDefault(result.RequestID.String(), result)
}

func (p *Projector) render(field Field, value string) {
	p.mu.RLock()
	hooks := append([]RenderFunc(nil), p.hooks[field]...)
	p.mu.RUnlock()
	for _, fn := range hooks {
		fn(value)
	}
}

// Recent returns up to n results, newest first.
func (p *Projector) Recent(n int) []analysis.Result {
	items := p.history.Items()
	results := make([]analysis.Result, 0, len(items))
	for _, item := range items {
		if result, ok := item.Object.(analysis.Result); ok {
			results = append(results, result)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Timestamp.After(results[j].Timestamp)
	})
	if n > 0 && len(results) > n {
		results = results[:n]
	}
	return results
}
