// Package echosight assembles the capture-analyze-narrate pipeline: an event
// bus, an inference client for a remote vision-language server, an analysis
// orchestrator, a speech narrator, and a display projector. It exists to give
// blind and low-vision users spoken descriptions of what a camera sees.
package echosight

import (
	"context"
	"sync"

	"github.com/echosight/echosight/internal/config"
	"github.com/echosight/echosight/internal/inference"
	"github.com/echosight/echosight/internal/narrator"
	"github.com/echosight/echosight/internal/orchestrator"
	"github.com/echosight/echosight/internal/projector"
	"github.com/echosight/echosight/pkg/analysis"
	"github.com/echosight/echosight/pkg/bus"
	"github.com/echosight/echosight/pkg/errors"
	"github.com/echosight/echosight/pkg/events"
	"github.com/echosight/echosight/pkg/frames"
	"github.com/echosight/echosight/pkg/logging"
)

// App is the assembled EchoSight pipeline.
type App interface {
	// Start brings components up: health loop, narrator, projector.
	Start(ctx context.Context) error

	// Stop shuts components down in reverse order. Idempotent.
	Stop(ctx context.Context) error

	// AnalyzeFrame runs one manual analysis of the current frame.
	AnalyzeFrame(ctx context.Context, opts ...orchestrator.AnalyzeOption) (*analysis.Result, error)

	// SetRealtime toggles the live-analysis polling loop.
	SetRealtime(enabled bool)

	// PushFrame feeds a captured frame into the built-in frame holder.
	// Returns an error when a custom frame source was installed.
	PushFrame(frame *frames.Frame) error

	// Speak narrates arbitrary text through the speech queue.
	Speak(ctx context.Context, text string, opts narrator.SpeakOptions) error

	// Recent returns up to n past results, newest first.
	Recent(n int) []analysis.Result

	// Connected reports inference server connectivity.
	Connected() bool

	// Bus exposes the event bus for additional subscribers.
	Bus() *bus.Bus
}

// app is the internal implementation of the App interface.
type app struct {
	cfg *config.Config

	bus          *bus.Bus
	client       *inference.Client
	orchestrator *orchestrator.Orchestrator
	narrator     *narrator.Narrator
	projector    *projector.Projector

	holder *frames.LatestHolder
	source frames.Source

	stopOnce sync.Once
	started  bool
	mu       sync.Mutex
}

// New assembles an App from the given options. Components receive their
// dependencies explicitly; nothing reads configuration ambiently.
func New(opts ...Option) (App, error) {
	options := defaultOptions()
	for _, opt := range opts {
		if err := opt(options); err != nil {
			return nil, err
		}
	}

	cfg := options.cfg
	if cfg == nil {
		loaded, err := config.Load(options.configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := options.logger
	if logger == nil {
		logger = logging.Default()
	}

	a := &app{
		cfg: cfg,
		bus: bus.New("echosight"),
	}

	if options.source != nil {
		a.source = options.source
	} else {
		a.holder = frames.NewLatestHolder(cfg.Realtime.FrameMaxAge, options.grabber)
		a.source = a.holder
	}

	synth := options.synth
	if synth == nil {
		if cfg.Voice.Enabled {
			synth = narrator.NewExecSynthesizer(cfg.Voice.Command, cfg.Voice.Args...)
		} else {
			synth = narrator.NopSynthesizer{}
		}
	}

	a.client = inference.New(cfg, a.bus, logger)
	a.orchestrator = orchestrator.New(cfg, a.client, a.source, a.bus, logger)
	a.narrator = narrator.New(cfg.Voice, synth, a.bus, logger)
	a.projector = projector.New(cfg.Projector, a.bus, logger)

	return a, nil
}

// Start order: the bus exists from construction, then the client's health
// loop, then the consumers (narrator, projector). The orchestrator needs no
// background work until a request or realtime mode arrives.
func (a *app) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return errors.Wrapf(errors.ErrInvalidInput, "already started")
	}
	a.started = true

	a.client.StartHealthLoop(ctx)
	a.narrator.Start(ctx)
	a.projector.Start()
	return nil
}

// Stop order is the reverse of Start. Safe to call more than once.
func (a *app) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.orchestrator.Shutdown()
		a.projector.Stop()
		a.narrator.Stop()
		a.client.Stop()
		if a.holder != nil {
			a.holder.Close()
		}
		a.bus.Close()
	})
	return nil
}

func (a *app) AnalyzeFrame(ctx context.Context, opts ...orchestrator.AnalyzeOption) (*analysis.Result, error) {
	return a.orchestrator.AnalyzeFrame(ctx, opts...)
}

func (a *app) SetRealtime(enabled bool) {
	a.orchestrator.SetRealtime(enabled)
}

func (a *app) PushFrame(frame *frames.Frame) error {
	if a.holder == nil {
		return errors.Wrapf(errors.ErrInvalidInput, "custom frame source installed")
	}
	wasActive := a.holder.Active()
	if err := a.holder.Set(frame); err != nil {
		return err
	}
	if !wasActive {
		a.bus.Publish(context.Background(), events.CameraChanged{Active: true})
	}
	return nil
}

func (a *app) Speak(ctx context.Context, text string, opts narrator.SpeakOptions) error {
	return a.narrator.Speak(ctx, text, opts)
}

func (a *app) Recent(n int) []analysis.Result {
	return a.projector.Recent(n)
}

func (a *app) Connected() bool {
	return a.client.Connected()
}

func (a *app) Bus() *bus.Bus {
	return a.bus
}
