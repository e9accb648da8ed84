// Package narrator serializes spoken feedback. Every user-facing event funnels
// into a single queue goroutine so at most one utterance plays at a time;
// interrupts cancel the current utterance and flush the backlog.
package narrator

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/echosight/echosight/internal/config"
	"github.com/echosight/echosight/pkg/bus"
	"github.com/echosight/echosight/pkg/constants"
	"github.com/echosight/echosight/pkg/errors"
	"github.com/echosight/echosight/pkg/events"
	"github.com/echosight/echosight/pkg/logging"
)

// SpeakOptions tune a single Speak call.
type SpeakOptions struct {
	// Priority orders queued utterances; higher speaks first. Equal
	// priorities keep insertion order.
	Priority int
	// Interrupt cancels the current utterance and clears the queue before
	// enqueueing.
	Interrupt bool
}

type utterance struct {
	text     string
	priority int
	seq      uint64
}

// Narrator owns the speech queue and the bus subscriptions that feed it.
type Narrator struct {
	synth   Synthesizer
	bus     *bus.Bus
	logger  *zerolog.Logger
	enabled bool
	chunkAt int

	mu      sync.Mutex
	queue   []utterance
	nextSeq uint64
	cancel  context.CancelFunc
	wake    chan struct{}

	subs     []bus.Subscription
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a narrator. A nil synthesizer falls back to NopSynthesizer.
func New(cfg config.VoiceConfig, synth Synthesizer, b *bus.Bus, logger *zerolog.Logger) *Narrator {
	if synth == nil {
		synth = NopSynthesizer{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	log := logger.With().Str("component", "narrator").Logger()

	chunkAt := cfg.ChunkLength
	if chunkAt <= 0 {
		chunkAt = constants.DefaultSpeechChunkLength
	}

	return &Narrator{
		synth:   synth,
		bus:     b,
		logger:  &log,
		enabled: cfg.Enabled,
		chunkAt: chunkAt,
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the queue goroutine and subscribes to the narrated events.
func (n *Narrator) Start(ctx context.Context) {
	n.wg.Add(1)
	go n.loop(ctx)
	n.subscribe()
}

// Speak enqueues text for narration, split into sentence chunks. Returns
// immediately; playback is serialized by the queue goroutine.
func (n *Narrator) Speak(ctx context.Context, text string, opts SpeakOptions) error {
	if !n.enabled {
		return nil
	}
	chunks := splitChunks(text, n.chunkAt)
	if len(chunks) == 0 {
		return &errors.ValidationError{Field: "text", Message: "must not be empty"}
	}

	n.mu.Lock()
	if opts.Interrupt {
		n.queue = n.queue[:0]
		if n.cancel != nil {
			n.cancel()
		}
	}
	for _, chunk := range chunks {
		n.nextSeq++
		n.queue = append(n.queue, utterance{
			text:     chunk,
			priority: opts.Priority,
			seq:      n.nextSeq,
		})
	}
	sort.SliceStable(n.queue, func(i, j int) bool {
		if n.queue[i].priority != n.queue[j].priority {
			return n.queue[i].priority > n.queue[j].priority
		}
		return n.queue[i].seq < n.queue[j].seq
	})
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
	return nil
}

// QueueLen reports pending utterances, not counting the one playing.
func (n *Narrator) QueueLen() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.queue)
}

// Stop cancels the current utterance, drops the backlog, and waits for the
// queue goroutine. Idempotent.
func (n *Narrator) Stop() {
	n.stopOnce.Do(func() {
		for _, sub := range n.subs {
			n.bus.Unsubscribe(sub)
		}
		n.mu.Lock()
		n.queue = nil
		if n.cancel != nil {
			n.cancel()
		}
		n.mu.Unlock()
		close(n.stopCh)
	})
	n.wg.Wait()
}

func (n *Narrator) loop(ctx context.Context) {
	defer n.wg.Done()

	for {
		next, ok := n.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-n.stopCh:
				return
			case <-n.wake:
				continue
			}
		}

		speakCtx, cancel := context.WithCancel(ctx)
		n.mu.Lock()
		n.cancel = cancel
		n.mu.Unlock()

		err := n.synth.Speak(speakCtx, next.text)

		n.mu.Lock()
		n.cancel = nil
		n.mu.Unlock()
		cancel()

		if err != nil && speakCtx.Err() == nil {
			n.logger.Warn().Err(err).Msg("Speech synthesis failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-n.stopCh:
			return
		default:
		}
	}
}

func (n *Narrator) dequeue() (utterance, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.queue) == 0 {
		return utterance{}, false
	}
	next := n.queue[0]
	n.queue = n.queue[1:]
	return next, true
}

// subscribe wires the narrated event types. Handlers never block; they only
// enqueue.
func (n *Narrator) subscribe() {
	n.subs = append(n.subs,
		bus.On(n.bus, func(ctx context.Context, evt events.Event, p events.AnalysisCompleted) error {
			if p.Result.IsRealtime && n.QueueLen() > 0 {
				// Realtime descriptions are disposable; never let them
				// back up behind other speech.
				return nil
			}
			return n.Speak(ctx, p.Result.Content, SpeakOptions{})
		}),
		bus.On(n.bus, func(ctx context.Context, evt events.Event, p events.AnalysisError) error {
			if p.IsRealtime {
				return nil
			}
			return n.Speak(ctx, spokenError(p.Class), SpeakOptions{Priority: 1})
		}),
		bus.On(n.bus, func(ctx context.Context, evt events.Event, p events.ConnectionChanged) error {
			if p.Connected {
				return n.Speak(ctx, "Connected to the vision server.", SpeakOptions{})
			}
			return n.Speak(ctx, "Lost connection to the vision server.", SpeakOptions{Priority: 1})
		}),
		bus.On(n.bus, func(ctx context.Context, evt events.Event, p events.CameraChanged) error {
			if p.Active {
				return n.Speak(ctx, "Camera started.", SpeakOptions{})
			}
			return n.Speak(ctx, "Camera stopped.", SpeakOptions{})
		}),
		bus.On(n.bus, func(ctx context.Context, evt events.Event, p events.Notice) error {
			if !p.Spoken {
				return nil
			}
			opts := SpeakOptions{}
			if p.Level == events.NoticeError {
				opts = SpeakOptions{Priority: 2, Interrupt: true}
			}
			return n.Speak(ctx, p.Message, opts)
		}),
	)
}

// spokenError maps an error class to a short spoken explanation.
func spokenError(class string) string {
	switch errors.Class(class) {
	case errors.ClassTimeout:
		return "The analysis took too long. Please try again."
	case errors.ClassOverloaded:
		return "The vision server is busy. Please try again in a moment."
	case errors.ClassUnauthorized:
		return "The vision server rejected the credentials."
	case errors.ClassNotFound:
		return "The vision server endpoint was not found."
	case errors.ClassInvalidResponse:
		return "The vision server sent an unreadable answer."
	default:
		return "The analysis failed. Please try again."
	}
}
