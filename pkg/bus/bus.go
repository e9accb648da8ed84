// Package bus implements the typed publish/subscribe broker that decouples
// echosight components. Subscribers for an event fire in priority order
// (higher first, insertion order as tiebreak), and a failing subscriber never
// prevents delivery to the remaining subscribers.
package bus

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/echosight/echosight/pkg/errors"
	"github.com/echosight/echosight/pkg/events"
	"github.com/echosight/echosight/pkg/logging"
)

// Handler processes a delivered event. Handlers are pure notification sinks:
// the bus does not await any asynchronous work a handler starts on its own.
type Handler func(ctx context.Context, evt events.Event) error

// Subscription identifies a registered handler.
type Subscription struct {
	ID   uuid.UUID
	Type events.Type
}

// Result reports the outcome of one handler invocation during Publish.
type Result struct {
	Subscription uuid.UUID
	Err          error
}

// ErrBusClosed is returned when operating on a closed bus.
var ErrBusClosed = errors.New("event bus closed")

type subscriber struct {
	id       uuid.UUID
	handler  Handler
	priority int
	once     bool
	seq      uint64
}

// Bus is a typed publish/subscribe broker. The zero value is not usable;
// call New.
type Bus struct {
	mu      sync.RWMutex
	subs    map[events.Type][]*subscriber
	nextSeq uint64
	closed  bool
	source  string
}

// New creates an event bus. The source name is stamped onto events published
// without an explicit source.
func New(source string) *Bus {
	return &Bus{
		subs:   make(map[events.Type][]*subscriber),
		source: source,
	}
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscriber)

// WithPriority orders the subscriber relative to others for the same event.
// Higher priorities fire first; equal priorities fire in insertion order.
func WithPriority(priority int) SubscribeOption {
	return func(s *subscriber) { s.priority = priority }
}

// Once removes the subscription automatically after its first delivery.
func Once() SubscribeOption {
	return func(s *subscriber) { s.once = true }
}

// Subscribe registers a handler for an event type. Duplicate subscriptions
// are allowed and tracked independently.
func (b *Bus) Subscribe(t events.Type, handler Handler, opts ...SubscribeOption) Subscription {
	sub := &subscriber{
		id:      uuid.New(),
		handler: handler,
	}
	for _, opt := range opts {
		opt(sub)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return Subscription{ID: sub.id, Type: t}
	}

	sub.seq = b.nextSeq
	b.nextSeq++

	list := append(b.subs[t], sub)
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].priority != list[j].priority {
			return list[i].priority > list[j].priority
		}
		return list[i].seq < list[j].seq
	})
	b.subs[t] = list

	return Subscription{ID: sub.id, Type: t}
}

// Unsubscribe removes a subscription. It reports whether a matching
// subscription was found.
func (b *Bus) Unsubscribe(sub Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(sub.Type, sub.ID)
}

// UnsubscribeAll removes every subscription for the event type and returns
// how many were removed.
func (b *Bus) UnsubscribeAll(t events.Type) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.subs[t])
	delete(b.subs, t)
	return n
}

func (b *Bus) removeLocked(t events.Type, id uuid.UUID) bool {
	list := b.subs[t]
	for i, s := range list {
		if s.id == id {
			b.subs[t] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// PublishOption configures a single publish call.
type PublishOption func(*publishConfig)

type publishConfig struct {
	async       bool
	stopOnError bool
	source      string
}

// Async delivers the event on a separate goroutine. The returned results
// slice is nil in that case.
func Async() PublishOption {
	return func(c *publishConfig) { c.async = true }
}

// StopOnError halts delivery after the first handler failure instead of
// continuing to the remaining subscribers.
func StopOnError() PublishOption {
	return func(c *publishConfig) { c.stopOnError = true }
}

// WithSource overrides the source stamped onto the event.
func WithSource(source string) PublishOption {
	return func(c *publishConfig) { c.source = source }
}

// Publish delivers the payload to every subscriber of its event type, in
// priority order, synchronously unless Async is given. A handler error or
// panic is isolated: it is recorded in the results, republished as a
// BusError event (never recursively for BusError itself), and delivery
// continues unless StopOnError was requested.
func (b *Bus) Publish(ctx context.Context, payload events.Payload, opts ...PublishOption) []Result {
	cfg := publishConfig{source: b.source}
	for _, opt := range opts {
		opt(&cfg)
	}

	evt := events.Event{
		Type:      payload.EventType(),
		Payload:   payload,
		Timestamp: time.Now(),
		Source:    cfg.source,
	}

	if cfg.async {
		go b.deliver(ctx, evt, cfg)
		return nil
	}
	return b.deliver(ctx, evt, cfg)
}

func (b *Bus) deliver(ctx context.Context, evt events.Event, cfg publishConfig) []Result {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil
	}
	list := make([]*subscriber, len(b.subs[evt.Type]))
	copy(list, b.subs[evt.Type])
	b.mu.RUnlock()

	results := make([]Result, 0, len(list))
	var spent []uuid.UUID

	for _, sub := range list {
		err := b.invoke(ctx, sub, evt)
		results = append(results, Result{Subscription: sub.id, Err: err})

		if sub.once {
			spent = append(spent, sub.id)
		}

		if err != nil {
			b.reportHandlerError(ctx, evt, err)
			if cfg.stopOnError {
				break
			}
		}
	}

	if len(spent) > 0 {
		b.mu.Lock()
		for _, id := range spent {
			b.removeLocked(evt.Type, id)
		}
		b.mu.Unlock()
	}

	return results
}

// invoke runs a single handler, converting panics into errors so one bad
// subscriber cannot abort delivery.
func (b *Bus) invoke(ctx context.Context, sub *subscriber, evt events.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic on %s: %v", evt.Type, r)
		}
	}()
	return sub.handler(ctx, evt)
}

// reportHandlerError publishes a BusError event for a failed handler. The
// BusError event type itself is exempt to avoid infinite recursion.
func (b *Bus) reportHandlerError(ctx context.Context, evt events.Event, err error) {
	if evt.Type == events.TypeBusError {
		logging.FromContext(ctx).Error().
			Err(err).
			Str("event_type", string(evt.Type)).
			Msg("Bus error handler failed")
		return
	}
	b.Publish(ctx, events.BusError{
		Origin:  evt.Type,
		Message: err.Error(),
	})
}

// WaitFor blocks until one event of the given type arrives or the timeout
// elapses. The one-shot subscription is removed on both paths.
func (b *Bus) WaitFor(ctx context.Context, t events.Type, timeout time.Duration) (events.Event, error) {
	ch := make(chan events.Event, 1)

	sub := b.Subscribe(t, func(_ context.Context, evt events.Event) error {
		select {
		case ch <- evt:
		default:
		}
		return nil
	}, Once())
	defer b.Unsubscribe(sub)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case evt := <-ch:
		return evt, nil
	case <-timer.C:
		return events.Event{}, errors.NewTimeoutError("wait for "+string(t), timeout, nil)
	case <-ctx.Done():
		return events.Event{}, ctx.Err()
	}
}

// SubscriberCount returns the number of subscribers for an event type.
func (b *Bus) SubscriberCount(t events.Type) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[t])
}

// Close shuts down the bus. Further publishes are dropped and further
// subscriptions are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.subs = make(map[events.Type][]*subscriber)
}

// On registers a handler that receives the concrete payload type instead of
// the raw event, moving payload-shape mistakes to compile time. Events whose
// payload is not T are ignored.
func On[T events.Payload](b *Bus, fn func(ctx context.Context, evt events.Event, payload T) error, opts ...SubscribeOption) Subscription {
	var zero T
	return b.Subscribe(zero.EventType(), func(ctx context.Context, evt events.Event) error {
		payload, ok := evt.Payload.(T)
		if !ok {
			return nil
		}
		return fn(ctx, evt, payload)
	}, opts...)
}
