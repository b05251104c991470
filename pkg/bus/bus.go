// Package bus provides the in-process typed pub/sub that coordinates the
// suite's servers. Subscriptions are exact-name or glob-pattern; delivery is
// a sequential fan-out inside the publishing task, with per-handler failure
// isolation.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"
)

// Payload is the body of a published event.
type Payload = map[string]any

// Handler consumes the payload of one event. Returned errors are logged and
// swallowed; there is no reply channel.
type Handler func(ctx context.Context, payload Payload) error

// PatternHandler additionally receives the concrete event name, since one
// pattern subscription spans many names.
type PatternHandler func(ctx context.Context, event string, payload Payload) error

// Unsubscribe removes the registration it was returned for. Safe to call
// more than once.
type Unsubscribe func()

type subscription struct {
	id      uint64
	handler Handler
}

type patternSubscription struct {
	id      uint64
	pattern string
	re      *regexp.Regexp
	handler PatternHandler
}

// Bus is the in-process event bus. The zero value is not usable; construct
// with New. All methods are safe for concurrent use.
type Bus struct {
	registry *Registry
	logger   *slog.Logger

	mu       sync.RWMutex
	nextID   uint64
	exact    map[string][]subscription
	patterns []patternSubscription
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the structured logger used for handler failure reports.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// New creates a Bus validating publications against the given registry.
func New(registry *Registry, opts ...Option) *Bus {
	b := &Bus{
		registry: registry,
		logger:   slog.Default(),
		exact:    make(map[string][]subscription),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Registry returns the event registry this bus validates against.
func (b *Bus) Registry() *Registry { return b.registry }

// Subscribe registers a handler for exactly one event name. The name must be
// registered: an exact subscription to an unknown name could never fire
// (publication of unknown names is rejected), so the typo is surfaced here.
func (b *Bus) Subscribe(event string, h Handler) (Unsubscribe, error) {
	if !b.registry.Known(event) {
		return nil, fmt.Errorf("subscribe %q: %w", event, ErrUnknownEvent)
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.exact[event] = append(b.exact[event], subscription{id: id, handler: h})
	b.mu.Unlock()

	return func() { b.removeExact(event, id) }, nil
}

// SubscribePattern registers a handler for every event whose name matches
// the glob. Patterns span event names registered in the future, so no
// registry check is applied.
func (b *Bus) SubscribePattern(pattern string, h PatternHandler) (Unsubscribe, error) {
	re, err := CompilePattern(pattern)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.patterns = append(b.patterns, patternSubscription{
		id: id, pattern: pattern, re: re, handler: h,
	})
	b.mu.Unlock()

	return func() { b.removePattern(id) }, nil
}

// Publish delivers an event to all exact-name handlers in registration
// order, then to all matching pattern handlers in registration order. Each
// handler receives its own deep copy of the payload, so handlers never
// observe one another's mutations. Handler errors and panics are logged and
// do not abort delivery; Publish returns an error only when the event name
// is unregistered or the payload fails schema validation.
func (b *Bus) Publish(ctx context.Context, event string, payload Payload) error {
	schema, ok := b.registry.Get(event)
	if !ok {
		return fmt.Errorf("publish %q: %w", event, ErrUnknownEvent)
	}
	if err := schema.Validate(event, payload); err != nil {
		return err
	}

	// Snapshot matching handlers so subscribe/unsubscribe during delivery
	// does not affect this publication.
	b.mu.RLock()
	exact := make([]subscription, len(b.exact[event]))
	copy(exact, b.exact[event])
	var matched []patternSubscription
	for _, ps := range b.patterns {
		if ps.re.MatchString(event) {
			matched = append(matched, ps)
		}
	}
	b.mu.RUnlock()

	for _, sub := range exact {
		b.invoke(ctx, event, "", func(c context.Context) error {
			return sub.handler(c, clonePayload(payload))
		})
	}
	for _, ps := range matched {
		b.invoke(ctx, event, ps.pattern, func(c context.Context) error {
			return ps.handler(c, event, clonePayload(payload))
		})
	}
	return nil
}

// invoke runs one handler with panic isolation. The fan-out is a serial loop
// inside the publishing task, which keeps per-publisher ordering trivial.
func (b *Bus) invoke(ctx context.Context, event, pattern string, fn func(context.Context) error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", event, "pattern", pattern, "panic", r)
		}
	}()
	if err := fn(ctx); err != nil {
		b.logger.Warn("event handler failed",
			"event", event, "pattern", pattern,
			"duration", time.Since(start), "error", err)
	}
}

func (b *Bus) removeExact(event string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.exact[event]
	for i, s := range subs {
		if s.id == id {
			b.exact[event] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) removePattern(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, ps := range b.patterns {
		if ps.id == id {
			b.patterns = append(b.patterns[:i], b.patterns[i+1:]...)
			return
		}
	}
}

// clonePayload deep-copies maps and slices; scalar values are shared, which
// is safe because they are immutable.
func clonePayload(p Payload) Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return clonePayload(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
