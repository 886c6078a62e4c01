package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the default channel buffer size for subscribers.
const DefaultBufferSize = 100

// TrackerBufferSize is the recommended buffer size for the activity tracker,
// which must see every protocol event of a run to keep its phase accurate.
const TrackerBufferSize = 1000

// subscription is one consumer of the router. Drops are counted per
// subscription so a slow sink can be told apart from a slow tracker.
type subscription struct {
	name    string
	ch      chan Event
	dropped atomic.Uint64
}

// Router fans events out from the agent session and the retry driver to
// the tracker, the sinks and the indicator. Emit never blocks: a full
// subscriber misses the event.
type Router struct {
	mu         sync.RWMutex
	subs       []*subscription
	bufferSize int
	closed     bool
	dropped    atomic.Uint64
	logger     *slog.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterLogger sets the logger used for drop warnings.
func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// NewRouter creates a router whose subscriptions default to bufferSize
// slots, or DefaultBufferSize when bufferSize is not positive.
func NewRouter(bufferSize int, opts ...RouterOption) *Router {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	r := &Router{bufferSize: bufferSize, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Emit publishes event to every subscriber in emission order. It is safe
// for concurrent use and a no-op after Close.
func (r *Router) Emit(event Event) {
	if event == nil {
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}

	for _, sub := range r.subs {
		select {
		case sub.ch <- event:
			continue
		default:
		}
		n := sub.dropped.Add(1)
		r.dropped.Add(1)
		r.logger.Warn("event dropped: subscriber channel full",
			"subscriber", sub.name,
			"event_type", event.Type(),
			"source", event.Source(),
			"dropped", n,
		)
	}
}

// Dropped returns how many deliveries were dropped across all subscribers.
func (r *Router) Dropped() uint64 {
	return r.dropped.Load()
}

// DroppedBy returns the drops per named subscriber. Unnamed subscribers
// are reported under "".
func (r *Router) DroppedBy() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]uint64, len(r.subs))
	for _, sub := range r.subs {
		if n := sub.dropped.Load(); n > 0 {
			out[sub.name] += n
		}
	}
	return out
}

// Subscribe returns a channel with the router's default buffer size that
// receives every emitted event. It is closed when the router closes.
func (r *Router) Subscribe() <-chan Event {
	return r.SubscribeNamed("", r.bufferSize)
}

// SubscribeBuffered is Subscribe with an explicit buffer size.
func (r *Router) SubscribeBuffered(size int) <-chan Event {
	return r.SubscribeNamed("", size)
}

// SubscribeNamed is SubscribeBuffered with a name used in drop reports.
// Subscribing to a closed router returns a closed channel.
func (r *Router) SubscribeNamed(name string, size int) <-chan Event {
	if size <= 0 {
		size = r.bufferSize
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	sub := &subscription{name: name, ch: make(chan Event, size)}
	r.subs = append(r.subs, sub)
	return sub.ch
}

// Unsubscribe removes the subscription for ch and closes it. Unknown
// channels are ignored.
func (r *Router) Unsubscribe(ch <-chan Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, sub := range r.subs {
		if sub.ch != ch {
			continue
		}
		r.subs = append(r.subs[:i], r.subs[i+1:]...)
		close(sub.ch)
		return
	}
}

// Close closes every subscriber channel. Repeated calls are no-ops.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for _, sub := range r.subs {
		close(sub.ch)
	}
	r.subs = nil
}
