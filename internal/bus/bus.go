package bus

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"main/internal/schema"
	"main/pkg/exception"
)

// Envelope wraps a message with delivery metadata.
type Envelope struct {
	ID      string
	Topic   schema.Topic
	Time    time.Time
	Message schema.Message
}

// Handler consumes one envelope. Returned errors are reported through the
// error sink and never abort delivery to other subscribers.
type Handler func(Envelope) error

// ErrorSink receives handler failures so the owner can audit them.
type ErrorSink func(topic schema.Topic, subscriber string, err error)

// Subscription is a registered handler bound to a topic pattern.
type Subscription struct {
	id       string
	name     string
	pattern  schema.Pattern
	handler  Handler
	deferred bool
}

// ID returns the subscription identifier.
func (s *Subscription) ID() string { return s.id }

type deferredDelivery struct {
	sub *Subscription
	env Envelope
}

// Bus is an in-process pub/sub transport. Synchronous subscribers run inside
// the publishing call in subscription order; deferred subscribers are queued
// and run when the owner drains the bus, before the tick completes.
type Bus struct {
	mu     sync.Mutex
	subs   []*Subscription
	queue  chan deferredDelivery
	sink   ErrorSink
	closed uint32
	drops  uint64
}

// New allocates a bus with the given deferred queue capacity.
func New(queueCapacity int) *Bus {
	if queueCapacity <= 0 {
		queueCapacity = 1
	}
	return &Bus{queue: make(chan deferredDelivery, queueCapacity)}
}

// SetErrorSink installs the sink receiving handler failures. Passing nil
// silences reporting.
func (b *Bus) SetErrorSink(sink ErrorSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sink = sink
}

// Subscribe registers a synchronous handler for the pattern.
func (b *Bus) Subscribe(name string, pattern schema.Pattern, handler Handler) *Subscription {
	return b.subscribe(name, pattern, handler, false)
}

// SubscribeDeferred registers a handler whose deliveries are queued until
// Drain runs.
func (b *Bus) SubscribeDeferred(name string, pattern schema.Pattern, handler Handler) *Subscription {
	return b.subscribe(name, pattern, handler, true)
}

func (b *Bus) subscribe(name string, pattern schema.Pattern, handler Handler, deferred bool) *Subscription {
	sub := &Subscription{
		id:       uuid.NewString(),
		name:     name,
		pattern:  pattern,
		handler:  handler,
		deferred: deferred,
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, sub)
	return sub
}

// Unsubscribe removes a subscription by id.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers the message to every matching subscriber. Synchronous
// handlers run in subscription order inside this call; deferred handlers are
// enqueued. A failing or panicking handler is reported and skipped, never
// blocking delivery to the rest.
func (b *Bus) Publish(msg schema.Message) (Envelope, error) {
	env := Envelope{
		ID:      uuid.NewString(),
		Topic:   msg.Topic(),
		Time:    time.Now().UTC(),
		Message: msg,
	}
	if atomic.LoadUint32(&b.closed) != 0 {
		return env, exception.ErrBusClosed
	}
	b.mu.Lock()
	matched := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.pattern.Match(env.Topic) {
			matched = append(matched, sub)
		}
	}
	sink := b.sink
	b.mu.Unlock()

	var firstErr error
	for _, sub := range matched {
		if sub.deferred {
			select {
			case b.queue <- deferredDelivery{sub: sub, env: env}:
			default:
				atomic.AddUint64(&b.drops, 1)
				if sink != nil {
					sink(env.Topic, sub.name, exception.ErrBusQueueFull)
				}
				if firstErr == nil {
					firstErr = exception.ErrBusQueueFull
				}
			}
			continue
		}
		b.deliver(sub, env, sink)
	}
	return env, firstErr
}

// Drain runs queued deferred deliveries until the queue is empty and returns
// the number delivered. Handlers that publish during drain are included.
func (b *Bus) Drain() int {
	b.mu.Lock()
	sink := b.sink
	b.mu.Unlock()
	delivered := 0
	for {
		select {
		case d := <-b.queue:
			b.deliver(d.sub, d.env, sink)
			delivered++
		default:
			return delivered
		}
	}
}

// Drops returns the number of deferred deliveries dropped on a full queue.
func (b *Bus) Drops() uint64 {
	return atomic.LoadUint64(&b.drops)
}

// Close stops the bus from accepting new publishes.
func (b *Bus) Close() {
	atomic.StoreUint32(&b.closed, 1)
}

func (b *Bus) deliver(sub *Subscription, env Envelope, sink ErrorSink) {
	err := b.safeCall(sub, env)
	if err != nil && sink != nil {
		sink(env.Topic, sub.name, err)
	}
}

func (b *Bus) safeCall(sub *Subscription, env Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return sub.handler(env)
}
