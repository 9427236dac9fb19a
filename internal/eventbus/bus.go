package eventbus

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"leaguebot/internal/metrics"
	"leaguebot/pkg/logx"
)

// Event is a named in-process signal. Data is usually a map[string]any
// built by the publisher; see Payload.
type Event struct {
	Name string
	Time time.Time
	Data any
}

// Payload returns Data as a map, or nil when Data has another shape.
func (e Event) Payload() map[string]any {
	m, _ := e.Data.(map[string]any)
	return m
}

// Handler reacts to one event. Returned errors and panics are isolated from
// other handlers and from the publisher.
type Handler func(ctx context.Context, e Event) error

// Bus is a publish/subscribe hub keyed by event name.
//
// Contract:
//   - Handlers for a name run synchronously, in subscription order.
//   - A failing or panicking handler never stops the others.
//   - Publish never panics.
//   - Taps observe every event without blocking Publish; slow taps drop.
type Bus interface {
	Publish(ctx context.Context, name string, data any) error
	Subscribe(name string, h Handler) (unsubscribe func())
	Tap(buffer int) (ch <-chan Event, unsubscribe func())
}

// HandlerError wraps a failure of one subscriber.
type HandlerError struct {
	Event   string
	Handler uint64
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("event %s handler #%d: %v", e.Event, e.Handler, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// ErrHandlerPanic is wrapped by HandlerError when a handler panicked.
var ErrHandlerPanic = errors.New("handler panicked")

type Option func(*memBus)

func WithLogger(log logx.Logger) Option {
	return func(b *memBus) { b.log = log }
}

// New returns an in-memory bus. It owns no goroutines.
func New(opts ...Option) Bus {
	b := &memBus{
		handlers: map[string][]subscription{},
		taps:     map[uint64]chan Event{},
		log:      logx.Nop(),
	}
	for _, o := range opts {
		o(b)
	}
	b.log = b.log.With(logx.Component("eventbus"))
	return b
}

type subscription struct {
	id uint64
	h  Handler
}

type memBus struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
	taps     map[uint64]chan Event
	seq      atomic.Uint64
	log      logx.Logger
}

func (b *memBus) Subscribe(name string, h Handler) func() {
	if h == nil {
		return func() {}
	}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.handlers[name] = append(b.handlers[name], subscription{id: id, h: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.handlers[name]
			for i, s := range subs {
				if s.id == id {
					b.handlers[name] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
			if len(b.handlers[name]) == 0 {
				delete(b.handlers, name)
			}
		})
	}
}

func (b *memBus) Publish(ctx context.Context, name string, data any) (err error) {
	// Publish never panics.
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("publish panicked", logx.String("event", name), logx.Any("panic", r))
			err = fmt.Errorf("publish %s: %w", name, ErrHandlerPanic)
		}
	}()
	if ctx == nil {
		ctx = context.Background()
	}
	e := Event{Name: name, Time: time.Now(), Data: data}

	b.mu.RLock()
	subs := append([]subscription(nil), b.handlers[name]...)
	taps := make([]chan Event, 0, len(b.taps))
	for _, ch := range b.taps {
		taps = append(taps, ch)
	}
	b.mu.RUnlock()

	metrics.EventsPublished.WithLabelValues(name).Inc()

	// Subscription ids grow monotonically; keep delivery order stable.
	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })

	var errs []error
	for _, s := range subs {
		if herr := b.call(ctx, e, s); herr != nil {
			metrics.EventHandlerFailures.WithLabelValues(name).Inc()
			b.log.Warn("event handler failed", logx.String("event", name), logx.Err(herr))
			errs = append(errs, herr)
		}
	}

	for _, ch := range taps {
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}

	return errors.Join(errs...)
}

func (b *memBus) call(ctx context.Context, e Event, s subscription) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				logx.String("event", e.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = &HandlerError{Event: e.Name, Handler: s.id, Err: fmt.Errorf("%w: %v", ErrHandlerPanic, r)}
		}
	}()
	if herr := s.h(ctx, e); herr != nil {
		return &HandlerError{Event: e.Name, Handler: s.id, Err: herr}
	}
	return nil
}

func (b *memBus) Tap(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.taps[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.taps, id)
			b.mu.Unlock()
			// Publish recovers from a send racing this close.
			close(ch)
		})
	}
}
