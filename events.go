// File: events.go

package tokenizer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// EventKind identifies a lifecycle event.
type EventKind string

const (
	EventAccessTokenCreated    EventKind = "access_token.created"
	EventAccessTokenRefreshing EventKind = "access_token.refreshing"
	EventAccessTokenRefreshed  EventKind = "access_token.refreshed"
	EventAccessTokenRevoked    EventKind = "access_token.revoked"
	EventAuthenticated         EventKind = "authenticated"
	EventLogin                 EventKind = "login"
	EventLogout                EventKind = "logout"
)

// Event is a lifecycle notification.
type Event interface {
	Kind() EventKind
}

// AccessTokenCreated fires after a new record is stored.
type AccessTokenCreated struct {
	Record  *TokenRecord
	Subject Subject
}

// AccessTokenRefreshing fires before a refresh with the record as it was.
type AccessTokenRefreshing struct {
	Record  *TokenRecord
	Subject Subject
}

// AccessTokenRefreshed fires after a refresh. Previous holds the stored
// values that were replaced.
type AccessTokenRefreshed struct {
	Record   *TokenRecord
	Previous *TokenRecord
	Subject  Subject
}

// AccessTokenRevoked fires after a record is soft-deleted, by the owner or
// by the concurrency policy.
type AccessTokenRevoked struct {
	Record  *TokenRecord
	Subject Subject
}

// Authenticated fires when a guard resolves a subject from a token.
type Authenticated struct {
	Guard   string
	Subject Subject
}

// Login fires when a subject is logged into a guard without a token.
type Login struct {
	Guard   string
	Subject Subject
}

// Logout fires when an authenticated guard is logged out.
type Logout struct {
	Guard   string
	Subject Subject
}

func (*AccessTokenCreated) Kind() EventKind    { return EventAccessTokenCreated }
func (*AccessTokenRefreshing) Kind() EventKind { return EventAccessTokenRefreshing }
func (*AccessTokenRefreshed) Kind() EventKind  { return EventAccessTokenRefreshed }
func (*AccessTokenRevoked) Kind() EventKind    { return EventAccessTokenRevoked }
func (*Authenticated) Kind() EventKind         { return EventAuthenticated }
func (*Login) Kind() EventKind                 { return EventLogin }
func (*Logout) Kind() EventKind                { return EventLogout }

// Listener handles dispatched events.
type Listener interface {
	Handle(ctx context.Context, event Event) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, event Event) error

func (f ListenerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Dispatcher delivers events to listeners.
type Dispatcher interface {
	Dispatch(ctx context.Context, event Event)
}

type listenerCtxKey struct{}

type queuedEvent struct {
	ctx   context.Context
	event Event
}

// EventBus delivers events to the listeners subscribed to their kind.
//
// In async mode a single worker goroutine consumes a buffered queue, so
// listeners observe events in dispatch order. Events dispatched by a
// listener are delivered inline.
type EventBus struct {
	mu        sync.RWMutex
	listeners map[EventKind][]Listener
	logger    *slog.Logger

	async     bool
	ch        chan queuedEvent
	done      chan struct{}
	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once
	// sendMu orders enqueueing against Close so no event is left in ch
	sendMu sync.RWMutex
}

// NewEventBus creates a bus. A nil logger means slog.Default().
func NewEventBus(cfg EventsConfig, logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &EventBus{
		listeners: make(map[EventKind][]Listener),
		logger:    logger,
		async:     cfg.Async,
	}
	if !cfg.Async {
		return b
	}

	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultEventBufferSize
	}
	b.ch = make(chan queuedEvent, cfg.BufferSize)
	b.done = make(chan struct{})

	b.wg.Add(1)
	go b.run()

	return b
}

// Subscribe registers listener for the given kinds.
func (b *EventBus) Subscribe(listener Listener, kinds ...EventKind) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, kind := range kinds {
		b.listeners[kind] = append(b.listeners[kind], listener)
	}
}

// Dispatch delivers event synchronously, or enqueues it in async mode.
func (b *EventBus) Dispatch(ctx context.Context, event Event) {
	if b == nil || event == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if !b.async || b.closed.Load() || ctx.Value(listenerCtxKey{}) != nil {
		b.deliver(ctx, event)
		return
	}

	b.sendMu.RLock()
	if b.closed.Load() {
		b.sendMu.RUnlock()
		b.deliver(ctx, event)
		return
	}
	// the worker keeps draining until Close holds sendMu, so this send
	// cannot block forever
	b.ch <- queuedEvent{ctx: context.WithoutCancel(ctx), event: event}
	b.sendMu.RUnlock()
}

func (b *EventBus) run() {
	defer b.wg.Done()

	for {
		select {
		case q := <-b.ch:
			b.deliver(q.ctx, q.event)
		case <-b.done:
			for {
				select {
				case q := <-b.ch:
					b.deliver(q.ctx, q.event)
				default:
					return
				}
			}
		}
	}
}

func (b *EventBus) deliver(ctx context.Context, event Event) {
	b.mu.RLock()
	listeners := b.listeners[event.Kind()]
	b.mu.RUnlock()

	ctx = context.WithValue(ctx, listenerCtxKey{}, true)
	for _, listener := range listeners {
		if err := b.invoke(ctx, listener, event); err != nil {
			b.logger.Error("event listener failed",
				"event", string(event.Kind()),
				"error", err,
			)
		}
	}
}

func (b *EventBus) invoke(ctx context.Context, listener Listener, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return listener.Handle(ctx, event)
}

// Close drains queued events and stops the worker. Events dispatched after
// Close are delivered synchronously.
func (b *EventBus) Close() {
	if b == nil || !b.async {
		return
	}
	b.closeOnce.Do(func() {
		b.sendMu.Lock()
		b.closed.Store(true)
		b.sendMu.Unlock()
		close(b.done)
		b.wg.Wait()
	})
}
