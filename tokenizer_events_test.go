// File: tokenizer_events_test.go

package tokenizer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEventBusSync(t *testing.T) {
	ctx := context.Background()
	bus := NewEventBus(EventsConfig{}, testLogger())

	rec := &recorder{}
	bus.Subscribe(rec, allEventKinds...)

	bus.Dispatch(ctx, &Login{Guard: "api"})
	bus.Dispatch(ctx, &Logout{Guard: "api"})
	require.Equal(t, []EventKind{EventLogin, EventLogout}, rec.kinds())

	t.Run("Only Subscribed Kinds", func(t *testing.T) {
		only := &recorder{}
		bus.Subscribe(only, EventAccessTokenRevoked)

		bus.Dispatch(ctx, &Login{Guard: "api"})
		bus.Dispatch(ctx, &AccessTokenRevoked{})
		require.Equal(t, []EventKind{EventAccessTokenRevoked}, only.kinds())
	})

	t.Run("Nil Event", func(t *testing.T) {
		before := len(rec.kinds())
		bus.Dispatch(ctx, nil)
		require.Len(t, rec.kinds(), before)
	})

	t.Run("Nil Bus", func(t *testing.T) {
		var nilBus *EventBus
		nilBus.Dispatch(ctx, &Login{})
		nilBus.Close()
	})
}

func TestEventBusListenerFailures(t *testing.T) {
	ctx := context.Background()
	bus := NewEventBus(EventsConfig{}, testLogger())

	bus.Subscribe(ListenerFunc(func(ctx context.Context, event Event) error {
		return errors.New("boom")
	}), EventLogin)
	bus.Subscribe(ListenerFunc(func(ctx context.Context, event Event) error {
		panic("listener bug")
	}), EventLogin)

	rec := &recorder{}
	bus.Subscribe(rec, EventLogin)

	require.NotPanics(t, func() {
		bus.Dispatch(ctx, &Login{Guard: "api"})
	})
	require.Equal(t, []EventKind{EventLogin}, rec.kinds())
}

func TestEventBusAsync(t *testing.T) {
	ctx := context.Background()
	bus := NewEventBus(EventsConfig{Async: true, BufferSize: 4}, testLogger())

	var mu sync.Mutex
	var order []int
	bus.Subscribe(ListenerFunc(func(ctx context.Context, event Event) error {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, len(order))
		return nil
	}), EventLogin)

	for i := 0; i < 50; i++ {
		bus.Dispatch(ctx, &Login{Guard: "api"})
	}
	bus.Close()

	mu.Lock()
	require.Len(t, order, 50)
	mu.Unlock()

	t.Run("After Close", func(t *testing.T) {
		rec := &recorder{}
		bus.Subscribe(rec, EventLogout)

		bus.Dispatch(ctx, &Logout{Guard: "api"})
		require.Equal(t, []EventKind{EventLogout}, rec.kinds())
	})
}

func TestEventBusAsyncCancelledContext(t *testing.T) {
	bus := NewEventBus(EventsConfig{Async: true}, testLogger())

	seen := make(chan error, 1)
	bus.Subscribe(ListenerFunc(func(ctx context.Context, event Event) error {
		seen <- ctx.Err()
		return nil
	}), EventLogin)

	ctx, cancel := context.WithCancel(context.Background())
	bus.Dispatch(ctx, &Login{Guard: "api"})
	cancel()
	bus.Close()

	select {
	case err := <-seen:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("listener was not called")
	}
}

func TestEventBusNestedDispatch(t *testing.T) {
	for _, async := range []bool{false, true} {
		name := "Sync"
		if async {
			name = "Async"
		}
		t.Run(name, func(t *testing.T) {
			bus := NewEventBus(EventsConfig{Async: async, BufferSize: 1}, testLogger())

			rec := &recorder{}
			bus.Subscribe(ListenerFunc(func(ctx context.Context, event Event) error {
				// a listener dispatching must not wait on the queue it is draining
				bus.Dispatch(ctx, &AccessTokenRevoked{})
				bus.Dispatch(ctx, &AccessTokenRevoked{})
				return nil
			}), EventAccessTokenCreated)
			bus.Subscribe(rec, EventAccessTokenCreated, EventAccessTokenRevoked)

			bus.Dispatch(context.Background(), &AccessTokenCreated{})
			bus.Close()

			require.Equal(t, []EventKind{
				EventAccessTokenRevoked,
				EventAccessTokenRevoked,
				EventAccessTokenCreated,
			}, rec.kinds())
		})
	}
}

func TestEventBusCloseWhileDispatching(t *testing.T) {
	for round := 0; round < 50; round++ {
		bus := NewEventBus(EventsConfig{Async: true, BufferSize: 2}, testLogger())

		var delivered atomic.Int64
		bus.Subscribe(ListenerFunc(func(ctx context.Context, event Event) error {
			delivered.Add(1)
			return nil
		}), EventLogin)

		const senders, perSender = 8, 25
		var wg sync.WaitGroup
		for i := 0; i < senders; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < perSender; j++ {
					bus.Dispatch(context.Background(), &Login{Guard: "api"})
				}
			}()
		}
		bus.Close()
		wg.Wait()

		require.EqualValues(t, senders*perSender, delivered.Load(), "round %d", round)
	}
}
