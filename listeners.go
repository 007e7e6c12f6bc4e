// File: listeners.go

package tokenizer

import "context"

// Handle keeps the whitelist in step with the token lifecycle.
func (w *Whitelist) Handle(ctx context.Context, event Event) error {
	switch e := event.(type) {
	case *AccessTokenCreated:
		return w.Add(ctx, e.Record)
	case *AccessTokenRefreshed:
		if err := w.Remove(ctx, e.Previous); err != nil {
			return err
		}
		return w.Add(ctx, e.Record)
	case *AccessTokenRevoked:
		return w.Remove(ctx, e.Record)
	}
	return nil
}

// Handle blacklists revoked tokens.
func (b *Blacklist) Handle(ctx context.Context, event Event) error {
	if e, ok := event.(*AccessTokenRevoked); ok {
		return b.Add(ctx, e.Record)
	}
	return nil
}

// Subscribe registers the enabled caches on bus.
func (c *RevocationCache) Subscribe(bus *EventBus) {
	if c == nil || bus == nil {
		return
	}
	if c.Whitelist.Enabled() {
		bus.Subscribe(c.Whitelist, EventAccessTokenCreated, EventAccessTokenRefreshed, EventAccessTokenRevoked)
	}
	if c.Blacklist.Enabled() {
		bus.Subscribe(c.Blacklist, EventAccessTokenRevoked)
	}
}
