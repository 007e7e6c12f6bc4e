// File: cache.go

package tokenizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrCacheMiss is returned by CacheStore.Get for absent or expired keys.
var ErrCacheMiss = errors.New("cache miss")

// CacheStore is a key/value store with per-key expiry.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type prefixedCache struct {
	underlying CacheStore
	prefix     string
}

func (p *prefixedCache) Get(ctx context.Context, key string) ([]byte, error) {
	return p.underlying.Get(ctx, p.prefix+key)
}

func (p *prefixedCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return p.underlying.Set(ctx, p.prefix+key, value, ttl)
}

func (p *prefixedCache) Delete(ctx context.Context, keys ...string) error {
	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = p.prefix + key
	}
	return p.underlying.Delete(ctx, prefixed...)
}

// CacheWithPrefix namespaces every key of store under prefix.
func CacheWithPrefix(store CacheStore, prefix string) CacheStore {
	if prefix == "" {
		return store
	}
	return &prefixedCache{
		underlying: store,
		prefix:     prefix,
	}
}

// Blacklist remembers revoked token values until they would have expired.
// A disabled Blacklist is a no-op that never reports a hit.
type Blacklist struct {
	enabled bool
	store   CacheStore
	clock   Clock
}

// NewBlacklist creates a blacklist storing keys under "blacklist:".
func NewBlacklist(store CacheStore, enabled bool, clock Clock) *Blacklist {
	if clock == nil {
		clock = RealClock()
	}
	return &Blacklist{
		enabled: enabled && store != nil,
		store:   CacheWithPrefix(store, "blacklist:"),
		clock:   clock,
	}
}

func (b *Blacklist) Enabled() bool {
	return b != nil && b.enabled
}

// Add blacklists both stored values of record. Each entry lives as long as
// the corresponding token would have.
func (b *Blacklist) Add(ctx context.Context, record *TokenRecord) error {
	if !b.Enabled() {
		return nil
	}

	now := b.clock.Now()
	entries := []struct {
		value     string
		expiresAt time.Time
	}{
		{record.AccessToken, record.AccessTokenExpireAt},
		{record.RefreshToken, record.RefreshTokenExpireAt},
	}
	for _, e := range entries {
		ttl := remaining(now, e.expiresAt)
		if e.value == "" || ttl == 0 {
			continue
		}
		if err := b.store.Set(ctx, e.value, []byte(e.value), ttl); err != nil {
			return fmt.Errorf("failed to blacklist token: %w", err)
		}
	}
	return nil
}

// Contains reports whether value is blacklisted.
func (b *Blacklist) Contains(ctx context.Context, value string) (bool, error) {
	if !b.Enabled() {
		return false, nil
	}
	if _, err := b.store.Get(ctx, value); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read blacklist: %w", err)
	}
	return true, nil
}

// Whitelist holds the records of live tokens, keyed by both stored values.
// When enabled, a token absent from the whitelist is rejected.
type Whitelist struct {
	enabled bool
	store   CacheStore
	clock   Clock
}

// NewWhitelist creates a whitelist storing keys under "whitelist:".
func NewWhitelist(store CacheStore, enabled bool, clock Clock) *Whitelist {
	if clock == nil {
		clock = RealClock()
	}
	return &Whitelist{
		enabled: enabled && store != nil,
		store:   CacheWithPrefix(store, "whitelist:"),
		clock:   clock,
	}
}

func (w *Whitelist) Enabled() bool {
	return w != nil && w.enabled
}

// Add caches record under its access and refresh values.
func (w *Whitelist) Add(ctx context.Context, record *TokenRecord) error {
	if !w.Enabled() {
		return nil
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode token record: %w", err)
	}

	now := w.clock.Now()
	if ttl := remaining(now, record.AccessTokenExpireAt); ttl > 0 {
		if err := w.store.Set(ctx, record.AccessToken, payload, ttl); err != nil {
			return fmt.Errorf("failed to whitelist access token: %w", err)
		}
	}
	if ttl := remaining(now, record.RefreshTokenExpireAt); ttl > 0 {
		if err := w.store.Set(ctx, record.RefreshToken, payload, ttl); err != nil {
			return fmt.Errorf("failed to whitelist refresh token: %w", err)
		}
	}
	return nil
}

// Get returns the record cached under value.
func (w *Whitelist) Get(ctx context.Context, value string) (*TokenRecord, bool, error) {
	if !w.Enabled() {
		return nil, false, nil
	}

	payload, err := w.store.Get(ctx, value)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read whitelist: %w", err)
	}

	var record TokenRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, false, fmt.Errorf("failed to decode whitelisted record: %w", err)
	}
	return &record, true, nil
}

// Remove drops both values of record.
func (w *Whitelist) Remove(ctx context.Context, record *TokenRecord) error {
	if !w.Enabled() || record == nil {
		return nil
	}
	if err := w.store.Delete(ctx, record.AccessToken, record.RefreshToken); err != nil {
		return fmt.Errorf("failed to remove whitelisted token: %w", err)
	}
	return nil
}

// Verdict is the outcome of a RevocationCache check.
type Verdict int

const (
	// VerdictUnknown means the caches have no opinion and the store decides.
	VerdictUnknown Verdict = iota
	// VerdictDenied means the value is blacklisted.
	VerdictDenied
	// VerdictAllowed means the value is whitelisted; the record is attached.
	VerdictAllowed
	// VerdictMiss means the whitelist is enabled but lacks the value.
	VerdictMiss
)

func (v Verdict) String() string {
	switch v {
	case VerdictDenied:
		return "denied"
	case VerdictAllowed:
		return "allowed"
	case VerdictMiss:
		return "miss"
	default:
		return "unknown"
	}
}

// RevocationCache combines the blacklist and the whitelist.
type RevocationCache struct {
	Blacklist *Blacklist
	Whitelist *Whitelist
}

// NewRevocationCache builds both caches over one backend.
func NewRevocationCache(store CacheStore, cfg CacheConfig, clock Clock) *RevocationCache {
	if store != nil {
		store = CacheWithPrefix(store, cfg.Prefix)
	}
	return &RevocationCache{
		Blacklist: NewBlacklist(store, cfg.BlacklistEnabled, clock),
		Whitelist: NewWhitelist(store, cfg.WhitelistEnabled, clock),
	}
}

// Check classifies a stored token value. A blacklist hit always wins.
func (c *RevocationCache) Check(ctx context.Context, value string) (Verdict, *TokenRecord, error) {
	if c == nil {
		return VerdictUnknown, nil, nil
	}

	denied, err := c.Blacklist.Contains(ctx, value)
	if err != nil {
		return VerdictUnknown, nil, err
	}
	if denied {
		return VerdictDenied, nil, nil
	}

	if !c.Whitelist.Enabled() {
		return VerdictUnknown, nil, nil
	}
	record, ok, err := c.Whitelist.Get(ctx, value)
	if err != nil {
		return VerdictUnknown, nil, err
	}
	if !ok {
		return VerdictMiss, nil, nil
	}
	return VerdictAllowed, record, nil
}
