// File: tokenizer_cache_test.go

package tokenizer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// runCacheStoreTests exercises the CacheStore contract. expire moves the
// backend's notion of time forward.
func runCacheStoreTests(t *testing.T, store CacheStore, expire func(d time.Duration)) {
	ctx := context.Background()

	t.Run("Set And Get", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "k1", []byte("v1"), time.Minute))

		value, err := store.Get(ctx, "k1")
		require.NoError(t, err)
		require.Equal(t, []byte("v1"), value)
	})

	t.Run("Miss", func(t *testing.T) {
		_, err := store.Get(ctx, "absent")
		require.ErrorIs(t, err, ErrCacheMiss)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "k2", []byte("v2"), time.Minute))
		require.NoError(t, store.Set(ctx, "k3", []byte("v3"), time.Minute))
		require.NoError(t, store.Delete(ctx, "k2", "k3", "absent"))

		_, err := store.Get(ctx, "k2")
		require.ErrorIs(t, err, ErrCacheMiss)
		_, err = store.Get(ctx, "k3")
		require.ErrorIs(t, err, ErrCacheMiss)

		require.NoError(t, store.Delete(ctx))
	})

	t.Run("Expiry", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "short", []byte("v"), time.Second))
		require.NoError(t, store.Set(ctx, "long", []byte("v"), time.Hour))

		expire(2 * time.Second)

		_, err := store.Get(ctx, "short")
		require.ErrorIs(t, err, ErrCacheMiss)
		_, err = store.Get(ctx, "long")
		require.NoError(t, err)
	})

	t.Run("Non Positive TTL", func(t *testing.T) {
		require.Error(t, store.Set(ctx, "k", []byte("v"), 0))
	})
}

func TestMemoryCacheStore(t *testing.T) {
	clock := NewFakeClock(testEpoch)
	store := NewMemoryCacheStore(clock, time.Hour)
	t.Cleanup(func() { _ = store.Close() })

	runCacheStoreTests(t, store, clock.Advance)

	t.Run("Cleanup Expired", func(t *testing.T) {
		clock := NewFakeClock(testEpoch)
		store := NewMemoryCacheStore(clock, time.Hour)
		defer store.Close()

		ctx := context.Background()
		require.NoError(t, store.Set(ctx, "a", []byte("1"), time.Second))
		require.NoError(t, store.Set(ctx, "b", []byte("2"), time.Minute))

		clock.Advance(time.Second)
		require.Equal(t, 1, store.CleanupExpired())
		require.Equal(t, 1, store.Len())
	})

	t.Run("Close Twice", func(t *testing.T) {
		store := NewMemoryCacheStore(nil, 0)
		require.NoError(t, store.Close())
		require.NoError(t, store.Close())
	})
}

func TestRedisCacheStore(t *testing.T) {
	client, server := testRedisClient(t)

	store, err := NewRedisCacheStore(client)
	require.NoError(t, err)

	runCacheStoreTests(t, store, server.FastForward)

	t.Run("Nil Client", func(t *testing.T) {
		_, err := NewRedisCacheStore(nil)
		require.Error(t, err)
	})

	t.Run("From Config", func(t *testing.T) {
		store, err := NewRedisCacheStoreFromConfig(RedisConfig{Addr: server.Addr()})
		require.NoError(t, err)
		defer store.Close()

		require.NoError(t, store.Set(context.Background(), "cfg", []byte("v"), time.Minute))
		require.True(t, server.Exists("cfg"))
	})

	t.Run("Unreachable", func(t *testing.T) {
		_, err := NewRedisCacheStoreFromConfig(RedisConfig{Addr: "127.0.0.1:1"})
		require.Error(t, err)
	})
}

func TestCacheWithPrefix(t *testing.T) {
	ctx := context.Background()
	base := NewMemoryCacheStore(NewFakeClock(testEpoch), time.Hour)
	defer base.Close()

	prefixed := CacheWithPrefix(base, "app:")
	require.NoError(t, prefixed.Set(ctx, "key", []byte("v"), time.Minute))

	value, err := base.Get(ctx, "app:key")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), value)

	require.NoError(t, prefixed.Delete(ctx, "key"))
	_, err = base.Get(ctx, "app:key")
	require.ErrorIs(t, err, ErrCacheMiss)

	require.Same(t, base, CacheWithPrefix(base, "").(*MemoryCacheStore))
}

func TestBlacklist(t *testing.T) {
	ctx := context.Background()
	clock := NewFakeClock(testEpoch)
	backend := NewMemoryCacheStore(clock, time.Hour)
	defer backend.Close()

	record := newStoredRecord("42", "web", testEpoch)

	t.Run("Disabled", func(t *testing.T) {
		list := NewBlacklist(backend, false, clock)
		require.False(t, list.Enabled())
		require.NoError(t, list.Add(ctx, record))

		hit, err := list.Contains(ctx, record.AccessToken)
		require.NoError(t, err)
		require.False(t, hit)
	})

	t.Run("Nil Store", func(t *testing.T) {
		require.False(t, NewBlacklist(nil, true, clock).Enabled())
	})

	t.Run("Add", func(t *testing.T) {
		list := NewBlacklist(backend, true, clock)
		require.NoError(t, list.Add(ctx, record))

		hit, err := list.Contains(ctx, record.AccessToken)
		require.NoError(t, err)
		require.True(t, hit)

		hit, err = list.Contains(ctx, record.RefreshToken)
		require.NoError(t, err)
		require.True(t, hit)

		_, err = backend.Get(ctx, "blacklist:"+record.AccessToken)
		require.NoError(t, err)
	})

	t.Run("Entries Expire With Tokens", func(t *testing.T) {
		clock := NewFakeClock(testEpoch)
		backend := NewMemoryCacheStore(clock, time.Hour)
		defer backend.Close()

		list := NewBlacklist(backend, true, clock)
		require.NoError(t, list.Add(ctx, record))

		clock.Set(record.AccessTokenExpireAt)
		hit, err := list.Contains(ctx, record.AccessToken)
		require.NoError(t, err)
		require.False(t, hit)

		hit, err = list.Contains(ctx, record.RefreshToken)
		require.NoError(t, err)
		require.True(t, hit)
	})

	t.Run("Expired Values Skipped", func(t *testing.T) {
		clock := NewFakeClock(record.AccessTokenExpireAt.Add(time.Minute))
		backend := NewMemoryCacheStore(clock, time.Hour)
		defer backend.Close()

		list := NewBlacklist(backend, true, clock)
		require.NoError(t, list.Add(ctx, record))
		require.Equal(t, 1, backend.Len())
	})
}

func TestWhitelist(t *testing.T) {
	ctx := context.Background()
	clock := NewFakeClock(testEpoch)
	backend := NewMemoryCacheStore(clock, time.Hour)
	defer backend.Close()

	list := NewWhitelist(backend, true, clock)
	record := newStoredRecord("42", "web", testEpoch)
	record.ID = 99

	require.NoError(t, list.Add(ctx, record))

	for _, value := range []string{record.AccessToken, record.RefreshToken} {
		cached, ok, err := list.Get(ctx, value)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, record.ID, cached.ID)
		require.Equal(t, record.Scopes, cached.Scopes)
		require.True(t, record.RefreshTokenExpireAt.Equal(cached.RefreshTokenExpireAt))
	}

	require.NoError(t, list.Remove(ctx, record))
	_, ok, err := list.Get(ctx, record.AccessToken)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, list.Remove(ctx, nil))

	t.Run("Corrupt Entry", func(t *testing.T) {
		require.NoError(t, backend.Set(ctx, "whitelist:bad", []byte("{"), time.Minute))
		_, _, err := list.Get(ctx, "bad")
		require.Error(t, err)
	})
}

func TestRevocationCacheCheck(t *testing.T) {
	ctx := context.Background()
	clock := NewFakeClock(testEpoch)
	record := newStoredRecord("42", "web", testEpoch)

	newCache := func(cfg CacheConfig) *RevocationCache {
		backend := NewMemoryCacheStore(clock, time.Hour)
		t.Cleanup(func() { _ = backend.Close() })
		cfg.Prefix = DefaultCachePrefix
		return NewRevocationCache(backend, cfg, clock)
	}

	t.Run("Nothing Enabled", func(t *testing.T) {
		cache := newCache(CacheConfig{})
		verdict, _, err := cache.Check(ctx, record.AccessToken)
		require.NoError(t, err)
		require.Equal(t, VerdictUnknown, verdict)
	})

	t.Run("Nil Cache", func(t *testing.T) {
		var cache *RevocationCache
		verdict, _, err := cache.Check(ctx, record.AccessToken)
		require.NoError(t, err)
		require.Equal(t, VerdictUnknown, verdict)
	})

	t.Run("Nil Backend", func(t *testing.T) {
		cache := NewRevocationCache(nil, CacheConfig{BlacklistEnabled: true, WhitelistEnabled: true}, clock)
		require.False(t, cache.Blacklist.Enabled())
		require.False(t, cache.Whitelist.Enabled())
	})

	t.Run("Whitelist Miss", func(t *testing.T) {
		cache := newCache(CacheConfig{WhitelistEnabled: true})
		verdict, _, err := cache.Check(ctx, record.AccessToken)
		require.NoError(t, err)
		require.Equal(t, VerdictMiss, verdict)
	})

	t.Run("Whitelist Hit", func(t *testing.T) {
		cache := newCache(CacheConfig{WhitelistEnabled: true})
		require.NoError(t, cache.Whitelist.Add(ctx, record))

		verdict, cached, err := cache.Check(ctx, record.AccessToken)
		require.NoError(t, err)
		require.Equal(t, VerdictAllowed, verdict)
		require.Equal(t, record.AccessToken, cached.AccessToken)
	})

	t.Run("Blacklist Wins", func(t *testing.T) {
		cache := newCache(CacheConfig{WhitelistEnabled: true, BlacklistEnabled: true})
		require.NoError(t, cache.Whitelist.Add(ctx, record))
		require.NoError(t, cache.Blacklist.Add(ctx, record))

		verdict, _, err := cache.Check(ctx, record.AccessToken)
		require.NoError(t, err)
		require.Equal(t, VerdictDenied, verdict)
	})

	t.Run("Verdict Names", func(t *testing.T) {
		require.Equal(t, "unknown", VerdictUnknown.String())
		require.Equal(t, "denied", VerdictDenied.String())
		require.Equal(t, "allowed", VerdictAllowed.String())
		require.Equal(t, "miss", VerdictMiss.String())
	})
}

func TestRevocationCacheListeners(t *testing.T) {
	ctx := context.Background()
	clock := NewFakeClock(testEpoch)
	backend := NewMemoryCacheStore(clock, time.Hour)
	defer backend.Close()

	cache := NewRevocationCache(backend, CacheConfig{BlacklistEnabled: true, WhitelistEnabled: true}, clock)
	bus := NewEventBus(EventsConfig{}, testLogger())
	cache.Subscribe(bus)

	record := newStoredRecord("42", "web", testEpoch)
	bus.Dispatch(ctx, &AccessTokenCreated{Record: record})

	verdict, _, err := cache.Check(ctx, record.AccessToken)
	require.NoError(t, err)
	require.Equal(t, VerdictAllowed, verdict)

	refreshed := newStoredRecord("42", "web", testEpoch)
	refreshed.ID = record.ID
	bus.Dispatch(ctx, &AccessTokenRefreshed{Record: refreshed, Previous: record})

	verdict, _, err = cache.Check(ctx, record.AccessToken)
	require.NoError(t, err)
	require.Equal(t, VerdictMiss, verdict)

	verdict, _, err = cache.Check(ctx, refreshed.AccessToken)
	require.NoError(t, err)
	require.Equal(t, VerdictAllowed, verdict)

	bus.Dispatch(ctx, &AccessTokenRevoked{Record: refreshed})

	verdict, _, err = cache.Check(ctx, refreshed.AccessToken)
	require.NoError(t, err)
	require.Equal(t, VerdictDenied, verdict)
}
