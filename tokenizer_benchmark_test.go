// File: tokenizer_benchmark_test.go

package tokenizer

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func benchTokenizer(b *testing.B, cfg *Config) (*Tokenizer, *testUser) {
	b.Helper()

	if cfg == nil {
		cfg = newTestConfig()
	}
	user := newTestUser("42")
	tk, err := New(cfg, NewMemoryTokenStore(),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithProvider("users", newTestProvider(user)),
	)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = tk.Close() })
	return tk, user
}

func BenchmarkCreateToken(b *testing.B) {
	tk, user := benchTokenizer(b, nil)
	ctx := context.Background()

	for _, driver := range []string{"hash", "jwt"} {
		b.Run(driver, func(b *testing.B) {
			grant, err := tk.Grant(driver, user)
			if err != nil {
				b.Fatal(err)
			}
			for i := 0; i < b.N; i++ {
				if _, err := grant.CreateToken(ctx, "bench", "", nil); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkAuthenticate(b *testing.B) {
	ctx := context.Background()

	run := func(b *testing.B, cfg *Config, driver string) {
		tk, user := benchTokenizer(b, cfg)
		grant, err := tk.Grant(driver, user)
		if err != nil {
			b.Fatal(err)
		}
		pair, err := grant.CreateToken(ctx, "bench", "", nil)
		if err != nil {
			b.Fatal(err)
		}
		req := bearerRequest(pair.AccessToken)

		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			g, err := tk.Guard("api", req)
			if err != nil {
				b.Fatal(err)
			}
			if !g.Check(ctx) {
				b.Fatal("expected authenticated request")
			}
		}
	}

	b.Run("Hash", func(b *testing.B) {
		run(b, nil, "hash")
	})

	b.Run("Hash Whitelist", func(b *testing.B) {
		cfg := newTestConfig()
		cfg.Cache.WhitelistEnabled = true
		run(b, cfg, "hash")
	})

	b.Run("JWT", func(b *testing.B) {
		cfg := newTestConfig()
		cfg.Default.Driver = "jwt"
		run(b, cfg, "jwt")
	})
}

func BenchmarkHashTokens(b *testing.B) {
	token := "bench-token-value-with-some-length"

	b.Run("Access", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			HashAccessToken(token)
		}
	})

	b.Run("Refresh", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			HashRefreshToken(token)
		}
	})
}

func BenchmarkCacheCheck(b *testing.B) {
	ctx := context.Background()
	clock := NewFakeClock(testEpoch)
	cache := NewRevocationCache(NewMemoryCacheStore(clock, 0), CacheConfig{
		BlacklistEnabled: true,
		WhitelistEnabled: true,
	}, clock)

	record := testRecord(testEpoch)
	record.AccessToken = HashAccessToken("bench")
	if err := cache.Whitelist.Add(ctx, record); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := cache.Check(ctx, record.AccessToken); err != nil {
			b.Fatal(err)
		}
	}
}
