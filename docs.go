// docs.go

// Package tokenizer issues, authenticates, refreshes and revokes
// access/refresh token pairs backed by a persistent record store.
//
// Every issued pair is mirrored by a TokenRecord. The store keeps only a
// hash of each token value, so a leaked table cannot be replayed against
// the API. Requests are authenticated by a Guard, which extracts a token,
// looks its record up through the revocation caches and the store, and
// resolves the owner through a UserProvider.
//
// # Overview
//
// The package provides:
// - Opaque HMAC tokens (sha1, sha256, sha384, sha512, blake3) and signed
// JWTs (HS256/384/512, RS256/384/512, ES256/384/512, EdDSA)
// - Named drivers built lazily by a Registry, extensible with custom kinds
// - Token stores for memory, GORM (MySQL, SQLite) and MongoDB
// - An optional Redis or in-memory blacklist and whitelist
// - Lifecycle events with synchronous or queued delivery
// - Per-owner session limits with multi-platform exemptions
// - net/http and Fiber middleware with scope checks
// - A CLI for key generation, secret rotation and purging old records
//
// # Token Lifetimes
//
// Access tokens live for default.ttl. A refresh token becomes usable
// default.refresh_nbf after issuance and expires default.refresh_ttl after
// issuance. Each value is either seconds or an ISO-8601 duration:
//
//	default:
//	  driver: hash
//	  ttl: 7200
//	  refresh_nbf: PT2H
//	  refresh_ttl: P15D
//
// # Usage Example
//
//	cfg := tokenizer.DefaultConfig(os.Getenv("TOKEN_SECRET_KEY"))
//	tk, err := tokenizer.New(&cfg, tokenizer.NewMemoryTokenStore(),
//	    tokenizer.WithProvider("users", users),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tk.Close()
//
//	// Issue a pair after a password login
//	grant, _ := tk.Grant("", user)
//	pair, err := grant.CreateToken(ctx, "web", "browser", []string{"orders:read"})
//
//	// Authenticate a request
//	guard, _ := tk.Guard("api", tokenizer.NewHTTPRequest(r))
//	principal, err := guard.Authenticate(r.Context())
//
//	// Exchange the refresh token carried by the request
//	pair, err = guard.RefreshToken(r.Context())
//
// # Revocation
//
// Revoking a token soft-deletes its record. With cache.blacklist_enabled
// the stored values are also blacklisted until they would have expired,
// so other instances reject them without a store round trip. With
// cache.whitelist_enabled only tokens present in the whitelist are
// accepted, and the store is never consulted on the request path.
//
// # Security Considerations
//
// - Keep private key files at mode 0600; drivers refuse anything looser
// - Deliver pairs to browsers with TokenPair.Cookie, which is HttpOnly
// - Purge revoked and expired records regularly with `tokenizer purge`
package tokenizer
