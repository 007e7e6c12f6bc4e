// File: driver.go

package tokenizer

import (
	"context"
	"fmt"
)

// Driver signs access/refresh token pairs.
type Driver interface {
	// Name is the configured driver name.
	Name() string

	// GenerateAccessToken returns a fresh signed access token.
	GenerateAccessToken(subject Subject, record *TokenRecord) (string, error)

	// GenerateRefreshToken returns a fresh signed refresh token.
	GenerateRefreshToken(subject Subject, record *TokenRecord) (string, error)

	// Validate reports whether token is acceptable to the driver. It is a
	// format check only; usability is decided by the store and caches.
	Validate(token string) bool

	// BuildTokens generates an access and a refresh token whose stored forms
	// are not yet known to checker, writes the stored forms and the driver
	// name into record and returns the client-facing pair.
	BuildTokens(ctx context.Context, record *TokenRecord, subject Subject, checker UniquenessChecker) (*TokenPair, error)
}

// UniquenessChecker reports whether a stored token value is already in use.
type UniquenessChecker interface {
	TokenExists(ctx context.Context, tokenType TokenType, value string) (bool, error)
}

// DriverOptions carries the settings shared by every driver of a registry.
type DriverOptions struct {
	KeyPath             string
	Clock               Clock
	MaxGenerateAttempts int
	// Default marks the registry's default driver, whose pairs carry the
	// Bearer token type.
	Default bool
}

// DriverFactory constructs a driver from its configuration.
type DriverFactory func(name string, cfg DriverConfig, opts DriverOptions) (Driver, error)

// driverBase holds the fields every built-in driver shares.
type driverBase struct {
	name        string
	tokenType   string
	clock       Clock
	maxAttempts int
}

func newDriverBase(name string, opts DriverOptions) driverBase {
	base := driverBase{
		name:        name,
		tokenType:   name,
		clock:       opts.Clock,
		maxAttempts: opts.MaxGenerateAttempts,
	}
	if opts.Default {
		base.tokenType = BearerTokenType
	}
	if base.clock == nil {
		base.clock = RealClock()
	}
	if base.maxAttempts <= 0 {
		base.maxAttempts = DefaultMaxGenerateAttempts
	}
	return base
}

// Name returns the configured driver name.
func (b *driverBase) Name() string {
	return b.name
}

// buildTokens implements Driver.BuildTokens on top of the generator methods
// of d.
func (b *driverBase) buildTokens(ctx context.Context, d Driver, record *TokenRecord, subject Subject, checker UniquenessChecker) (*TokenPair, error) {
	if subject == nil {
		return nil, ErrNoSubject
	}

	access, err := b.generateUnique(ctx, checker, AccessTokenType, "", func() (string, error) {
		return d.GenerateAccessToken(subject, record)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	refresh, err := b.generateUnique(ctx, checker, RefreshTokenType, access, func() (string, error) {
		return d.GenerateRefreshToken(subject, record)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	record.AccessToken = HashAccessToken(access)
	record.RefreshToken = HashRefreshToken(refresh)
	record.Driver = b.name

	return newTokenPair(access, refresh, b.tokenType, record.AccessTokenExpireAt), nil
}

// generateUnique calls generate until its stored form is unknown to
// checker, giving up after maxAttempts tries. A value equal to avoid is
// never returned.
func (b *driverBase) generateUnique(ctx context.Context, checker UniquenessChecker, tokenType TokenType, avoid string, generate func() (string, error)) (string, error) {
	hash := HashAccessToken
	if tokenType == RefreshTokenType {
		hash = HashRefreshToken
	}

	for attempt := 0; attempt < b.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		token, err := generate()
		if err != nil {
			return "", err
		}
		if token == "" || token == avoid {
			continue
		}
		if checker == nil {
			return token, nil
		}

		exists, err := checker.TokenExists(ctx, tokenType, hash(token))
		if err != nil {
			return "", fmt.Errorf("failed to check token uniqueness: %w", err)
		}
		if !exists {
			return token, nil
		}
	}
	return "", ErrTokenSpaceExhausted
}
