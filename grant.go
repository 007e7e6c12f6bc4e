// File: grant.go

package tokenizer

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// maxDuplicateRetries bounds how often a pair is rebuilt after the store
// rejects it as a duplicate.
const maxDuplicateRetries = 3

// Grant issues, refreshes and revokes the tokens of one subject.
//
// A Grant is bound to at most one record at a time: CreateToken binds the
// new record, and a Guard binds the record a request authenticated with
// before calling RefreshToken or RevokeToken. A Grant is not safe for
// concurrent use.
type Grant struct {
	driver     Driver
	store      TokenStore
	dispatcher Dispatcher
	clock      Clock
	lifetimes  Lifetimes
	serializer func(*TokenPair) any

	subject Subject
	record  *TokenRecord
	pair    *TokenPair
}

// GrantOption configures a Grant.
type GrantOption func(*Grant)

func WithGrantDispatcher(dispatcher Dispatcher) GrantOption {
	return func(g *Grant) {
		g.dispatcher = dispatcher
	}
}

func WithGrantClock(clock Clock) GrantOption {
	return func(g *Grant) {
		g.clock = clock
	}
}

func WithGrantLifetimes(lifetimes Lifetimes) GrantOption {
	return func(g *Grant) {
		g.lifetimes = lifetimes
	}
}

// WithGrantSerializer replaces the JSON form of the pairs the grant issues.
func WithGrantSerializer(serializer func(*TokenPair) any) GrantOption {
	return func(g *Grant) {
		g.serializer = serializer
	}
}

// NewGrant creates a grant issuing tokens with driver into store.
func NewGrant(driver Driver, store TokenStore, opts ...GrantOption) *Grant {
	g := &Grant{
		driver: driver,
		store:  store,
		clock:  RealClock(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.lifetimes == (Lifetimes{}) {
		cfg := DefaultConfig("")
		g.lifetimes = cfg.Lifetimes()
	}
	return g
}

// WithSubject binds the owner of the tokens. A Principal is unwrapped to
// the subject it carries.
func (g *Grant) WithSubject(subject Subject) *Grant {
	if p, ok := subject.(*Principal); ok {
		subject = p.Subject
	}
	g.subject = subject
	return g
}

// WithRecord binds the record RefreshToken and RevokeToken act on.
func (g *Grant) WithRecord(record *TokenRecord) *Grant {
	g.record = record
	return g
}

func (g *Grant) Subject() Subject     { return g.subject }
func (g *Grant) Record() *TokenRecord { return g.record }

// Pair returns the last pair issued by the grant.
func (g *Grant) Pair() *TokenPair { return g.pair }

// now returns the current time truncated to whole seconds, the resolution
// every store keeps.
func (g *Grant) now() time.Time {
	return g.clock.Now().UTC().Truncate(time.Second)
}

func (g *Grant) applyLifetimes(record *TokenRecord, now time.Time) {
	record.AccessTokenExpireAt = now.Add(g.lifetimes.AccessTTL)
	record.RefreshTokenAvailableAt = now.Add(g.lifetimes.RefreshNbf)
	record.RefreshTokenExpireAt = now.Add(g.lifetimes.RefreshTTL)
	if record.RefreshTokenExpireAt.Before(record.RefreshTokenAvailableAt) {
		record.RefreshTokenExpireAt = record.RefreshTokenAvailableAt
	}
}

// CreateToken issues a new pair for the bound subject. An empty platform
// means DefaultPlatform.
func (g *Grant) CreateToken(ctx context.Context, name, platform string, scopes []string) (*TokenPair, error) {
	if g.subject == nil {
		return nil, ErrNoSubject
	}
	if platform == "" {
		platform = DefaultPlatform
	}

	now := g.now()
	record := &TokenRecord{
		Name:      name,
		Platform:  platform,
		OwnerType: g.subject.SubjectType(),
		OwnerID:   g.subject.SubjectID(),
		Scopes:    mergeScopes(scopes, g.subject.Abilities()),
		CreatedAt: now,
		UpdatedAt: now,
	}
	g.applyLifetimes(record, now)

	pair, err := g.persist(ctx, record, func() error {
		record.ID = 0
		return g.store.Create(ctx, record)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token: %w", err)
	}

	g.record = record
	g.pair = pair
	g.dispatch(ctx, &AccessTokenCreated{Record: record.Clone(), Subject: g.subject})
	return pair, nil
}

// RefreshToken replaces both values of the bound record and moves its
// expiries forward.
func (g *Grant) RefreshToken(ctx context.Context) (*TokenPair, error) {
	if !g.record.Live() {
		return nil, ErrRecordNotFound
	}
	if g.subject == nil {
		return nil, ErrNoSubject
	}

	previous := g.record.Clone()
	g.dispatch(ctx, &AccessTokenRefreshing{Record: previous.Clone(), Subject: g.subject})

	now := g.now()
	record := g.record.Clone()
	record.UpdatedAt = now
	g.applyLifetimes(record, now)

	pair, err := g.persist(ctx, record, func() error {
		return g.store.Update(ctx, record)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	g.record = record
	g.pair = pair
	g.dispatch(ctx, &AccessTokenRefreshed{Record: record.Clone(), Previous: previous, Subject: g.subject})
	return pair, nil
}

// RevokeToken soft-deletes the bound record. It reports false when no live
// record is bound.
func (g *Grant) RevokeToken(ctx context.Context) (bool, error) {
	if !g.record.Live() {
		return false, nil
	}

	now := g.now()
	deleted, err := g.store.SoftDelete(ctx, g.record.ID, now)
	if err != nil {
		return false, fmt.Errorf("failed to revoke token: %w", err)
	}
	if !deleted {
		return false, nil
	}

	g.record.DeletedAt = &now
	g.dispatch(ctx, &AccessTokenRevoked{Record: g.record.Clone(), Subject: g.subject})
	return true, nil
}

// persist builds a pair into record and saves it, rebuilding when the
// store reports a duplicate value.
func (g *Grant) persist(ctx context.Context, record *TokenRecord, save func() error) (*TokenPair, error) {
	var lastErr error
	for attempt := 0; attempt < maxDuplicateRetries; attempt++ {
		pair, err := g.driver.BuildTokens(ctx, record, g.subject, g.store)
		if err != nil {
			return nil, err
		}

		if err := save(); err != nil {
			if errors.Is(err, ErrDuplicateToken) {
				lastErr = err
				continue
			}
			return nil, err
		}

		pair.serializer = g.serializer
		return pair, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrTokenSpaceExhausted, lastErr)
}

func (g *Grant) dispatch(ctx context.Context, event Event) {
	if g.dispatcher != nil {
		g.dispatcher.Dispatch(ctx, event)
	}
}
