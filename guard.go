// File: guard.go

package tokenizer

import (
	"context"
	"errors"
	"fmt"
)

// GuardState tracks how far a Guard got authenticating its request.
type GuardState int

const (
	StateUnresolved GuardState = iota
	StateTokenExtracted
	StateRecordLookedUp
	StateValidated
	StateAuthenticated
	StateFailed
)

func (s GuardState) String() string {
	switch s {
	case StateTokenExtracted:
		return "token_extracted"
	case StateRecordLookedUp:
		return "record_looked_up"
	case StateValidated:
		return "validated"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	default:
		return "unresolved"
	}
}

// Hooks customize how guards authenticate. Every field is optional.
type Hooks struct {
	// TokenRetrieval replaces the extraction of a token from the request.
	TokenRetrieval func(ctx context.Context, req Request, tokenType TokenType) string

	// TokenVerification replaces Driver.Validate as the acceptance check
	// of an extracted token.
	TokenVerification func(ctx context.Context, token string, driver Driver) bool

	// CookieDecoder replaces DecodeCookieValue.
	CookieDecoder func(value string) (*TokenPair, error)

	// Authentication may override the verdict on a looked-up record.
	// valid is the result of the built-in checks.
	Authentication func(ctx context.Context, record *TokenRecord, subject Subject, valid bool) bool

	// TokenPairSerializer replaces the JSON form of issued pairs.
	TokenPairSerializer func(*TokenPair) any
}

// Guard authenticates a single request. It is not safe for concurrent use.
type Guard struct {
	name    string
	cfg     GuardConfig
	request Request
	driver  Driver
	t       *Tokenizer

	state     GuardState
	resolved  bool
	principal *Principal
}

func (g *Guard) Name() string        { return g.name }
func (g *Guard) State() GuardState   { return g.state }
func (g *Guard) Driver() Driver      { return g.driver }
func (g *Guard) Config() GuardConfig { return g.cfg }

// User returns the authenticated principal, resolving it from the request
// on first use. The result is memoized for the lifetime of the guard.
func (g *Guard) User(ctx context.Context) *Principal {
	if g.resolved {
		return g.principal
	}
	g.resolved = true

	principal, err := g.resolve(ctx, AccessTokenType)
	if err != nil {
		g.state = StateFailed
		g.t.logger.Debug("token authentication failed", "guard", g.name, "error", err)
		return nil
	}

	g.principal = principal
	g.state = StateAuthenticated
	g.t.touch(principal.Token())
	g.t.bus.Dispatch(ctx, &Authenticated{Guard: g.name, Subject: principal})
	return principal
}

func (g *Guard) Check(ctx context.Context) bool {
	return g.User(ctx) != nil
}

func (g *Guard) Guest(ctx context.Context) bool {
	return !g.Check(ctx)
}

// Authenticate is User returning ErrUnauthenticated instead of nil.
func (g *Guard) Authenticate(ctx context.Context) (*Principal, error) {
	if p := g.User(ctx); p != nil {
		return p, nil
	}
	return nil, ErrUnauthenticated
}

// ID returns the subject id of the authenticated principal, or "".
func (g *Guard) ID(ctx context.Context) string {
	if p := g.User(ctx); p != nil {
		return p.SubjectID()
	}
	return ""
}

// HasUser reports whether a principal is bound without resolving one.
func (g *Guard) HasUser() bool {
	return g.principal != nil
}

// Validate reports whether credentials identify a subject of the guard's
// provider. The guard's state is not changed.
func (g *Guard) Validate(ctx context.Context, credentials map[string]string) bool {
	provider, err := g.provider()
	if err != nil {
		return false
	}
	subject, err := provider.RetrieveByCredentials(ctx, credentials)
	return err == nil && subject != nil
}

// Login binds subject to the guard and fires Login.
func (g *Guard) Login(ctx context.Context, subject Subject) {
	p := g.setUser(subject)
	g.t.bus.Dispatch(ctx, &Login{Guard: g.name, Subject: p})
}

// LoginUsingID logs in the subject with id. It reports false when the
// provider does not know id.
func (g *Guard) LoginUsingID(ctx context.Context, id string) (bool, error) {
	subject, err := g.retrieveByID(ctx, id)
	if err != nil || subject == nil {
		return false, err
	}
	g.Login(ctx, subject)
	return true, nil
}

// Attempt logs in the subject matching credentials.
func (g *Guard) Attempt(ctx context.Context, credentials map[string]string) (bool, error) {
	subject, err := g.retrieveByCredentials(ctx, credentials)
	if err != nil || subject == nil {
		return false, err
	}
	g.Login(ctx, subject)
	return true, nil
}

// Once binds the subject matching credentials without firing Login.
func (g *Guard) Once(ctx context.Context, credentials map[string]string) (bool, error) {
	subject, err := g.retrieveByCredentials(ctx, credentials)
	if err != nil || subject == nil {
		return false, err
	}
	g.setUser(subject)
	return true, nil
}

// OnceUsingID binds the subject with id without firing Login.
func (g *Guard) OnceUsingID(ctx context.Context, id string) (bool, error) {
	subject, err := g.retrieveByID(ctx, id)
	if err != nil || subject == nil {
		return false, err
	}
	g.setUser(subject)
	return true, nil
}

// Logout forgets the principal and fires Logout. It reports false for a
// guest. The guard stays a guest for the rest of the request.
func (g *Guard) Logout(ctx context.Context) bool {
	p := g.User(ctx)
	if p == nil {
		return false
	}
	g.forgetUser()
	g.t.bus.Dispatch(ctx, &Logout{Guard: g.name, Subject: p})
	return true
}

// CreateToken issues a pair for the authenticated principal.
func (g *Guard) CreateToken(ctx context.Context, name, platform string, scopes []string) (*TokenPair, error) {
	p := g.User(ctx)
	if p == nil {
		return nil, ErrUnauthenticated
	}
	return g.t.newGrant(g.driver).WithSubject(p).CreateToken(ctx, name, platform, scopes)
}

// RefreshToken authenticates the request's refresh token and exchanges it
// for a new pair. The guard's principal is not changed.
func (g *Guard) RefreshToken(ctx context.Context) (*TokenPair, error) {
	principal, err := g.resolve(ctx, RefreshTokenType)
	if err != nil {
		g.t.logger.Debug("refresh token authentication failed", "guard", g.name, "error", err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, ErrUnauthenticated
	}
	g.t.bus.Dispatch(ctx, &Authenticated{Guard: g.name, Subject: principal})

	return g.t.newGrant(g.driver).
		WithSubject(principal).
		WithRecord(principal.Token()).
		RefreshToken(ctx)
}

// RevokeToken revokes the token the request authenticated with and logs
// the guard out without firing Logout.
func (g *Guard) RevokeToken(ctx context.Context) (bool, error) {
	p := g.User(ctx)
	if p == nil {
		return false, nil
	}
	g.forgetUser()

	record := p.Token()
	if record == nil {
		return false, nil
	}
	return g.t.newGrant(g.driver).WithSubject(p).WithRecord(record).RevokeToken(ctx)
}

// TokenCan reports whether the request's token grants scope.
func (g *Guard) TokenCan(ctx context.Context, scope string) bool {
	p := g.User(ctx)
	return p != nil && p.TokenCan(scope)
}

// RequireScopes returns a *MissingScopeError listing the scopes the
// request's token lacks, or ErrUnauthenticated when no token authenticated
// the request.
func (g *Guard) RequireScopes(ctx context.Context, scopes ...string) error {
	p := g.User(ctx)
	if p == nil || p.Token() == nil {
		return ErrUnauthenticated
	}

	var missing []string
	for _, scope := range scopes {
		if p.TokenCant(scope) {
			missing = append(missing, scope)
		}
	}
	if len(missing) > 0 {
		return &MissingScopeError{Scopes: missing}
	}
	return nil
}

func (g *Guard) setUser(subject Subject) *Principal {
	p, ok := subject.(*Principal)
	if !ok {
		p = NewPrincipal(subject, nil)
	}
	g.principal = p
	g.resolved = true
	g.state = StateAuthenticated
	return p
}

func (g *Guard) forgetUser() {
	g.principal = nil
	g.resolved = true
	g.state = StateUnresolved
}

func (g *Guard) provider() (UserProvider, error) {
	if g.cfg.Provider != "" {
		if p, ok := g.t.providers[g.cfg.Provider]; ok {
			return p, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, g.cfg.Provider)
	}
	if len(g.t.providers) == 1 {
		for _, p := range g.t.providers {
			return p, nil
		}
	}
	return nil, ErrProviderNotFound
}

func (g *Guard) retrieveByID(ctx context.Context, id string) (Subject, error) {
	provider, err := g.provider()
	if err != nil {
		return nil, err
	}
	return provider.RetrieveByID(ctx, id)
}

func (g *Guard) retrieveByCredentials(ctx context.Context, credentials map[string]string) (Subject, error) {
	provider, err := g.provider()
	if err != nil {
		return nil, err
	}
	return provider.RetrieveByCredentials(ctx, credentials)
}

// resolve runs extraction, lookup and validation for one token type.
func (g *Guard) resolve(ctx context.Context, tokenType TokenType) (*Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	token := g.extract(ctx, tokenType)
	if token == "" {
		return nil, ErrUnauthenticated
	}
	g.state = StateTokenExtracted

	if !g.verify(ctx, token) {
		return nil, ErrInvalidToken
	}

	record, err := g.lookup(ctx, token, tokenType)
	if err != nil {
		return nil, err
	}
	g.state = StateRecordLookedUp

	subject, err := g.validate(ctx, record)
	if err != nil {
		return nil, err
	}
	g.state = StateValidated

	return NewPrincipal(subject, record), nil
}

func (g *Guard) extract(ctx context.Context, tokenType TokenType) string {
	if hook := g.t.hooks.TokenRetrieval; hook != nil {
		return hook(ctx, g.request, tokenType)
	}
	if g.request == nil {
		return ""
	}

	authorization := g.request.Header("Authorization")
	if token, ok := bearerToken(authorization); ok {
		return token
	}
	if password, ok := basicPassword(authorization); ok {
		return password
	}
	if token := g.request.FormValue(g.cfg.InputKey); token != "" {
		return token
	}
	return g.fromCookie(tokenType)
}

func (g *Guard) fromCookie(tokenType TokenType) string {
	value, ok := g.request.Cookie(g.t.config.Cookie.Name)
	if !ok {
		return ""
	}

	decode := DecodeCookieValue
	if g.t.hooks.CookieDecoder != nil {
		decode = g.t.hooks.CookieDecoder
	}
	pair, err := decode(value)
	if err != nil || pair == nil {
		return ""
	}

	if tokenType == RefreshTokenType {
		return pair.RefreshToken
	}
	return pair.AccessToken
}

func (g *Guard) verify(ctx context.Context, token string) bool {
	if hook := g.t.hooks.TokenVerification; hook != nil {
		return hook(ctx, token, g.driver)
	}
	return g.driver.Validate(token)
}

// lookup finds the record of token, consulting the revocation caches
// before the store.
func (g *Guard) lookup(ctx context.Context, token string, tokenType TokenType) (*TokenRecord, error) {
	hashed := HashAccessToken(token)
	if tokenType == RefreshTokenType {
		hashed = HashRefreshToken(token)
	}

	verdict, record, err := g.t.cache.Check(ctx, hashed)
	if err != nil {
		return nil, fmt.Errorf("revocation cache: %w", err)
	}

	now := g.t.clock.Now().UTC()
	switch verdict {
	case VerdictDenied:
		return nil, fmt.Errorf("%w: token revoked", ErrInvalidToken)
	case VerdictMiss:
		return nil, fmt.Errorf("%w: token not whitelisted", ErrInvalidToken)
	case VerdictAllowed:
	default:
		if tokenType == RefreshTokenType {
			record, err = g.t.store.FindByRefreshToken(ctx, hashed, now)
		} else {
			record, err = g.t.store.FindByAccessToken(ctx, hashed, now)
		}
		if err != nil {
			if errors.Is(err, ErrRecordNotFound) {
				return nil, ErrUnauthenticated
			}
			return nil, err
		}
	}

	usable := record.AccessUsable(now)
	if tokenType == RefreshTokenType {
		usable = record.RefreshUsable(now)
	}
	if !usable {
		return nil, fmt.Errorf("%w: token not usable", ErrUnauthenticated)
	}
	return record, nil
}

// validate checks the record's owner against the guard and resolves it.
func (g *Guard) validate(ctx context.Context, record *TokenRecord) (Subject, error) {
	valid := g.cfg.Provider == "" || record.OwnerType == g.cfg.Provider

	subject, err := g.t.resolver.ResolveSubject(ctx, record.OwnerType, record.OwnerID)
	if err != nil || subject == nil {
		valid = false
	}

	if hook := g.t.hooks.Authentication; hook != nil {
		valid = hook(ctx, record, subject, valid)
	}
	if !valid {
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
		}
		return nil, ErrUnauthenticated
	}
	if subject == nil {
		return nil, ErrNoSubject
	}
	return subject, nil
}
