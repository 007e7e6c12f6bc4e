// File: record.go

package tokenizer

import (
	"context"
	"slices"
	"time"
)

// TokenRecord is the persistent state of one issued access/refresh pair.
//
// AccessToken and RefreshToken hold the stored (hashed) form of the signed
// values, never the values handed to the client.
type TokenRecord struct {
	ID                      uint64     `json:"id"`
	Name                    string     `json:"name"`
	Platform                string     `json:"platform"`
	OwnerType               string     `json:"owner_type"`
	OwnerID                 string     `json:"owner_id"`
	Driver                  string     `json:"driver"`
	AccessToken             string     `json:"access_token"`
	RefreshToken            string     `json:"refresh_token"`
	Scopes                  []string   `json:"scopes"`
	AccessTokenExpireAt     time.Time  `json:"access_token_expire_at"`
	RefreshTokenAvailableAt time.Time  `json:"refresh_token_available_at"`
	RefreshTokenExpireAt    time.Time  `json:"refresh_token_expire_at"`
	LastUsedAt              *time.Time `json:"last_used_at,omitempty"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
	DeletedAt               *time.Time `json:"deleted_at,omitempty"`
}

// Can reports whether the record grants scope.
func (r *TokenRecord) Can(scope string) bool {
	if r == nil {
		return false
	}
	return slices.Contains(r.Scopes, Wildcard) || slices.Contains(r.Scopes, scope)
}

// Cant is the negation of Can.
func (r *TokenRecord) Cant(scope string) bool {
	return !r.Can(scope)
}

// Live reports whether the record has not been soft-deleted.
func (r *TokenRecord) Live() bool {
	return r != nil && r.DeletedAt == nil
}

// AccessUsable reports whether the access token can authenticate at now.
func (r *TokenRecord) AccessUsable(now time.Time) bool {
	return r.Live() && now.Before(r.AccessTokenExpireAt)
}

// RefreshUsable reports whether the refresh token can be exchanged at now.
func (r *TokenRecord) RefreshUsable(now time.Time) bool {
	return r.Live() &&
		!now.Before(r.RefreshTokenAvailableAt) &&
		now.Before(r.RefreshTokenExpireAt)
}

// Clone returns a deep copy of the record.
func (r *TokenRecord) Clone() *TokenRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Scopes = slices.Clone(r.Scopes)
	if r.LastUsedAt != nil {
		t := *r.LastUsedAt
		c.LastUsedAt = &t
	}
	if r.DeletedAt != nil {
		t := *r.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

// Subject is an owner of tokens.
type Subject interface {
	// SubjectType is the owner type tag, emitted as the iss claim.
	SubjectType() string
	// SubjectID is the stable identity key, emitted as the sub claim.
	SubjectID() string
	// Abilities are merged into the scopes of every token issued.
	Abilities() []string
	// CustomClaims are added to JWT access tokens.
	CustomClaims() map[string]any
}

// JWTIdentifier lets a Subject choose the jti nonce of its tokens.
type JWTIdentifier interface {
	JWTID() string
}

// Principal is an authenticated Subject together with the token it
// authenticated with. The token is nil after Login without a token.
type Principal struct {
	Subject
	token *TokenRecord
}

// NewPrincipal binds a subject to the record it authenticated with.
func NewPrincipal(subject Subject, token *TokenRecord) *Principal {
	if p, ok := subject.(*Principal); ok {
		subject = p.Subject
	}
	return &Principal{Subject: subject, token: token}
}

// Token returns the current token record, if any.
func (p *Principal) Token() *TokenRecord {
	return p.token
}

// TokenCan reports whether the current token grants scope.
func (p *Principal) TokenCan(scope string) bool {
	return p.token.Can(scope)
}

// TokenCant is the negation of TokenCan.
func (p *Principal) TokenCant(scope string) bool {
	return !p.TokenCan(scope)
}

// UserProvider loads subjects of a single owner type.
type UserProvider interface {
	// RetrieveByID returns the subject with the given id, or nil.
	RetrieveByID(ctx context.Context, id string) (Subject, error)
	// RetrieveByCredentials returns the subject whose credentials match,
	// or nil. Implementations verify any secret contained in credentials.
	RetrieveByCredentials(ctx context.Context, credentials map[string]string) (Subject, error)
}

// SubjectResolver materializes the owner of a stored record.
type SubjectResolver interface {
	ResolveSubject(ctx context.Context, ownerType, ownerID string) (Subject, error)
}

// Providers maps owner type tags to the provider loading them. It is the
// default SubjectResolver.
type Providers map[string]UserProvider

// ResolveSubject loads ownerID through the provider registered for ownerType.
func (p Providers) ResolveSubject(ctx context.Context, ownerType, ownerID string) (Subject, error) {
	provider, ok := p[ownerType]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return provider.RetrieveByID(ctx, ownerID)
}

// SubjectResolverFunc adapts a function to SubjectResolver.
type SubjectResolverFunc func(ctx context.Context, ownerType, ownerID string) (Subject, error)

func (f SubjectResolverFunc) ResolveSubject(ctx context.Context, ownerType, ownerID string) (Subject, error) {
	return f(ctx, ownerType, ownerID)
}
