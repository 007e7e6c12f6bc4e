// File: claim.go

package tokenizer

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType distinguishes the two halves of a pair.
type TokenType string

const (
	AccessTokenType  TokenType = "access"  // short-lived API credential
	RefreshTokenType TokenType = "refresh" // exchanged for a new pair
)

// HashClaims is the claim set digested by HmacDriver. Field order is fixed so
// the serialized form is deterministic.
//
// Fields:
//   - ID: random nonce (jti)
//   - Issuer: owner type (iss)
//   - Subject: owner id (sub)
//   - ExpiresAt: expiry, unix seconds (exp)
//   - NotBefore: earliest use, refresh tokens only (nbf)
//   - IssuedAt: issuance, unix seconds (iat)
type HashClaims struct {
	ID        string `json:"jti"`
	Issuer    string `json:"iss"`
	Subject   string `json:"sub"`
	ExpiresAt int64  `json:"exp"`
	NotBefore int64  `json:"nbf,omitempty"`
	IssuedAt  int64  `json:"iat"`
}

func newHashClaims(subject Subject, record *TokenRecord, tokenType TokenType, now time.Time) HashClaims {
	claims := HashClaims{
		ID:        newTokenID(subject),
		Issuer:    subject.SubjectType(),
		Subject:   subject.SubjectID(),
		ExpiresAt: record.AccessTokenExpireAt.Unix(),
		IssuedAt:  now.Unix(),
	}
	if tokenType == RefreshTokenType {
		claims.ExpiresAt = record.RefreshTokenExpireAt.Unix()
		claims.NotBefore = record.RefreshTokenAvailableAt.Unix()
	}
	return claims
}

// newAccessMapClaims builds JWT access claims. Custom claims of the subject
// are copied first so registered claims always win.
func newAccessMapClaims(subject Subject, record *TokenRecord, now time.Time) jwt.MapClaims {
	claims := jwt.MapClaims{}
	for key, value := range subject.CustomClaims() {
		claims[key] = value
	}

	audience := record.Scopes
	if audience == nil {
		audience = []string{}
	}

	claims["jti"] = newTokenID(subject)
	claims["iss"] = subject.SubjectType()
	claims["sub"] = subject.SubjectID()
	claims["aud"] = audience
	claims["exp"] = record.AccessTokenExpireAt.Unix()
	claims["iat"] = now.Unix()
	return claims
}

func newRefreshMapClaims(subject Subject, record *TokenRecord, now time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"jti": newTokenID(subject),
		"iss": subject.SubjectType(),
		"sub": subject.SubjectID(),
		"exp": record.RefreshTokenExpireAt.Unix(),
		"nbf": record.RefreshTokenAvailableAt.Unix(),
		"iat": now.Unix(),
	}
}

// newTokenID returns the jti nonce. Subjects implementing JWTIdentifier
// choose their own and should return a fresh value on every call.
func newTokenID(subject Subject) string {
	if identifier, ok := subject.(JWTIdentifier); ok {
		if id := identifier.JWTID(); id != "" {
			return id
		}
	}
	return uuid.NewString()
}
