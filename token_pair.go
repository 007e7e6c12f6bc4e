// File: token_pair.go

package tokenizer

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// BearerTokenType is the token_type of pairs issued by the default driver.
const BearerTokenType = "Bearer"

// TokenPair is the client-facing result of issuing or refreshing tokens.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    string `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`

	serializer func(*TokenPair) any
}

type tokenPairWire struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    string `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

func newTokenPair(access, refresh, tokenType string, accessExpireAt time.Time) *TokenPair {
	return &TokenPair{
		AccessToken:  access,
		TokenType:    tokenType,
		ExpiresIn:    accessExpireAt.UTC().Format(time.RFC3339),
		RefreshToken: refresh,
	}
}

// ExpiresAt parses ExpiresIn back into a time.
func (p *TokenPair) ExpiresAt() (time.Time, error) {
	t, err := time.Parse(time.RFC3339, p.ExpiresIn)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid expires_in: %w", err)
	}
	return t, nil
}

// MarshalJSON encodes the wire form, or the output of the serializer
// configured through Hooks.TokenPairSerializer.
func (p *TokenPair) MarshalJSON() ([]byte, error) {
	if p.serializer != nil {
		return json.Marshal(p.serializer(p))
	}
	return json.Marshal(tokenPairWire{
		AccessToken:  p.AccessToken,
		TokenType:    p.TokenType,
		ExpiresIn:    p.ExpiresIn,
		RefreshToken: p.RefreshToken,
	})
}

// ParseTokenPair decodes the wire form produced by MarshalJSON.
func ParseTokenPair(data []byte) (*TokenPair, error) {
	var wire tokenPairWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("failed to decode token pair: %w", err)
	}
	return &TokenPair{
		AccessToken:  wire.AccessToken,
		TokenType:    wire.TokenType,
		ExpiresIn:    wire.ExpiresIn,
		RefreshToken: wire.RefreshToken,
	}, nil
}

// Cookie returns the HttpOnly cookie carrying the pair. The value is the
// URL-escaped JSON of the pair and the cookie expires with the access token.
func (p *TokenPair) Cookie(cfg CookieConfig) (*http.Cookie, error) {
	data, err := p.MarshalJSON()
	if err != nil {
		return nil, err
	}

	name := cfg.Name
	if name == "" {
		name = DefaultCookieName
	}
	cookie := &http.Cookie{
		Name:     name,
		Value:    url.QueryEscape(string(data)),
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		Secure:   cfg.Secure,
		HttpOnly: true,
		SameSite: parseSameSite(cfg.SameSite),
	}
	if expiresAt, err := p.ExpiresAt(); err == nil {
		cookie.Expires = expiresAt
	}
	return cookie, nil
}

// DecodeCookieValue reverses TokenPair.Cookie.
func DecodeCookieValue(value string) (*TokenPair, error) {
	raw, err := url.QueryUnescape(value)
	if err != nil {
		return nil, fmt.Errorf("failed to unescape cookie: %w", err)
	}
	return ParseTokenPair([]byte(raw))
}

func parseSameSite(value string) http.SameSite {
	switch strings.ToLower(value) {
	case "lax":
		return http.SameSiteLaxMode
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteDefaultMode
	}
}
