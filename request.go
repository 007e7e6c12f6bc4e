// File: request.go

package tokenizer

import (
	"encoding/base64"
	"net/http"
	"strings"
)

// Request is the view of an incoming request a Guard reads tokens from.
type Request interface {
	Header(name string) string
	FormValue(key string) string
	Cookie(name string) (string, bool)
}

// HTTPRequest adapts a net/http request.
type HTTPRequest struct {
	req *http.Request
}

// NewHTTPRequest wraps r.
func NewHTTPRequest(r *http.Request) HTTPRequest {
	return HTTPRequest{req: r}
}

func (r HTTPRequest) Header(name string) string {
	return r.req.Header.Get(name)
}

func (r HTTPRequest) FormValue(key string) string {
	return r.req.FormValue(key)
}

func (r HTTPRequest) Cookie(name string) (string, bool) {
	c, err := r.req.Cookie(name)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

// basicPassword returns the password of an HTTP Basic authorization header.
func basicPassword(value string) (string, bool) {
	const basic = "Basic "
	if len(value) < len(basic) || !strings.EqualFold(value[:len(basic)], basic) {
		return "", false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value[len(basic):]))
	if err != nil {
		return "", false
	}
	_, password, ok := strings.Cut(string(decoded), ":")
	if !ok || password == "" {
		return "", false
	}
	return password, true
}
