// File: middleware.go

package tokenizer

import (
	"context"
	"errors"
	"net/http"
)

type guardContextKey struct{}

// GuardFromContext returns the guard installed by Middleware.
func GuardFromContext(ctx context.Context) (*Guard, bool) {
	g, ok := ctx.Value(guardContextKey{}).(*Guard)
	return g, ok
}

// PrincipalFromContext returns the principal authenticated by Middleware.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	g, ok := GuardFromContext(ctx)
	if !ok || !g.HasUser() {
		return nil, false
	}
	return g.principal, true
}

// Middleware authenticates requests with the named guard and rejects
// guests with 401. The guard is available to handlers through
// GuardFromContext.
func (t *Tokenizer) Middleware(guard string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g, err := t.Guard(guard, NewHTTPRequest(r))
			if err != nil {
				t.logger.Error("failed to create guard", "guard", guard, "error", err)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}

			if _, err := g.Authenticate(r.Context()); err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), guardContextKey{}, g)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CheckScopes rejects requests whose token lacks any of scopes. It must run
// after Middleware.
func CheckScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g, ok := GuardFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			if err := g.RequireScopes(r.Context(), scopes...); err != nil {
				writeAuthError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthError(w http.ResponseWriter, err error) {
	status := StatusCode(err)
	var scopeErr *MissingScopeError
	if errors.As(err, &scopeErr) {
		http.Error(w, scopeErr.Error(), status)
		return
	}
	http.Error(w, http.StatusText(status), status)
}
