package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// TokenAuth validates inbound requests against a single shared bearer
// token (spec §6: GATEWAY_TOKEN). Unlike the teacher's multi-key lookup
// table, the gateway here authenticates one caller — the dashboard/admin
// surface — so a single constant-time comparison is enough.
type TokenAuth struct {
	token string
}

// NewTokenAuth creates token-based auth middleware. An empty token disables
// authentication, which callers should only do in tests.
func NewTokenAuth(token string) *TokenAuth {
	return &TokenAuth{token: token}
}

// Wrap wraps an http.Handler, rejecting requests that don't present the
// configured bearer token. /health and /health/graph are exempt so load
// balancers and the failover monitor can probe without a credential.
func (a *TokenAuth) Wrap(next http.Handler) http.Handler {
	if a.token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/health/graph" {
			next.ServeHTTP(w, r)
			return
		}

		presented := ExtractBearerToken(r)
		if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(a.token)) != 1 {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ExtractBearerToken pulls the bearer token from the Authorization header.
func ExtractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
