// Package authmw guards the operator API with a shared bearer token.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const (
	bearerPrefix = "Bearer "
	challenge    = `Bearer realm="aegis"`
)

// BearerToken returns middleware that admits requests whose Authorization
// header carries token. An empty token disables the check. Tokens are
// compared in constant time.
func BearerToken(token string) func(http.Handler) http.Handler {
	if token == "" {
		return func(next http.Handler) http.Handler { return next }
	}

	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := bearer(r)
			if !ok {
				deny(w, "missing or malformed authorization header")
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
				deny(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearer(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, bearerPrefix) {
		return "", false
	}
	return auth[len(bearerPrefix):], true
}

func deny(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", challenge)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
