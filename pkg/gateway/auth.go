package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AdminAuth guards operator endpoints with a static bearer token
type AdminAuth struct {
	token string
}

// NewAdminAuth creates the guard. An empty token leaves the endpoints open.
func NewAdminAuth(token string) *AdminAuth {
	return &AdminAuth{token: token}
}

// Enabled reports whether a token is required
func (a *AdminAuth) Enabled() bool {
	return a.token != ""
}

// Verify checks the presented token in constant time
func (a *AdminAuth) Verify(presented string) bool {
	if !a.Enabled() {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(a.token), []byte(presented)) == 1
}

// Middleware rejects requests without a valid token
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Verify(bearerToken(r)) {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// actor names the caller in audit records.
func actor(r *http.Request) string {
	if a := r.Header.Get("X-Insightx-Actor"); a != "" {
		return a
	}
	return r.RemoteAddr
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.Header.Get("X-Admin-Token")
}
