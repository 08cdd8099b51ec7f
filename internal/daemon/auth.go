package daemon

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// TokenAuthMiddleware guards the /v1/ API surface with a bearer token.
// Unversioned paths such as /health stay open for local probes.
func TokenAuthMiddleware(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/") {
			next.ServeHTTP(w, r)
			return
		}
		if !authorized(r, token) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func authorized(r *http.Request, token string) bool {
	const scheme = "Bearer "
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, scheme) {
		return false
	}
	presented := strings.TrimSpace(strings.TrimPrefix(header, scheme))
	return subtle.ConstantTimeCompare([]byte(presented), []byte(token)) == 1
}
