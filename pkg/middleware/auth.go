// pkg/middleware/auth.go
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"dirsync/pkg/config"
)

// OpsAuth guards the operational endpoints (manual triggers, status
// reads) with a static bearer token. Health and metrics stay open. In
// dev with no token configured, requests pass through to ease local
// bring-up; outside dev an unset token closes the surface entirely.
func OpsAuth(cfg config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}
			if cfg.OpsToken == "" {
				if cfg.Env == "dev" {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "ops api disabled", http.StatusForbidden)
				return
			}
			authz := r.Header.Get("Authorization")
			if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				http.Error(w, "missing bearer", http.StatusUnauthorized)
				return
			}
			token := strings.TrimSpace(authz[len("bearer "):])
			if subtle.ConstantTimeCompare([]byte(token), []byte(cfg.OpsToken)) != 1 {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
