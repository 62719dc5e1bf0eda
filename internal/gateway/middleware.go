package gateway

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/logline-run/logline/infrastructure/httputil"
)

// publicPaths lists routes reachable without a bearer token.
var publicPaths = map[string]bool{
	"/health":  true,
	"/healthz": true,
}

// AuthMiddleware validates the bearer token on every request except the
// public paths, injecting the resulting AuthContext as headers for
// backend services to trust unconditionally.
func AuthMiddleware(v *Validator) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			stripContextHeaders(r.Header)

			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				httputil.Unauthorized(w, "missing bearer token")
				return
			}

			authCtx, err := v.Validate(token)
			if err != nil {
				httputil.Unauthorized(w, "invalid token")
				return
			}

			r.Header.Set("X-User-ID", authCtx.UserID)
			if authCtx.TenantID != "" {
				r.Header.Set("X-Tenant-ID", authCtx.TenantID)
			}
			if len(authCtx.Roles) > 0 {
				r.Header.Set("X-User-Roles", strings.Join(authCtx.Roles, " "))
			}
			if v.ServiceToken != "" {
				r.Header.Set("X-Service-Token", v.ServiceToken)
			}

			next.ServeHTTP(w, r)
		})
	}
}
