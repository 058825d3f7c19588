package server

import (
	"context"
	"encoding/json"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"projectops/internal/engine"
	"projectops/internal/engine/auth"
	"projectops/internal/logging"
)

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// newAuthMiddleware accepts HTTP Basic (email and password) or a bearer JWT
// on every path under basePath except the health check.
func newAuthMiddleware(basePath string, e engine.Engine) func(http.Handler) http.Handler {
	healthPath := path.Join(basePath, "health")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !strings.HasPrefix(req.URL.Path, basePath) || req.URL.Path == healthPath || req.Method == http.MethodOptions {
				next.ServeHTTP(w, req)
				return
			}
			ctx := req.Context()
			log := logging.FromContext(ctx, nil)

			var (
				principal auth.Principal
				err       error
			)
			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			if email, password, ok := req.BasicAuth(); ok {
				principal, err = e.VerifyCredentials(ctx, email, password)
			} else if token, ok := bearerToken(authz); ok {
				principal, err = e.ParseToken(token)
			} else {
				w.Header().Set("WWW-Authenticate", `Basic realm="projectops"`)
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			if err != nil {
				log.WithError(err).Info("rejected credentials")
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			ctx = auth.WithPrincipal(ctx, principal)
			ctx = logging.WithContext(ctx, log.WithField("user_id", principal.UserID))
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}

func requireAdmin(ctx context.Context) huma.StatusError {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
	}
	if err := auth.RequireAdmin(p); err != nil {
		return handleError(ctx, err)
	}
	return nil
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
