package middleware

import (
	"context"
	"net/http"

	"github.com/Kellyhimself/POS-sub002/pkg/httputil"
	"github.com/Kellyhimself/POS-sub002/pkg/logger"
)

// Principal identifies who is operating the till.
type Principal struct {
	UserID  string
	StoreID string
	Mode    string
}

// PrincipalSource returns the active principal, or false when nobody is
// signed in or the session expired. The till authenticates locally, so the
// source is the in-process session rather than a bearer token.
type PrincipalSource func(ctx context.Context) (Principal, bool)

type principalKey struct{}

// RequireSession rejects requests with 401 unless a session is active, and
// tags the context with the principal's user and store ids.
func RequireSession(source PrincipalSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := source(r.Context())
			if !ok {
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.Response{
					Error: &httputil.ErrorResponse{
						Code:      "UNAUTHORIZED",
						Message:   "sign in required",
						RequestID: logger.CorrelationIDFromContext(r.Context()),
					},
				})
				return
			}

			ctx := context.WithValue(r.Context(), principalKey{}, p)
			ctx = logger.WithUserID(ctx, p.UserID)
			ctx = logger.WithStoreID(ctx, p.StoreID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrincipalFromContext returns the principal set by RequireSession.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
