package middleware

import (
	"log/slog"
	"net/http"

	"github.com/Kellyhimself/POS-sub002/pkg/logger"
)

// RequestLogger stores a request-scoped logger in the context, enriched with
// the correlation, store, user and trace ids known at this point. Mount it
// after RequestLogging, Tracing and, on protected routes, RequireSession.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
