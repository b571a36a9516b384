package middleware

import "net/http"

// NoStore marks responses as uncacheable. Queue state and stock levels
// change with every sale, so a browser or service worker must never serve
// them from cache.
func NoStore() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	}
}
