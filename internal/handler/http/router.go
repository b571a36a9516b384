package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Kellyhimself/POS-sub002/internal/service"
	"github.com/Kellyhimself/POS-sub002/pkg/health"
	"github.com/Kellyhimself/POS-sub002/pkg/middleware"
)

// Dependencies are the components the local API serves.
type Dependencies struct {
	Auth        Authenticator
	Mode        ModeController
	Sync        SyncController
	POS         *service.POSService
	Health      *health.Handler
	CORSOrigins []string
}

// NewRouter creates a chi router with all local API routes registered.
func NewRouter(deps Dependencies, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing())
	r.Use(middleware.PrometheusMetrics())
	r.Use(middleware.CORS(middleware.DefaultCORSConfig(deps.CORSOrigins)))

	// Health check endpoints
	r.Get("/health/live", deps.Health.LivenessHandler())
	r.Get("/health/ready", deps.Health.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	authHandler := NewAuthHandler(deps.Auth, deps.Mode, logger)
	posHandler := NewPOSHandler(deps.POS, logger)
	syncHandler := NewSyncHandler(deps.Sync, deps.POS, deps.Mode, logger)
	requireSession := middleware.RequireSession(sessionPrincipal(deps.Auth))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.NoStore())
		r.Use(middleware.RequestLogger(logger))

		r.Post("/auth/sign-in", authHandler.SignIn)
		r.Post("/auth/sign-out", authHandler.SignOut)
		r.Get("/auth/session", authHandler.Session)

		r.Get("/mode", authHandler.GetMode)
		r.Put("/mode", authHandler.SetMode)

		// Catalog reads stay open so the till can render before sign-in.
		r.Get("/products", posHandler.ListProducts)
		r.Get("/products/{id}", posHandler.GetProduct)

		r.Get("/sync/status", syncHandler.Status)
		r.Post("/sync/trigger", syncHandler.Trigger)
		r.Get("/sync/{domain}/failed", syncHandler.ListFailed)
		r.Get("/sync/{domain}/items/{id}", syncHandler.GetItem)

		// Everything that writes business data needs a signed-in operator.
		r.Group(func(r chi.Router) {
			r.Use(requireSession)
			r.Use(middleware.RequestLogger(logger))

			r.Post("/sales", posHandler.RecordSale)
			r.Post("/stock/adjustments", posHandler.AdjustStock)
			r.Post("/products", posHandler.CreateProduct)
			r.Put("/products/{id}", posHandler.UpdateProduct)
			r.Post("/invoices", posHandler.SubmitInvoice)
			r.Post("/sync/{domain}/items/{id}/retry", syncHandler.RetryItem)
		})
	})

	return r
}

func sessionPrincipal(auth Authenticator) middleware.PrincipalSource {
	return func(context.Context) (middleware.Principal, bool) {
		sess, err := auth.Authenticate()
		if err != nil {
			return middleware.Principal{}, false
		}
		return middleware.Principal{
			UserID:  sess.UserID,
			StoreID: sess.StoreID,
			Mode:    string(sess.Mode),
		}, true
	}
}
