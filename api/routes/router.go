package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/cartsync/api/controllers"
	cartcontrollers "github.com/angelmondragon/cartsync/api/controllers/cart"
	"github.com/angelmondragon/cartsync/api/middleware"
	"github.com/angelmondragon/cartsync/pkg/config"
	"github.com/angelmondragon/cartsync/pkg/logger"
)

// CartEngine is the engine surface the cart routes need.
type CartEngine interface {
	cartcontrollers.Engine
	Count() int
}

// SessionStore holds the storefront credentials behind the token gate.
type SessionStore interface {
	IsAuthenticated(ctx context.Context) bool
	SetCredentials(ctx context.Context, access, refresh string) error
	ClearCredentials(ctx context.Context) error
}

// Deps are the collaborators wired into the router by cmd/cartd.
type Deps struct {
	Engine   CartEngine
	Events   cartcontrollers.EventSource
	Sessions SessionStore
	Checks   []controllers.ReadinessCheck
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Idempotency enables Idempotency-Key replay on cart mutations when set.
	Idempotency middleware.IdempotencyStore
	// RateLimits throttles session hand-off when set.
	RateLimits middleware.RateLimitStore
	// Closing ends open event streams once closed.
	Closing <-chan struct{}
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	sessionPolicy := middleware.NewSessionRateLimitPolicy(
		"session",
		cfg.Auth.SessionRateWindow,
		cfg.Auth.SessionRateIPLimit,
		cfg.Auth.SessionRateTokenLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Checks...))
	})

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/session", func(r chi.Router) {
			r.Get("/", controllers.SessionStatus(deps.Sessions, logg))
			r.With(middleware.SessionRateLimit(sessionPolicy, deps.RateLimits, logg)).
				Post("/", controllers.SessionStart(deps.Sessions, deps.Engine, logg))
			r.Delete("/", controllers.SessionEnd(deps.Sessions, logg))
		})

		r.Route("/cart", func(r chi.Router) {
			if deps.Idempotency != nil {
				r.Use(middleware.Idempotency(deps.Idempotency, logg))
			}
			r.Get("/", cartcontrollers.CartFetch(deps.Engine, logg))
			r.Put("/", cartcontrollers.CartReplace(deps.Engine, logg))
			r.Post("/products", cartcontrollers.CartAddProduct(deps.Engine, logg))
			r.Post("/bundles", cartcontrollers.CartAddBundle(deps.Engine, logg))
			r.Delete("/lines/{kind}/{id}", cartcontrollers.CartRemoveLine(deps.Engine, logg))
			r.Post("/clear", cartcontrollers.CartClear(deps.Engine, logg))
			r.Post("/sync", cartcontrollers.CartSync(deps.Engine, logg))
			r.Post("/resync", cartcontrollers.CartResync(deps.Engine, logg))
			r.Put("/panel", cartcontrollers.CartPanel(deps.Engine, logg))
			r.Get("/events", cartcontrollers.CartEvents(deps.Events, deps.Engine, deps.Closing, logg))
		})
	})

	return r
}
