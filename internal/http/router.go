package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const maxRequestBodySize = 1 << 20 // 1MB

// NewRouter wires the storefront API. Every /api/v1 route runs inside a
// browsing context taken from the request headers. events may be nil.
func NewRouter(contexts Contexts, events SessionEvents, requestTimeout time.Duration, log *zap.Logger) http.Handler {
	cartHandler := NewCartHandler(contexts, requestTimeout, log)
	sessionHandler := NewSessionHandler(contexts, events, requestTimeout, log)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(middleware.RequestSize(maxRequestBodySize))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(BrowsingContextMiddleware)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cartHandler.GetCart)
			r.Delete("/", cartHandler.ClearCart)
			r.Post("/items", cartHandler.AddItem)
			r.Delete("/items/{index}", cartHandler.RemoveItem)
			r.Post("/reload", cartHandler.Reload)
			r.Post("/checkout", cartHandler.Checkout)
			r.Get("/badge", cartHandler.Badge)
		})

		r.Route("/session", func(r chi.Router) {
			r.Get("/", sessionHandler.GetSession)
			r.Put("/", sessionHandler.SaveSession)
			r.Delete("/", sessionHandler.EndSession)
		})

		r.Delete("/context", cartHandler.CloseContext)
	})

	return otelhttp.NewHandler(r, "storefront")
}
