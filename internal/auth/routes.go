package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Middleware is an interface for HTTP middleware
type Middleware func(http.Handler) http.Handler

// RegisterRoutes registers the authentication routes with the chi router.
// The rate limiter guards only the endpoints that do password hashing work;
// refresh and logout are covered by the cost of a single store round-trip.
func RegisterRoutes(r chi.Router, handler *Handler, authMiddleware, loginRateLimit Middleware) {
	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(loginRateLimit)
			r.Post("/signup", handler.Signup)
			r.Post("/login", handler.Login)
		})

		r.Post("/refresh", handler.Refresh)
		r.Post("/logout", handler.Logout)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)
			r.Post("/logout-all", handler.LogoutAll)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Get("/me", handler.GetMe)
		r.Put("/me", handler.UpdateMe)
	})
}
