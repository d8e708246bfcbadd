package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/mwhitby/pigeonhole/internal/api/middleware"
	"github.com/mwhitby/pigeonhole/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler

	StartHandler       http.HandlerFunc
	StatusHandler      http.HandlerFunc
	SuggestionsHandler http.HandlerFunc
	ApproveHandler     http.HandlerFunc
	RejectHandler      http.HandlerFunc
	ClearHandler       http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public endpoints
	r.Get("/healthz", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/categorize/start", orNotImplemented(deps.StartHandler))
		r.Get("/api/v1/categorize/status", orNotImplemented(deps.StatusHandler))

		r.Get("/api/v1/categorize/suggestions", orNotImplemented(deps.SuggestionsHandler))
		r.Post("/api/v1/categorize/suggestions/clear", orNotImplemented(deps.ClearHandler))
		r.Post("/api/v1/categorize/suggestions/{suggestionID}/approve", orNotImplemented(deps.ApproveHandler))
		r.Post("/api/v1/categorize/suggestions/{suggestionID}/reject", orNotImplemented(deps.RejectHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
