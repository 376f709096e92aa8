package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(ctrl Controller, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(ctrl)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/state", h.GetState)
	r.Put("/form/{field}", h.SetInput)
	r.Post("/notes", h.CreateNote)
	r.Delete("/notes/{id}", h.DeleteNote)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
