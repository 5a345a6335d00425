package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// notices may be nil, in which case GET /notices returns an empty list.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(ctrl Controller, notices NoticeLister, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(ctrl, notices)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Preview server.
	r.Post("/preview", h.StartPreview)
	r.Delete("/preview", h.StopPreview)

	// Deploy.
	r.Post("/publish", h.Publish)

	// Session state.
	r.Get("/status", h.Status)
	r.Get("/notices", h.Notices)
	r.Put("/active", h.SetActive)

	// Settings.
	r.Get("/settings", h.GetSettings)
	r.Put("/settings", h.UpdateSettings)

	// Panel.
	r.Delete("/panel/{id}", h.ClosePanel)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
