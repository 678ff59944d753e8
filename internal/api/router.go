package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc EditService, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Nodes: preview drags and commit drops.
	r.Get("/nodes", h.ListNodes)
	r.Put("/nodes/{index}", h.DragNode)
	r.Post("/nodes/{index}/drop", h.DropNode)

	// Timeline.
	r.Get("/frames/{frame}", h.GetFrame)
	r.Post("/timeline/reload", h.Reload)

	// Commit history and control.
	r.Get("/commits", h.ListCommits)
	r.Get("/commits/running", h.RunningCommit)
	r.Post("/commits/cancel", h.CancelCommit)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
