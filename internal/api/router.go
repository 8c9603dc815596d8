package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/nbkeep/internal/session"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *session.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Route("/notebooks", func(r chi.Router) {
		r.Get("/", h.GetNotebook)
		r.Post("/open", h.OpenNotebook)
		r.Put("/cells", h.SetCells)
		r.Post("/save", h.SaveNotebook)
		r.Post("/save-as", h.SaveNotebookAs)
		r.Post("/revert", h.RevertNotebook)
		r.Post("/trust", h.TrustNotebook)
		r.Post("/close", h.CloseNotebook)

		// Hot-exit backups.
		r.Post("/backup", h.Backup)
		r.Delete("/backup", h.DeleteBackup)
		r.Post("/backup-id", h.GenerateBackupID)
	})

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
