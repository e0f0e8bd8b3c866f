package api

import (
	"github.com/go-chi/chi/v5"
)

// Mount registers the bridge API under r. Every /api/v1 route requires an
// app token.
func (h *Handlers) Mount(r chi.Router) {
	r.Get("/healthz", h.Healthz)
	r.Route("/api/v1", func(ar chi.Router) {
		ar.Use(DrainGuard)
		ar.Use(AuthMiddleware(h.Sessions))
		ar.Get("/ids", h.LookupID)
		ar.Get("/ids/{id}", h.GetID)
		ar.Post("/ids", h.CreateID)
		ar.Get("/accounts/verify_credentials", h.VerifyCredentials)
		ar.Get("/accounts/{id}", h.GetAccount)
		ar.Post("/accounts/{id}/follow", h.Follow)
		ar.Post("/accounts/{id}/unfollow", h.Unfollow)
		ar.Post("/follows", h.FollowByHandle)
		ar.Get("/notifications", h.Notifications)
		ar.Post("/media", h.UploadMedia)
		ar.Post("/session/refresh", h.RefreshSession)
		ar.Post("/session/revoke", h.RevokeToken)
	})
}
