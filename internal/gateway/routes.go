package gateway

import "github.com/go-chi/chi/v5"

// Mount registers the /v1 generation routes. The caller installs the
// credential and rate-limit middleware on r first.
func Mount(r chi.Router, h *Handler) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/thumbnails", h.Thumbnail)
		r.Post("/detail-pages/plan", h.PlanDetailPage)
		r.Post("/detail-pages/images", h.RenderDetailImages)
		r.Post("/features", h.SuggestFeatures)
		r.Get("/models", h.ListModels)
		r.Get("/history", h.ListHistory)
		r.Get("/history/{id}", h.GetHistory)
	})
}
