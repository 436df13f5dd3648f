package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/referral-system/internal/middleware"
)

const requestTimeout = 10 * time.Second

// SetupRouter настраивает HTTP-маршруты и middleware реферального сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(chimiddleware.Timeout(requestTimeout))

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Route("/api/referrals", func(r chi.Router) {
			r.Post("/generate", h.GenerateCode)
			r.Post("/apply", h.ApplyCode)

			r.Get("/analytics/summary", h.GetSummary)
			r.Get("/analytics/list", h.GetReferrals)
			r.Get("/analytics/timeline", h.GetTimeline)
		})

		r.Route("/api/rewards", func(r chi.Router) {
			r.Get("/summary", h.GetRewardSummary)
			r.Get("/history", h.GetRewardHistory)
		})

		r.Route("/api/admin", func(r chi.Router) {
			r.Use(custommiddleware.AdminOnly)

			r.Get("/referrals/top", h.GetTopReferrers)

			r.Post("/rewards/{id}/credit", h.CreditReward)
			r.Post("/rewards/{id}/revoke", h.RevokeReward)

			r.Get("/reward-configs", h.ListRewardConfigs)
			r.Post("/reward-configs", h.CreateRewardConfig)
			r.Put("/reward-configs/{id}/active", h.SetRewardConfigActive)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.respondError(w, r, http.StatusNotFound, http.StatusText(http.StatusNotFound))
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		h.respondError(w, r, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
	})

	return r
}
