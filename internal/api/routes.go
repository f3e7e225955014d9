package api

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the application API.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/sign-in", h.SignIn)
		r.Post("/auth/refresh", h.Refresh)
		r.Post("/logout", h.Logout)

		r.Get("/state", h.GetState)
		r.Post("/reload", h.Reload)
		r.Post("/onboarding", h.CompleteOnboarding)
		r.Post("/report/continue", h.ContinueFromReport)
		r.Post("/generation/retry", h.RetryGeneration)
		r.Post("/priority/start", h.StartPriority)
		r.Post("/priority/complete", h.CompletePriority)
		r.Post("/wow/ack", h.AcknowledgeWow)
		r.Post("/completion/ack", h.AcknowledgeCompletion)
		r.Post("/navigate", h.Navigate)

		r.Put("/execution/steps/{index}", h.SaveStep)
		r.Post("/weekly/days/{index}/toggle", h.ToggleWeeklyTask)
		r.Post("/modules/deliverable", h.GenerateDeliverable)

		r.Put("/profile/language", h.ChangeLanguage)
		r.Post("/profile/insights", h.RegenerateInsights)

		r.Post("/tactical/{kind}", h.Tactical)
	})
}
