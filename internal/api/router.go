package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", h.HealthCheck)

	r.Post("/upload", h.UploadFile)

	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", h.SubmitTask)
		r.Get("/", h.ListTasks)
		r.Get("/{id}", h.GetTask)
		r.Get("/{id}/result", h.GetResult)
		r.Get("/{id}/download", h.DownloadMarkdown)
		r.Delete("/{id}", h.RevokeTask)
	})

	return r
}
