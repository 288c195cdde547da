package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/firetick/firetick/internal/auth"
)

// NewRouter configures the chi router with middleware and routes. The
// verifier guards everything under /api; health stays open.
func NewRouter(server *Server, verifier *auth.Verifier, log *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
			slog.ErrorContext(r.Context(), "failed to write health check response", "error", err)
		}
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware(verifier, log))
		r.Use(server.AccountMiddleware)

		r.Get("/account", server.getAccount)
		r.Delete("/account", server.deleteAccount)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", server.createJob)
			r.Get("/", server.listJobs)
			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", server.getJob)
				r.Patch("/", server.updateJob)
				r.Delete("/", server.deleteJob)
				r.Get("/executions", server.listExecutions)
			})
		})

		r.Route("/collections", func(r chi.Router) {
			r.Post("/", server.createCollection)
			r.Get("/", server.listCollections)
			r.Route("/{collectionID}", func(r chi.Router) {
				r.Get("/", server.getCollection)
				r.Delete("/", server.deleteCollection)
				r.Post("/webhooks", server.createCollectionWebhook)
				r.Post("/runs", server.createRun)
				r.Get("/runs", server.listRuns)
			})
		})

		r.Route("/runs/{runID}", func(r chi.Router) {
			r.Get("/", server.getRun)
			r.Post("/cancel", server.cancelRun)
			r.Post("/reset", server.resetRun)
			r.Get("/report", server.getReport)
		})
	})

	return r
}
