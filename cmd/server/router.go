package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/reportgen/internal/api"
	apiMiddleware "github.com/phrazzld/reportgen/internal/api/middleware"
)

// setupRouter creates the admin API router.
func (app *application) setupRouter() http.Handler {
	return newRouter(app)
}

func newRouter(app *application) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.Trace(app.logger))

	jobHandler := api.NewJobHandler(app.submitter, app.backend.Jobs, app.logger)
	reportHandler := api.NewReportHandler(app.backend.Reports, app.logger)

	r.Route("/api", func(r chi.Router) {
		r.Post("/jobs", jobHandler.CreateJob)
		r.Get("/jobs/{id}", jobHandler.GetJob)
		r.Get("/reports/{id}", reportHandler.GetReport)
	})

	r.Get("/health", api.HealthHandler(app.backend.DB))

	return r
}
