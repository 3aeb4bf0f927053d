package rest

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ratchetdb/ratchet/internal/rest/handlers"
)

// SetupRoutes mounts the read-only status API. Migrations are never
// triggered over HTTP; runs happen through the CLI under the advisory lock.
func SetupRoutes(router *chi.Mux, status *handlers.StatusHandler) {
	router.Route("/migrations/v1", func(r chi.Router) {
		r.Get("/status", status.GetStatus)
		r.Get("/records", status.GetRecords)
	})
	router.Handle("/metrics", promhttp.Handler())
}
