package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouteOptions holds the router settings that come from configuration.
type RouteOptions struct {
	AllowedOrigins []string
	// Metrics serves /metrics when non-nil.
	Metrics http.Handler
}

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers, hc *HealthChecker, opts RouteOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Company-ID"},
		ExposedHeaders: []string{"Link"},
		MaxAge:         300,
	}))

	// Health and metrics (no tenant required)
	r.Get("/health", hc.HandleHealth)
	r.Get("/health/live", hc.HandleLiveness)
	r.Get("/healthz", hc.HandleLiveness)
	r.Get("/health/ready", hc.HandleReadiness)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(RequireCompany)

		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", h.HandleListCampaigns)
			r.Post("/", h.HandleCreateCampaign)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.HandleGetCampaign)
				r.Delete("/", h.HandleDeleteCampaign)
				r.Post("/start", lifecycle(h.campaigns.Start))
				r.Post("/pause", lifecycle(h.campaigns.Pause))
				r.Post("/resume", lifecycle(h.campaigns.Resume))
				r.Post("/cancel", lifecycle(h.campaigns.Cancel))
				r.Post("/complete", lifecycle(h.campaigns.CompleteOccurrence))
				r.Post("/populate", h.HandlePopulate)
				r.Post("/enqueue", h.HandleEnqueue)
			})
		})

		r.Post("/audience/preview", h.HandlePreviewAudience)
		r.Post("/recurrence/next", h.HandleNextSendTime)
		r.Get("/scheduler/stats", h.HandleSchedulerStats)
	})

	return r
}
