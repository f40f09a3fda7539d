// Package api is the HTTP edge: request decoding, tenant scoping, a global
// inbound throttle and JSON rendering. All enrichment semantics live below
// it in the dispatcher and job packages.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/prospectly/server/pkg/bootstrap"
)

// Server wires handlers to the service dependency graph.
type Server struct {
	svc    *bootstrap.Service
	logger *slog.Logger
}

// NewServer creates the HTTP edge over svc.
func NewServer(svc *bootstrap.Service) *Server {
	return &Server{
		svc:    svc,
		logger: svc.Logger.With("component", "api"),
	}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.throttle(s.svc.Config.RateLimitWindow, s.svc.Config.RateLimitMax))

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireTenant)

		r.Post("/enrich", s.handleEnrich)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.handleSubmitJob)
			r.Get("/", s.handleListJobs)
			r.Get("/{jobID}", s.handleGetJob)
			r.Post("/{jobID}/cancel", s.handleCancelJob)
		})

		r.Route("/providers", func(r chi.Router) {
			r.Get("/", s.handleListProviders)
			r.Route("/{providerID}/credentials", func(r chi.Router) {
				r.Get("/", s.handleListCredentials)
				r.Post("/", s.handleAddCredential)
				r.Post("/{credID}/activate", s.handleActivateCredential)
				r.Patch("/{credID}", s.handleUpdateCredential)
				r.Delete("/{credID}", s.handleDeleteCredential)
			})
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DB.PingContext(r.Context()); err != nil {
		s.logger.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
