package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints.
		r.Get("/health", s.handleHealth)
		r.Get("/config", s.handleConfig)

		// Auth endpoints.
		r.Route("/auth", func(r chi.Router) {
			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Auth,
				))
			}

			r.Post("/login", s.handleLogin)
			r.Post("/logout", s.handleLogout)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth)
				r.Get("/me", s.handleMe)

				// API key management (authenticated users).
				r.Post("/api-keys", s.handleCreateAPIKey)
				r.Get("/api-keys", s.handleListMyAPIKeys)
				r.Delete("/api-keys/{id}", s.handleDeleteMyAPIKey)
			})
		})

		r.Route("/projects", func(r chi.Router) {
			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Authenticated,
				))
			}

			// Read endpoints honor anonymous_read.
			r.Group(func(r chi.Router) {
				if !s.cfg.Auth.AnonymousRead {
					r.Use(s.requireAuth)
				}

				r.Get("/", s.handleListProjects)
				r.Get("/{id}", s.handleGetProject)
				r.Get("/{id}/tags", s.handleListProjectTags)
				r.Get("/{id}/tests", s.handleListProjectTests)
				r.Get("/{id}/executions", s.handleListProjectExecutions)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth)

				r.Post("/", s.handleCreateProject)
				r.Put("/{id}", s.handleUpdateProject)
				r.Delete("/{id}", s.handleDeleteProject)

				// Report upload feeds the ingest pipeline.
				r.Post("/{id}/executions", s.handleUploadReport)
			})
		})

		r.Route("/executions", func(r chi.Router) {
			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Authenticated,
				))
			}

			r.Group(func(r chi.Router) {
				if !s.cfg.Auth.AnonymousRead {
					r.Use(s.requireAuth)
				}

				r.Get("/{id}", s.handleGetExecution)
				r.Get("/{id}/results", s.handleListExecutionResults)
				r.Get("/{id}/flaky", s.handleListFlakyResults)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth)

				r.Delete("/{id}", s.handleDeleteExecution)
				r.Put("/{id}/comment", s.handleUpdateExecutionComment)
			})
		})

		r.Route("/tests", func(r chi.Router) {
			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Authenticated,
				))
			}

			r.Group(func(r chi.Router) {
				if !s.cfg.Auth.AnonymousRead {
					r.Use(s.requireAuth)
				}

				r.Get("/{id}", s.handleGetTest)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth)

				r.Put("/{id}/comment", s.handleUpdateTestComment)
			})
		})

		// Admin endpoints (require auth + admin role).
		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Use(s.requireRole("admin"))

			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Authenticated,
				))
			}

			// User management.
			r.Get("/users", s.handleListUsers)
			r.Post("/users", s.handleCreateUser)
			r.Put("/users/{id}", s.handleUpdateUser)
			r.Delete("/users/{id}", s.handleDeleteUser)

			// Session management.
			r.Get("/sessions", s.handleListSessions)
			r.Delete("/sessions/{id}", s.handleDeleteSessionByID)

			// API key management (admin).
			r.Get("/api-keys", s.handleListAllAPIKeys)
			r.Delete("/api-keys/{id}", s.handleDeleteAPIKey)
		})
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the server config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	origins := s.cfg.Server.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		// Reflect the requesting origin so credentials work from any origin.
		opts.AllowOriginFunc = func(_ *http.Request, _ string) bool {
			return true
		}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
