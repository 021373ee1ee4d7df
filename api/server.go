/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:        Request logging
  2. Recoverer:     Panic recovery (500 instead of crash)
  3. RequestID:     Unique ID per request for tracing
  4. CORS:          Cross-origin requests for frontend
  5. LibVersion:    Stamps the skills-client-lib-version response
                    header so embedded client libraries can detect a
                    stale dashboard build and prompt a reload

ROUTE GROUPS:
  /api/projects/*      Reporting and user-facing views
  /admin/projects/*    Skill/badge/level administration, approvals
  /metrics             Prometheus scrape endpoint

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.
  Admin routes are separated by path prefix only.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ClientLibVersion is reported on every response so embedded client
// libraries can detect upgrades.
const ClientLibVersion = "@skilltree/skills-client-js-3.1.0"

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"skills-client-lib-version"},
		AllowCredentials: true,
	}))
	r.Use(libVersionHeader)

	// User-facing routes
	r.Route("/api/projects/{projectId}", func(r chi.Router) {
		r.Post("/skills/{skillId}", h.ReportSkill)
		r.Get("/skills/{skillId}/dependencies", h.GetSkillDependencies)

		r.Get("/summary", h.GetProjectSummary)
		r.Get("/rank", h.GetProjectRank)
		r.Get("/pointHistory", h.GetProjectPointHistory)

		r.Get("/subjects/{subjectId}/summary", h.GetSubjectSummary)
		r.Get("/subjects/{subjectId}/rank", h.GetSubjectRank)
		r.Get("/subjects/{subjectId}/pointHistory", h.GetSubjectPointHistory)

		r.Get("/badges/{badgeId}/progress", h.GetBadgeProgress)
		r.Get("/expirations", h.ListExpirations)

		r.Post("/celebrations/dismiss", h.DismissCelebration)
	})

	// Admin routes
	r.Route("/admin/projects/{projectId}", func(r chi.Router) {
		r.Post("/skills/{skillId}", h.UpsertSkill)
		r.Post("/badges/{badgeId}", h.UpsertBadge)
		r.Post("/levels", h.SetLevels)

		r.Post("/{kind}/{refId}/prerequisite/{prereqProject}/{prereqKind}/{prereqRefId}", h.AddPrerequisite)
		r.Delete("/{kind}/{refId}/prerequisite/{prereqProject}/{prereqKind}/{prereqRefId}", h.RemovePrerequisite)

		r.Get("/approvals", h.ListPendingApprovals)
		r.Post("/approvals/approve", h.ApproveApprovals)
		r.Post("/approvals/reject", h.RejectApprovals)
	})

	// Prometheus scrape endpoint
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func libVersionHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("skills-client-lib-version", ClientLibVersion)
		next.ServeHTTP(w, r)
	})
}
