package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Monas-project/Prot-Prototype/internal/components/api"
	apiinbox "github.com/Monas-project/Prot-Prototype/internal/components/api/inbox"
	"github.com/Monas-project/Prot-Prototype/internal/components/api/outbox"
	"github.com/Monas-project/Prot-Prototype/internal/components/api/registrations"
	httpmw "github.com/Monas-project/Prot-Prototype/internal/platform/http/middleware"
)

// setupRoutes creates the chi router.
func (s *Server) setupRoutes() chi.Router {
	r := chi.NewRouter()

	// Transport middleware (order is invariant):
	// RequestID -> request-scoped logger -> access log -> recoverer
	r.Use(chimw.RequestID)
	r.Use(httpmw.RequestLogger(s.logger))
	r.Use(httpmw.AccessLog(s.logger, s.deps.Metrics))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", api.HealthHandler)

	if s.deps.Metrics != nil {
		path := s.cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, s.deps.Metrics.Handler())
	}

	regs := registrations.NewHandler(s.deps.Registration, s.logger)
	inbox := apiinbox.NewHandler(s.deps.Notifier, s.logger)
	out := outbox.NewHandler(s.deps.Registration, s.logger)

	r.Route("/api", func(r chi.Router) {
		r.Post("/registrations", regs.HandleCreate)
		r.Get("/inbox/{address}", inbox.HandleList)
		r.Get("/outbox/{address}", out.HandleList)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		api.WriteNotFound(w, "no such endpoint")
	})

	return r
}
