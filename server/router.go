package server

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Router assembles the chi mux with the standard middleware stack.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggerMiddleware(s.log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.WriteTimeout))
	r.Use(middleware.RequestSize(s.cfg.MaxRequestSize))

	if s.cfg.EnableCORS {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.CorsOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Admin-Key"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Use(middleware.Compress(5))

	// Health
	r.Get("/health", s.handleHealth)

	// OIDC discovery and keys
	r.Get("/.well-known/openid-configuration", s.handleDiscovery)
	r.Get("/jwks", s.handleJWKS)

	// Authorization flow
	r.Get("/authorize", s.handleAuthorize)
	r.Post("/authorize/consent", s.handleConsent)
	r.Post("/token", s.handleToken)
	r.Get("/userinfo", s.handleUserinfo)

	// Proof retrieval and circuit catalogue
	r.Get("/proofs/{proofID}", s.handleGetProof)
	r.Get("/circuits", s.handleListCircuits)

	// Admin surface
	r.Route("/admin", func(ar chi.Router) {
		ar.Use(s.adminAuth)
		ar.Get("/stats", s.handleAdminStats)
		ar.Get("/health/detailed", s.handleAdminHealth)

		ar.Get("/clients", s.handleAdminListClients)
		ar.Post("/clients", s.handleAdminCreateClient)
		ar.Delete("/clients/{clientID}", s.handleAdminDeleteClient)

		ar.Get("/issuers", s.handleAdminListIssuers)
		ar.Post("/issuers", s.handleAdminCreateIssuer)
		ar.Put("/issuers/{issuerID}", s.handleAdminUpdateIssuer)
		ar.Delete("/issuers/{issuerID}", s.handleAdminDeleteIssuer)

		ar.Get("/proofs", s.handleAdminListProofs)
		ar.Get("/audit", s.handleAdminListAudit)
	})

	return r
}
