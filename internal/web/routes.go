package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kozaktomas/face-ballot/internal/web/handlers"
	"github.com/kozaktomas/face-ballot/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	ballotHandler := handlers.NewBallotHandler(s.config, s.session)
	configHandler := handlers.NewConfigHandler(s.config, s.session)
	voteLimiter := middleware.NewRateLimiter(s.config.Web.VoteRateLimit, s.config.Web.VoteRateBurst)

	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck)
		r.Post("/initialize", ballotHandler.Initialize)
		r.Get("/config", configHandler.Get)

		r.Route("/proposals", func(r chi.Router) {
			r.Get("/", ballotHandler.ListProposals)
			r.With(middleware.RequireAdminToken(s.config.Web.AdminToken)).Post("/", ballotHandler.AddProposal)
		})

		r.With(voteLimiter.Handler).Post("/vote", ballotHandler.Vote)
		r.Get("/voters/{faceHash}", ballotHandler.GetVoter)
	})
}
