// Package server wires HTTP handlers into a chi router for the roomhub
// application via routing helpers.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Tyrowin/roomhub/internal/auth"
	"github.com/Tyrowin/roomhub/internal/polling"
)

// Routes builds the HTTP handler: the socket endpoint, health and metrics,
// the test page and the polling API under /api.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(metricsMiddleware)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(s.log.With().Str("component", "http").Logger()))
	r.Use(chimw.Recoverer)

	r.Get("/", HealthHandler)
	r.Get("/healthz", s.Healthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/test", s.TestPageHandler)
	r.HandleFunc("/ws", s.WebSocketHandler)

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", auth.HeaderUserID, auth.HeaderUsername, auth.HeaderUserRole},
			MaxAge:         300,
		}))
		r.Use(auth.Middleware(s.verifier), auth.RequireIdentity)

		polling.NewHandler(s.adapter, s.router, s.store, s.authority, s.log).Routes(r)
	})

	return r
}
