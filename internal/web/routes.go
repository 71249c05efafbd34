package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/photo-search/internal/web/handlers"
)

func (s *Server) setupRoutes(searcher handlers.Searcher, runner handlers.ScanRunner) {
	searchHandler := handlers.NewSearchHandler(searcher, s.config.Media.Dir)
	scanHandler := handlers.NewScanHandler(runner)

	// Health check
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/search", searchHandler.Search)
		r.Get("/scan", scanHandler.Start)
		r.Get("/scan/{jobId}", scanHandler.Status)
	})

	// Short aliases kept for existing clients
	s.router.Post("/search", searchHandler.Search)
	s.router.Get("/scan", scanHandler.Start)

	// Serve the indexed files themselves. Search results reference these URLs.
	fileServer := http.FileServer(http.Dir(s.config.Media.Dir))
	s.router.Handle("/media/*", http.StripPrefix("/media/", fileServer))
}
