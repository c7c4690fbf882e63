package web

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes builds the API router.
func SetupRoutes(s *Server) http.Handler {
	r := mux.NewRouter()
	r.Use(AuthMiddleware(s.Keys))

	// Event ingestion and replay control
	r.HandleFunc("/api/events", s.HandleEvents).Methods(http.MethodPost)
	r.HandleFunc("/api/reset", s.HandleReset).Methods(http.MethodPost)
	r.HandleFunc("/api/sources", s.HandleSources).Methods(http.MethodGet)

	// Model and report views
	r.HandleFunc("/api/model", s.HandleModel).Methods(http.MethodGet)
	r.HandleFunc("/api/report", s.HandleReport).Methods(http.MethodGet)

	// Live change feed
	r.HandleFunc("/ws", s.WSManager.HandleWebSocket)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return r
}
