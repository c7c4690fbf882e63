// Package web serves the HTTP and WebSocket API: event ingestion,
// model and report views, replay control and the live change feed.
package web

import (
	"context"
	"log"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lcalzada-xor/flowmap/internal/adapters/reporting"
	"github.com/lcalzada-xor/flowmap/internal/core/ports"
	"github.com/lcalzada-xor/flowmap/internal/core/services/registry"
)

// Server handles HTTP and WebSocket connections.
type Server struct {
	Addr        string
	Registry    *registry.Registry
	Vendors     ports.VendorLookup
	PDFExporter *reporting.PDFExporter
	Keys        *APIKeys
	WSManager   *WSManager

	srv *http.Server
}

// NewServer creates the API server over the registry. The vendor
// lookup may be nil.
func NewServer(addr string, reg *registry.Registry, vendors ports.VendorLookup, keys *APIKeys) *Server {
	if keys == nil {
		keys = NewAPIKeys()
	}
	s := &Server{
		Addr:        addr,
		Registry:    reg,
		Vendors:     vendors,
		PDFExporter: reporting.NewPDFExporter(),
		Keys:        keys,
		WSManager:   NewWSManager(),
	}
	reg.System().AddModelListener(s.WSManager)
	return s
}

// Run starts the server and the live feed broadcaster, blocking until
// the context ends or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	s.WSManager.Start(ctx)

	handler := SetupRoutes(s)
	instrumentedHandler := otelhttp.NewHandler(handler, "flowmap-server")

	s.srv = &http.Server{
		Addr:              s.Addr,
		Handler:           instrumentedHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Println("Web server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Web server shutdown error: %v", err)
		}
	}()

	log.Printf("Web server listening on %s", s.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
