package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/lcalzada-xor/flowmap/internal/adapters/reporting"
)

// HandleModel serves the verified model as JSON.
func (s *Server) HandleModel(w http.ResponseWriter, r *http.Request) {
	var report *reporting.Report
	s.Registry.View(func() {
		report = reporting.Build(s.Registry.Logging(), s.Vendors)
	})
	writeJSON(w, http.StatusOK, report)
}

// HandleReport serves the verification report as text or PDF.
func (s *Server) HandleReport(w http.ResponseWriter, r *http.Request) {
	var report *reporting.Report
	s.Registry.View(func() {
		report = reporting.Build(s.Registry.Logging(), s.Vendors)
	})

	switch r.URL.Query().Get("format") {
	case "pdf":
		data, err := s.PDFExporter.Export(report)
		if err != nil {
			http.Error(w, "report generation failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		filename := fmt.Sprintf("flowmap_report_%s.pdf", time.Now().Format("20060102_150405"))
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		w.Write(data)
	case "", "text":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := reporting.WriteText(w, report); err != nil {
			http.Error(w, "report generation failed: "+err.Error(), http.StatusInternalServerError)
		}
	default:
		http.Error(w, "unknown format", http.StatusBadRequest)
	}
}
