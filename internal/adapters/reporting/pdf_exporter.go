package reporting

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"

	"github.com/lcalzada-xor/flowmap/internal/core/domain"
)

// PDFExporter exports reports to PDF format
type PDFExporter struct{}

// NewPDFExporter creates a new PDF exporter instance
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Export generates a PDF document from a report
func (e *PDFExporter) Export(report *Report) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	e.addHeader(pdf, report)
	e.addVerdictBox(pdf, report)
	e.addHosts(pdf, report)
	e.addConnections(pdf, report)
	e.addFooter(pdf, report)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}
	return buf.Bytes(), nil
}

// addHeader adds the report header
func (e *PDFExporter) addHeader(pdf *gofpdf.Fpdf, report *Report) {
	pdf.SetFont("Arial", "B", 24)
	pdf.SetTextColor(0, 51, 102) // Dark blue
	pdf.CellFormat(0, 15, report.SystemName, "", 1, "L", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(120, 120, 120)
	dateStr := fmt.Sprintf("Generated: %s", report.GeneratedAt.Format("2006-01-02 15:04"))
	pdf.CellFormat(0, 6, dateStr, "", 1, "L", false, 0, "")
	pdf.Ln(8)
}

// addVerdictBox adds the prominent overall verdict display
func (e *PDFExporter) addVerdictBox(pdf *gofpdf.Fpdf, report *Report) {
	r, g, b := e.getVerdictColor(report.Verdict)

	pdf.SetFillColor(r, g, b)
	pdf.Rect(20, pdf.GetY(), 170, 25, "F")

	y := pdf.GetY()
	pdf.SetFont("Arial", "B", 28)
	pdf.SetTextColor(255, 255, 255) // White
	pdf.SetXY(25, y+4)
	pdf.CellFormat(80, 16, string(report.Verdict), "", 0, "L", false, 0, "")

	pdf.SetFont("Arial", "B", 14)
	pdf.SetXY(110, y+7)
	pdf.CellFormat(80, 10, "Overall Verdict", "", 0, "L", false, 0, "")

	pdf.SetY(y + 30)
	pdf.Ln(5)
}

// getVerdictColor returns RGB color based on verdict
func (e *PDFExporter) getVerdictColor(verdict domain.Verdict) (r, g, b int) {
	switch verdict {
	case domain.VerdictFail:
		return 220, 53, 69 // Red
	case domain.VerdictPass:
		return 52, 199, 89 // Green
	default:
		return 255, 149, 0 // Orange, inconclusive
	}
}

// addHosts adds the hosts and services table
func (e *PDFExporter) addHosts(pdf *gofpdf.Fpdf, report *Report) {
	pdf.SetFont("Arial", "B", 14)
	pdf.SetTextColor(0, 51, 102)
	pdf.CellFormat(0, 10, "Hosts", "", 1, "L", false, 0, "")
	pdf.Ln(2)

	// Table header
	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Arial", "B", 10)
	pdf.SetTextColor(60, 60, 60)
	pdf.CellFormat(60, 8, "Host", "1", 0, "L", true, 0, "")
	pdf.CellFormat(40, 8, "Address", "1", 0, "L", true, 0, "")
	pdf.CellFormat(35, 8, "Status", "1", 0, "L", true, 0, "")
	pdf.CellFormat(35, 8, "Verdict", "1", 1, "C", true, 0, "")

	pdf.SetFont("Arial", "", 9)
	for _, h := range report.Hosts {
		e.checkPageBreak(pdf)
		name := h.Name
		if h.Vendor != "" {
			name += " (" + h.Vendor + ")"
		}
		pdf.SetTextColor(60, 60, 60)
		pdf.CellFormat(60, 7, truncate(name, 38), "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 7, truncate(h.Address, 24), "1", 0, "L", false, 0, "")
		pdf.CellFormat(35, 7, h.Status, "1", 0, "L", false, 0, "")
		r, g, b := e.getVerdictColor(h.Verdict)
		pdf.SetTextColor(r, g, b)
		pdf.CellFormat(35, 7, string(h.Verdict), "1", 1, "C", false, 0, "")

		for _, s := range h.Services {
			e.checkPageBreak(pdf)
			pdf.SetTextColor(100, 100, 100)
			pdf.CellFormat(60, 6, "    "+truncate(s.Name, 34), "1", 0, "L", false, 0, "")
			pdf.CellFormat(40, 6, "", "1", 0, "L", false, 0, "")
			pdf.CellFormat(35, 6, s.Status, "1", 0, "L", false, 0, "")
			r, g, b := e.getVerdictColor(s.Verdict)
			pdf.SetTextColor(r, g, b)
			pdf.CellFormat(35, 6, string(s.Verdict), "1", 1, "C", false, 0, "")
		}
	}
	pdf.Ln(8)
}

// addConnections adds the connections table
func (e *PDFExporter) addConnections(pdf *gofpdf.Fpdf, report *Report) {
	pdf.SetFont("Arial", "B", 14)
	pdf.SetTextColor(0, 51, 102)
	pdf.CellFormat(0, 10, "Connections", "", 1, "L", false, 0, "")
	pdf.Ln(2)

	if len(report.Connections) == 0 {
		pdf.SetFont("Arial", "I", 10)
		pdf.SetTextColor(100, 100, 100)
		pdf.CellFormat(0, 7, "No connections observed or declared", "", 1, "L", false, 0, "")
		pdf.Ln(5)
		return
	}

	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Arial", "B", 10)
	pdf.SetTextColor(60, 60, 60)
	pdf.CellFormat(55, 8, "Source", "1", 0, "L", true, 0, "")
	pdf.CellFormat(55, 8, "Target", "1", 0, "L", true, 0, "")
	pdf.CellFormat(20, 8, "Flows", "1", 0, "C", true, 0, "")
	pdf.CellFormat(40, 8, "Verdict", "1", 1, "C", true, 0, "")

	pdf.SetFont("Arial", "", 9)
	for _, c := range report.Connections {
		e.checkPageBreak(pdf)
		pdf.SetTextColor(60, 60, 60)
		pdf.CellFormat(55, 7, truncate(c.Source, 34), "1", 0, "L", false, 0, "")
		pdf.CellFormat(55, 7, truncate(c.Target, 34), "1", 0, "L", false, 0, "")
		pdf.CellFormat(20, 7, fmt.Sprintf("%d", c.Flows), "1", 0, "C", false, 0, "")
		r, g, b := e.getVerdictColor(c.Verdict)
		pdf.SetTextColor(r, g, b)
		pdf.CellFormat(40, 7, string(c.Verdict), "1", 1, "C", false, 0, "")
	}
	pdf.Ln(8)
}

// checkPageBreak starts a new page when near the bottom
func (e *PDFExporter) checkPageBreak(pdf *gofpdf.Fpdf) {
	if pdf.GetY() > 265 {
		pdf.AddPage()
	}
}

// addFooter adds the report footer
func (e *PDFExporter) addFooter(pdf *gofpdf.Fpdf, report *Report) {
	pdf.SetY(-20)

	pdf.SetDrawColor(200, 200, 200)
	pdf.Line(20, pdf.GetY(), 190, pdf.GetY())
	pdf.Ln(3)

	pdf.SetFont("Arial", "I", 8)
	pdf.SetTextColor(120, 120, 120)
	footerText := fmt.Sprintf("Generated by flowmap | %d evidence sources", len(report.Sources))
	pdf.CellFormat(0, 5, footerText, "", 1, "C", false, 0, "")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
