package reports

import (
	"bytes"
	"fmt"
	"time"

	"github.com/KevinKickass/SensorIntegration/internal/storage"
	"github.com/go-pdf/fpdf"
)

// renderPDF lays out a report: title, machine, date and generator, the
// summary in a bordered box and the recommendations in italics.
func renderPDF(report *storage.Report, machine *storage.Machine) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(fmt.Sprintf("Maintenance report %d", report.ID), true)
	pdf.SetCreator("sensorintegration", true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, "Maintenance Report")
	pdf.Ln(14)

	pdf.SetFont("Helvetica", "", 11)
	for _, line := range []string{
		"Machine: " + machine.Name,
		"Date: " + report.Date.UTC().Format(time.RFC3339),
		"Generated by: " + report.GeneratedBy,
	} {
		pdf.Cell(0, 7, tr(line))
		pdf.Ln(7)
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Summary")
	pdf.Ln(9)
	pdf.SetFont("Helvetica", "", 10)
	pdf.MultiCell(0, 5, tr(report.Summary), "1", "L", false)
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Recommendations")
	pdf.Ln(9)
	pdf.SetFont("Helvetica", "I", 10)
	recommendations := report.Recommendations
	if recommendations == "" {
		recommendations = "None."
	}
	pdf.MultiCell(0, 5, tr(recommendations), "", "L", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render report %d: %w", report.ID, err)
	}
	return buf.Bytes(), nil
}
