package export

import (
	"bytes"
	"fmt"
	"survey_engine/surveys/moderation"
	"survey_engine/surveys/scoring"

	"github.com/go-pdf/fpdf"
)

const PdfContentType = "application/pdf"

const (
	pdfMargin     = 20.0
	pdfLineHeight = 6.0
	pdfFont       = "Helvetica"
)

// BuildPdf renders the report as an A4 document, one block per opinion. Core
// fonts only cover cp1252 so ratings are written as N/5.
func BuildPdf(report Report) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(true, pdfMargin)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()

	pdf.SetFont(pdfFont, "B", 16)
	pdf.CellFormat(0, 10, "Survey Opinions Report", "", 1, "L", false, 0, "")
	if report.SurveyName != "" {
		pdf.SetFont(pdfFont, "", 12)
		pdf.MultiCell(0, pdfLineHeight, tr(report.SurveyName), "", "L", false)
	}
	pdf.Ln(4)

	if len(report.Opinions) == 0 {
		pdf.SetFont(pdfFont, "I", 11)
		pdf.CellFormat(0, pdfLineHeight, "No opinions have been published yet.", "", 1, "L", false, 0, "")
	}

	for _, row := range report.Opinions {
		pdf.SetFont(pdfFont, "", 9)
		pdf.CellFormat(0, pdfLineHeight, fmt.Sprintf("#%d  Score: %d (%d/5) | Supporters: %d",
			row.Id, row.PriorityScore, scoring.StarRating(row.PriorityScore), row.SupporterCount), "", 1, "L", false, 0, "")

		pdf.SetFont(pdfFont, "B", 12)
		pdf.MultiCell(0, pdfLineHeight, tr(row.Title), "", "L", false)

		pdf.SetFont(pdfFont, "", 10)
		pdf.MultiCell(0, pdfLineHeight, tr(row.Content), "", "L", false)

		if notes := row.notes(); notes != "" {
			pdf.SetFont(pdfFont, "B", 10)
			pdf.CellFormat(0, pdfLineHeight, "Administrator Comments & Notes", "", 1, "L", false, 0, "")
			pdf.SetFont(pdfFont, "", 10)
			pdf.MultiCell(0, pdfLineHeight, tr(notes), "", "L", false)
		}

		if len(row.DisclosedPii) > 0 {
			pdf.SetFont(pdfFont, "", 9)
			pdf.MultiCell(0, pdfLineHeight, tr("PII: "+moderation.FormatPii(row.DisclosedPii)), "", "L", false)
		}

		pdf.SetFont(pdfFont, "I", 9)
		pdf.MultiCell(0, pdfLineHeight, row.components(), "", "L", false)
		pdf.Ln(4)
	}

	var buffer bytes.Buffer
	if err := pdf.Output(&buffer); err != nil {
		return nil, fmt.Errorf("failed to render pdf: %w", err)
	}

	return buffer.Bytes(), nil
}
