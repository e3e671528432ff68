package notify

import (
	"bytes"
	"fmt"
	"time"

	"codeberg.org/go-pdf/fpdf"

	"github.com/technosupport/ppe-sentinel/internal/data"
)

// RecapItem pairs one violation with its downloaded evidence image. Image
// may be nil when the download failed; the report then carries a note
// instead of the picture.
type RecapItem struct {
	Detail data.ViolationDetail
	Image  []byte
}

const (
	pdfMargin      = 25.4 // 1 inch
	pdfImageHeight = 80   // 8 cm
	pdfLabelWidth  = 45
	pdfRowHeight   = 7
)

// BuildRecapPDF renders the violation summary report: a header block, then
// one section per event with a detail table and the evidence photo.
func BuildRecapPDF(fullName string, start, end time.Time, items []RecapItem) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(true, pdfMargin)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pageW, pageH := pdf.GetPageSize()
	contentW := pageW - 2*pdfMargin

	pdf.SetFont("Times", "B", 16)
	pdf.CellFormat(contentW, 10, "PPE VIOLATION SUMMARY REPORT", "", 1, "C", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Times", "", 11)
	pdf.CellFormat(contentW, 6, tr(fmt.Sprintf("Recipient: %s", fullName)), "", 1, "L", false, 0, "")
	pdf.CellFormat(contentW, 6, fmt.Sprintf("Reporting Period: %s - %s",
		start.Format("02 January 2006"), end.Format("02 January 2006")), "", 1, "L", false, 0, "")
	pdf.CellFormat(contentW, 6, fmt.Sprintf("Total Violations: %d", len(items)), "", 1, "L", false, 0, "")
	pdf.Ln(6)

	for i, item := range items {
		d := item.Detail

		// Keep the section title, table and image start together.
		if pdf.GetY()+40 > pageH-pdfMargin {
			pdf.AddPage()
		}

		pdf.SetFont("Times", "B", 12)
		pdf.CellFormat(contentW, 8, tr(fmt.Sprintf("%d. Type Violation: %s", i+1, d.ViolationName)), "", 1, "L", false, 0, "")

		location := d.CctvName
		if d.Location != nil && *d.Location != "" {
			location = fmt.Sprintf("%s (%s)", d.CctvName, *d.Location)
		}
		writeDetailRow(pdf, tr, "CCTV Location:", location, contentW)
		writeDetailRow(pdf, tr, "Time of Incident:", d.Timestamp.Format("2006-01-02 15:04:05"), contentW)
		pdf.Ln(3)

		if !attachEvidence(pdf, i, item.Image, pageH) {
			pdf.SetFont("Times", "", 11)
			pdf.SetTextColor(255, 0, 0)
			pdf.CellFormat(contentW, 6, "Visual Evidence: Image Failed to Attach.", "", 1, "L", false, 0, "")
			pdf.SetTextColor(0, 0, 0)
		}
		pdf.Ln(8)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func writeDetailRow(pdf *fpdf.Fpdf, tr func(string) string, label, value string, contentW float64) {
	pdf.SetFont("Times", "B", 10)
	pdf.SetFillColor(220, 220, 220)
	pdf.CellFormat(pdfLabelWidth, pdfRowHeight, label, "1", 0, "L", true, 0, "")
	pdf.SetFont("Times", "", 10)
	pdf.CellFormat(contentW-pdfLabelWidth, pdfRowHeight, tr(value), "1", 1, "L", false, 0, "")
}

// attachEvidence places the JPEG scaled to a fixed height, preserving the
// aspect ratio. Returns false when the bytes cannot be used as an image.
func attachEvidence(pdf *fpdf.Fpdf, idx int, img []byte, pageH float64) bool {
	if len(img) == 0 {
		return false
	}

	name := fmt.Sprintf("evidence_%d", idx)
	opts := fpdf.ImageOptions{ImageType: "JPG"}
	info := pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(img))
	if !pdf.Ok() {
		pdf.ClearError()
		return false
	}
	if info == nil || info.Height() <= 0 {
		return false
	}

	w := pdfImageHeight * info.Width() / info.Height()
	if pdf.GetY()+pdfImageHeight > pageH-pdfMargin {
		pdf.AddPage()
	}
	pdf.ImageOptions(name, pdfMargin, pdf.GetY(), w, pdfImageHeight, true, opts, 0, "")
	if !pdf.Ok() {
		pdf.ClearError()
		return false
	}
	return true
}
