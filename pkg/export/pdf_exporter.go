package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

const (
	pdfPageWidth  = 277.0 // A4 landscape minus margins
	pdfRowHeight  = 6.0
	pdfHeadHeight = 7.0
)

// PDFExporter renders datasets into a landscape table that repeats its header on every page.
type PDFExporter struct {
	now func() time.Time
}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{now: time.Now}
}

// Render creates a PDF document headed by title.
func (e *PDFExporter) Render(data Dataset, title string) ([]byte, error) {
	if err := data.validate("pdf"); err != nil {
		return nil, err
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 12, 10)
	pdf.SetAutoPageBreak(true, 12)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	generated := e.now().UTC().Format("2006-01-02 15:04 UTC")

	widths := columnWidths(data)
	header := func() {
		pdf.SetFont("Arial", "B", 8)
		pdf.SetFillColor(230, 243, 255)
		for i, h := range data.Headers {
			pdf.CellFormat(widths[i], pdfHeadHeight, tr(h), "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 7)
	}
	pdf.SetHeaderFunc(func() {
		if pdf.PageNo() == 1 && title != "" {
			pdf.SetFont("Arial", "B", 13)
			pdf.CellFormat(0, 9, tr(title), "", 1, "L", false, 0, "")
			pdf.SetFont("Arial", "", 8)
			pdf.CellFormat(0, 5, tr(fmt.Sprintf("Generado %s, %d filas", generated, len(data.Rows))), "", 1, "L", false, 0, "")
			pdf.Ln(2)
		}
		header()
	})
	pdf.SetFooterFunc(func() {
		pdf.SetY(-10)
		pdf.SetFont("Arial", "I", 7)
		pdf.CellFormat(0, 5, fmt.Sprintf("%d", pdf.PageNo()), "", 0, "R", false, 0, "")
	})

	pdf.AddPage()
	for i := range data.Rows {
		for col, v := range data.record(i) {
			pdf.CellFormat(widths[col], pdfRowHeight, tr(truncate(pdf, v, widths[col])), "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// columnWidths shares the page width by the longest value seen per column, with a floor.
func columnWidths(data Dataset) []float64 {
	weights := make([]float64, len(data.Headers))
	total := 0.0
	for col, h := range data.Headers {
		longest := len(h)
		for _, row := range data.Rows {
			if n := len(row[h]); n > longest {
				longest = n
			}
		}
		if longest > 40 {
			longest = 40
		}
		if longest < 6 {
			longest = 6
		}
		weights[col] = float64(longest)
		total += weights[col]
	}
	for col := range weights {
		weights[col] = weights[col] / total * pdfPageWidth
	}
	return weights
}

func truncate(pdf *gofpdf.Fpdf, v string, width float64) string {
	if pdf.GetStringWidth(v) <= width-1 {
		return v
	}
	runes := []rune(v)
	for len(runes) > 0 && pdf.GetStringWidth(string(runes)+"...") > width-1 {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "..."
}
