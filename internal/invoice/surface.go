package invoice

import (
	"bytes"
	"io"
	"time"

	"github.com/go-pdf/fpdf"
)

// surface is the drawing backend used by Renderer. Coordinates are in
// millimetres from the top-left corner of the current page.
type surface interface {
	AddPage()
	SetFont(style string, size float64)
	Cell(x, y, w, h float64, align, text string)
	StringWidth(text string) float64
	Line(x1, y1, x2, y2 float64)
	Image(name string, r io.Reader, imageType string, x, y, w, h float64)
	Output(w io.Writer) error
}

// pdfSurface draws on an A4 fpdf document with the core Helvetica font.
type pdfSurface struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
}

func newPDFSurface(created time.Time, title string) surface {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetCreationDate(created)
	pdf.SetModificationDate(created)
	pdf.SetCatalogSort(true)
	pdf.SetTitle(title, true)
	pdf.SetFont("Helvetica", "", 10)

	return &pdfSurface{
		pdf: pdf,
		// Core fonts are cp1252 encoded.
		tr: pdf.UnicodeTranslatorFromDescriptor(""),
	}
}

func (s *pdfSurface) AddPage() {
	s.pdf.AddPage()
}

func (s *pdfSurface) SetFont(style string, size float64) {
	s.pdf.SetFont("Helvetica", style, size)
}

func (s *pdfSurface) Cell(x, y, w, h float64, align, text string) {
	s.pdf.SetXY(x, y)
	s.pdf.CellFormat(w, h, s.tr(text), "", 0, align+"M", false, 0, "")
}

func (s *pdfSurface) StringWidth(text string) float64 {
	return s.pdf.GetStringWidth(s.tr(text))
}

func (s *pdfSurface) Line(x1, y1, x2, y2 float64) {
	s.pdf.Line(x1, y1, x2, y2)
}

func (s *pdfSurface) Image(name string, r io.Reader, imageType string, x, y, w, h float64) {
	opts := fpdf.ImageOptions{ImageType: imageType}
	s.pdf.RegisterImageOptionsReader(name, opts, r)
	s.pdf.ImageOptions(name, x, y, w, h, false, opts, 0, "")
}

func (s *pdfSurface) Output(w io.Writer) error {
	return s.pdf.Output(w)
}

// checkImage parses data the way the PDF backend will when drawing it.
// Go's decoders accept some images fpdf cannot embed, such as interlaced
// PNGs, and fpdf fails the whole document on them.
func checkImage(data []byte, imageType string) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.RegisterImageOptionsReader("check", fpdf.ImageOptions{ImageType: imageType}, bytes.NewReader(data))
	return pdf.Error()
}
