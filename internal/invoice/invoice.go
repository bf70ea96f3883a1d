// Package invoice renders a bill into a fixed-layout A4 invoice. Rendering
// is deterministic: the same bill and patient always produce the same ops
// and the same PDF bytes.
package invoice

import (
	"bytes"
	_ "embed"
	"fmt"
	"strconv"
	"sync"

	"github.com/go-pdf/fpdf"
	"golang.org/x/image/font/sfnt"

	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/money"
)

// ErrMissingPatient is returned when the bill's patient does not resolve.
var ErrMissingPatient = billing.ErrMissingPatient

// ErrUnsupportedText is returned when a string contains a character the
// invoice font has no glyph for.
var ErrUnsupportedText = billing.ErrUnsupportedText

//go:embed fonts/DejaVuSansCondensed.ttf
var fontTTF []byte

const fontFamily = "DejaVu"

var (
	glyphsOnce sync.Once
	glyphs     *sfnt.Font
	glyphsErr  error
)

func invoiceFont() (*sfnt.Font, error) {
	glyphsOnce.Do(func() {
		glyphs, glyphsErr = sfnt.Parse(fontTTF)
	})
	return glyphs, glyphsErr
}

// CheckText reports the first character in texts that the invoice font
// cannot draw.
func CheckText(texts ...string) error {
	f, err := invoiceFont()
	if err != nil {
		return fmt.Errorf("load invoice font: %w", err)
	}
	var buf sfnt.Buffer
	for _, s := range texts {
		for _, r := range s {
			idx, err := f.GlyphIndex(&buf, r)
			if err != nil || idx == 0 {
				return fmt.Errorf("%w: %q (U+%04X) in %q", ErrUnsupportedText, r, r, s)
			}
		}
	}
	return nil
}

const (
	DefaultTitle = "Hospital Management System"
	dateLayout   = "Jan 02, 2006"

	marginX  = 20.0
	colQty   = 100.0
	colUnit  = 130.0
	colTotal = 160.0

	firstRowY = 145.0
	rowStep   = 15.0
	// rows past pageBottom continue on a new page; the summary block must end
	// above summaryBottom
	pageBottom    = 280.0
	summaryBottom = 287.0
	topY          = 20.0
)

// OpKind identifies a drawing operation.
type OpKind string

const (
	OpFont OpKind = "font"
	OpText OpKind = "text"
	OpPage OpKind = "page"
)

// Op is one drawing instruction in millimetres from the top-left corner.
type Op struct {
	Kind OpKind  `json:"kind"`
	Size float64 `json:"size,omitempty"`
	X    float64 `json:"x,omitempty"`
	Y    float64 `json:"y,omitempty"`
	Text string  `json:"text,omitempty"`
}

// Document is a rendered invoice.
type Document struct {
	Name string
	Ops  []Op
	PDF  []byte
}

// Filename returns the download name of the document.
func (d *Document) Filename() string { return d.Name + ".pdf" }

type Renderer struct {
	title  string
	symbol string
}

// NewRenderer returns a renderer printing title in the header and amounts
// with the given currency symbol. Empty values fall back to the defaults.
func NewRenderer(title, symbol string) *Renderer {
	if title == "" {
		title = DefaultTitle
	}
	if symbol == "" {
		symbol = money.DefaultSymbol
	}
	return &Renderer{title: title, symbol: symbol}
}

// Render lays out the invoice and draws it. No document is produced when the
// patient does not resolve.
func (r *Renderer) Render(b *billing.Bill, patients billing.PatientLookup) (*Document, error) {
	p, ok := patients.Patient(b.PatientID)
	if !ok {
		return nil, fmt.Errorf("render invoice %s: patient %s: %w", b.ID, b.PatientID, ErrMissingPatient)
	}

	ops := r.Layout(b, p)
	if err := checkOps(ops); err != nil {
		return nil, fmt.Errorf("render invoice %s: %w", b.ID, err)
	}
	pdf, err := draw(ops, b)
	if err != nil {
		return nil, fmt.Errorf("render invoice %s: %w", b.ID, err)
	}
	return &Document{Name: "invoice-" + b.ID, Ops: ops, PDF: pdf}, nil
}

// RenderPDF implements billing.InvoiceRenderer.
func (r *Renderer) RenderPDF(b *billing.Bill, patients billing.PatientLookup) ([]byte, error) {
	doc, err := r.Render(b, patients)
	if err != nil {
		return nil, err
	}
	return doc.PDF, nil
}

// Layout returns the drawing ops for b billed to p. Items are printed in
// stored order with their stored total price.
func (r *Renderer) Layout(b *billing.Bill, p *identity.Patient) []Op {
	ops := make([]Op, 0, 24+4*len(b.Items))
	font := func(size float64) { ops = append(ops, Op{Kind: OpFont, Size: size}) }
	text := func(s string, x, y float64) { ops = append(ops, Op{Kind: OpText, X: x, Y: y, Text: s}) }

	font(20)
	text(r.title, marginX, 20)
	font(16)
	text("Invoice", marginX, 35)

	font(12)
	text("Invoice #: "+b.ID, marginX, 50)
	text("Date: "+b.CreatedAt.UTC().Format(dateLayout), marginX, 60)

	text("Bill To:", marginX, 80)
	text(p.DisplayName(), marginX, 90)
	text(p.Email, marginX, 100)
	text(p.Phone, marginX, 110)

	text("Description", marginX, 130)
	text("Qty", colQty, 130)
	text("Unit Price", colUnit, 130)
	text("Total", colTotal, 130)

	y := firstRowY
	for _, it := range b.Items {
		if y > pageBottom {
			ops = append(ops, Op{Kind: OpPage})
			font(12)
			y = topY
		}
		text(it.Description, marginX, y)
		text(strconv.Itoa(it.Quantity), colQty, y)
		text(it.UnitPrice.Format(r.symbol), colUnit, y)
		text(it.TotalPrice.Format(r.symbol), colTotal, y)
		y += rowStep
	}

	if y+40 > summaryBottom {
		ops = append(ops, Op{Kind: OpPage})
		font(12)
		y = topY
	}
	text("Total Amount: "+b.TotalAmount.Format(r.symbol), marginX, y+10)
	text("Paid Amount: "+b.PaidAmount.Format(r.symbol), marginX, y+25)
	text("Balance: "+billing.ComputeBalance(b).Format(r.symbol), marginX, y+40)

	return ops
}

func checkOps(ops []Op) error {
	for _, op := range ops {
		if op.Kind == OpText {
			if err := CheckText(op.Text); err != nil {
				return err
			}
		}
	}
	return nil
}

func draw(ops []Op, b *billing.Bill) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCreationDate(b.CreatedAt.UTC())
	pdf.SetModificationDate(b.CreatedAt.UTC())
	pdf.SetCatalogSort(true)
	pdf.SetTitle("invoice-"+b.ID, true)
	pdf.AddUTF8FontFromBytes(fontFamily, "", fontTTF)
	pdf.AddPage()

	for _, op := range ops {
		switch op.Kind {
		case OpPage:
			pdf.AddPage()
		case OpFont:
			pdf.SetFont(fontFamily, "", op.Size)
		case OpText:
			pdf.Text(op.X, op.Y, op.Text)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
