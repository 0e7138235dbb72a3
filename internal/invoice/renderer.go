// Package invoice renders orders into paginated PDF invoices.
package invoice

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"os"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/wholesale-orders/internal/domain/order"
	"github.com/xenking/wholesale-orders/internal/domain/pricing"
)

// ErrGenerationFailed is returned when the PDF backend fails. No partial
// document is returned with it.
var ErrGenerationFailed = errors.New("pdf generation failed")

const (
	// DefaultTitle is printed in the header band of every page.
	DefaultTitle = "Order Confirmation"

	dateFormat  = "02/01/2006"
	placeholder = "N/A"
	currency    = "€"

	logoWidth = 40
	lineGap   = 7
)

// Config configures a Renderer.
type Config struct {
	// LogoPath points at a PNG or JPEG drawn in the header band. It is read
	// on every render; a missing or unreadable file is logged and skipped.
	LogoPath string
	Title    string
	// Layout defaults to DefaultLayout.
	Layout *Layout

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Renderer turns orders into PDF documents. It holds no per-render state and
// is safe for concurrent use.
type Renderer struct {
	logoPath string
	title    string
	layout   Layout
	lg       *zap.Logger

	tracer   trace.Tracer
	duration metric.Float64Histogram

	newSurface func(created time.Time, title string) surface
	checkImage func(data []byte, imageType string) error
}

// NewRenderer creates a Renderer.
func NewRenderer(cfg Config, lg *zap.Logger) (*Renderer, error) {
	if lg == nil {
		lg = zap.NewNop()
	}
	if cfg.Title == "" {
		cfg.Title = DefaultTitle
	}
	layout := DefaultLayout()
	if cfg.Layout != nil {
		layout = *cfg.Layout
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = tracenoop.NewTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = metricnoop.NewMeterProvider()
	}

	meter := cfg.MeterProvider.Meter("invoice")
	duration, err := meter.Float64Histogram("invoice.render.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Time spent rendering an invoice PDF"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create render duration histogram")
	}

	return &Renderer{
		logoPath:   cfg.LogoPath,
		title:      cfg.Title,
		layout:     layout,
		lg:         lg,
		tracer:     cfg.TracerProvider.Tracer("invoice"),
		duration:   duration,
		newSurface: newPDFSurface,
		checkImage: checkImage,
	}, nil
}

// Render produces the PDF invoice for o. Rendering the same order twice
// yields identical bytes.
func (r *Renderer) Render(ctx context.Context, o *order.Order) (_ []byte, rerr error) {
	ctx, span := r.tracer.Start(ctx, "invoice.Render",
		trace.WithAttributes(
			attribute.String("order.id", o.ID),
			attribute.Int("order.items", len(o.Items)),
		),
	)
	start := time.Now()
	defer func() {
		r.duration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.Bool("error", rerr != nil)),
		)
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	logo := r.loadLogo(o.ID)

	return r.render(o, logo)
}

func (r *Renderer) render(o *order.Order, logo *logoImage) (out []byte, err error) {
	defer func() {
		if p := recover(); p != nil {
			out = nil
			err = fmt.Errorf("%w: panic: %v", ErrGenerationFailed, p)
		}
	}()

	plan := r.layout.Plan(len(o.Items))
	d := &document{
		r:     r,
		s:     r.newSurface(o.CreatedAt, r.title),
		o:     o,
		logo:  logo,
		plan:  plan,
		total: plan.Pages,
	}
	d.write()

	var buf bytes.Buffer
	if err := d.s.Output(&buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	return buf.Bytes(), nil
}

type logoImage struct {
	data      []byte
	imageType string
}

func (r *Renderer) loadLogo(orderID string) *logoImage {
	if r.logoPath == "" {
		return nil
	}
	data, err := os.ReadFile(r.logoPath)
	if err != nil {
		r.lg.Warn("Invoice logo unavailable",
			zap.String("path", r.logoPath),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return nil
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		r.lg.Warn("Invoice logo is not a valid image",
			zap.String("path", r.logoPath),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return nil
	}

	imageType := "PNG"
	if format == "jpeg" {
		imageType = "JPG"
	}
	if err := r.checkImage(data, imageType); err != nil {
		r.lg.Warn("Invoice logo is not supported by the PDF backend",
			zap.String("path", r.logoPath),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return nil
	}
	return &logoImage{data: data, imageType: imageType}
}

// document walks a precomputed Plan and draws onto a surface.
type document struct {
	r     *Renderer
	s     surface
	o     *order.Order
	logo  *logoImage
	plan  Plan
	page  int
	total int
}

func (d *document) write() {
	l := d.r.layout

	d.newPage()
	d.metadata()
	d.customer()
	d.tableHeader(l.FirstTop - 8)

	for i, item := range d.o.Items {
		at := d.plan.Rows[i]
		if at.Page != d.page {
			d.footer()
			d.newPage()
			d.tableHeader(l.ContinuationTop - 8)
		}
		d.row(at.Y, item)
	}

	if d.plan.Summary.Page != d.page {
		d.footer()
		d.newPage()
	}
	d.summary(d.plan.Summary.Y)
	d.footer()
}

func (d *document) newPage() {
	d.page++
	d.s.AddPage()
	d.header()
}

func (d *document) header() {
	l := d.r.layout
	if d.logo != nil {
		d.s.Image("logo", bytes.NewReader(d.logo.data), d.logo.imageType, l.Margin, 10, logoWidth, 0)
	}
	d.s.SetFont("B", 18)
	d.s.Cell(l.Margin, 12, pageWidth-2*l.Margin, 10, "R", d.r.title)
	d.s.Line(l.Margin, 28, pageWidth-l.Margin, 28)
}

func (d *document) metadata() {
	l := d.r.layout
	d.s.SetFont("", 11)
	d.s.Cell(l.Margin, 34, 0, 6, "L", "Order ID: "+d.o.ID)
	d.s.Cell(l.Margin, 34+lineGap, 0, 6, "L", "Date: "+d.o.CreatedAt.Format(dateFormat))
}

func (d *document) customer() {
	l := d.r.layout
	y := 56.0

	d.s.SetFont("B", 12)
	d.s.Cell(l.Margin, y, 0, 6, "L", "User Information")

	var name, company, vat, phone, email, address string
	if u := d.o.User; u != nil {
		name, company, vat, phone, email, address = u.Name, u.Company, u.VATNumber, u.PhoneNumber, u.Email, u.Address
	}

	d.s.SetFont("", 10)
	for _, f := range []struct{ label, value string }{
		{"Name", name},
		{"Company", company},
		{"VAT Number", vat},
		{"Phone", phone},
		{"Email", email},
		{"Address", address},
	} {
		y += lineGap
		d.s.Cell(l.Margin, y, 0, 6, "L", f.label+": "+orPlaceholder(f.value))
	}
}

func (d *document) tableHeader(y float64) {
	l := d.r.layout
	d.s.SetFont("B", 10)
	for _, c := range l.Columns {
		d.s.Cell(c.X, y, c.Width, 6, c.Align, c.Title)
	}
	d.s.Line(l.Margin, y+7, pageWidth-l.Margin, y+7)
	d.s.SetFont("", 10)
}

func (d *document) row(y float64, item order.Item) {
	l := d.r.layout
	values := []string{
		item.Product.Name,
		item.Product.SKU,
		strconv.Itoa(item.Quantity),
		money(item.Price),
		money(item.LineTotal()),
	}
	for i, c := range l.Columns {
		if i >= len(values) {
			break
		}
		d.s.Cell(c.X, y, c.Width, l.RowHeight, c.Align, d.fit(values[i], c.Width))
	}
}

func (d *document) summary(y float64) {
	l := d.r.layout
	labelX, labelW := 110.0, 55.0
	valueX, valueW := 165.0, 30.0

	d.s.Line(labelX, y+1, pageWidth-l.Margin, y+1)
	y += 3

	line := func(label, value string) {
		d.s.Cell(labelX, y, labelW, 6, "R", label)
		d.s.Cell(valueX, y, valueW, 6, "R", value)
		y += lineGap
	}

	d.s.SetFont("", 10)
	line("Subtotal:", money(d.o.Subtotal))
	if d.o.DiscountRate.IsPositive() {
		line("Discount ("+percent(d.o.DiscountRate)+"):", "-"+money(d.o.Discount))
	}
	line("Tax ("+percent(pricing.TaxRate)+"):", money(d.o.Tax))
	d.s.SetFont("B", 12)
	line("Total:", money(d.o.TotalAmount))
	d.s.SetFont("", 10)
}

func (d *document) footer() {
	l := d.r.layout
	d.s.SetFont("I", 8)
	d.s.Cell(l.Margin, l.FooterY, 90, 6, "L", "Invoice "+d.o.ID)
	d.s.Cell(pageWidth-l.Margin-60, l.FooterY, 60, 6, "R",
		fmt.Sprintf("Page %d of %d", d.page, d.total))
	d.s.SetFont("", 10)
}

// fit truncates text with an ellipsis so that it fits in width w.
func (d *document) fit(text string, w float64) string {
	const ellipsis = "..."
	if d.s.StringWidth(text) <= w-1 {
		return text
	}
	runes := []rune(text)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		if s := string(runes) + ellipsis; d.s.StringWidth(s) <= w-1 {
			return s
		}
	}
	return ellipsis
}

const pageWidth = 210

func orPlaceholder(s string) string {
	if s == "" {
		return placeholder
	}
	return s
}

func money(v decimal.Decimal) string {
	return currency + v.StringFixed(2)
}

// percent formats a fraction such as 0.1 as "10%".
func percent(rate decimal.Decimal) string {
	return rate.Shift(2).String() + "%"
}
