package invoice

// Cursor is the vertical write position: a 1-based page number and a y
// offset in millimetres from the top edge of that page.
type Cursor struct {
	Page int
	Y    float64
}

// Column is a fixed table column.
type Column struct {
	Title string
	X     float64
	Width float64
	// Align is an fpdf alignment string: "L", "C" or "R".
	Align string
}

// Layout holds the page geometry of an invoice in millimetres (A4 portrait).
type Layout struct {
	Margin float64
	// FirstTop is where item rows start on the first page, below the
	// metadata and customer blocks.
	FirstTop float64
	// ContinuationTop is where item rows start on subsequent pages.
	ContinuationTop float64
	RowHeight       float64
	// BreakY is the lowest y a block may reach before moving to a new page.
	BreakY        float64
	SummaryHeight float64
	FooterY       float64
	Columns       []Column
}

// DefaultLayout returns the standard invoice geometry. The first page holds
// 14 item rows, continuation pages hold 21.
func DefaultLayout() Layout {
	return Layout{
		Margin:          15,
		FirstTop:        120,
		ContinuationTop: 50,
		RowHeight:       10,
		BreakY:          260,
		SummaryHeight:   32,
		FooterY:         280,
		Columns: []Column{
			{Title: "Item", X: 15, Width: 70, Align: "L"},
			{Title: "SKU", X: 85, Width: 35, Align: "L"},
			{Title: "Quantity", X: 120, Width: 20, Align: "R"},
			{Title: "Price", X: 140, Width: 25, Align: "R"},
			{Title: "Line Total", X: 165, Width: 30, Align: "R"},
		},
	}
}

// Start returns the cursor of the first item row.
func (l Layout) Start() Cursor {
	return Cursor{Page: 1, Y: l.FirstTop}
}

// Place positions a block of height h at c. If the block would cross
// BreakY it moves to the top of the next page. It returns where the block
// goes and the cursor just below it.
//
// A block taller than a whole page is still placed at the top of a fresh
// page, so Place always makes progress.
func (l Layout) Place(c Cursor, h float64) (at, next Cursor) {
	at = c
	if c.Y+h > l.BreakY && c.Y > l.ContinuationTop {
		at = Cursor{Page: c.Page + 1, Y: l.ContinuationTop}
	}
	return at, Cursor{Page: at.Page, Y: at.Y + h}
}

// Plan is the precomputed placement of every item row and the summary.
type Plan struct {
	Rows    []Cursor
	Summary Cursor
	Pages   int
}

// Plan places rows item rows followed by the summary block.
func (l Layout) Plan(rows int) Plan {
	p := Plan{Rows: make([]Cursor, rows)}

	c := l.Start()
	for i := range p.Rows {
		p.Rows[i], c = l.Place(c, l.RowHeight)
	}
	p.Summary, _ = l.Place(c, l.SummaryHeight)
	p.Pages = p.Summary.Page

	return p
}
