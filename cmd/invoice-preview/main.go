// Command invoice-preview renders a sample order to a PDF file for checking
// the invoice layout without a database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/wholesale-orders/internal/domain/order"
	"github.com/xenking/wholesale-orders/internal/domain/pricing"
	"github.com/xenking/wholesale-orders/internal/domain/product"
	"github.com/xenking/wholesale-orders/internal/domain/user"
	"github.com/xenking/wholesale-orders/internal/invoice"
)

func main() {
	var (
		out          string
		items        int
		discountRate string
		logo         string
	)
	flag.StringVar(&out, "out", "invoice-preview.pdf", "output file")
	flag.IntVar(&items, "items", 3, "number of order lines; use 40+ to check pagination")
	flag.StringVar(&discountRate, "discount-rate", "0.10", "account discount rate in [0, 1]")
	flag.StringVar(&logo, "logo", "assets/logo.png", "logo path")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	if err := run(lg, out, items, discountRate, logo); err != nil {
		lg.Fatal("Preview failed", zap.Error(err))
	}
}

func run(lg *zap.Logger, out string, items int, discountRate, logo string) error {
	rate, err := decimal.NewFromString(discountRate)
	if err != nil {
		return errors.Wrap(err, "parse discount rate")
	}
	if items < 1 {
		return errors.Errorf("items must be positive, got %d", items)
	}

	r, err := invoice.NewRenderer(invoice.Config{LogoPath: logo}, lg)
	if err != nil {
		return errors.Wrap(err, "create renderer")
	}
	pdf, err := r.Render(context.Background(), sampleOrder(items, rate))
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, pdf, 0o644); err != nil {
		return errors.Wrap(err, "write pdf")
	}

	lg.Info("Invoice written", zap.String("path", out), zap.Int("bytes", len(pdf)), zap.Int("items", items))
	return nil
}

func sampleOrder(n int, rate decimal.Decimal) *order.Order {
	o := &order.Order{
		ID:        "preview-0001",
		UserID:    "test-user",
		CreatedAt: time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC),
		User: &user.User{
			ID:          "test-user",
			Email:       "test@example.com",
			Name:        "Test User",
			Company:     "Test Company",
			VATNumber:   "TEST123456",
			PhoneNumber: "+1234567890",
			Address:     "123 Test Street, Test City",
		},
	}

	lines := make([]pricing.Line, 0, n)
	for i := range n {
		p := product.Product{
			ID:             fmt.Sprintf("p%03d", i+1),
			SKU:            fmt.Sprintf("TAV%03d-SMP-MD", i+1),
			Name:           fmt.Sprintf("Sample Product %d", i+1),
			WholesalePrice: decimal.NewFromInt(int64(10 + i%5*5)),
		}
		item := order.Item{
			ID:        fmt.Sprintf("i%03d", i+1),
			ProductID: p.ID,
			Quantity:  1 + i%3,
			Price:     p.WholesalePrice,
			Product:   p,
		}
		o.Items = append(o.Items, item)
		lines = append(lines, pricing.Line{Price: item.Price, Quantity: item.Quantity})
	}

	t := pricing.Calculate(lines, rate).Rounded()
	o.Subtotal = t.Subtotal
	o.DiscountRate = t.DiscountRate
	o.Discount = t.Discount
	o.Tax = t.Tax
	o.TotalAmount = t.Total
	return o
}
