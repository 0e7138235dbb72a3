// Command seed-db applies migrations and loads the demo catalog, an approved
// demo account with its API key, and a cart ready for checkout.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sort"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/wholesale-orders/internal/domain/auth"
	"github.com/xenking/wholesale-orders/internal/handler"
	"github.com/xenking/wholesale-orders/internal/storage/postgres"
)

func main() {
	var (
		databaseURL  string
		apiKey       string
		apiKeyPepper string
		skipCart     bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed for the demo user (or WHOLESALE_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or WHOLESALE_API_KEY_PEPPER env)")
	flag.BoolVar(&skipCart, "skip-cart", false, "do not fill the demo cart")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("WHOLESALE_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or WHOLESALE_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("WHOLESALE_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, apiKey, apiKeyPepper, !skipCart); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, apiKey, pepper string, fillCart bool) error {
	slog.Info("running migrations")
	if err := postgres.RunMigrations(databaseURL, zap.NewNop()); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	slog.Info("connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	seeder := postgres.NewSeeder(pool)

	for _, p := range catalog {
		if err := seeder.UpsertProduct(ctx, p); err != nil {
			return err
		}
		slog.Info("upserted product", slog.String("sku", p.SKU), slog.Int("stock", p.Stock))
	}

	if err := seeder.UpsertUser(ctx, demoUser); err != nil {
		return err
	}
	slog.Info("upserted user", slog.String("id", demoUser.ID), slog.String("email", demoUser.Email))

	if err := seeder.UpsertAPIKey(ctx, auth.APIKeyInfo{
		ID:      "demo",
		KeyHash: handler.HashKey([]byte(pepper), apiKey),
		Name:    "Demo buyer key",
		UserID:  demoUser.ID,
		Scopes:  []string{"orders"},
	}); err != nil {
		return err
	}
	slog.Info("upserted API key", slog.String("user", demoUser.ID))

	if !fillCart {
		return nil
	}
	ids := make([]string, 0, len(demoCart))
	for id := range demoCart {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := seeder.SetCartItem(ctx, demoUser.ID, id, demoCart[id]); err != nil {
			return err
		}
		slog.Info("added cart item", slog.String("product", id), slog.Int("quantity", demoCart[id]))
	}

	return nil
}
