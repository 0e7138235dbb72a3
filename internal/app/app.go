package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/wholesale-orders/internal/cache"
	"github.com/xenking/wholesale-orders/internal/domain/order"
	"github.com/xenking/wholesale-orders/internal/domain/pricing"
	"github.com/xenking/wholesale-orders/internal/handler"
	"github.com/xenking/wholesale-orders/internal/invoice"
	"github.com/xenking/wholesale-orders/internal/notify"
	"github.com/xenking/wholesale-orders/internal/storage/postgres"
	"github.com/xenking/wholesale-orders/pkg/health"
	"github.com/xenking/wholesale-orders/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	svc, err := newService(ctx, lg, m.TracerProvider(), m.MeterProvider(), cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           svc.handler,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.checks.Run(gctx, 10*time.Second)
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		svc.checks.SetReady(false)
		if ctx.Err() != nil {
			lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
			time.Sleep(cfg.Graceful.ReadinessDelay)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})
	svc.checks.SetReady(true)

	return g.Wait()
}

// service is the wired application without its listener.
type service struct {
	handler http.Handler
	checks  *health.Registry
	closers []func()
}

// Close releases connections in reverse order of creation.
func (s *service) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func newService(ctx context.Context, lg *zap.Logger, tp trace.TracerProvider, mp metric.MeterProvider, cfg *Config) (_ *service, rerr error) {
	source, err := pricing.ParseSource(cfg.Pricing.Source)
	if err != nil {
		return nil, errors.Wrap(err, "pricing source")
	}

	svc := &service{checks: health.New(lg.Named("health"))}
	defer func() {
		if rerr != nil {
			svc.Close()
		}
	}()

	if err := postgres.RunMigrations(cfg.DatabaseURL, lg); err != nil {
		return nil, errors.Wrap(err, "run migrations")
	}
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	svc.closers = append(svc.closers, pool.Close)

	svc.checks.Readiness(health.Checker{
		Name:    "postgres",
		Check:   health.PingCheck("postgres", pool),
		Timeout: 5 * time.Second,
	})
	svc.checks.Liveness(health.Checker{Name: "goroutines", Check: health.GoroutineCountCheck(10000)})

	var notifier order.Notifier
	if cfg.AMQP.URL != "" {
		pub, err := notify.Dial(notify.Config{URL: cfg.AMQP.URL, Queue: cfg.AMQP.Queue}, lg.Named("notify"))
		if err != nil {
			return nil, errors.Wrap(err, "connect amqp")
		}
		svc.closers = append(svc.closers, func() { _ = pub.Close() })
		notifier = pub
		lg.Info("Order events enabled", zap.String("queue", cfg.AMQP.Queue))
	}

	hcfg := handler.HandlerConfig{MeterProvider: mp, PriceSource: source}
	if cfg.Redis.Addr != "" {
		invoices, err := cache.New(ctx, cache.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		})
		if err != nil {
			return nil, errors.Wrap(err, "connect redis")
		}
		svc.closers = append(svc.closers, func() { _ = invoices.Close() })
		hcfg.Cache = invoices
		svc.checks.Readiness(health.Checker{Name: "redis", Check: health.PingCheck("redis", invoices)})
		lg.Info("Invoice cache enabled", zap.Duration("ttl", cfg.Redis.TTL))
	}

	// Repositories.
	users := postgres.NewUserRepository(pool)
	carts := postgres.NewCartRepository(pool)
	apikeys := postgres.NewAPIKeyRepository(pool)

	orders := order.NewService(
		order.Config{PriceSource: source, Notifier: notifier},
		users,
		postgres.NewOrderStore(pool),
		postgres.NewOrderRepository(pool),
	)

	renderer, err := invoice.NewRenderer(invoice.Config{
		LogoPath:       cfg.Invoice.LogoPath,
		Title:          cfg.Invoice.Title,
		TracerProvider: tp,
		MeterProvider:  mp,
	}, lg.Named("invoice"))
	if err != nil {
		return nil, errors.Wrap(err, "create renderer")
	}

	h, err := handler.NewHandler(hcfg, orders, carts, renderer)
	if err != nil {
		return nil, errors.Wrap(err, "create handler")
	}
	sec := handler.NewSecurityHandler(apikeys, users, []byte(cfg.APIKeyPepper))

	r := chi.NewRouter()
	r.Use(
		httpmiddleware.RequestID(),
		httpmiddleware.LogRequests(),
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:  cfg.CORS.Origins,
			AllowHeaders:  []string{"Content-Type", handler.APIKeyHeader, httpmiddleware.RequestIDHeader},
			ExposeHeaders: []string{"Content-Disposition", httpmiddleware.RequestIDHeader},
			MaxAge:        86400,
		}),
	)
	r.Method(http.MethodGet, "/livez", svc.checks.LiveHandler())
	r.Method(http.MethodGet, "/readyz", svc.checks.ReadyHandler())
	r.With(httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
		Max:    cfg.RateLimit.Max,
		Window: cfg.RateLimit.Window,
	})).Mount("/api", h.Routes(sec))

	svc.handler = httpmiddleware.Wrap(r,
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Instrument("wholesale-api", tp, mp),
	)
	return svc, nil
}
