package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gemloft/storefront/internal/api"
	"github.com/gemloft/storefront/internal/backend"
	"github.com/gemloft/storefront/internal/offer"
	"github.com/gemloft/storefront/internal/pricing"
	"github.com/gemloft/storefront/internal/storage/sqlite"
	"github.com/gemloft/storefront/pkg/health"
	"github.com/gemloft/storefront/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("backend", cfg.BackendURL))

	// Durable flag store.
	store, err := sqlite.Open(cfg.StorePath)
	if err != nil {
		return errors.Wrap(err, "open flag store")
	}
	defer store.Close()

	// Backend client with instrumented transport.
	client, err := backend.NewClient(cfg.BackendURL,
		backend.WithTimeout(cfg.Offer.RequestTimeout),
		backend.WithTransport(http.DefaultTransport,
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
		),
	)
	if err != nil {
		return errors.Wrap(err, "create backend client")
	}

	// Offer coordinator.
	offers := offer.NewCoordinator(client, store, offer.Config{
		AllowedDomain: cfg.Offer.AllowedDomain,
		DefaultCoupon: cfg.Offer.DefaultCoupon,
		PoolSize:      cfg.Offer.PoolSize,
	}, lg.Named("offer"))

	// Session hydration and catalog warm-up in parallel. A cold backend is
	// tolerated; a broken flag store is not.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return offers.Hydrate(gctx)
	})
	g.Go(func() error {
		if _, err := client.ListProducts(gctx); err != nil {
			lg.Warn("catalog warm-up failed", zap.Error(err))
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "hydrate offer state")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("flag-store", 5*time.Second, store.Ping)
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// HTTP surface.
	h := api.NewHandler(client, offers, pricing.Formatter{Symbol: cfg.CurrencySymbol})

	r := chi.NewRouter()
	r.Get("/livez", healthSvc.LiveEndpoint)
	r.Get("/readyz", healthSvc.ReadyEndpoint)
	h.Routes(r)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(r,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
