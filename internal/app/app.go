package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/auth"
	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/gateway"
	"github.com/xenking/storefront-checkout/internal/handler"
	"github.com/xenking/storefront-checkout/internal/marketplace"
	"github.com/xenking/storefront-checkout/internal/storage/postgres"
	"github.com/xenking/storefront-checkout/internal/storefront"
	"github.com/xenking/storefront-checkout/pkg/health"
	"github.com/xenking/storefront-checkout/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("marketplace", cfg.Marketplace.BaseURL),
	)

	healthSvc := health.New()
	healthSvc.Add(health.Liveness, "goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Reconciliation log: Postgres when configured, in-memory otherwise.
	var recon checkout.ReconciliationLog = checkout.NewMemoryLog()
	if cfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return errors.Wrap(err, "create db pool")
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return errors.Wrap(err, "run migrations")
		}
		healthSvc.Add(health.Readiness, "postgres", 5*time.Second, health.PingCheck(pool))
		recon = postgres.NewReconciliationRepository(pool)
	} else {
		lg.Warn("No database configured, reconciliation log is in-memory")
	}

	// Marketplace backend.
	tokens := auth.NewSessionToken()
	client := marketplace.NewClient(marketplace.Config{
		BaseURL:        cfg.Marketplace.BaseURL,
		Timeout:        cfg.Marketplace.Timeout,
		TracerProvider: m.TracerProvider(),
	}, tokens)

	// Payment gateway. The readiness check doubles as the preload and keeps
	// retrying until the SDK is available.
	hosted := gateway.NewHostedSDK(cfg.Gateway.CheckoutURL)
	bridge := gateway.NewBridge(gateway.NewScriptLoader(cfg.Gateway.ScriptURL, hosted, &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport, otelhttp.WithTracerProvider(m.TracerProvider())),
	}))
	healthSvc.AddWithThresholds(health.Readiness, "gateway", 10*time.Second,
		health.Thresholds{FailureThreshold: 1, SuccessThreshold: 1},
		health.ConditionCheck(bridge.EnsureLoaded, "gateway sdk not loaded"),
	)

	orch := checkout.New(client, bridge,
		checkout.WithReconciliationLog(recon),
		checkout.WithTracerProvider(m.TracerProvider()),
		checkout.WithMeterProvider(m.MeterProvider()),
		checkout.WithDefaultCurrency(cfg.Gateway.Currency),
	)
	session := storefront.NewSession(tokens, client, orch, cart.Options{
		ResyncAfterCheckout: cfg.Cart.ResyncAfterCheckout,
	})
	if cfg.Marketplace.Token != "" {
		if err := session.SignIn(ctx, cfg.Marketplace.Token); err != nil {
			lg.Warn("Startup sign-in failed", zap.Error(err))
		}
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Checkout attempts outlive requests but not the server.
	attemptsCtx, cancelAttempts := context.WithCancel(zctx.Base(context.WithoutCancel(ctx), lg))
	defer cancelAttempts()

	h := handler.New(attemptsCtx, handler.Deps{
		Session:         session,
		Hosted:          hosted,
		Reconciliations: recon,
		Attempts:        handler.NewAttempts(cfg.Attempts.Retention),
	})

	router := h.Router()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", httpmiddleware.RequestIDHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.RequestID(),
			httpmiddleware.LogRequests(),
			func(next http.Handler) http.Handler {
				return otelhttp.NewHandler(next, "storefront",
					otelhttp.WithTracerProvider(m.TracerProvider()),
					otelhttp.WithMeterProvider(m.MeterProvider()),
				)
			},
		),
	}

	server.RegisterOnShutdown(h.CloseStreams)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
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

		// Abandoned gateway sessions resolve as interrupted.
		cancelAttempts()
		h.Wait()
		healthSvc.Stop()
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
