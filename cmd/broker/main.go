package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vnmchuo/gen-broker/config"
	"github.com/vnmchuo/gen-broker/internal/api"
	"github.com/vnmchuo/gen-broker/internal/app"
	"github.com/vnmchuo/gen-broker/internal/auth"
	"github.com/vnmchuo/gen-broker/internal/broker"
	"github.com/vnmchuo/gen-broker/internal/catalog"
	"github.com/vnmchuo/gen-broker/internal/jobs"
	"github.com/vnmchuo/gen-broker/internal/logger"
	"github.com/vnmchuo/gen-broker/internal/maintenance"
	"github.com/vnmchuo/gen-broker/internal/metrics"
	"github.com/vnmchuo/gen-broker/internal/payment"
	"github.com/vnmchuo/gen-broker/internal/provider"
	"github.com/vnmchuo/gen-broker/internal/provider/kie"
	"github.com/vnmchuo/gen-broker/internal/reconciler"
	"github.com/vnmchuo/gen-broker/internal/seeder"
	"github.com/vnmchuo/gen-broker/internal/telemetry"
	"github.com/vnmchuo/gen-broker/pkg/ratelimit"
)

var version = "dev"

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Logger
	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx := context.Background()

	// 3. Init telemetry
	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.Options{
		ServiceName: "gen-broker",
		Version:     version,
		Exporter:    cfg.OTELExporterType,
		Endpoint:    cfg.OTELExporterEndpoint,
	})
	if err != nil {
		zl.Fatal("failed to init tracer", zap.Error(err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(sctx); err != nil {
			zl.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	// 4. Stores
	stores, err := app.OpenStores(ctx, cfg, true, zl)
	if err != nil {
		zl.Fatal("failed to open stores", zap.Error(err))
	}
	defer stores.Close()

	// 5. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		zl.Fatal("failed to ping redis", zap.Error(err))
	}
	zl.Info("redis connected", zap.String("addr", cfg.RedisAddr))

	// 6. Catalog
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		zl.Fatal("failed to load catalog", zap.Error(err))
	}
	zl.Info("catalog loaded", zap.Int("models", cat.Len()), zap.String("path", cfg.CatalogPath))

	// 7. Provider behind a circuit breaker
	dispatcher := provider.NewBreaker(
		kie.New(cfg.KieAPIKey, cfg.KieBaseURL, cfg.ProviderTimeout),
		provider.DefaultBreakerSettings(),
		zl,
	)

	// 8. Services
	m := metrics.New("genbroker")
	jobStore := jobs.NewCachedStore(stores.Jobs, rdb, zl)
	payments := payment.NewService(stores.Ledger, payment.NewCheckoutClient(cfg.StripeSecretKey), payment.Config{
		WebhookSecret: cfg.StripeWebhookSecret,
		PriceIDs:      cfg.StripePriceIDs,
		SuccessURL:    cfg.CheckoutSuccessURL,
		CancelURL:     cfg.CheckoutCancelURL,
	}, m, zl)
	maint := maintenance.NewService(stores.Ledger, stores.Jobs, maintenance.Config{
		StandardWeeklyCredits: cfg.StandardWeeklyCredits,
		FreeJobRetention:      cfg.FreeJobRetention,
	}, zl)

	// 9. Seed admin key if RUN_SEED=true
	if os.Getenv("RUN_SEED") == "true" {
		if key := os.Getenv("ADMIN_API_KEY"); key != "" {
			if _, err := seeder.SeedAdminKey(ctx, stores.Keys, "seed", key); err != nil {
				zl.Warn("seeder: admin key not created", zap.Error(err))
			}
		}
		seeder.SeedDevUser(ctx, stores.Ledger, zl)
	}

	// 10. Router
	h := api.NewHandler(api.Deps{
		Catalog:       cat,
		Ledger:        stores.Ledger,
		Jobs:          jobStore,
		Broker:        broker.New(cat, stores.Ledger, dispatcher, m, zl),
		Reconciler:    reconciler.New(jobStore, dispatcher, m, zl),
		Payments:      payments,
		Maintenance:   maint,
		Limiter:       ratelimit.NewLimiter(rdb, int(cfg.SubmitRateLimit)),
		Metrics:       m,
		AdminAuth:     auth.NewMiddleware(stores.Keys, rdb, zl),
		CronAuth:      auth.CronMiddleware(cfg.CronSecret),
		PublicBaseURL: cfg.PublicBaseURL,
		CallbackToken: cfg.CallbackToken,
		Logger:        zl,
	})

	// 11. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      h.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.ProviderTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		zl.Info("gen-broker starting", zap.String("port", cfg.Port), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server error", zap.Error(err))
		}
	}()

	<-quit
	zl.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("forced shutdown", zap.Error(err))
	}
	zl.Info("server stopped")
}
