package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"digistore/internal/cache"
	"digistore/internal/config"
	"digistore/internal/database"
	"digistore/internal/discount"
	"digistore/internal/download"
	"digistore/internal/fulfillment"
	"digistore/internal/gateway"
	"digistore/internal/handler"
	"digistore/internal/jobs"
	"digistore/internal/middleware"
	"digistore/internal/order"
	"digistore/internal/payment"
	"digistore/internal/pricing"
	"digistore/internal/repository"
	"digistore/internal/router"
	"digistore/internal/service"
	"digistore/internal/storage"
	"digistore/internal/telemetry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize logger
	logger := config.NewLogger(cfg.Logger)
	logger.Info().Str("gateway", cfg.Gateway.Provider).Msg("starting digistore API server")

	// Create context for application lifecycle
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool and schema
	pool, err := database.NewPool(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		return err
	}

	// Metrics
	reg := prometheus.NewRegistry()
	var (
		metrics     *telemetry.Metrics
		httpMetrics *middleware.HTTPMetrics
		metricsH    http.Handler
	)
	if cfg.Metrics.Enabled {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = telemetry.NewMetrics(reg, cfg.Metrics.Namespace)
		httpMetrics = middleware.NewHTTPMetrics(reg, cfg.Metrics.Namespace)
		metricsH = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	}

	// Initialize repositories
	var catalogRepo repository.CatalogRepository = repository.NewCatalogRepository(pool, logger)
	discountRepo := repository.NewDiscountRepository(pool, logger)
	orderRepo := repository.NewOrderRepository(pool, logger)
	entitlementRepo := repository.NewEntitlementRepository(pool, logger)

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Msg("redis unreachable, catalog reads go straight to the database")
		} else {
			catalogRepo = cache.NewCatalogCache(catalogRepo, rdb, cfg.Redis.TTL, logger)
			logger.Info().Str("addr", cfg.Redis.Addr).Msg("catalog cache enabled")
		}
	}

	// Payment gateway
	provider, err := gateway.FromConfig(cfg.Gateway, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize payment gateway: %w", err)
	}

	// Fulfillment
	notifier, closeNotifier, err := fulfillment.NotifierFromConfig(cfg.Notifier, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize notifier: %w", err)
	}
	defer func() {
		if err := closeNotifier(); err != nil {
			logger.Error().Err(err).Msg("failed to close notifier")
		}
	}()
	dispatcher := fulfillment.NewDispatcher(orderRepo, entitlementRepo, notifier, metrics, logger)

	// Core components
	limits := order.Limits{MinimumTotal: cfg.Checkout.MinimumTotal, MaximumTotal: cfg.Checkout.MaximumTotal}
	store := order.NewStore(orderRepo, limits, metrics, logger)
	ledger := discount.NewLedger(discountRepo, metrics, logger)
	resolver := pricing.NewResolver(cfg.Checkout.MaxCartItems)

	orchestrator := payment.NewOrchestrator(store, orderRepo, provider, dispatcher, payment.Config{
		GatewayTimeout: cfg.Checkout.GatewayTimeout,
		SuccessURL:     cfg.Checkout.AppBaseURL + "/checkout/success",
		CancelURL:      cfg.Checkout.AppBaseURL + "/checkout/cancel",
	}, metrics, logger)
	policy := payment.PollPolicy{Interval: cfg.Checkout.PollInterval, MaxAttempts: cfg.Checkout.PollMaxAttempts}

	signer, files, err := newSigner(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize download storage: %w", err)
	}
	authorizer := download.NewAuthorizer(store, entitlementRepo, signer, cfg.Storage.DownloadURLTTL, metrics, logger)

	// Initialize services
	catalogService := service.NewCatalogService(catalogRepo, logger)
	checkoutService := service.NewCheckoutService(catalogRepo, resolver, ledger, store, orchestrator, limits, metrics, logger)
	orderService := service.NewOrderService(store, orchestrator, policy, logger)

	// Initialize router
	mux := router.New(router.Handlers{
		Catalog:  handler.NewCatalogHandler(catalogService, logger),
		Checkout: handler.NewCheckoutHandler(checkoutService, logger),
		Orders:   handler.NewOrderHandler(orderService, logger),
		Download: handler.NewDownloadHandler(authorizer, logger),
		Webhook:  handler.NewWebhookHandler(orchestrator, logger),
	}, router.Options{
		APIKey:         cfg.Auth.APIKey,
		RequestTimeout: cfg.Server.RequestTimeout,
		HTTPMetrics:    httpMetrics,
		MetricsHandler: metricsH,
		Files:          files,
		HealthCheck:    pool.Ping,
	}, logger)

	// Background sweeper
	var wg sync.WaitGroup
	if cfg.Checkout.SweepEnabled {
		sweeper := jobs.NewSweeper(orderRepo, orchestrator, dispatcher, jobs.SweepConfig{
			Interval:   cfg.Checkout.SweepInterval,
			StaleAfter: cfg.Checkout.StalePendingAfter,
		}, metrics, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			sweeper.Run(ctx)
		}()
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Channel to listen for errors from the server
	serverErrors := make(chan error, 1)

	// Start HTTP server in a goroutine
	go func() {
		logger.Info().
			Str("address", cfg.Server.Address()).
			Msg("HTTP server started")
		serverErrors <- server.ListenAndServe()
	}()

	// Channel to listen for interrupt signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or an error
	select {
	case err := <-serverErrors:
		cancel()
		wg.Wait()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Info().
			Str("signal", sig.String()).
			Msg("shutdown signal received, starting graceful shutdown")

		// Stop background work first so no sweep starts mid-shutdown
		cancel()
		wg.Wait()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		// Attempt graceful shutdown
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown server gracefully")
			// Force close
			if closeErr := server.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close server")
			}
			return fmt.Errorf("server shutdown failed: %w", err)
		}

		logger.Info().Msg("server shutdown completed")
	}

	return nil
}

// newSigner builds the download signer. The local backend also returns the
// handler that serves its signed URLs under /files.
func newSigner(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (storage.Signer, http.Handler, error) {
	if cfg.Storage.Backend == "s3" {
		signer, err := storage.NewS3Signer(ctx, storage.S3Options{
			Bucket:          cfg.Storage.Bucket,
			Region:          cfg.Storage.Region,
			Prefix:          cfg.Storage.Prefix,
			Endpoint:        cfg.Storage.Endpoint,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			UsePathStyle:    cfg.Storage.UsePathStyle,
		}, logger)
		return signer, nil, err
	}

	local := storage.NewLocalSigner(cfg.Checkout.AppBaseURL+"/files", cfg.Storage.LocalRoot, cfg.Storage.LocalSecret, logger)
	logger.Info().Str("root", cfg.Storage.LocalRoot).Msg("serving downloads from local storage")
	return local, local, nil
}
