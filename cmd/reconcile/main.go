// Command reconcile asks the payment gateway about pending orders and applies
// its answer. With -order it waits on one order; with -sweep it runs a single
// pass of the stale-order sweeper.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"digistore/internal/config"
	"digistore/internal/database"
	"digistore/internal/fulfillment"
	"digistore/internal/gateway"
	"digistore/internal/jobs"
	"digistore/internal/order"
	"digistore/internal/payment"
	"digistore/internal/repository"

	"github.com/google/uuid"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	orderFlag := flag.String("order", "", "order ID to reconcile until it settles or the poll policy runs out")
	sweep := flag.Bool("sweep", false, "expire stale pending orders and retry unfinished fulfillment once")
	flag.Parse()

	if (*orderFlag == "") == !*sweep {
		flag.Usage()
		return fmt.Errorf("exactly one of -order or -sweep is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := config.NewLogger(cfg.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPool(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer pool.Close()

	orderRepo := repository.NewOrderRepository(pool, logger)
	entitlementRepo := repository.NewEntitlementRepository(pool, logger)

	provider, err := gateway.FromConfig(cfg.Gateway, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize payment gateway: %w", err)
	}
	notifier, closeNotifier, err := fulfillment.NotifierFromConfig(cfg.Notifier, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize notifier: %w", err)
	}
	defer closeNotifier()

	dispatcher := fulfillment.NewDispatcher(orderRepo, entitlementRepo, notifier, nil, logger)
	limits := order.Limits{MinimumTotal: cfg.Checkout.MinimumTotal, MaximumTotal: cfg.Checkout.MaximumTotal}
	store := order.NewStore(orderRepo, limits, nil, logger)
	orchestrator := payment.NewOrchestrator(store, orderRepo, provider, dispatcher, payment.Config{
		GatewayTimeout: cfg.Checkout.GatewayTimeout,
		SuccessURL:     cfg.Checkout.AppBaseURL + "/checkout/success",
		CancelURL:      cfg.Checkout.AppBaseURL + "/checkout/cancel",
	}, nil, logger)

	if *sweep {
		sweeper := jobs.NewSweeper(orderRepo, orchestrator, dispatcher, jobs.SweepConfig{
			StaleAfter: cfg.Checkout.StalePendingAfter,
		}, nil, logger)
		sum := sweeper.RunOnce(ctx)
		fmt.Printf("expired=%d settled=%d fulfilled=%d errors=%d\n", sum.Expired, sum.Settled, sum.Fulfilled, sum.Errors)
		if sum.Errors > 0 {
			return fmt.Errorf("sweep finished with %d errors", sum.Errors)
		}
		return nil
	}

	id, err := uuid.Parse(*orderFlag)
	if err != nil {
		return fmt.Errorf("invalid order ID %q: %w", *orderFlag, err)
	}

	poller := payment.NewPoller(orchestrator, payment.PollPolicy{
		Interval:    cfg.Checkout.PollInterval,
		MaxAttempts: cfg.Checkout.PollMaxAttempts,
	}, logger)

	o, err := poller.Await(ctx, id)
	if err != nil {
		return err
	}

	fmt.Printf("order %s is %s\n", o.ID, o.Status)
	if o.Payment.LastStatus != "" {
		fmt.Printf("gateway status: %s\n", o.Payment.LastStatus)
	}
	return nil
}
