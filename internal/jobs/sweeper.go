// Package jobs holds background work that runs alongside the API server.
package jobs

import (
	"context"
	"time"

	"digistore/internal/model"
	"digistore/internal/payment"
	"digistore/internal/repository"
	"digistore/internal/telemetry"

	"github.com/rs/zerolog"
)

// SweepConfig controls how often the sweeper runs and what it considers stale.
type SweepConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
}

// Summary counts what one sweep did.
type Summary struct {
	Expired   int
	Settled   int
	Fulfilled int
	Errors    int
}

// Sweeper closes out abandoned pending orders and retries fulfillment that did not finish.
type Sweeper struct {
	orders       repository.OrderRepository
	orchestrator payment.Orchestrator
	settler      payment.Settler
	cfg          SweepConfig
	metrics      *telemetry.Metrics
	now          func() time.Time
	logger       zerolog.Logger
}

// NewSweeper creates a sweeper. The settler is normally the fulfillment dispatcher.
func NewSweeper(
	orders repository.OrderRepository,
	orchestrator payment.Orchestrator,
	settler payment.Settler,
	cfg SweepConfig,
	metrics *telemetry.Metrics,
	logger zerolog.Logger,
) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 48 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Sweeper{
		orders:       orders,
		orchestrator: orchestrator,
		settler:      settler,
		cfg:          cfg,
		metrics:      metrics,
		now:          time.Now,
		logger:       logger.With().Str("component", "sweeper").Logger(),
	}
}

// Run sweeps on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info().
		Dur("interval", s.cfg.Interval).
		Dur("stale_after", s.cfg.StaleAfter).
		Msg("sweeper started")

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-ctx.Done():
			s.logger.Info().Msg("sweeper stopped")
			return
		}
	}
}

// RunOnce performs a single sweep of stale pending orders and unfulfilled completed orders.
func (s *Sweeper) RunOnce(ctx context.Context) Summary {
	var sum Summary
	s.expireStale(ctx, &sum)
	s.retryFulfillment(ctx, &sum)

	if sum != (Summary{}) {
		s.logger.Info().
			Int("expired", sum.Expired).
			Int("settled", sum.Settled).
			Int("fulfilled", sum.Fulfilled).
			Int("errors", sum.Errors).
			Msg("sweep finished")
	}
	return sum
}

func (s *Sweeper) expireStale(ctx context.Context, sum *Summary) {
	cutoff := s.now().Add(-s.cfg.StaleAfter)
	stale, err := s.orders.ListStalePending(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list stale pending orders")
		sum.Errors++
		return
	}

	for _, o := range stale {
		if ctx.Err() != nil {
			return
		}
		log := s.logger.With().Str("order_id", o.ID.String()).Logger()

		result, err := s.orchestrator.Expire(ctx, o.ID)
		if err != nil {
			log.Warn().Err(err).Msg("could not expire stale order")
			s.metrics.RecordSweep("error")
			sum.Errors++
			continue
		}

		switch result.Status {
		case model.StatusFailed:
			log.Info().Time("created_at", o.CreatedAt).Msg("stale pending order expired")
			s.metrics.RecordSweep("expired")
			sum.Expired++
		case model.StatusCompleted:
			log.Info().Msg("stale pending order was paid")
			s.metrics.RecordSweep("settled")
			sum.Settled++
		}
	}
}

func (s *Sweeper) retryFulfillment(ctx context.Context, sum *Summary) {
	unfulfilled, err := s.orders.ListUnfulfilled(ctx, s.cfg.BatchSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list unfulfilled orders")
		sum.Errors++
		return
	}

	for i := range unfulfilled {
		if ctx.Err() != nil {
			return
		}
		o := &unfulfilled[i]
		if err := s.settler.OnSettled(ctx, o); err != nil {
			s.logger.Warn().Err(err).Str("order_id", o.ID.String()).Msg("fulfillment retry failed")
			s.metrics.RecordSweep("error")
			sum.Errors++
			continue
		}
		s.metrics.RecordSweep("fulfilled")
		sum.Fulfilled++
	}
}
