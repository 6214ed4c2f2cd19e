// Package discount validates discount codes and reserves their usage atomically.
package discount

import (
	"context"
	"fmt"
	"time"

	"digistore/internal/model"
	"digistore/internal/repository"
	"digistore/internal/telemetry"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Outcome is the result of a reservation attempt.
type Outcome string

const (
	OutcomeReserved             Outcome = "reserved"
	OutcomeRejectedConcurrently Outcome = "rejected_concurrently"
)

// Validation is the result of checking a code against a subtotal.
// Rejection is nil when the code applies.
type Validation struct {
	Code      *model.DiscountCode
	Discount  *model.AppliedDiscount
	Rejection *model.DomainError
}

// Valid reports whether the code applies.
func (v Validation) Valid() bool {
	return v.Rejection == nil
}

// Reservation is the result of claiming one usage unit.
type Reservation struct {
	Outcome  Outcome
	Discount *model.AppliedDiscount
}

// Reserved reports whether a unit was claimed.
func (r Reservation) Reserved() bool {
	return r.Outcome == OutcomeReserved
}

// Ledger validates and reserves discount codes. Expected business outcomes are
// returned as values; the error return is reserved for storage faults.
type Ledger interface {
	// Validate runs the read-only checks for code against a pre-discount subtotal.
	Validate(ctx context.Context, code string, subtotal decimal.Decimal) (Validation, error)

	// Reserve claims one usage unit and freezes the discount amount for subtotal.
	Reserve(ctx context.Context, code string, subtotal decimal.Decimal) (Reservation, error)

	// Release gives a reserved unit back. Failures are logged, never returned.
	Release(ctx context.Context, code string)
}

// Option configures a ledger.
type Option func(*ledger)

// WithClock overrides the time source used for validity windows.
func WithClock(now func() time.Time) Option {
	return func(l *ledger) {
		l.now = now
	}
}

type ledger struct {
	repo    repository.DiscountRepository
	metrics *telemetry.Metrics
	now     func() time.Time
	logger  zerolog.Logger
}

// NewLedger creates a ledger backed by the given repository.
func NewLedger(repo repository.DiscountRepository, metrics *telemetry.Metrics, logger zerolog.Logger, opts ...Option) Ledger {
	l := &ledger{
		repo:    repo,
		metrics: metrics,
		now:     time.Now,
		logger:  logger.With().Str("component", "discount-ledger").Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Validate checks, in order: existence and active flag, validity window,
// minimum purchase on the pre-discount subtotal, and remaining usage.
func (l *ledger) Validate(ctx context.Context, code string, subtotal decimal.Decimal) (Validation, error) {
	normalized := model.NormalizeDiscountCode(code)
	if normalized == "" {
		return l.reject(normalized, nil, model.ErrDiscountNotFound), nil
	}

	dc, err := l.repo.GetByCode(ctx, normalized)
	if err != nil {
		return Validation{}, fmt.Errorf("failed to load discount code: %w", err)
	}
	if dc == nil {
		return l.reject(normalized, nil, model.ErrDiscountNotFound), nil
	}

	if !dc.IsActive {
		return l.reject(normalized, dc, model.ErrDiscountInactive), nil
	}

	now := l.now()
	if dc.ValidFrom != nil && now.Before(*dc.ValidFrom) {
		return l.reject(normalized, dc, model.ErrDiscountNotYetValid), nil
	}
	if dc.ValidUntil != nil && now.After(*dc.ValidUntil) {
		return l.reject(normalized, dc, model.ErrDiscountExpired), nil
	}

	if subtotal.LessThan(dc.MinPurchaseAmount) {
		return l.reject(normalized, dc, model.ErrDiscountMinPurchase), nil
	}

	if !dc.HasRemainingUses() {
		return l.reject(normalized, dc, model.ErrDiscountExhausted), nil
	}

	l.metrics.RecordDiscountValidation("valid")

	return Validation{
		Code: dc,
		Discount: &model.AppliedDiscount{
			Code:    dc.Code,
			Percent: dc.DiscountPercent,
			Amount:  model.DiscountAmount(subtotal, dc.DiscountPercent),
		},
	}, nil
}

// Reserve performs the single compare-and-increment. A lost race yields
// OutcomeRejectedConcurrently even if Validate passed moments earlier.
func (l *ledger) Reserve(ctx context.Context, code string, subtotal decimal.Decimal) (Reservation, error) {
	normalized := model.NormalizeDiscountCode(code)

	percent, ok, err := l.repo.Reserve(ctx, normalized, l.now())
	if err != nil {
		return Reservation{}, fmt.Errorf("failed to reserve discount code: %w", err)
	}

	if !ok {
		l.metrics.RecordReservation(string(OutcomeRejectedConcurrently))
		l.logger.Warn().Str("code", normalized).Msg("discount reservation rejected concurrently")
		return Reservation{Outcome: OutcomeRejectedConcurrently}, nil
	}

	l.metrics.RecordReservation(string(OutcomeReserved))
	l.logger.Debug().Str("code", normalized).Str("percent", percent.String()).Msg("discount reserved")

	return Reservation{
		Outcome: OutcomeReserved,
		Discount: &model.AppliedDiscount{
			Code:    normalized,
			Percent: percent,
			Amount:  model.DiscountAmount(subtotal, percent),
		},
	}, nil
}

// Release is best-effort compensation for a reservation whose order was never created.
func (l *ledger) Release(ctx context.Context, code string) {
	normalized := model.NormalizeDiscountCode(code)

	released, err := l.repo.Release(ctx, normalized)
	if err != nil {
		l.logger.Error().Err(err).Str("code", normalized).Msg("failed to release discount reservation")
		return
	}
	l.metrics.RecordReservation("released")
	l.logger.Info().Str("code", normalized).Bool("released", released).Msg("discount reservation released")
}

func (l *ledger) reject(code string, dc *model.DiscountCode, reason *model.DomainError) Validation {
	l.metrics.RecordDiscountValidation(reason.Code)
	l.logger.Debug().Str("code", code).Str("reason", reason.Code).Msg("discount code rejected")
	return Validation{Code: dc, Rejection: reason}
}
