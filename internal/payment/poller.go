package payment

import (
	"context"
	"errors"
	"time"

	"digistore/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

var errStillPending = errors.New("order still pending")

// PollPolicy bounds how long a pending order is polled before giving up.
type PollPolicy struct {
	Interval    time.Duration `json:"-"`
	MaxAttempts int           `json:"maxAttempts"`
}

// IntervalMillis is the interval advertised to clients.
func (p PollPolicy) IntervalMillis() int64 {
	return p.Interval.Milliseconds()
}

// Poller repeats Reconcile on a fixed interval up to a fixed number of attempts.
type Poller struct {
	orchestrator Orchestrator
	policy       PollPolicy
	logger       zerolog.Logger
}

// NewPoller creates a bounded poller.
func NewPoller(orchestrator Orchestrator, policy PollPolicy, logger zerolog.Logger) *Poller {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Poller{
		orchestrator: orchestrator,
		policy:       policy,
		logger:       logger.With().Str("component", "poller").Logger(),
	}
}

// Policy returns the poller's bounds.
func (p *Poller) Policy() PollPolicy {
	return p.policy
}

// Await reconciles until the order is terminal, the attempts run out, or ctx
// is done. Running out of attempts returns the still-pending order without error.
func (p *Poller) Await(ctx context.Context, orderID uuid.UUID) (*model.Order, error) {
	var (
		last     *model.Order
		attempts int
	)

	backoff := retry.WithMaxRetries(uint64(p.policy.MaxAttempts-1), retry.NewConstant(p.policy.Interval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		current, err := p.orchestrator.Reconcile(ctx, orderID)
		if err != nil {
			if errors.Is(err, ErrStatusUnavailable) {
				return retry.RetryableError(err)
			}
			return err
		}

		last = current
		if current.Status.IsTerminal() {
			return nil
		}
		return retry.RetryableError(errStillPending)
	})

	log := p.logger.With().Str("order_id", orderID.String()).Int("attempts", attempts).Logger()

	switch {
	case err == nil:
		log.Debug().Str("status", string(last.Status)).Msg("order reached terminal state")
		return last, nil
	case last != nil && (errors.Is(err, errStillPending) || errors.Is(err, ErrStatusUnavailable)):
		log.Info().Msg("polling stopped with order still pending")
		return last, nil
	default:
		return nil, err
	}
}
