package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// BreakerConfig controls when calls to a provider are short-circuited.
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	OpenTimeout         time.Duration
	ConsecutiveFailures uint32
}

// DefaultBreakerConfig trips after five consecutive failures and lets a trial call through after 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            time.Minute,
		OpenTimeout:         30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

type breakerProvider struct {
	next    Provider
	create  *gobreaker.CircuitBreaker[Session]
	inspect *gobreaker.CircuitBreaker[SessionStatus]
}

// WithBreaker wraps a provider so that repeated failures fail fast with ErrUnavailable.
func WithBreaker(next Provider, cfg BreakerConfig, logger zerolog.Logger) Provider {
	log := logger.With().Str("component", "gateway_breaker").Str("gateway", next.Name()).Logger()

	settings := func(name string) gobreaker.Settings {
		return gobreaker.Settings{
			Name:        next.Name() + "_" + name,
			MaxRequests: cfg.MaxRequests,
			Interval:    cfg.Interval,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
			},
			IsSuccessful: func(err error) bool {
				// An unknown session or a cancelled caller says nothing about provider health.
				return err == nil || errors.Is(err, ErrSessionNotFound) || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
			},
		}
	}

	return &breakerProvider{
		next:    next,
		create:  gobreaker.NewCircuitBreaker[Session](settings("create")),
		inspect: gobreaker.NewCircuitBreaker[SessionStatus](settings("status")),
	}
}

func (b *breakerProvider) Name() string {
	return b.next.Name()
}

func (b *breakerProvider) CreatePaymentSession(ctx context.Context, req SessionRequest) (Session, error) {
	session, err := b.create.Execute(func() (Session, error) {
		return b.next.CreatePaymentSession(ctx, req)
	})
	return session, translateBreakerError(err)
}

func (b *breakerProvider) GetSessionStatus(ctx context.Context, sessionRef string) (SessionStatus, error) {
	status, err := b.inspect.Execute(func() (SessionStatus, error) {
		return b.next.GetSessionStatus(ctx, sessionRef)
	})
	return status, translateBreakerError(err)
}

func (b *breakerProvider) ParseNotification(header http.Header, body []byte) (Notification, error) {
	return b.next.ParseNotification(header, body)
}

func translateBreakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrUnavailable
	}
	return err
}
