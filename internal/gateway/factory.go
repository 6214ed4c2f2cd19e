package gateway

import (
	"fmt"
	"strings"

	"digistore/internal/config"

	"github.com/rs/zerolog"
)

// threeDecimalCurrencies are ISO 4217 currencies with 1000 minor units.
var threeDecimalCurrencies = map[string]bool{
	"bhd": true, "iqd": true, "jod": true, "kwd": true, "lyd": true, "omr": true, "tnd": true,
}

// FromConfig builds the configured provider. Real providers are wrapped in a circuit breaker.
func FromConfig(cfg config.GatewayConfig, logger zerolog.Logger) (Provider, error) {
	var p Provider
	switch cfg.Provider {
	case "thawani":
		p = NewThawani(ThawaniConfig{
			Production:     cfg.ThawaniProduction,
			BaseURL:        cfg.ThawaniBaseURL,
			SecretKey:      cfg.ThawaniSecretKey,
			PublishableKey: cfg.ThawaniPublishableKey,
			WebhookSecret:  cfg.ThawaniWebhookSecret,
		}, logger)
	case "stripe":
		currency := strings.ToLower(cfg.StripeCurrency)
		exponent := int32(2)
		if threeDecimalCurrencies[currency] {
			exponent = 3
		}
		p = NewStripe(StripeConfig{
			SecretKey:         cfg.StripeSecretKey,
			WebhookSecret:     cfg.StripeWebhookSecret,
			Currency:          currency,
			MinorUnitExponent: exponent,
		}, logger)
	case "mock":
		return NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Provider)
	}

	breaker := DefaultBreakerConfig()
	if cfg.BreakerFailures > 0 {
		breaker.ConsecutiveFailures = uint32(cfg.BreakerFailures)
	}
	if cfg.BreakerOpenTimeout > 0 {
		breaker.OpenTimeout = cfg.BreakerOpenTimeout
	}
	return WithBreaker(p, breaker, logger), nil
}
