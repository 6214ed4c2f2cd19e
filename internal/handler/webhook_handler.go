package handler

import (
	"errors"
	"io"
	"net/http"

	"digistore/internal/model"
	"digistore/internal/payment"

	"github.com/rs/zerolog"
)

// WebhookHandler receives payment gateway callbacks.
type WebhookHandler struct {
	payments payment.Orchestrator
	logger   zerolog.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(payments payment.Orchestrator, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		payments: payments,
		logger:   logger.With().Str("handler", "webhook").Logger(),
	}
}

// Handle handles POST /api/payments/webhook requests. A verified callback is
// always acknowledged so the gateway stops redelivering it.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidJSON, "unreadable request body", h.logger)
		return
	}

	if err := h.payments.HandleNotification(r.Context(), r.Header, body); err != nil {
		if errors.Is(err, model.ErrInvalidSignature) {
			writeError(w, r, http.StatusUnauthorized, model.ErrCodeInvalidSignature, "invalid signature", h.logger)
			return
		}
		h.logger.Warn().Err(err).Msg("malformed notification")
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidJSON, "malformed notification", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
