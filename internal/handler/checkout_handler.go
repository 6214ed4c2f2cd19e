package handler

import (
	"net/http"
	"strings"

	"digistore/internal/middleware"
	"digistore/internal/model"
	"digistore/internal/service"

	"github.com/rs/zerolog"
)

// HeaderIdempotencyKey lets a client retry a checkout submission safely.
const HeaderIdempotencyKey = "Idempotency-Key"

const maxIdempotencyKeyLength = 255

// CheckoutHandler handles pricing, discount preview and checkout submission.
type CheckoutHandler struct {
	service service.CheckoutService
	logger  zerolog.Logger
}

// NewCheckoutHandler creates a new checkout handler.
func NewCheckoutHandler(service service.CheckoutService, logger zerolog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		service: service,
		logger:  logger.With().Str("handler", "checkout").Logger(),
	}
}

// Price handles POST /api/pricing requests.
func (h *CheckoutHandler) Price(w http.ResponseWriter, r *http.Request) {
	var selection model.CartSelection
	if err := decodeJSON(w, r, &selection); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidJSON, "invalid request body", h.logger)
		return
	}

	priced, err := h.service.Price(r.Context(), selection)
	if err != nil {
		writeServiceError(w, r, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, priced)
}

// ValidateDiscount handles POST /api/discounts/validate requests.
// An inapplicable code is a normal 200 answer with valid=false.
func (h *CheckoutHandler) ValidateDiscount(w http.ResponseWriter, r *http.Request) {
	var req model.DiscountValidationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidJSON, "invalid request body", h.logger)
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeMissingField, "code is required", h.logger)
		return
	}

	resp, err := h.service.ValidateDiscount(r.Context(), req.Code, req.Subtotal)
	if err != nil {
		writeServiceError(w, r, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Submit handles POST /api/checkout requests.
func (h *CheckoutHandler) Submit(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if len(key) > maxIdempotencyKeyLength {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeMissingField, "idempotency key is too long", h.logger)
		return
	}

	var req model.CheckoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidJSON, "invalid request body", h.logger)
		return
	}

	resp, err := h.service.Submit(r.Context(), &req, middleware.RequesterFromContext(r.Context()), key)
	if err != nil {
		writeServiceError(w, r, err, h.logger)
		return
	}

	status := http.StatusCreated
	if resp.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}
