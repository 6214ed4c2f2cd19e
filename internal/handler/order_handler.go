package handler

import (
	"net/http"

	"digistore/internal/middleware"
	"digistore/internal/model"
	"digistore/internal/service"

	"github.com/rs/zerolog"
)

// OrderHandler handles order-related HTTP requests.
type OrderHandler struct {
	service service.OrderService
	logger  zerolog.Logger
}

// NewOrderHandler creates a new order handler.
func NewOrderHandler(service service.OrderService, logger zerolog.Logger) *OrderHandler {
	return &OrderHandler{
		service: service,
		logger:  logger.With().Str("handler", "order").Logger(),
	}
}

// GetByID handles GET /api/orders/{id} requests.
func (h *OrderHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeOrderNotFound, "invalid order ID format", h.logger)
		return
	}

	order, err := h.service.Get(r.Context(), orderID, middleware.RequesterFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// Status handles GET /api/orders/{id}/status requests.
func (h *OrderHandler) Status(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeOrderNotFound, "invalid order ID format", h.logger)
		return
	}

	status, err := h.service.Status(r.Context(), orderID, middleware.RequesterFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err, h.logger)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, status)
}

// CreateSession handles POST /api/orders/{id}/session requests.
func (h *OrderHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeOrderNotFound, "invalid order ID format", h.logger)
		return
	}

	result, err := h.service.CreateSession(r.Context(), orderID, middleware.RequesterFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err, h.logger)
		return
	}

	status := http.StatusCreated
	if result.Existing {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}
