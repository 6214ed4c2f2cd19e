package handler

import (
	"net/http"
	"strconv"

	"digistore/internal/download"
	"digistore/internal/middleware"
	"digistore/internal/model"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// DownloadHandler issues download URLs for purchased items.
type DownloadHandler struct {
	authorizer download.Authorizer
	logger     zerolog.Logger
}

// NewDownloadHandler creates a new download handler.
func NewDownloadHandler(authorizer download.Authorizer, logger zerolog.Logger) *DownloadHandler {
	return &DownloadHandler{
		authorizer: authorizer,
		logger:     logger.With().Str("handler", "download").Logger(),
	}
}

// Authorize handles GET /api/orders/{id}/items/{index}/download requests.
// With ?redirect=true the client is sent straight to the signed URL.
func (h *DownloadHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeOrderNotFound, "invalid order ID format", h.logger)
		return
	}

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeItemNotFound, "invalid item index", h.logger)
		return
	}

	grant, err := h.authorizer.Authorize(r.Context(), orderID, index, middleware.RequesterFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err, h.logger)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	if r.URL.Query().Get("redirect") == "true" {
		http.Redirect(w, r, grant.URL, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, grant)
}
