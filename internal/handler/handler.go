package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"digistore/internal/model"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// maxBodyBytes caps request bodies read by handlers.
const maxBodyBytes = 1 << 20

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Log the error but don't expose it to the client
		return
	}
}

// writeError writes an error response with the given status code, code and message.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, logger zerolog.Logger) {
	event := logger.Warn()
	if status >= http.StatusInternalServerError {
		event = logger.Error()
	}
	event.Str("code", code).Int("status", status).Str("path", r.URL.Path).Msg(message)

	writeJSON(w, status, model.ErrorResponse{
		Error:         code,
		Message:       message,
		CorrelationID: chimw.GetReqID(r.Context()),
	})
}

// writeServiceError maps a service error to a response. Domain errors carry their
// own code and message; anything else is an internal error whose detail stays in the log.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, logger zerolog.Logger) {
	de, ok := model.AsDomainError(err)
	if !ok {
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, model.ErrorResponse{
			Error:         model.ErrCodeInternalError,
			Message:       "internal server error",
			CorrelationID: chimw.GetReqID(r.Context()),
		})
		return
	}

	status := statusForCode(de.Code)
	logger.Warn().Str("code", de.Code).Int("status", status).Str("path", r.URL.Path).Msg("request rejected")
	writeJSON(w, status, model.ErrorResponse{
		Error:         de.Code,
		Message:       de.Message,
		Retryable:     de.Retryable,
		CorrelationID: chimw.GetReqID(r.Context()),
	})
}

func statusForCode(code string) int {
	switch code {
	case model.ErrCodeInvalidJSON, model.ErrCodeMissingField, model.ErrCodeInvalidContact,
		model.ErrCodeEmptySelection, model.ErrCodeTooManyItems, model.ErrCodeNoVariantSelected,
		model.ErrCodeUnknownVariant, model.ErrCodeInvalidPrice:
		return http.StatusBadRequest
	case model.ErrCodeProductNotFound, model.ErrCodeOrderNotFound, model.ErrCodeItemNotFound:
		return http.StatusNotFound
	case model.ErrCodeDiscountNotFound, model.ErrCodeDiscountInactive, model.ErrCodeDiscountNotYetValid,
		model.ErrCodeDiscountExpired, model.ErrCodeDiscountMinPurchase, model.ErrCodeDiscountExhausted,
		model.ErrCodeBelowMinimumAmount, model.ErrCodeAboveMaximumAmount:
		return http.StatusUnprocessableEntity
	case model.ErrCodeRejectedConcurrently, model.ErrCodeReferenceMismatch, model.ErrCodeSessionInProgress,
		model.ErrCodeOrderNotPending, model.ErrCodeInvalidTransition, model.ErrCodeOrderNotSettled,
		model.ErrCodeNotEntitled, model.ErrCodeIdempotencyKeyReused:
		return http.StatusConflict
	case model.ErrCodeGatewayUnavailable:
		return http.StatusBadGateway
	case model.ErrCodeInvalidSignature, model.ErrCodeUnauthorised:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return err
	}
	return nil
}

// orderIDParam parses the {id} path parameter.
func orderIDParam(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "id")
	if raw == "" {
		return uuid.Nil, errors.New("order ID is required")
	}
	return uuid.Parse(raw)
}

// intQuery parses an optional integer query parameter.
func intQuery(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
