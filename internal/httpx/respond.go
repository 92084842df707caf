package httpx

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shopfront/fulfillment/internal/apperr"
	"github.com/shopfront/fulfillment/internal/orders"
	"github.com/shopfront/fulfillment/internal/payment"
)

type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// handleServiceError is the central translation from the internal error
// taxonomy to a response shape. In production mode 5xx messages are replaced
// with a generic one and the details bag is withheld, so internal state never
// leaks to clients.
func (h *PaymentsHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, orders.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, "order_not_found", "order not found")
		return
	case errors.Is(err, payment.ErrSessionNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", "payment session not found")
		return
	}

	ae := apperr.From(err)
	if ae.Status >= 500 {
		h.logger.ErrorContext(r.Context(), "request failed",
			"code", ae.Code,
			"status", ae.Status,
			"error", err)
	} else {
		h.logger.WarnContext(r.Context(), "request rejected",
			"code", ae.Code,
			"status", ae.Status)
	}

	message := ae.Message
	details := ae.Details
	if h.production && ae.Status >= 500 {
		message = "internal server error"
		details = nil
	}
	respondJSON(w, ae.Status, ErrorResponse{Error: message, Code: ae.Code, Details: details})
}
