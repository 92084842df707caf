package httpx

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shopfront/fulfillment/internal/domain"
	"github.com/shopfront/fulfillment/internal/fulfillment"
)

// FulfillmentService is the slice of the orchestrator the HTTP layer calls.
type FulfillmentService interface {
	InitiatePayment(ctx context.Context, req *domain.PaymentSessionRequest) (*domain.CheckoutSession, error)
	HandleWebhook(ctx context.Context, event *domain.WebhookEvent) (*fulfillment.Result, error)
	CheckPaymentStatus(ctx context.Context, sessionID string) (domain.PaymentStatus, error)
}

// OrderReader is the read-only order access the shipping/account endpoints
// need. Consumers define this interface, not the store implementation.
type OrderReader interface {
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	GetByUserID(ctx context.Context, userID string) ([]domain.Order, error)
}

type PaymentsHandler struct {
	svc        FulfillmentService
	orders     OrderReader
	timeout    time.Duration
	production bool
	logger     *slog.Logger
}

func NewPaymentsHandler(svc FulfillmentService, orders OrderReader, timeout time.Duration, production bool, logger *slog.Logger) *PaymentsHandler {
	return &PaymentsHandler{
		svc:        svc,
		orders:     orders,
		timeout:    timeout,
		production: production,
		logger:     logger,
	}
}

// POST /api/v1/payments/checkout
func (h *PaymentsHandler) InitiateCheckout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req domain.PaymentSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	session, err := h.svc.InitiatePayment(ctx, &req)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, session)
}

// webhookEventDTO is the verified provider event as forwarded by the
// signature-checking ingress in front of this handler.
type webhookEventDTO struct {
	SessionID     string            `json:"session_id"`
	PaymentStatus string            `json:"payment_status"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	CustomerEmail string            `json:"customer_email"`
	Metadata      map[string]string `json:"metadata"`
}

// POST /api/v1/payments/webhook
func (h *PaymentsHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var dto webhookEventDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if dto.SessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "session_id is required")
		return
	}

	event := &domain.WebhookEvent{
		SessionID:     dto.SessionID,
		PaymentStatus: domain.PaymentStatus(dto.PaymentStatus),
		AmountTotal:   dto.AmountTotal,
		Currency:      dto.Currency,
		CustomerEmail: dto.CustomerEmail,
		Metadata:      dto.Metadata,
	}

	result, err := h.svc.HandleWebhook(ctx, event)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// GET /api/v1/payments/{session_id}/status
func (h *PaymentsHandler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sessionID := chi.URLParam(r, "session_id")
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "session_id is required")
		return
	}

	status, err := h.svc.CheckPaymentStatus(ctx, sessionID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"session_id":     sessionID,
		"payment_status": string(status),
	})
}

// GET /api/v1/orders?user_id=...
func (h *PaymentsHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "missing_user_id", "user_id is required")
		return
	}

	list, err := h.orders.GetByUserID(ctx, userID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, list)
}

// GET /api/v1/orders/{order_id}
func (h *PaymentsHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID := chi.URLParam(r, "order_id")
	if orderID == "" {
		respondError(w, http.StatusBadRequest, "missing_order_id", "order_id is required")
		return
	}

	order, err := h.orders.GetByID(ctx, orderID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, order)
}
