// Package fulfillment drives the payment-confirmation pipeline: one webhook
// event in, one durable order plus a set of best-effort side effects out.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/shopfront/fulfillment/internal/apperr"
	"github.com/shopfront/fulfillment/internal/domain"
	"github.com/shopfront/fulfillment/internal/events"
	"github.com/shopfront/fulfillment/internal/inventory"
	"github.com/shopfront/fulfillment/internal/notify"
	"github.com/shopfront/fulfillment/internal/orders"
	"github.com/shopfront/fulfillment/internal/payment"
	"github.com/shopfront/fulfillment/internal/validation"
)

// PaymentGateway is the slice of the provider adapter the orchestrator uses.
type PaymentGateway interface {
	CreateSession(ctx context.Context, req *domain.PaymentSessionRequest, meta map[string]string) (*domain.CheckoutSession, error)
	FetchLegacyStatus(ctx context.Context, id string) (domain.PaymentStatus, error)
}

// InventoryAdjuster decrements stock; by contract it never returns an error.
type InventoryAdjuster interface {
	DecrementMany(ctx context.Context, items []domain.PaymentItem) inventory.Report
}

// CartReconciler clears a user's abandoned carts after a paid order.
type CartReconciler interface {
	ReconcileUser(ctx context.Context, userID string) error
}

// Notifier is the notification channel (usually a notify.Chain).
type Notifier interface {
	Configured() bool
	SendOrderConfirmation(ctx context.Context, order *domain.Order) notify.Result
	SendOperatorAlert(ctx context.Context, order *domain.Order) notify.Result
}

// Result is what one fulfillment attempt reports back to the webhook
// dispatcher.
type Result struct {
	Success   bool   `json:"success"`
	OrderID   string `json:"order_id,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Message   string `json:"message,omitempty"`
}

type Orchestrator struct {
	gateway    PaymentGateway
	orders     orders.OrderRepository
	inventory  InventoryAdjuster
	carts      CartReconciler
	notifier   Notifier
	publisher  events.Publisher
	locks      SessionLocker
	logger     *slog.Logger
	tracer     trace.Tracer
	currency   string
	stepBudget time.Duration

	statusCalls singleflight.Group // collapses concurrent polls per session
}

type Options struct {
	// DefaultCurrency is used when a webhook omits the currency. ISO code,
	// lower case, e.g. "eur".
	DefaultCurrency string
	// StepBudget bounds each pipeline step so an unbounded hang in a
	// best-effort step cannot outlast the provider's own retry window.
	StepBudget time.Duration
}

func NewOrchestrator(
	gateway PaymentGateway,
	orderRepo orders.OrderRepository,
	adjuster InventoryAdjuster,
	reconciler CartReconciler,
	notifier Notifier,
	publisher events.Publisher,
	locks SessionLocker,
	logger *slog.Logger,
	opts Options,
) *Orchestrator {
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "eur"
	}
	if opts.StepBudget <= 0 {
		opts.StepBudget = 10 * time.Second
	}
	return &Orchestrator{
		gateway:    gateway,
		orders:     orderRepo,
		inventory:  adjuster,
		carts:      reconciler,
		notifier:   notifier,
		publisher:  publisher,
		locks:      locks,
		logger:     logger,
		tracer:     otel.Tracer("fulfillment"),
		currency:   opts.DefaultCurrency,
		stepBudget: opts.StepBudget,
	}
}

// InitiatePayment validates the request and asks the provider for a hosted
// checkout session. Nothing is persisted at this stage: no order exists
// until the webhook confirms payment.
func (o *Orchestrator) InitiatePayment(ctx context.Context, req *domain.PaymentSessionRequest) (*domain.CheckoutSession, error) {
	if err := validation.ValidatePaymentRequest(req); err != nil {
		return nil, err
	}

	total := req.TotalAmount()
	if err := validation.ValidateAmount(total); err != nil {
		return nil, err
	}

	meta, err := EncodeMetadata(req, total)
	if err != nil {
		return nil, apperr.From(err)
	}

	session, err := o.gateway.CreateSession(ctx, req, meta)
	if err != nil {
		return nil, err
	}

	o.logger.Info("checkout session created",
		"session_id", session.SessionID,
		"user_id", req.UserID,
		"total_amount", total,
		"items_count", len(req.Items))
	return session, nil
}

// CheckPaymentStatus is the client-triggered polling path, independent of
// the webhook. Clients sometimes hold a payment-intent id instead of a
// session id, so the lookup goes through the legacy-tolerant adapter path.
// Concurrent polls for the same identifier share one provider call.
func (o *Orchestrator) CheckPaymentStatus(ctx context.Context, sessionID string) (domain.PaymentStatus, error) {
	v, err, _ := o.statusCalls.Do(sessionID, func() (interface{}, error) {
		// Detached from the caller: the flight is shared, and the first
		// poller hanging up must not fail everyone waiting on it.
		status, err := o.gateway.FetchLegacyStatus(context.WithoutCancel(ctx), sessionID)
		if err != nil {
			return nil, err
		}
		return status, nil
	})
	if err != nil {
		return "", err
	}
	return v.(domain.PaymentStatus), nil
}

// HandleWebhook runs one fulfillment attempt. Creating the order is the only
// fatal step; inventory, cart cleanup, notification and event publishing are
// best-effort and can never fail the attempt once the order exists.
func (o *Orchestrator) HandleWebhook(ctx context.Context, event *domain.WebhookEvent) (*Result, error) {
	ctx, span := o.tracer.Start(ctx, "HandleWebhook")
	defer span.End()

	// Anything other than a paid session with metadata is a no-op, reported
	// back but never retried here.
	if event.PaymentStatus != domain.PaymentStatusPaid {
		return &Result{
			Success: false,
			Message: fmt.Sprintf("ignoring event with payment status %s", event.PaymentStatus),
		}, nil
	}
	if event.Metadata == nil {
		return &Result{Success: false, Message: "ignoring event without metadata"}, nil
	}

	fc, err := DecodeMetadata(event.Metadata)
	if err != nil {
		// An unparseable context is surfaced distinctly from "zero items":
		// the former is version skew or corruption, the latter a semantic
		// dead end.
		o.logger.Error("failed to decode fulfillment context",
			"session_id", event.SessionID, "error", err)
		return nil, apperr.Webhook("webhook_context_invalid", "fulfillment context is not parseable")
	}
	if fc.UserID == "" {
		return nil, apperr.Webhook("webhook_missing_user", "webhook metadata carries no user id")
	}
	if len(fc.Items) == 0 {
		// A paid session must always resolve to at least one item.
		return nil, apperr.Webhook("webhook_no_items", "paid session resolved to zero items")
	}

	acquired, lockErr := o.locks.Acquire(ctx, event.SessionID)
	if lockErr != nil {
		// The unique session index still dedupes; losing the lock only means
		// possibly racing to a duplicate-key error.
		o.logger.Warn("session lock unavailable, relying on store uniqueness",
			"session_id", event.SessionID, "error", lockErr)
	} else if !acquired {
		return nil, apperr.New("fulfillment_in_progress", http.StatusConflict,
			"another delivery for this session is being fulfilled")
	} else {
		defer func() {
			if err := o.locks.Release(context.WithoutCancel(ctx), event.SessionID); err != nil {
				o.logger.Warn("failed to release session lock",
					"session_id", event.SessionID, "error", err)
			}
		}()
	}

	order, err := o.createOrder(ctx, event, fc)
	if err != nil {
		if errors.Is(err, orders.ErrDuplicateSession) {
			return o.resolveDuplicate(ctx, event)
		}
		return nil, err
	}

	o.logger.Info("order created",
		"order_id", order.ID,
		"session_id", event.SessionID,
		"user_id", order.UserID,
		"total_amount", order.TotalAmount)

	o.adjustInventory(ctx, order)
	o.reconcileCarts(ctx, order)
	o.sendNotifications(ctx, order)
	o.publishEvent(ctx, order)

	return &Result{Success: true, OrderID: order.ID}, nil
}

// createOrder is the fatal step: any failure here aborts the attempt and the
// provider's dispatcher is expected to retry the whole delivery.
func (o *Orchestrator) createOrder(ctx context.Context, event *domain.WebhookEvent, fc *Context) (*domain.Order, error) {
	total := fc.TotalAmount
	if event.AmountTotal > 0 {
		// Prefer the provider's exact captured amount over the one computed
		// at session creation.
		total = payment.FromMinorUnits(event.AmountTotal)
	}
	currency := event.Currency
	if currency == "" {
		currency = o.currency
	}

	order := &domain.Order{
		UserID:          fc.UserID,
		UserEmail:       event.CustomerEmail,
		Items:           fc.Items,
		TotalAmount:     total,
		Currency:        currency,
		Status:          domain.OrderStatusPaid,
		PaymentMethod:   "card",
		StripeSessionID: event.SessionID,
		Metadata:        event.Metadata,
	}

	stepCtx, cancel := o.stepContext(ctx)
	defer cancel()
	if err := o.orders.Create(stepCtx, order); err != nil {
		if errors.Is(err, orders.ErrDuplicateSession) {
			return nil, err
		}
		return nil, apperr.Order("failed to create order", err)
	}
	return order, nil
}

// resolveDuplicate turns a duplicate-session create into a success pointing
// at the existing order: delivering the same event twice must yield exactly
// one order.
func (o *Orchestrator) resolveDuplicate(ctx context.Context, event *domain.WebhookEvent) (*Result, error) {
	stepCtx, cancel := o.stepContext(ctx)
	defer cancel()
	existing, err := o.orders.GetBySessionID(stepCtx, event.SessionID)
	if err != nil {
		return nil, apperr.Order("order exists for session but could not be loaded", err)
	}

	o.logger.Info("duplicate webhook delivery, returning existing order",
		"session_id", event.SessionID, "order_id", existing.ID)
	return &Result{Success: true, OrderID: existing.ID, Duplicate: true}, nil
}

func (o *Orchestrator) adjustInventory(ctx context.Context, order *domain.Order) {
	stepCtx, cancel := o.stepContext(ctx)
	defer cancel()
	report := o.inventory.DecrementMany(stepCtx, order.Items)
	if len(report.Failures) > 0 {
		o.logger.Warn("inventory adjustment incomplete",
			"order_id", order.ID,
			"adjusted", report.Adjusted,
			"failed", len(report.Failures))
	}
}

func (o *Orchestrator) reconcileCarts(ctx context.Context, order *domain.Order) {
	stepCtx, cancel := o.stepContext(ctx)
	defer cancel()
	if err := o.carts.ReconcileUser(stepCtx, order.UserID); err != nil {
		o.logger.Warn("cart reconciliation failed",
			"order_id", order.ID,
			"user_id", order.UserID,
			"error", err)
	}
}

func (o *Orchestrator) sendNotifications(ctx context.Context, order *domain.Order) {
	if !o.notifier.Configured() {
		// The client-initiated channel after redirect may be the only
		// notification the customer receives. Accepted, not an error.
		o.logger.Info("no notification channel configured, skipping",
			"order_id", order.ID)
		return
	}

	stepCtx, cancel := o.stepContext(ctx)
	defer cancel()
	confirmation := o.notifier.SendOrderConfirmation(stepCtx, order)
	if !confirmation.Success {
		o.logger.Warn("customer confirmation failed",
			"order_id", order.ID, "error", confirmation.Err)
		return
	}

	alert := o.notifier.SendOperatorAlert(stepCtx, order)
	if !alert.Success {
		o.logger.Warn("operator alert failed",
			"order_id", order.ID, "error", alert.Err)
	}
}

func (o *Orchestrator) publishEvent(ctx context.Context, order *domain.Order) {
	stepCtx, cancel := o.stepContext(ctx)
	defer cancel()
	if err := o.publisher.PublishOrderPaid(stepCtx, order); err != nil {
		o.logger.Warn("failed to publish order event",
			"order_id", order.ID, "error", err)
	}
}

func (o *Orchestrator) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.stepBudget)
}
