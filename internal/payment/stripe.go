// Package payment wraps the one external payment API behind a small gateway.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/shopfront/fulfillment/internal/apperr"
	"github.com/shopfront/fulfillment/internal/domain"
)

// ErrSessionNotFound is returned when neither the checkout-session nor the
// payment-intent representation of an identifier resolves.
var ErrSessionNotFound = errors.New("payment session not found")

// checkoutSessions and paymentIntents mirror the slices of the Stripe client
// this gateway actually calls. The consumer defines them, not the SDK.
type checkoutSessions interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type paymentIntents interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type Config struct {
	Currency     string // ISO code for line amounts, e.g. "eur"
	ImageBaseURL string // base for resolving relative product images, may be empty
}

// Gateway is the provider adapter. The Stripe client is injected at
// construction and reused for the process lifetime; there is no package-level
// singleton to initialise lazily.
type Gateway struct {
	sessions checkoutSessions
	intents  paymentIntents
	currency string
	imgBase  *url.URL
	logger   *slog.Logger

	sessionBreaker *gobreaker.CircuitBreaker[*stripe.CheckoutSession]
	intentBreaker  *gobreaker.CircuitBreaker[*stripe.PaymentIntent]
}

func NewGateway(api *client.API, cfg Config, logger *slog.Logger) *Gateway {
	g := &Gateway{
		sessions: api.CheckoutSessions,
		intents:  api.PaymentIntents,
		currency: cfg.Currency,
		logger:   logger,
	}
	if cfg.ImageBaseURL != "" {
		base, err := url.Parse(cfg.ImageBaseURL)
		if err != nil {
			logger.Warn("invalid image base URL, product images will be dropped",
				"base_url", cfg.ImageBaseURL, "error", err)
		} else {
			g.imgBase = base
		}
	}

	settings := gobreaker.Settings{
		Name:    "stripe",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	g.sessionBreaker = gobreaker.NewCircuitBreaker[*stripe.CheckoutSession](settings)
	settings.Name = "stripe-intents"
	g.intentBreaker = gobreaker.NewCircuitBreaker[*stripe.PaymentIntent](settings)
	return g
}

// CreateSession maps the request to a hosted checkout session and returns the
// redirect URL. meta is attached verbatim as session metadata; it is the only
// state the later, stateless webhook has to reconstruct the order from.
func (g *Gateway) CreateSession(ctx context.Context, req *domain.PaymentSessionRequest, meta map[string]string) (*domain.CheckoutSession, error) {
	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items))
	for _, item := range req.Items {
		lineItems = append(lineItems, g.toLineItem(item))
	}

	params := &stripe.CheckoutSessionParams{
		Mode:          stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:    stripe.String(req.SuccessURL),
		CancelURL:     stripe.String(req.CancelURL),
		CustomerEmail: stripe.String(req.UserEmail),
		LineItems:     lineItems,
	}
	params.Context = ctx
	for k, v := range meta {
		params.AddMetadata(k, v)
	}

	sess, err := g.sessionBreaker.Execute(func() (*stripe.CheckoutSession, error) {
		return g.sessions.New(params)
	})
	if err != nil {
		return nil, g.wrapStripeErr("create checkout session", err)
	}

	return &domain.CheckoutSession{SessionID: sess.ID, URL: sess.URL}, nil
}

// VerifyStatus is the synchronous status query used by client-triggered
// polling, independent of the webhook path.
func (g *Gateway) VerifyStatus(ctx context.Context, sessionID string) (domain.PaymentStatus, error) {
	sess, err := g.getSession(ctx, sessionID)
	if err != nil {
		return "", g.wrapStripeErr("retrieve checkout session", err)
	}
	return sessionStatus(sess), nil
}

// FetchLegacyStatus resolves an identifier the caller cannot classify: it may
// be a checkout-session id or a lower-level payment-intent id. Try the
// session representation first, fall back to the intent, and only miss when
// both lookups miss.
func (g *Gateway) FetchLegacyStatus(ctx context.Context, id string) (domain.PaymentStatus, error) {
	sess, sessErr := g.getSession(ctx, id)
	if sessErr == nil {
		return sessionStatus(sess), nil
	}

	intentParams := &stripe.PaymentIntentParams{}
	intentParams.Context = ctx
	intent, intentErr := g.intentBreaker.Execute(func() (*stripe.PaymentIntent, error) {
		return g.intents.Get(id, intentParams)
	})
	if intentErr == nil {
		return intentStatus(intent), nil
	}

	if isMissing(sessErr) && isMissing(intentErr) {
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	// Both lookups failed for different reasons; keep both so the root
	// cause is not misattributed to the fallback alone.
	return "", g.wrapStripeErr("retrieve payment status", errors.Join(sessErr, intentErr))
}

func (g *Gateway) getSession(ctx context.Context, id string) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	return g.sessionBreaker.Execute(func() (*stripe.CheckoutSession, error) {
		return g.sessions.Get(id, params)
	})
}

func (g *Gateway) toLineItem(item domain.PaymentItem) *stripe.CheckoutSessionLineItemParams {
	product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
		Name: stripe.String(item.Name),
	}
	if item.Description != "" {
		product.Description = stripe.String(item.Description)
	}
	if img, ok := g.normalizeImageURL(item.ImageURL); ok {
		product.Images = stripe.StringSlice([]string{img})
	}

	return &stripe.CheckoutSessionLineItemParams{
		PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:    stripe.String(g.currency),
			UnitAmount:  stripe.Int64(ToMinorUnits(item.Price)),
			ProductData: product,
		},
		Quantity: stripe.Int64(int64(item.Quantity)),
	}
}

// normalizeImageURL resolves relative image paths against the configured
// base. A missing or unparseable image must never abort checkout, so the
// second return reports whether the URL is usable at all.
func (g *Gateway) normalizeImageURL(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		g.logger.Warn("dropping unparseable product image URL", "url", raw, "error", err)
		return "", false
	}
	if u.IsAbs() {
		return u.String(), true
	}
	if g.imgBase == nil {
		g.logger.Warn("dropping relative product image URL, no base configured", "url", raw)
		return "", false
	}
	return g.imgBase.ResolveReference(u).String(), true
}

func (g *Gateway) wrapStripeErr(op string, err error) error {
	var sErr *stripe.Error
	if errors.As(err, &sErr) {
		g.logger.Error("stripe call failed",
			"op", op,
			"stripe_code", string(sErr.Code),
			"stripe_type", string(sErr.Type))
		ae := apperr.PaymentService(string(sErr.Code), fmt.Sprintf("payment provider rejected %s", op), err)
		ae.Details = map[string]any{"provider_error_type": string(sErr.Type)}
		return ae
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperr.PaymentService("provider_unavailable", "payment provider temporarily unavailable", err)
	}
	return apperr.PaymentService("", fmt.Sprintf("failed to %s", op), err)
}

func isMissing(err error) bool {
	var sErr *stripe.Error
	if errors.As(err, &sErr) {
		return sErr.Code == stripe.ErrorCodeResourceMissing
	}
	return false
}

func sessionStatus(sess *stripe.CheckoutSession) domain.PaymentStatus {
	switch sess.PaymentStatus {
	case stripe.CheckoutSessionPaymentStatusPaid, stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		return domain.PaymentStatusPaid
	default:
		if sess.Status == stripe.CheckoutSessionStatusExpired {
			return domain.PaymentStatusFailed
		}
		return domain.PaymentStatusPending
	}
}

func intentStatus(intent *stripe.PaymentIntent) domain.PaymentStatus {
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return domain.PaymentStatusPaid
	case stripe.PaymentIntentStatusCanceled:
		return domain.PaymentStatusFailed
	default:
		return domain.PaymentStatusPending
	}
}

// ToMinorUnits converts a decimal amount to the provider's integer minor
// units, rounding to defeat float drift (12.34 -> 1234, not 1233).
func ToMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// FromMinorUnits is the inverse conversion for captured amounts reported by
// webhooks.
func FromMinorUnits(minor int64) float64 {
	return float64(minor) / 100
}
