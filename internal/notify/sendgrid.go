package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/shopfront/fulfillment/internal/domain"
)

// SendGridConfig carries the transactional-email channel settings. An empty
// APIKey leaves the channel unconfigured, which the chain skips silently.
type SendGridConfig struct {
	APIKey        string
	FromName      string
	FromAddress   string
	OperatorEmail string
}

type SendGrid struct {
	cfg    SendGridConfig
	client *sendgrid.Client
	logger *slog.Logger
}

func NewSendGrid(cfg SendGridConfig, logger *slog.Logger) *SendGrid {
	return &SendGrid{
		cfg:    cfg,
		client: sendgrid.NewSendClient(cfg.APIKey),
		logger: logger,
	}
}

func (s *SendGrid) Name() string { return "sendgrid" }

func (s *SendGrid) Configured() bool {
	return s.cfg.APIKey != "" && s.cfg.FromAddress != ""
}

func (s *SendGrid) SendOrderConfirmation(ctx context.Context, order *domain.Order) Result {
	if order.UserEmail == "" {
		return Result{Err: fmt.Errorf("order %s has no customer email", order.ID)}
	}
	to := mail.NewEmail("", order.UserEmail)
	subject := fmt.Sprintf("Order confirmation - %s", order.ID)
	return s.send(ctx, to, subject, confirmationBody(order))
}

func (s *SendGrid) SendOperatorAlert(ctx context.Context, order *domain.Order) Result {
	if s.cfg.OperatorEmail == "" {
		return Result{Err: fmt.Errorf("no operator email configured")}
	}
	to := mail.NewEmail("", s.cfg.OperatorEmail)
	subject := fmt.Sprintf("New paid order %s (%.2f %s)", order.ID, order.TotalAmount, strings.ToUpper(order.Currency))
	return s.send(ctx, to, subject, alertBody(order))
}

func (s *SendGrid) send(ctx context.Context, to *mail.Email, subject, body string) Result {
	from := mail.NewEmail(s.cfg.FromName, s.cfg.FromAddress)
	message := mail.NewSingleEmail(from, subject, to, body, "")

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return Result{Err: fmt.Errorf("sendgrid send failed: %w", err)}
	}
	if resp.StatusCode >= 300 {
		return Result{Err: fmt.Errorf("sendgrid returned status %d: %s", resp.StatusCode, resp.Body)}
	}

	var messageID string
	if ids := resp.Headers["X-Message-Id"]; len(ids) > 0 {
		messageID = ids[0]
	}
	s.logger.Info("notification sent", "to", to.Address, "message_id", messageID)
	return Result{Success: true, MessageID: messageID}
}

func confirmationBody(order *domain.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Thank you for your purchase!\n\nOrder %s\n\n", order.ID)
	for _, item := range order.Items {
		fmt.Fprintf(&b, "  %dx %s - %.2f\n", item.Quantity, item.Name, item.Price)
	}
	fmt.Fprintf(&b, "\nTotal: %.2f %s\n", order.TotalAmount, strings.ToUpper(order.Currency))
	return b.String()
}

func alertBody(order *domain.Order) string {
	return fmt.Sprintf(
		"Order %s was paid by user %s (%s).\nItems: %d, total %.2f %s.\nSession: %s\n",
		order.ID, order.UserID, order.UserEmail,
		len(order.Items), order.TotalAmount, strings.ToUpper(order.Currency),
		order.StripeSessionID,
	)
}
