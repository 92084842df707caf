package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopfront/fulfillment/internal/apperr"
	"github.com/shopfront/fulfillment/internal/domain"
	"github.com/shopfront/fulfillment/internal/inventory"
	"github.com/shopfront/fulfillment/internal/notify"
	"github.com/shopfront/fulfillment/internal/orders"
)

type fakeGateway struct {
	m        sync.Mutex
	session  *domain.CheckoutSession
	status   domain.PaymentStatus
	err      error
	requests []*domain.PaymentSessionRequest
	metas    []map[string]string
}

func (f *fakeGateway) CreateSession(_ context.Context, req *domain.PaymentSessionRequest, meta map[string]string) (*domain.CheckoutSession, error) {
	f.m.Lock()
	defer f.m.Unlock()
	f.requests = append(f.requests, req)
	f.metas = append(f.metas, meta)
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func (f *fakeGateway) FetchLegacyStatus(ctx context.Context, _ string) (domain.PaymentStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.err != nil {
		return "", f.err
	}
	return f.status, nil
}

type fakeOrderRepo struct {
	m         sync.Mutex
	bySession map[string]*domain.Order
	createErr error
	getErr    error
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{bySession: make(map[string]*domain.Order)}
}

func (f *fakeOrderRepo) Create(_ context.Context, order *domain.Order) error {
	f.m.Lock()
	defer f.m.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if _, exists := f.bySession[order.StripeSessionID]; exists {
		return orders.ErrDuplicateSession
	}
	if order.ID == "" {
		order.ID = fmt.Sprintf("order-%d", len(f.bySession)+1)
	}
	f.bySession[order.StripeSessionID] = order
	return nil
}

func (f *fakeOrderRepo) GetBySessionID(_ context.Context, sessionID string) (*domain.Order, error) {
	f.m.Lock()
	defer f.m.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	order, ok := f.bySession[sessionID]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	return order, nil
}

func (f *fakeOrderRepo) GetByID(context.Context, string) (*domain.Order, error) {
	return nil, orders.ErrOrderNotFound
}

func (f *fakeOrderRepo) GetByUserID(context.Context, string) ([]domain.Order, error) {
	return nil, nil
}

func (f *fakeOrderRepo) UpdateStatus(context.Context, string, domain.OrderStatus) error {
	return nil
}

func (f *fakeOrderRepo) UpdateTracking(context.Context, string, string, *time.Time) error {
	return nil
}

func (f *fakeOrderRepo) count() int {
	f.m.Lock()
	defer f.m.Unlock()
	return len(f.bySession)
}

type fakeAdjuster struct {
	m      sync.Mutex
	report inventory.Report
	calls  [][]domain.PaymentItem
}

func (f *fakeAdjuster) DecrementMany(_ context.Context, items []domain.PaymentItem) inventory.Report {
	f.m.Lock()
	defer f.m.Unlock()
	f.calls = append(f.calls, items)
	return f.report
}

type fakeReconciler struct {
	m     sync.Mutex
	err   error
	users []string
}

func (f *fakeReconciler) ReconcileUser(_ context.Context, userID string) error {
	f.m.Lock()
	defer f.m.Unlock()
	f.users = append(f.users, userID)
	return f.err
}

type fakeNotifier struct {
	m            sync.Mutex
	configured   bool
	confirm      notify.Result
	alert        notify.Result
	confirmCalls int
	alertCalls   int
}

func (f *fakeNotifier) Configured() bool { return f.configured }

func (f *fakeNotifier) SendOrderConfirmation(context.Context, *domain.Order) notify.Result {
	f.m.Lock()
	defer f.m.Unlock()
	f.confirmCalls++
	return f.confirm
}

func (f *fakeNotifier) SendOperatorAlert(context.Context, *domain.Order) notify.Result {
	f.m.Lock()
	defer f.m.Unlock()
	f.alertCalls++
	return f.alert
}

type fakePublisher struct {
	m         sync.Mutex
	err       error
	published []*domain.Order
}

func (f *fakePublisher) PublishOrderPaid(_ context.Context, order *domain.Order) error {
	f.m.Lock()
	defer f.m.Unlock()
	f.published = append(f.published, order)
	return f.err
}

func (f *fakePublisher) Close() error { return nil }

type fakeLocker struct {
	acquired bool
	err      error
	releases int
}

func (f *fakeLocker) Acquire(context.Context, string) (bool, error) {
	return f.acquired, f.err
}

func (f *fakeLocker) Release(context.Context, string) error {
	f.releases++
	return nil
}

type fixtures struct {
	gateway    *fakeGateway
	repo       *fakeOrderRepo
	adjuster   *fakeAdjuster
	reconciler *fakeReconciler
	notifier   *fakeNotifier
	publisher  *fakePublisher
	locker     *fakeLocker
}

func newOrchestrator(t *testing.T) (*Orchestrator, *fixtures) {
	t.Helper()
	f := &fixtures{
		gateway:    &fakeGateway{session: &domain.CheckoutSession{SessionID: "cs_test", URL: "https://pay.example/cs_test"}},
		repo:       newFakeOrderRepo(),
		adjuster:   &fakeAdjuster{},
		reconciler: &fakeReconciler{},
		notifier:   &fakeNotifier{configured: true, confirm: notify.Result{Success: true}, alert: notify.Result{Success: true}},
		publisher:  &fakePublisher{},
		locker:     &fakeLocker{acquired: true},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	o := NewOrchestrator(f.gateway, f.repo, f.adjuster, f.reconciler, f.notifier, f.publisher, f.locker, logger, Options{})
	return o, f
}

func paidEvent(t *testing.T) *domain.WebhookEvent {
	t.Helper()
	req := &domain.PaymentSessionRequest{
		Items:  []domain.PaymentItem{{ID: "p1", Name: "Widget", Price: 1200.00, Quantity: 1}},
		UserID: "u1",
	}
	meta, err := EncodeMetadata(req, 1200.00)
	require.NoError(t, err)
	return &domain.WebhookEvent{
		SessionID:     "cs_test",
		PaymentStatus: domain.PaymentStatusPaid,
		AmountTotal:   120000,
		Currency:      "eur",
		CustomerEmail: "u1@example.com",
		Metadata:      meta,
	}
}

func TestHandleWebhook_NonPaidStatusIsNoOp(t *testing.T) {
	o, f := newOrchestrator(t)

	for _, status := range []domain.PaymentStatus{domain.PaymentStatusPending, domain.PaymentStatusFailed} {
		event := paidEvent(t)
		event.PaymentStatus = status

		result, err := o.HandleWebhook(context.Background(), event)
		require.NoError(t, err)
		assert.False(t, result.Success)
	}

	assert.Equal(t, 0, f.repo.count())
	assert.Empty(t, f.adjuster.calls)
	assert.Empty(t, f.reconciler.users)
	assert.Equal(t, 0, f.notifier.confirmCalls)
}

func TestHandleWebhook_MissingMetadataIsNoOp(t *testing.T) {
	o, f := newOrchestrator(t)
	event := paidEvent(t)
	event.Metadata = nil

	result, err := o.HandleWebhook(context.Background(), event)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 0, f.repo.count())
}

func TestHandleWebhook_MissingUserIDIsFatal(t *testing.T) {
	o, f := newOrchestrator(t)
	event := paidEvent(t)
	event.Metadata[MetadataKey] = `{"version":1,"items":[{"id":"p1","name":"Widget","price":1200,"quantity":1}]}`

	_, err := o.HandleWebhook(context.Background(), event)
	require.Error(t, err)

	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "webhook_missing_user", ae.Code)
	assert.Equal(t, 0, f.repo.count())
}

func TestHandleWebhook_NoItemsIsFatal(t *testing.T) {
	o, f := newOrchestrator(t)
	event := paidEvent(t)
	event.Metadata[MetadataKey] = `{"version":1,"user_id":"u1","items":[]}`

	_, err := o.HandleWebhook(context.Background(), event)
	require.Error(t, err)

	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "webhook_no_items", ae.Code)
	assert.Equal(t, 0, f.repo.count())
}

func TestHandleWebhook_UnparseableContextIsDistinctFromNoItems(t *testing.T) {
	o, f := newOrchestrator(t)
	event := paidEvent(t)
	event.Metadata[MetadataKey] = `{"version":1,"user_id":`

	_, err := o.HandleWebhook(context.Background(), event)
	require.Error(t, err)

	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "webhook_context_invalid", ae.Code)
	assert.Equal(t, 0, f.repo.count())
}

func TestHandleWebhook_CreatesPaidOrderFromCapturedAmount(t *testing.T) {
	o, f := newOrchestrator(t)

	result, err := o.HandleWebhook(context.Background(), paidEvent(t))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.OrderID)
	assert.False(t, result.Duplicate)

	require.Equal(t, 1, f.repo.count())
	order := f.repo.bySession["cs_test"]
	assert.Equal(t, domain.OrderStatusPaid, order.Status)
	assert.Equal(t, "u1", order.UserID)
	assert.Equal(t, "u1@example.com", order.UserEmail)
	assert.InDelta(t, 1200.00, order.TotalAmount, 0.001)
	assert.Equal(t, "eur", order.Currency)
	assert.Equal(t, "cs_test", order.StripeSessionID)
	assert.NotEqual(t, order.StripeSessionID, order.ID)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "p1", order.Items[0].ID)

	require.Len(t, f.adjuster.calls, 1)
	assert.Equal(t, []string{"u1"}, f.reconciler.users)
	assert.Equal(t, 1, f.notifier.confirmCalls)
	assert.Equal(t, 1, f.notifier.alertCalls)
	require.Len(t, f.publisher.published, 1)
	assert.Equal(t, order.ID, f.publisher.published[0].ID)
	assert.Equal(t, 1, f.locker.releases)
}

func TestHandleWebhook_AmountFallsBackToContextTotal(t *testing.T) {
	o, f := newOrchestrator(t)
	event := paidEvent(t)
	event.AmountTotal = 0

	_, err := o.HandleWebhook(context.Background(), event)
	require.NoError(t, err)
	assert.InDelta(t, 1200.00, f.repo.bySession["cs_test"].TotalAmount, 0.001)
}

func TestHandleWebhook_DuplicateDeliveryYieldsOneOrder(t *testing.T) {
	o, f := newOrchestrator(t)

	first, err := o.HandleWebhook(context.Background(), paidEvent(t))
	require.NoError(t, err)

	second, err := o.HandleWebhook(context.Background(), paidEvent(t))
	require.NoError(t, err)

	assert.True(t, second.Success)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, 1, f.repo.count())
	// Side effects ran once, for the first delivery only.
	assert.Len(t, f.adjuster.calls, 1)
	assert.Equal(t, 1, f.notifier.confirmCalls)
}

func TestHandleWebhook_OrderCreateFailureIsFatal(t *testing.T) {
	o, f := newOrchestrator(t)
	f.repo.createErr = errors.New("write concern timeout")

	_, err := o.HandleWebhook(context.Background(), paidEvent(t))
	require.Error(t, err)

	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "order_store_error", ae.Code)
	assert.Empty(t, f.adjuster.calls)
	assert.Empty(t, f.reconciler.users)
	assert.Equal(t, 0, f.notifier.confirmCalls)
}

func TestHandleWebhook_InventoryFailuresDoNotBlockFulfillment(t *testing.T) {
	o, f := newOrchestrator(t)
	f.adjuster.report = inventory.Report{
		Adjusted: 1,
		Failures: []inventory.Failure{{ProductID: "gone", Err: inventory.ErrProductNotFound}},
	}

	result, err := o.HandleWebhook(context.Background(), paidEvent(t))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.OrderID)
}

func TestHandleWebhook_CartFailureDoesNotBlockFulfillment(t *testing.T) {
	o, f := newOrchestrator(t)
	f.reconciler.err = errors.New("cart store down")

	result, err := o.HandleWebhook(context.Background(), paidEvent(t))
	require.NoError(t, err)
	assert.True(t, result.Success)
	// Later steps still ran.
	assert.Equal(t, 1, f.notifier.confirmCalls)
}

func TestHandleWebhook_UnconfiguredNotifierIsSkipped(t *testing.T) {
	o, f := newOrchestrator(t)
	f.notifier.configured = false

	result, err := o.HandleWebhook(context.Background(), paidEvent(t))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 0, f.notifier.confirmCalls)
	assert.Equal(t, 0, f.notifier.alertCalls)
}

func TestHandleWebhook_OperatorAlertOnlyAfterConfirmation(t *testing.T) {
	o, f := newOrchestrator(t)
	f.notifier.confirm = notify.Result{Err: errors.New("smtp refused")}

	result, err := o.HandleWebhook(context.Background(), paidEvent(t))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, f.notifier.confirmCalls)
	assert.Equal(t, 0, f.notifier.alertCalls)
}

func TestHandleWebhook_PublisherFailureDoesNotBlockFulfillment(t *testing.T) {
	o, f := newOrchestrator(t)
	f.publisher.err = errors.New("broker unreachable")

	result, err := o.HandleWebhook(context.Background(), paidEvent(t))
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestHandleWebhook_LockContentionIsConflict(t *testing.T) {
	o, f := newOrchestrator(t)
	f.locker.acquired = false

	_, err := o.HandleWebhook(context.Background(), paidEvent(t))
	require.Error(t, err)

	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "fulfillment_in_progress", ae.Code)
	assert.Equal(t, 0, f.repo.count())
}

func TestHandleWebhook_LockErrorFallsBackToStoreUniqueness(t *testing.T) {
	o, f := newOrchestrator(t)
	f.locker.acquired = false
	f.locker.err = errors.New("redis down")

	result, err := o.HandleWebhook(context.Background(), paidEvent(t))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, f.repo.count())
}

func TestInitiatePayment_WritesNothing(t *testing.T) {
	o, f := newOrchestrator(t)
	req := &domain.PaymentSessionRequest{
		Items:      []domain.PaymentItem{{ID: "p1", Name: "Widget", Price: 19.99, Quantity: 2}},
		UserID:     "u1",
		UserEmail:  "u1@example.com",
		SuccessURL: "https://shop.example/success",
		CancelURL:  "https://shop.example/cancel",
	}

	session, err := o.InitiatePayment(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "cs_test", session.SessionID)
	assert.Equal(t, 0, f.repo.count())

	require.Len(t, f.gateway.metas, 1)
	meta := f.gateway.metas[0]
	assert.Contains(t, meta, MetadataKey)
	assert.Equal(t, "u1", meta["userId"])
	assert.Equal(t, "39.98", meta["totalAmount"])
	assert.Equal(t, "1", meta["itemsCount"])
}

func TestInitiatePayment_RejectsInvalidRequest(t *testing.T) {
	o, f := newOrchestrator(t)
	req := &domain.PaymentSessionRequest{
		UserID:     "u1",
		UserEmail:  "not-an-email",
		SuccessURL: "https://shop.example/success",
		CancelURL:  "https://shop.example/cancel",
	}

	_, err := o.InitiatePayment(context.Background(), req)
	require.Error(t, err)

	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "validation_failed", ae.Code)
	assert.Empty(t, f.gateway.requests)
}

func TestCheckPaymentStatus_Delegates(t *testing.T) {
	o, f := newOrchestrator(t)
	f.gateway.status = domain.PaymentStatusPaid

	status, err := o.CheckPaymentStatus(context.Background(), "cs_test")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, status)
}

func TestCheckPaymentStatus_SurvivesCallerCancellation(t *testing.T) {
	o, f := newOrchestrator(t)
	f.gateway.status = domain.PaymentStatusPaid

	// The flight is shared across pollers; one caller hanging up must not
	// turn into a cancellation error for whoever shares the lookup.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	status, err := o.CheckPaymentStatus(ctx, "cs_test")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, status)
}
