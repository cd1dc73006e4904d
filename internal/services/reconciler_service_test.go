package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/repositories/memory"
)

type stubArchiver struct {
	archived []string
	err      error
}

func (a *stubArchiver) ArchiveWebhook(_ context.Context, event payments.WebhookEvent, _ []byte) error {
	a.archived = append(a.archived, event.ID)
	return a.err
}

type reconcilerFixture struct {
	svc      PaymentReconciler
	reg      *memory.Registry
	store    *memory.Store
	gateway  *stubGateway
	notifier *recordingNotifier
	archiver *stubArchiver
	logged   []string
	fields   map[string]map[string]any
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()
	f := &reconcilerFixture{
		store:    newFixtureStore(),
		gateway:  &stubGateway{},
		notifier: &recordingNotifier{},
		archiver: &stubArchiver{},
		fields:   make(map[string]map[string]any),
	}
	f.reg = memory.NewRegistry(f.store)
	svc, err := NewPaymentReconciler(PaymentReconcilerDeps{
		Orders:    f.reg.Orders(),
		Lifecycle: f.reg.Lifecycle(),
		Gateway:   f.gateway,
		Archiver:  f.archiver,
		Notifier:  f.notifier,
		Clock:     func() time.Time { return fixtureNow },
		Logger: func(_ context.Context, event string, fields map[string]any) {
			f.logged = append(f.logged, event)
			f.fields[event] = fields
		},
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *reconcilerFixture) webhook(event payments.WebhookEvent) {
	f.gateway.parseWebhookFunc = func([]byte, string) (payments.WebhookEvent, error) {
		return event, nil
	}
}

func TestPaymentReconciler_DuplicateWebhookAppliesOnce(t *testing.T) {
	f := newReconcilerFixture(t)
	order := pendingOrder(f.store, "SF-1", "user-1")
	_, err := f.reg.Carts().Save(context.Background(), Cart{Owner: domain.UserOwner("user-1"), Lines: []CartLine{{ProductID: "P1", Quantity: 2, UnitPrice: 5000}}})
	require.NoError(t, err)

	f.webhook(payments.WebhookEvent{ID: "evt_1", Type: payments.EventIntentSucceeded, IntentID: order.PaymentIntentID, ReceiptURL: "https://pay.example.com/r/1"})

	first, err := f.svc.HandleWebhook(context.Background(), WebhookCommand{Payload: []byte(`{}`), Signature: "sig"})
	require.NoError(t, err)
	require.True(t, first.Applied)
	require.Equal(t, "SF-1", first.OrderNumber)

	second, err := f.svc.HandleWebhook(context.Background(), WebhookCommand{Payload: []byte(`{}`), Signature: "sig"})
	require.NoError(t, err)
	require.False(t, second.Applied)
	require.False(t, second.Ignored)

	require.Equal(t, 8, f.store.Stock("P1"))

	stored, err := f.reg.Orders().FindByNumber(context.Background(), "SF-1")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusProcessing, stored.Status)
	require.Equal(t, domain.PaymentStatusPaid, stored.PaymentStatus)
	require.NotNil(t, stored.PaidAt)

	payment, err := f.reg.Orders().FindPayment(context.Background(), order.PaymentIntentID)
	require.NoError(t, err)
	require.Equal(t, domain.PaymentRecordSucceeded, payment.Status)
	require.Equal(t, "https://pay.example.com/r/1", payment.ReceiptURL)

	_, err = f.reg.Carts().Get(context.Background(), domain.UserOwner("user-1"))
	require.True(t, isRepoNotFound(err), "expected cart to be cleared, got %v", err)

	require.Equal(t, []string{"order.paid"}, f.notifier.events())
	require.Equal(t, "USD 108.00", f.notifier.messages[0].DisplayAmount)
	require.Equal(t, []string{"evt_1", "evt_1"}, f.archiver.archived)
}

func TestPaymentReconciler_CaptureAfterFailureFlagsReview(t *testing.T) {
	f := newReconcilerFixture(t)
	order := pendingOrder(f.store, "SF-R", "user-1")

	f.webhook(payments.WebhookEvent{ID: "evt_fail", Type: payments.EventIntentFailed, IntentID: order.PaymentIntentID, FailureMessage: "card declined"})
	failed, err := f.svc.HandleWebhook(context.Background(), WebhookCommand{Payload: []byte(`{}`)})
	require.NoError(t, err)
	require.True(t, failed.Applied)
	require.False(t, failed.NeedsReview)

	f.webhook(payments.WebhookEvent{ID: "evt_retry", Type: payments.EventIntentSucceeded, IntentID: order.PaymentIntentID})
	captured, err := f.svc.HandleWebhook(context.Background(), WebhookCommand{Payload: []byte(`{}`)})
	require.NoError(t, err)
	require.False(t, captured.Applied)
	require.True(t, captured.NeedsReview)
	require.Equal(t, "SF-R", captured.OrderNumber)

	stored, err := f.reg.Orders().FindByNumber(context.Background(), "SF-R")
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusFailed, stored.PaymentStatus)
	require.Equal(t, 10, f.store.Stock("P1"))

	require.Contains(t, f.logged, "payment.captured_on_closed_order")
	fields := f.fields["payment.captured_on_closed_order"]
	require.Equal(t, "SF-R", fields["orderNumber"])
	require.Equal(t, order.PaymentIntentID, fields["paymentIntent"])
	require.Equal(t, string(domain.PaymentStatusFailed), fields["paymentStatus"])
	require.Equal(t, "manual", fields["review"])
	require.Equal(t, []string{"order.payment_failed"}, f.notifier.events())
}

func TestPaymentReconciler_ConfirmAfterWebhookIsNoop(t *testing.T) {
	f := newReconcilerFixture(t)
	order := pendingOrder(f.store, "SF-2", "user-1")
	f.webhook(payments.WebhookEvent{ID: "evt_2", Type: payments.EventIntentSucceeded, IntentID: order.PaymentIntentID})

	_, err := f.svc.HandleWebhook(context.Background(), WebhookCommand{Payload: []byte(`{}`)})
	require.NoError(t, err)

	confirmed, err := f.svc.Confirm(context.Background(), ConfirmPaymentCommand{UserID: "user-1", IntentID: order.PaymentIntentID})
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusPaid, confirmed.PaymentStatus)
	require.Equal(t, 8, f.store.Stock("P1"))
	require.Len(t, f.notifier.events(), 1)
}

func TestPaymentReconciler_ConfirmRejectsOtherUsers(t *testing.T) {
	f := newReconcilerFixture(t)
	order := pendingOrder(f.store, "SF-3", "user-1")

	_, err := f.svc.Confirm(context.Background(), ConfirmPaymentCommand{UserID: "intruder", IntentID: order.PaymentIntentID})
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, 10, f.store.Stock("P1"))

	_, err = f.svc.Confirm(context.Background(), ConfirmPaymentCommand{UserID: "user-1", IntentID: "pi_missing"})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Confirm(context.Background(), ConfirmPaymentCommand{UserID: "user-1"})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestPaymentReconciler_ConfirmRecordsFailure(t *testing.T) {
	f := newReconcilerFixture(t)
	order := pendingOrder(f.store, "SF-4", "user-1")
	f.gateway.retrieveIntentFunc = func(_ context.Context, intentID string) (payments.Intent, error) {
		return payments.Intent{ID: intentID, Status: payments.IntentStatusFailed, FailureMessage: "card declined"}, nil
	}

	updated, err := f.svc.Confirm(context.Background(), ConfirmPaymentCommand{UserID: "user-1", IntentID: order.PaymentIntentID})
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusFailed, updated.PaymentStatus)
	require.Equal(t, domain.OrderStatusPending, updated.Status)
	require.Equal(t, "card declined", updated.PaymentFailureReason)
	require.Equal(t, 10, f.store.Stock("P1"))

	payment, err := f.reg.Orders().FindPayment(context.Background(), order.PaymentIntentID)
	require.NoError(t, err)
	require.Equal(t, domain.PaymentRecordFailed, payment.Status)
	require.Equal(t, []string{"order.payment_failed"}, f.notifier.events())

	// a late success for a failed payment does not resurrect the order
	f.webhook(payments.WebhookEvent{ID: "evt_late", Type: payments.EventIntentSucceeded, IntentID: order.PaymentIntentID})
	result, err := f.svc.HandleWebhook(context.Background(), WebhookCommand{Payload: []byte(`{}`)})
	require.NoError(t, err)
	require.False(t, result.Applied)
	require.Equal(t, 10, f.store.Stock("P1"))
}

func TestPaymentReconciler_ConfirmLeavesProcessingIntentPending(t *testing.T) {
	f := newReconcilerFixture(t)
	order := pendingOrder(f.store, "SF-5", "user-1")
	f.gateway.retrieveIntentFunc = func(_ context.Context, intentID string) (payments.Intent, error) {
		return payments.Intent{ID: intentID, Status: payments.IntentStatusProcessing}, nil
	}

	updated, err := f.svc.Confirm(context.Background(), ConfirmPaymentCommand{UserID: "user-1", IntentID: order.PaymentIntentID})
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusPending, updated.PaymentStatus)
	require.Empty(t, f.notifier.events())
}

func TestPaymentReconciler_ConfirmGatewayTimeout(t *testing.T) {
	f := newReconcilerFixture(t)
	order := pendingOrder(f.store, "SF-6", "user-1")
	f.gateway.retrieveIntentFunc = func(context.Context, string) (payments.Intent, error) {
		return payments.Intent{}, context.DeadlineExceeded
	}

	_, err := f.svc.Confirm(context.Background(), ConfirmPaymentCommand{UserID: "user-1", IntentID: order.PaymentIntentID})
	require.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestPaymentReconciler_WebhookRejectsInvalidSignature(t *testing.T) {
	f := newReconcilerFixture(t)
	pendingOrder(f.store, "SF-7", "user-1")

	_, err := f.svc.HandleWebhook(context.Background(), WebhookCommand{Payload: []byte(`{}`), Signature: "forged"})
	require.ErrorIs(t, err, ErrInvalidSignature)
	require.Equal(t, KindValidation, Classify(err))
	require.Empty(t, f.archiver.archived)
	require.Equal(t, 10, f.store.Stock("P1"))
}

func TestPaymentReconciler_WebhookAcknowledgesUnknownIntent(t *testing.T) {
	f := newReconcilerFixture(t)
	f.webhook(payments.WebhookEvent{ID: "evt_x", Type: payments.EventIntentSucceeded, IntentID: "pi_unknown"})

	result, err := f.svc.HandleWebhook(context.Background(), WebhookCommand{Payload: []byte(`{}`)})
	require.NoError(t, err)
	require.True(t, result.Ignored)
	require.Contains(t, f.logged, "webhook.unknown_intent")
}

func TestPaymentReconciler_WebhookIgnoresUnsupportedTypes(t *testing.T) {
	f := newReconcilerFixture(t)
	f.webhook(payments.WebhookEvent{ID: "evt_c", Type: "customer.created"})

	result, err := f.svc.HandleWebhook(context.Background(), WebhookCommand{Payload: []byte(`{}`)})
	require.NoError(t, err)
	require.True(t, result.Ignored)
	require.Equal(t, "customer.created", result.EventType)
}

func TestPaymentReconciler_WebhookRecordsDispute(t *testing.T) {
	f := newReconcilerFixture(t)
	order := paidOrder(f.store, "SF-8", "user-1", fixtureNow.Add(-24*time.Hour))
	event := payments.WebhookEvent{
		ID:       "evt_d",
		Type:     payments.EventDisputeCreated,
		IntentID: order.PaymentIntentID,
		Dispute:  &payments.Dispute{ID: "dp_1", Reason: "fraudulent", Amount: 10800},
	}
	f.webhook(event)

	result, err := f.svc.HandleWebhook(context.Background(), WebhookCommand{Payload: []byte(`{}`)})
	require.NoError(t, err)
	require.True(t, result.Applied)

	stored, err := f.reg.Orders().FindByNumber(context.Background(), "SF-8")
	require.NoError(t, err)
	require.NotNil(t, stored.Dispute)
	require.Equal(t, "dp_1", stored.Dispute.ID)
	require.Equal(t, domain.PaymentStatusPaid, stored.PaymentStatus)
	require.Contains(t, f.logged, "payment.dispute_opened")

	again, err := f.svc.HandleWebhook(context.Background(), WebhookCommand{Payload: []byte(`{}`)})
	require.NoError(t, err)
	require.False(t, again.Applied)
}

func TestPaymentReconciler_ArchiveFailureDoesNotBlock(t *testing.T) {
	f := newReconcilerFixture(t)
	order := pendingOrder(f.store, "SF-9", "user-1")
	f.archiver.err = errors.New("bucket unavailable")
	f.webhook(payments.WebhookEvent{ID: "evt_9", Type: payments.EventIntentSucceeded, IntentID: order.PaymentIntentID})

	result, err := f.svc.HandleWebhook(context.Background(), WebhookCommand{Payload: []byte(`{}`)})
	require.NoError(t, err)
	require.True(t, result.Applied)
	require.Contains(t, f.logged, "webhook.archive_failed")
}

func TestPaymentReconciler_SyncBackordersWhenStockRanOut(t *testing.T) {
	f := newReconcilerFixture(t)
	order := pendingOrder(f.store, "SF-10", "user-1", domain.OrderLine{ProductID: "P2", UnitPrice: 2500, Quantity: 5, TotalPrice: 12500})

	updated, err := f.svc.Sync(context.Background(), order.PaymentIntentID)
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusPaid, updated.PaymentStatus)
	require.Equal(t, 0, f.store.Stock("P2"))
	require.Equal(t, []domain.StockAdjustment{{ProductID: "P2", Quantity: 2}}, updated.Backorders)
	require.Contains(t, f.logged, "stock.backordered")
}
