package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/repositories"
)

const (
	sourceConfirm = "confirm"
	sourceWebhook = "webhook"
	sourceSync    = "sync"
)

type intentReader interface {
	RetrieveIntent(ctx context.Context, intentID string) (payments.Intent, error)
	ParseWebhook(payload []byte, signature string) (payments.WebhookEvent, error)
}

// WebhookArchiver stores verified webhook payloads for manual reconciliation.
type WebhookArchiver interface {
	ArchiveWebhook(ctx context.Context, event payments.WebhookEvent, payload []byte) error
}

// PaymentReconcilerDeps wires collaborators for the payment reconciler.
type PaymentReconcilerDeps struct {
	Orders    repositories.OrderRepository
	Lifecycle repositories.LifecycleRepository
	Gateway   intentReader
	Archiver  WebhookArchiver
	Notifier  NotificationPublisher
	Meter     metric.Meter
	Clock     func() time.Time
	Logger    Logger
}

type paymentReconciler struct {
	orders   repositories.OrderRepository
	gateway  intentReader
	archiver WebhookArchiver
	runner   *lifecycleRunner
	now      func() time.Time
	logger   Logger
}

// NewPaymentReconciler constructs the reconciler shared by client confirmation, webhooks and ops sync.
func NewPaymentReconciler(deps PaymentReconcilerDeps) (PaymentReconciler, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment reconciler: order repository is required")
	}
	if deps.Lifecycle == nil {
		return nil, errors.New("payment reconciler: lifecycle repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment reconciler: payment gateway is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &paymentReconciler{
		orders:   deps.Orders,
		gateway:  deps.Gateway,
		archiver: deps.Archiver,
		runner:   newLifecycleRunner(deps.Lifecycle, deps.Notifier, deps.Meter, logger),
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

// Confirm re-reads the intent from the gateway and applies its outcome to the caller's order.
func (r *paymentReconciler) Confirm(ctx context.Context, cmd ConfirmPaymentCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	intentID := strings.TrimSpace(cmd.IntentID)
	if userID == "" || intentID == "" {
		return Order{}, fmt.Errorf("%w: user id and intent id are required", ErrInvalidInput)
	}
	order, err := r.orderForIntent(ctx, intentID)
	if err != nil {
		return Order{}, err
	}
	if !order.OwnedBy(userID) {
		return Order{}, fmt.Errorf("%w: payment intent %s", ErrNotFound, intentID)
	}
	return r.reconcile(ctx, sourceConfirm, intentID, order)
}

// Sync applies the gateway's current view of an intent without owner scoping.
func (r *paymentReconciler) Sync(ctx context.Context, intentID string) (Order, error) {
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return Order{}, fmt.Errorf("%w: intent id is required", ErrInvalidInput)
	}
	order, err := r.orderForIntent(ctx, intentID)
	if err != nil {
		return Order{}, err
	}
	return r.reconcile(ctx, sourceSync, intentID, order)
}

func (r *paymentReconciler) reconcile(ctx context.Context, source, intentID string, current Order) (Order, error) {
	intent, err := r.gateway.RetrieveIntent(ctx, intentID)
	if err != nil {
		r.logger(ctx, "payment.retrieve_failed", map[string]any{
			"paymentIntent": intentID,
			"orderNumber":   current.OrderNumber,
			"error":         err.Error(),
		})
		return Order{}, translateGatewayError(err)
	}
	event, ok := eventForIntent(intent, r.now())
	if !ok {
		return current, nil
	}
	result, err := r.runner.apply(ctx, source, repositories.LifecycleTarget{IntentID: intentID}, func(domain.Order, *domain.Refund) (domain.LifecycleEvent, error) {
		return event, nil
	})
	if err != nil {
		return Order{}, translateRepoError(err)
	}
	return result.Transition.Order, nil
}

// HandleWebhook verifies and applies a gateway notification. Unsupported event
// types and unknown intents are acknowledged without changes.
func (r *paymentReconciler) HandleWebhook(ctx context.Context, cmd WebhookCommand) (WebhookResult, error) {
	event, err := r.gateway.ParseWebhook(cmd.Payload, cmd.Signature)
	if err != nil {
		r.logger(ctx, "webhook.rejected", map[string]any{"error": err.Error()})
		if errors.Is(err, payments.ErrInvalidSignature) {
			return WebhookResult{}, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
		}
		return WebhookResult{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	result := WebhookResult{EventID: event.ID, EventType: event.Type}
	r.archive(ctx, event, cmd.Payload)

	if !event.Supported() || strings.TrimSpace(event.IntentID) == "" {
		r.logger(ctx, "webhook.ignored", map[string]any{
			"eventID":   event.ID,
			"eventType": event.Type,
		})
		result.Ignored = true
		return result, nil
	}

	lifecycleEvent, err := webhookLifecycleEvent(event, r.now())
	if err != nil {
		return WebhookResult{}, err
	}
	applied, err := r.runner.apply(ctx, sourceWebhook, repositories.LifecycleTarget{IntentID: event.IntentID}, func(domain.Order, *domain.Refund) (domain.LifecycleEvent, error) {
		return lifecycleEvent, nil
	})
	if err != nil {
		if isRepoNotFound(err) {
			r.logger(ctx, "webhook.unknown_intent", map[string]any{
				"eventID":       event.ID,
				"eventType":     event.Type,
				"paymentIntent": event.IntentID,
			})
			result.Ignored = true
			return result, nil
		}
		r.logger(ctx, "webhook.apply_failed", map[string]any{
			"eventID":       event.ID,
			"eventType":     event.Type,
			"paymentIntent": event.IntentID,
			"error":         err.Error(),
		})
		return WebhookResult{}, translateRepoError(err)
	}

	order := applied.Transition.Order
	result.OrderNumber = order.OrderNumber
	result.Applied = applied.Transition.Applied
	result.NeedsReview = applied.Transition.NeedsReview
	if event.Type == payments.EventDisputeCreated && order.Dispute != nil {
		r.logger(ctx, "payment.dispute_opened", map[string]any{
			"orderNumber":   order.OrderNumber,
			"paymentIntent": event.IntentID,
			"disputeID":     order.Dispute.ID,
			"reason":        order.Dispute.Reason,
			"amount":        order.Dispute.Amount,
			"review":        "manual",
		})
	}
	return result, nil
}

func (r *paymentReconciler) orderForIntent(ctx context.Context, intentID string) (Order, error) {
	payment, err := r.orders.FindPayment(ctx, intentID)
	if err != nil {
		return Order{}, translateRepoError(err)
	}
	order, err := r.orders.FindByID(ctx, payment.OrderID)
	if err != nil {
		return Order{}, translateRepoError(err)
	}
	return order, nil
}

func (r *paymentReconciler) archive(ctx context.Context, event payments.WebhookEvent, payload []byte) {
	if r.archiver == nil {
		return
	}
	if err := r.archiver.ArchiveWebhook(ctx, event, payload); err != nil {
		r.logger(ctx, "webhook.archive_failed", map[string]any{
			"eventID": event.ID,
			"error":   err.Error(),
		})
	}
}

// eventForIntent maps a terminal gateway status onto a lifecycle event.
func eventForIntent(intent payments.Intent, now time.Time) (domain.LifecycleEvent, bool) {
	switch intent.Status {
	case payments.IntentStatusSucceeded:
		return domain.LifecycleEvent{Kind: domain.EventPaymentSucceeded, At: now, ReceiptURL: intent.ReceiptURL}, true
	case payments.IntentStatusFailed:
		return domain.LifecycleEvent{Kind: domain.EventPaymentFailed, At: now, Reason: failureReason(intent.FailureMessage, "payment failed")}, true
	case payments.IntentStatusCanceled:
		return domain.LifecycleEvent{Kind: domain.EventPaymentFailed, At: now, Reason: failureReason(intent.FailureMessage, "payment canceled")}, true
	}
	return domain.LifecycleEvent{}, false
}

func webhookLifecycleEvent(event payments.WebhookEvent, now time.Time) (domain.LifecycleEvent, error) {
	at := event.CreatedAt
	if at.IsZero() {
		at = now
	}
	switch event.Type {
	case payments.EventIntentSucceeded:
		return domain.LifecycleEvent{Kind: domain.EventPaymentSucceeded, At: at, ReceiptURL: event.ReceiptURL}, nil
	case payments.EventIntentFailed:
		return domain.LifecycleEvent{Kind: domain.EventPaymentFailed, At: at, Reason: failureReason(event.FailureMessage, "payment failed")}, nil
	case payments.EventDisputeCreated:
		if event.Dispute == nil {
			return domain.LifecycleEvent{}, fmt.Errorf("%w: dispute event %s has no dispute", ErrInvalidInput, event.ID)
		}
		return domain.LifecycleEvent{
			Kind: domain.EventDisputeOpened,
			At:   at,
			Dispute: &domain.OrderDispute{
				ID:       event.Dispute.ID,
				Reason:   event.Dispute.Reason,
				Amount:   event.Dispute.Amount,
				OpenedAt: event.Dispute.OpenedAt,
			},
		}, nil
	}
	return domain.LifecycleEvent{}, fmt.Errorf("%w: unsupported event %s", ErrInvalidInput, event.Type)
}

func failureReason(message, fallback string) string {
	if msg := strings.TrimSpace(message); msg != "" {
		return msg
	}
	return fallback
}
