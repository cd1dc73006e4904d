package services

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/repositories"
)

const meterName = "github.com/hanko-field/storefront/internal/services"

// OrderNotification is the fire-and-forget message emitted after a committed lifecycle transition.
type OrderNotification struct {
	Event         string    `json:"event"`
	OrderID       string    `json:"orderId"`
	OrderNumber   string    `json:"orderNumber"`
	UserID        string    `json:"userId,omitempty"`
	Email         string    `json:"email,omitempty"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"paymentStatus"`
	RefundID      string    `json:"refundId,omitempty"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	DisplayAmount string    `json:"displayAmount"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// NotificationPublisher delivers order notifications to downstream consumers.
type NotificationPublisher interface {
	PublishOrderEvent(ctx context.Context, message OrderNotification) (string, error)
}

var notificationEvents = map[domain.EventKind]string{
	domain.EventPaymentSucceeded: "order.paid",
	domain.EventPaymentFailed:    "order.payment_failed",
	domain.EventDisputeOpened:    "order.disputed",
	domain.EventRefundSucceeded:  "refund.succeeded",
	domain.EventRefundFailed:     "refund.failed",
	domain.EventOrderCanceled:    "order.canceled",
}

// lifecycleRunner wraps LifecycleRepository.Apply with metrics, logging and notifications.
type lifecycleRunner struct {
	repo        repositories.LifecycleRepository
	notifier    NotificationPublisher
	logger      Logger
	transitions metric.Int64Counter
}

func newLifecycleRunner(repo repositories.LifecycleRepository, notifier NotificationPublisher, meter metric.Meter, logger Logger) *lifecycleRunner {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	counter, err := meter.Int64Counter(
		"storefront.lifecycle.transitions",
		metric.WithDescription("Lifecycle events applied to orders, by event kind and outcome"),
	)
	if err != nil {
		logger(context.Background(), "lifecycle.metric_unavailable", map[string]any{"error": err.Error()})
	}
	return &lifecycleRunner{repo: repo, notifier: notifier, logger: logger, transitions: counter}
}

func (r *lifecycleRunner) apply(ctx context.Context, source string, target repositories.LifecycleTarget, build repositories.LifecycleEventBuilder) (repositories.LifecycleResult, error) {
	var kind domain.EventKind
	result, err := r.repo.Apply(ctx, target, func(order domain.Order, refund *domain.Refund) (domain.LifecycleEvent, error) {
		event, err := build(order, refund)
		kind = event.Kind
		return event, err
	})
	if err != nil {
		r.record(ctx, source, kind, "error")
		return repositories.LifecycleResult{}, err
	}
	if !result.Transition.Applied {
		if result.Transition.NeedsReview {
			r.record(ctx, source, kind, "needs_review")
			order := result.Transition.Order
			r.logger(ctx, "payment.captured_on_closed_order", map[string]any{
				"source":        source,
				"event":         string(kind),
				"orderNumber":   order.OrderNumber,
				"paymentIntent": target.IntentID,
				"status":        string(order.Status),
				"paymentStatus": string(order.PaymentStatus),
				"amount":        order.Totals.Total,
				"review":        "manual",
			})
			return result, nil
		}
		r.record(ctx, source, kind, "noop")
		return result, nil
	}
	r.record(ctx, source, kind, "applied")

	order := result.Transition.Order
	if len(result.Backorders) > 0 {
		r.logger(ctx, "stock.backordered", map[string]any{
			"orderNumber": order.OrderNumber,
			"backorders":  result.Backorders,
		})
	}
	r.logger(ctx, "lifecycle.applied", map[string]any{
		"source":        source,
		"event":         string(kind),
		"orderNumber":   order.OrderNumber,
		"status":        string(order.Status),
		"paymentStatus": string(order.PaymentStatus),
	})
	r.notify(ctx, kind, order, result.Refund)
	return result, nil
}

func (r *lifecycleRunner) record(ctx context.Context, source string, kind domain.EventKind, outcome string) {
	if r.transitions == nil {
		return
	}
	r.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("event", string(kind)),
		attribute.String("outcome", outcome),
	))
}

func (r *lifecycleRunner) notify(ctx context.Context, kind domain.EventKind, order domain.Order, refund *domain.Refund) {
	if r.notifier == nil {
		return
	}
	name, ok := notificationEvents[kind]
	if !ok {
		return
	}
	message := OrderNotification{
		Event:         name,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		Email:         order.Email,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Amount:        order.Totals.Total,
		Currency:      order.Totals.Currency,
		Reason:        order.PaymentFailureReason,
		OccurredAt:    order.UpdatedAt,
	}
	if refund != nil {
		message.RefundID = refund.ID
		message.Amount = refund.Amount
		message.Reason = refund.FailureReason
		message.OccurredAt = refund.UpdatedAt
	}
	message.DisplayAmount = FormatAmount(message.Amount, message.Currency)
	if _, err := r.notifier.PublishOrderEvent(ctx, message); err != nil {
		r.logger(ctx, "notification.publish_failed", map[string]any{
			"event":       name,
			"orderNumber": order.OrderNumber,
			"error":       err.Error(),
		})
	}
}
