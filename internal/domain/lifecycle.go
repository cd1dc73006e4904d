package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrInvalidTransition indicates the event cannot be applied to the order's current state.
var ErrInvalidTransition = errors.New("lifecycle: invalid transition")

// EventKind names an outcome applied to an order.
type EventKind string

const (
	EventPaymentSucceeded EventKind = "payment.succeeded"
	EventPaymentFailed    EventKind = "payment.failed"
	EventDisputeOpened    EventKind = "dispute.opened"
	EventRefundSucceeded  EventKind = "refund.succeeded"
	EventRefundFailed     EventKind = "refund.failed"
	EventOrderCanceled    EventKind = "order.canceled"
)

// LifecycleEvent carries the data needed to apply an outcome.
type LifecycleEvent struct {
	Kind            EventKind
	At              time.Time
	Reason          string
	ReceiptURL      string
	Dispute         *OrderDispute
	Refund          *Refund
	GatewayRefundID string
	ActorID         string
}

// EffectKind names a side effect that must be written in the same atomic unit as the order.
type EffectKind string

const (
	EffectDecrementStock EffectKind = "stock.decrement"
	EffectIncrementStock EffectKind = "stock.increment"
	EffectClearCart      EffectKind = "cart.clear"
	EffectMarkPayment    EffectKind = "payment.mark"
	EffectSettleRefund   EffectKind = "refund.settle"
)

// Effect is an instruction for the persistence layer.
type Effect struct {
	Kind          EffectKind
	Stock         []StockAdjustment
	Cart          CartOwner
	PaymentStatus PaymentRecordStatus
	Reason        string
	ReceiptURL    string
	Refund        *Refund
}

// Transition is the outcome of applying an event. When Applied is false the
// order is returned unchanged and Effects is empty. NeedsReview marks an event
// that could not be applied but leaves money unaccounted for, such as a capture
// on an order whose payment already failed or was cancelled.
type Transition struct {
	Applied     bool
	NeedsReview bool
	Order       Order
	Effects     []Effect
}

func noop(order Order) Transition {
	return Transition{Order: order}
}

// ApplyPaymentEvent computes the next order state and the effects to persist.
// It performs no I/O, so callers can run it inside a storage transaction and
// retry it freely. Events that were already applied yield a no-op.
func ApplyPaymentEvent(order Order, event LifecycleEvent) (Transition, error) {
	at := event.At.UTC()
	if event.At.IsZero() {
		at = time.Now().UTC()
	}

	switch event.Kind {
	case EventPaymentSucceeded:
		if order.PaymentStatus == PaymentStatusFailed {
			return Transition{Order: order, NeedsReview: true}, nil
		}
		if order.PaymentStatus != PaymentStatusPending {
			return noop(order), nil
		}
		next := order
		next.PaymentStatus = PaymentStatusPaid
		next.Status = OrderStatusProcessing
		next.PaymentFailureReason = ""
		next.PaidAt = &at
		next.UpdatedAt = at
		effects := []Effect{
			{Kind: EffectMarkPayment, PaymentStatus: PaymentRecordSucceeded, ReceiptURL: event.ReceiptURL},
			{Kind: EffectDecrementStock, Stock: lineAdjustments(order.Lines)},
		}
		if order.UserID != "" {
			effects = append(effects, Effect{Kind: EffectClearCart, Cart: UserOwner(order.UserID)})
		}
		return Transition{Applied: true, Order: next, Effects: effects}, nil

	case EventPaymentFailed:
		if order.PaymentStatus != PaymentStatusPending {
			return noop(order), nil
		}
		next := order
		next.PaymentStatus = PaymentStatusFailed
		next.PaymentFailureReason = strings.TrimSpace(event.Reason)
		next.UpdatedAt = at
		return Transition{Applied: true, Order: next, Effects: []Effect{
			{Kind: EffectMarkPayment, PaymentStatus: PaymentRecordFailed, Reason: next.PaymentFailureReason},
		}}, nil

	case EventDisputeOpened:
		if event.Dispute == nil || strings.TrimSpace(event.Dispute.ID) == "" {
			return Transition{}, fmt.Errorf("%w: dispute details are required", ErrInvalidTransition)
		}
		if order.Dispute != nil && order.Dispute.ID == event.Dispute.ID {
			return noop(order), nil
		}
		next := order
		dispute := *event.Dispute
		if dispute.OpenedAt.IsZero() {
			dispute.OpenedAt = at
		}
		next.Dispute = &dispute
		next.UpdatedAt = at
		return Transition{Applied: true, Order: next}, nil

	case EventRefundSucceeded:
		return applyRefundSucceeded(order, event, at)

	case EventRefundFailed:
		refund, err := refundForOrder(order, event)
		if err != nil {
			return Transition{}, err
		}
		if refund.Status != RefundStatusPending {
			return noop(order), nil
		}
		refund.Status = RefundStatusFailed
		refund.FailureReason = strings.TrimSpace(event.Reason)
		refund.ProcessedBy = event.ActorID
		refund.ProcessedAt = &at
		refund.UpdatedAt = at
		return Transition{Applied: true, Order: order, Effects: []Effect{
			{Kind: EffectSettleRefund, Refund: &refund},
		}}, nil

	case EventOrderCanceled:
		if order.Status == OrderStatusCancelled {
			return noop(order), nil
		}
		if order.PaymentStatus != PaymentStatusPending || !CanTransitionOrder(order.Status, OrderStatusCancelled) {
			return Transition{}, fmt.Errorf("%w: order %s cannot be cancelled from %s/%s", ErrInvalidTransition, order.OrderNumber, order.Status, order.PaymentStatus)
		}
		next := order
		next.Status = OrderStatusCancelled
		next.PaymentStatus = PaymentStatusFailed
		next.PaymentFailureReason = "canceled"
		next.CanceledAt = &at
		next.UpdatedAt = at
		effects := []Effect{}
		if order.PaymentIntentID != "" {
			effects = append(effects, Effect{Kind: EffectMarkPayment, PaymentStatus: PaymentRecordCanceled, Reason: "canceled"})
		}
		return Transition{Applied: true, Order: next, Effects: effects}, nil
	}

	return Transition{}, fmt.Errorf("%w: unsupported event %q", ErrInvalidTransition, event.Kind)
}

func applyRefundSucceeded(order Order, event LifecycleEvent, at time.Time) (Transition, error) {
	refund, err := refundForOrder(order, event)
	if err != nil {
		return Transition{}, err
	}
	if refund.Status != RefundStatusPending {
		return noop(order), nil
	}

	target := PaymentStatusRefunded
	if refund.Type == RefundTypePartial {
		target = PaymentStatusPartiallyRefunded
	}
	if !CanTransitionPayment(order.PaymentStatus, target) {
		return Transition{}, fmt.Errorf("%w: payment status %s cannot become %s", ErrInvalidTransition, order.PaymentStatus, target)
	}

	next := order
	next.PaymentStatus = target
	next.UpdatedAt = at
	if target == PaymentStatusRefunded {
		next.RefundedAt = &at
		if CanTransitionOrder(order.Status, OrderStatusRefunded) {
			next.Status = OrderStatusRefunded
		}
	}

	refund.Status = RefundStatusSucceeded
	refund.GatewayRefundID = strings.TrimSpace(event.GatewayRefundID)
	refund.FailureReason = ""
	refund.ProcessedBy = event.ActorID
	refund.ProcessedAt = &at
	refund.UpdatedAt = at

	effects := []Effect{{Kind: EffectSettleRefund, Refund: &refund}}
	if restock := RestockFor(order, refund); len(restock) > 0 {
		effects = append(effects, Effect{Kind: EffectIncrementStock, Stock: restock})
	}
	return Transition{Applied: true, Order: next, Effects: effects}, nil
}

func refundForOrder(order Order, event LifecycleEvent) (Refund, error) {
	if event.Refund == nil {
		return Refund{}, fmt.Errorf("%w: refund is required", ErrInvalidTransition)
	}
	refund := *event.Refund
	if refund.OrderNumber != order.OrderNumber {
		return Refund{}, fmt.Errorf("%w: refund %s belongs to order %s", ErrInvalidTransition, refund.ID, refund.OrderNumber)
	}
	return refund, nil
}

// RestockFor returns the stock to restore when the refund succeeds. A full
// refund covers every order line; a partial refund covers only its listed items.
func RestockFor(order Order, refund Refund) []StockAdjustment {
	if refund.Type == RefundTypeFull {
		return lineAdjustments(order.Lines)
	}
	qty := make(map[string]int)
	for _, item := range refund.Items {
		if item.Quantity > 0 {
			qty[item.ProductID] += item.Quantity
		}
	}
	return sortedAdjustments(qty)
}

func lineAdjustments(lines []OrderLine) []StockAdjustment {
	qty := make(map[string]int)
	for _, line := range lines {
		if line.Quantity > 0 {
			qty[line.ProductID] += line.Quantity
		}
	}
	return sortedAdjustments(qty)
}

func sortedAdjustments(qty map[string]int) []StockAdjustment {
	if len(qty) == 0 {
		return nil
	}
	out := make([]StockAdjustment, 0, len(qty))
	for id, n := range qty {
		out = append(out, StockAdjustment{ProductID: id, Quantity: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}
