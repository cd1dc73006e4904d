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

const sourceCancel = "cancel"

type intentCanceler interface {
	CancelIntent(ctx context.Context, intentID string) (payments.Intent, error)
}

// OrderServiceDeps wires collaborators for order reads and status changes.
type OrderServiceDeps struct {
	Orders    repositories.OrderRepository
	Lifecycle repositories.LifecycleRepository
	Gateway   intentCanceler
	Notifier  NotificationPublisher
	Meter     metric.Meter
	Clock     func() time.Time
	Logger    Logger
}

type orderService struct {
	orders  repositories.OrderRepository
	gateway intentCanceler
	runner  *lifecycleRunner
	now     func() time.Time
	logger  Logger
}

// NewOrderService constructs the order service.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Lifecycle == nil {
		return nil, errors.New("order service: lifecycle repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("order service: payment gateway is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderService{
		orders:  deps.Orders,
		gateway: deps.Gateway,
		runner:  newLifecycleRunner(deps.Lifecycle, deps.Notifier, deps.Meter, logger),
		now:     func() time.Time { return clock().UTC() },
		logger:  logger,
	}, nil
}

// ListOrders returns the user's orders newest first.
func (s *orderService) ListOrders(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Order], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	page, err := s.orders.ListByUser(ctx, userID, pager)
	if err != nil {
		return domain.CursorPage[Order]{}, translateRepoError(err)
	}
	return page, nil
}

// GetOrder returns the order when it belongs to the user; otherwise not found.
func (s *orderService) GetOrder(ctx context.Context, userID string, orderNumber string) (Order, error) {
	userID = strings.TrimSpace(userID)
	orderNumber = strings.TrimSpace(orderNumber)
	if userID == "" || orderNumber == "" {
		return Order{}, fmt.Errorf("%w: user id and order number are required", ErrInvalidInput)
	}
	order, err := s.orders.FindByNumber(ctx, orderNumber)
	if err != nil {
		return Order{}, translateRepoError(err)
	}
	if !order.OwnedBy(userID) {
		return Order{}, fmt.Errorf("%w: order %s", ErrNotFound, orderNumber)
	}
	return order, nil
}

// CancelOrder abandons an unpaid order and cancels its gateway intent.
func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	order, err := s.GetOrder(ctx, cmd.UserID, cmd.OrderNumber)
	if err != nil {
		return Order{}, err
	}
	if err := cancellable(order); err != nil {
		return Order{}, err
	}

	if intentID := strings.TrimSpace(order.PaymentIntentID); intentID != "" {
		if _, err := s.gateway.CancelIntent(ctx, intentID); err != nil {
			s.logger(ctx, "order.cancel_intent_failed", map[string]any{
				"orderNumber":   order.OrderNumber,
				"paymentIntent": intentID,
				"error":         err.Error(),
			})
			return Order{}, translateGatewayError(err)
		}
	}

	result, err := s.runner.apply(ctx, sourceCancel, repositories.LifecycleTarget{OrderNumber: order.OrderNumber}, func(current domain.Order, _ *domain.Refund) (domain.LifecycleEvent, error) {
		if current.Status != domain.OrderStatusCancelled {
			if err := cancellable(current); err != nil {
				return domain.LifecycleEvent{}, err
			}
		}
		return domain.LifecycleEvent{Kind: domain.EventOrderCanceled, At: s.now(), ActorID: strings.TrimSpace(cmd.UserID)}, nil
	})
	if err != nil {
		return Order{}, translateRepoError(err)
	}
	return result.Transition.Order, nil
}

// UpdateOrderStatus applies an admin fulfillment transition (shipped or delivered).
func (s *orderService) UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error) {
	orderNumber := strings.TrimSpace(cmd.OrderNumber)
	if orderNumber == "" || strings.TrimSpace(cmd.ActorID) == "" {
		return Order{}, fmt.Errorf("%w: order number and actor are required", ErrInvalidInput)
	}
	switch cmd.TargetStatus {
	case domain.OrderStatusShipped, domain.OrderStatusDelivered:
	default:
		return Order{}, fmt.Errorf("%w: status %q cannot be set directly", ErrInvalidInput, cmd.TargetStatus)
	}
	order, err := s.orders.UpdateStatus(ctx, repositories.OrderStatusUpdate{
		OrderNumber: orderNumber,
		Target:      cmd.TargetStatus,
		Expected:    cmd.ExpectedStatus,
		At:          s.now(),
	})
	if err != nil {
		return Order{}, translateRepoError(err)
	}
	s.logger(ctx, "order.status_updated", map[string]any{
		"orderNumber": order.OrderNumber,
		"status":      string(order.Status),
		"actorID":     cmd.ActorID,
	})
	return order, nil
}

func cancellable(order domain.Order) error {
	if order.Dispute != nil {
		return fmt.Errorf("%w: order %s has dispute %s", ErrOrderDisputed, order.OrderNumber, order.Dispute.ID)
	}
	if order.Status != domain.OrderStatusPending || order.PaymentStatus != domain.PaymentStatusPending {
		return fmt.Errorf("%w: order %s is %s/%s", ErrStateConflict, order.OrderNumber, order.Status, order.PaymentStatus)
	}
	return nil
}
