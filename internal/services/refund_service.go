package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/repositories"
)

const (
	defaultRefundWindow   = 30 * 24 * time.Hour
	maxRefundDescription  = 1000
	sourceRefundAdmin     = "refund_admin"
	refundRejectedByAdmin = "rejected by admin"
)

type refundCreator interface {
	CreateRefund(ctx context.Context, req payments.RefundRequest) (payments.RefundResult, error)
}

// RefundServiceDeps wires collaborators for refund processing.
type RefundServiceDeps struct {
	Orders      repositories.OrderRepository
	Refunds     repositories.RefundRepository
	Lifecycle   repositories.LifecycleRepository
	Gateway     refundCreator
	Notifier    NotificationPublisher
	Meter       metric.Meter
	Window      time.Duration
	Clock       func() time.Time
	IDGenerator func() string
	Logger      Logger
}

type refundService struct {
	orders    repositories.OrderRepository
	refunds   repositories.RefundRepository
	gateway   refundCreator
	runner    *lifecycleRunner
	window    time.Duration
	now       func() time.Time
	newID     func() string
	sanitizer *bluemonday.Policy
	logger    Logger
}

// NewRefundService constructs the refund processor.
func NewRefundService(deps RefundServiceDeps) (RefundService, error) {
	if deps.Orders == nil {
		return nil, errors.New("refund service: order repository is required")
	}
	if deps.Refunds == nil {
		return nil, errors.New("refund service: refund repository is required")
	}
	if deps.Lifecycle == nil {
		return nil, errors.New("refund service: lifecycle repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("refund service: payment gateway is required")
	}
	window := deps.Window
	if window <= 0 {
		window = defaultRefundWindow
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &refundService{
		orders:    deps.Orders,
		refunds:   deps.Refunds,
		gateway:   deps.Gateway,
		runner:    newLifecycleRunner(deps.Lifecycle, deps.Notifier, deps.Meter, logger),
		window:    window,
		now:       func() time.Time { return clock().UTC() },
		newID:     newID,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger,
	}, nil
}

// RequestRefund records a customer's pending refund request. The gateway is not called.
func (s *refundService) RequestRefund(ctx context.Context, cmd RequestRefundCommand) (Refund, error) {
	userID := strings.TrimSpace(cmd.UserID)
	orderNumber := strings.TrimSpace(cmd.OrderNumber)
	if userID == "" || orderNumber == "" {
		return Refund{}, fmt.Errorf("%w: user id and order number are required", ErrInvalidInput)
	}
	reason, err := parseRefundReason(cmd.Reason)
	if err != nil {
		return Refund{}, err
	}
	description, err := s.sanitizeDescription(cmd.Description)
	if err != nil {
		return Refund{}, err
	}

	order, err := s.orders.FindByNumber(ctx, orderNumber)
	if err != nil {
		return Refund{}, translateRepoError(err)
	}
	if !order.OwnedBy(userID) {
		return Refund{}, fmt.Errorf("%w: order %s", ErrNotFound, orderNumber)
	}

	amount := order.Totals.Total
	if cmd.Amount != nil {
		amount = *cmd.Amount
	}
	refund, err := s.newRefund(order, amount, cmd.Items, reason, description, userID)
	if err != nil {
		return Refund{}, err
	}

	now := s.now()
	guard := func(current domain.Order) error {
		if err := s.checkEligible(current); err != nil {
			return err
		}
		if reason == domain.RefundReasonRequestedByCustomer && now.Sub(current.CreatedAt) > s.window {
			return fmt.Errorf("%w: order %s is older than %s", ErrRefundWindowExpired, current.OrderNumber, s.window)
		}
		return nil
	}
	if err := guard(order); err != nil {
		return Refund{}, err
	}

	created, err := s.refunds.InsertPending(ctx, refund, guard)
	if err != nil {
		return Refund{}, translateRepoError(err)
	}
	s.logger(ctx, "refund.requested", map[string]any{
		"refundID":    created.ID,
		"orderNumber": created.OrderNumber,
		"amount":      created.Amount,
		"type":        string(created.Type),
		"reason":      string(created.Reason),
	})
	return created, nil
}

// ProcessRefund approves or rejects a pending refund.
func (s *refundService) ProcessRefund(ctx context.Context, cmd ProcessRefundCommand) (Refund, error) {
	refundID := strings.TrimSpace(cmd.RefundID)
	actorID := strings.TrimSpace(cmd.ActorID)
	if refundID == "" || actorID == "" {
		return Refund{}, fmt.Errorf("%w: refund id and actor are required", ErrInvalidInput)
	}
	refund, err := s.refunds.FindByID(ctx, refundID)
	if err != nil {
		return Refund{}, translateRepoError(err)
	}
	if refund.Status != domain.RefundStatusPending {
		return Refund{}, fmt.Errorf("%w: refund %s is %s", ErrStateConflict, refund.ID, refund.Status)
	}

	if !cmd.Approve {
		reason := strings.TrimSpace(s.sanitizer.Sanitize(cmd.Note))
		if reason == "" {
			reason = refundRejectedByAdmin
		}
		return s.settle(ctx, refund.ID, domain.LifecycleEvent{
			Kind:    domain.EventRefundFailed,
			At:      s.now(),
			Reason:  reason,
			ActorID: actorID,
		})
	}

	order, err := s.orders.FindByNumber(ctx, refund.OrderNumber)
	if err != nil {
		return Refund{}, translateRepoError(err)
	}
	if order.Dispute != nil {
		return Refund{}, fmt.Errorf("%w: order %s has dispute %s", ErrOrderDisputed, order.OrderNumber, order.Dispute.ID)
	}
	return s.approve(ctx, order, refund, actorID)
}

// CreatePartialRefund creates an admin refund and runs the approval immediately.
func (s *refundService) CreatePartialRefund(ctx context.Context, cmd PartialRefundCommand) (Refund, error) {
	orderNumber := strings.TrimSpace(cmd.OrderNumber)
	actorID := strings.TrimSpace(cmd.ActorID)
	if orderNumber == "" || actorID == "" {
		return Refund{}, fmt.Errorf("%w: order number and actor are required", ErrInvalidInput)
	}
	if cmd.Amount <= 0 {
		return Refund{}, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	reason := cmd.Reason
	if strings.TrimSpace(string(reason)) == "" {
		reason = domain.RefundReasonOther
	}
	reason, err := parseRefundReason(reason)
	if err != nil {
		return Refund{}, err
	}
	description, err := s.sanitizeDescription(cmd.Description)
	if err != nil {
		return Refund{}, err
	}

	order, err := s.orders.FindByNumber(ctx, orderNumber)
	if err != nil {
		return Refund{}, translateRepoError(err)
	}
	refund, err := s.newRefund(order, cmd.Amount, cmd.Items, reason, description, actorID)
	if err != nil {
		return Refund{}, err
	}
	if err := s.checkEligible(order); err != nil {
		return Refund{}, err
	}
	created, err := s.refunds.InsertPending(ctx, refund, s.checkEligible)
	if err != nil {
		return Refund{}, translateRepoError(err)
	}
	s.logger(ctx, "refund.created_by_admin", map[string]any{
		"refundID":    created.ID,
		"orderNumber": created.OrderNumber,
		"amount":      created.Amount,
		"actorID":     actorID,
	})
	return s.approve(ctx, order, created, actorID)
}

// ListOrderRefunds returns the refunds of an order owned by the user.
func (s *refundService) ListOrderRefunds(ctx context.Context, userID string, orderNumber string) ([]Refund, error) {
	userID = strings.TrimSpace(userID)
	orderNumber = strings.TrimSpace(orderNumber)
	if userID == "" || orderNumber == "" {
		return nil, fmt.Errorf("%w: user id and order number are required", ErrInvalidInput)
	}
	order, err := s.orders.FindByNumber(ctx, orderNumber)
	if err != nil {
		return nil, translateRepoError(err)
	}
	if !order.OwnedBy(userID) {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, orderNumber)
	}
	refunds, err := s.refunds.ListByOrder(ctx, order.OrderNumber)
	if err != nil {
		return nil, translateRepoError(err)
	}
	return refunds, nil
}

// ListRefunds pages refunds by status for staff review. Status defaults to pending.
func (s *refundService) ListRefunds(ctx context.Context, status RefundStatus, pager Pagination) (domain.CursorPage[Refund], error) {
	switch status {
	case "":
		status = domain.RefundStatusPending
	case domain.RefundStatusPending, domain.RefundStatusSucceeded, domain.RefundStatusFailed:
	default:
		return domain.CursorPage[Refund]{}, fmt.Errorf("%w: unknown refund status %q", ErrInvalidInput, status)
	}
	page, err := s.refunds.ListByStatus(ctx, status, pager)
	if err != nil {
		return domain.CursorPage[Refund]{}, translateRepoError(err)
	}
	return page, nil
}

// approve calls the gateway, keyed by refund id so an admin retry cannot refund twice.
// A definite rejection fails the refund; no answer leaves it pending.
func (s *refundService) approve(ctx context.Context, order Order, refund Refund, actorID string) (Refund, error) {
	if strings.TrimSpace(order.PaymentIntentID) == "" {
		return Refund{}, fmt.Errorf("%w: order %s has no payment intent", ErrStateConflict, order.OrderNumber)
	}
	result, err := s.gateway.CreateRefund(ctx, payments.RefundRequest{
		IntentID: order.PaymentIntentID,
		Amount:   refund.Amount,
		Reason:   string(refund.Reason),
		Metadata: map[string]string{
			"orderNumber": order.OrderNumber,
			"refundId":    refund.ID,
		},
		IdempotencyKey: refund.ID,
	})
	if err != nil {
		if payments.IsRetryable(err) {
			s.logger(ctx, "refund.gateway_unavailable", map[string]any{
				"refundID":      refund.ID,
				"orderNumber":   order.OrderNumber,
				"paymentIntent": order.PaymentIntentID,
				"error":         err.Error(),
			})
			return Refund{}, translateGatewayError(err)
		}
		s.logger(ctx, "refund.gateway_rejected", map[string]any{
			"refundID":      refund.ID,
			"orderNumber":   order.OrderNumber,
			"paymentIntent": order.PaymentIntentID,
			"error":         err.Error(),
		})
		failed, settleErr := s.settle(ctx, refund.ID, domain.LifecycleEvent{
			Kind:    domain.EventRefundFailed,
			At:      s.now(),
			Reason:  failureReason(gatewayMessage(err), "gateway rejected refund"),
			ActorID: actorID,
		})
		if settleErr != nil {
			return Refund{}, settleErr
		}
		return failed, translateGatewayError(err)
	}

	if result.Status == payments.RefundStatusFailed {
		failed, err := s.settle(ctx, refund.ID, domain.LifecycleEvent{
			Kind:    domain.EventRefundFailed,
			At:      s.now(),
			Reason:  failureReason(result.FailureReason, "gateway refund failed"),
			ActorID: actorID,
		})
		if err != nil {
			return Refund{}, err
		}
		return failed, fmt.Errorf("%w: refund %s failed at gateway: %s", ErrGateway, refund.ID, failed.FailureReason)
	}

	return s.settle(ctx, refund.ID, domain.LifecycleEvent{
		Kind:            domain.EventRefundSucceeded,
		At:              s.now(),
		GatewayRefundID: result.ID,
		ActorID:         actorID,
	})
}

func (s *refundService) settle(ctx context.Context, refundID string, event domain.LifecycleEvent) (Refund, error) {
	result, err := s.runner.apply(ctx, sourceRefundAdmin, repositories.LifecycleTarget{RefundID: refundID}, func(_ domain.Order, refund *domain.Refund) (domain.LifecycleEvent, error) {
		event.Refund = refund
		return event, nil
	})
	if err != nil {
		s.logger(ctx, "refund.settle_failed", map[string]any{
			"refundID": refundID,
			"event":    string(event.Kind),
			"error":    err.Error(),
		})
		return Refund{}, translateRepoError(err)
	}
	if result.Refund == nil {
		return Refund{}, fmt.Errorf("%w: refund %s", ErrNotFound, refundID)
	}
	if !result.Transition.Applied {
		return *result.Refund, fmt.Errorf("%w: refund %s is %s", ErrStateConflict, refundID, result.Refund.Status)
	}
	return *result.Refund, nil
}

// checkEligible holds for orders whose money can still be returned.
func (s *refundService) checkEligible(order domain.Order) error {
	if order.Dispute != nil {
		return fmt.Errorf("%w: order %s has dispute %s", ErrOrderDisputed, order.OrderNumber, order.Dispute.ID)
	}
	if order.PaymentStatus != domain.PaymentStatusPaid {
		return fmt.Errorf("%w: order %s payment is %s", ErrStateConflict, order.OrderNumber, order.PaymentStatus)
	}
	return nil
}

func (s *refundService) newRefund(order Order, amount int64, items []RefundItem, reason RefundReason, description, requestedBy string) (Refund, error) {
	if amount <= 0 {
		return Refund{}, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if amount > order.Totals.Total {
		return Refund{}, fmt.Errorf("%w: amount %d exceeds order total %d", ErrInvalidInput, amount, order.Totals.Total)
	}
	refundType := domain.RefundTypePartial
	if amount == order.Totals.Total {
		refundType = domain.RefundTypeFull
	}
	var covered []RefundItem
	if refundType == domain.RefundTypePartial {
		var err error
		if covered, err = validateRefundItems(order, items); err != nil {
			return Refund{}, err
		}
	}
	now := s.now()
	return Refund{
		ID:          "ref_" + s.newID(),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Amount:      amount,
		Currency:    order.Totals.Currency,
		Reason:      reason,
		Type:        refundType,
		Status:      domain.RefundStatusPending,
		Items:       covered,
		Description: description,
		RequestedBy: requestedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *refundService) sanitizeDescription(description string) (string, error) {
	clean := strings.TrimSpace(s.sanitizer.Sanitize(strings.TrimSpace(description)))
	if utf8.RuneCountInString(clean) > maxRefundDescription {
		return "", fmt.Errorf("%w: description must be at most %d characters", ErrInvalidInput, maxRefundDescription)
	}
	return clean, nil
}

// validateRefundItems merges items per product and size and checks them against the order lines.
func validateRefundItems(order Order, items []RefundItem) ([]RefundItem, error) {
	if len(items) == 0 {
		return nil, nil
	}
	type key struct{ product, size string }
	ordered := make(map[key]int)
	for _, line := range order.Lines {
		ordered[key{line.ProductID, strings.ToLower(line.Size)}] += line.Quantity
	}
	requested := make(map[key]int)
	var out []RefundItem
	for _, item := range items {
		k := key{strings.TrimSpace(item.ProductID), strings.ToLower(strings.TrimSpace(item.Size))}
		if k.product == "" || item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: refund items need a product and a positive quantity", ErrInvalidInput)
		}
		if _, ok := ordered[k]; !ok {
			return nil, fmt.Errorf("%w: product %s is not part of order %s", ErrInvalidInput, k.product, order.OrderNumber)
		}
		if _, seen := requested[k]; !seen {
			out = append(out, RefundItem{ProductID: k.product, Size: strings.TrimSpace(item.Size)})
		}
		requested[k] += item.Quantity
		if requested[k] > ordered[k] {
			return nil, fmt.Errorf("%w: refund quantity for %s exceeds ordered quantity %d", ErrInvalidInput, k.product, ordered[k])
		}
	}
	for i := range out {
		out[i].Quantity = requested[key{out[i].ProductID, strings.ToLower(out[i].Size)}]
	}
	return out, nil
}

func parseRefundReason(reason RefundReason) (RefundReason, error) {
	normalized := domain.RefundReason(strings.ToLower(strings.TrimSpace(string(reason))))
	switch normalized {
	case domain.RefundReasonRequestedByCustomer, domain.RefundReasonDuplicate, domain.RefundReasonFraudulent,
		domain.RefundReasonDefective, domain.RefundReasonOther:
		return normalized, nil
	}
	return "", fmt.Errorf("%w: unknown refund reason %q", ErrInvalidInput, reason)
}

func gatewayMessage(err error) string {
	var gwErr *payments.GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Message
	}
	return ""
}
