package services

import (
	"context"

	domain "github.com/hanko-field/storefront/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination      = domain.Pagination
	Cart            = domain.Cart
	CartLine        = domain.CartLine
	CartOwner       = domain.CartOwner
	Product         = domain.Product
	Address         = domain.Address
	Order           = domain.Order
	OrderLine       = domain.OrderLine
	OrderTotals     = domain.OrderTotals
	OrderStatus     = domain.OrderStatus
	Payment         = domain.Payment
	Refund          = domain.Refund
	RefundItem      = domain.RefundItem
	RefundReason    = domain.RefundReason
	RefundStatus    = domain.RefundStatus
	StockAdjustment = domain.StockAdjustment
	HealthReport    = domain.HealthReport
)

// Logger is the structured event hook every service accepts.
type Logger func(ctx context.Context, event string, fields map[string]any)

// CartService maintains per-owner carts with stock-checked quantities.
type CartService interface {
	GetCart(ctx context.Context, owner CartOwner) (Cart, error)
	AddLine(ctx context.Context, cmd AddCartLineCommand) (Cart, error)
	UpdateLine(ctx context.Context, cmd UpdateCartLineCommand) (Cart, error)
	RemoveLine(ctx context.Context, cmd RemoveCartLineCommand) (Cart, error)
	Clear(ctx context.Context, owner CartOwner) error
	Merge(ctx context.Context, cmd MergeCartCommand) (Cart, error)
}

// StockService exposes the per-product stock counter.
type StockService interface {
	Available(ctx context.Context, productID string) (int, error)
	Decrement(ctx context.Context, productID string, quantity int) (int, error)
	Increment(ctx context.Context, productID string, quantity int) (int, error)
}

// CheckoutService converts a cart into a pending order with a gateway payment intent.
type CheckoutService interface {
	CreateIntent(ctx context.Context, cmd CreateIntentCommand) (CheckoutIntent, error)
}

// PaymentReconciler applies gateway payment outcomes to orders exactly once.
type PaymentReconciler interface {
	Confirm(ctx context.Context, cmd ConfirmPaymentCommand) (Order, error)
	HandleWebhook(ctx context.Context, cmd WebhookCommand) (WebhookResult, error)
	Sync(ctx context.Context, intentID string) (Order, error)
}

// RefundService manages refund requests and their approval.
type RefundService interface {
	RequestRefund(ctx context.Context, cmd RequestRefundCommand) (Refund, error)
	ProcessRefund(ctx context.Context, cmd ProcessRefundCommand) (Refund, error)
	CreatePartialRefund(ctx context.Context, cmd PartialRefundCommand) (Refund, error)
	ListOrderRefunds(ctx context.Context, userID string, orderNumber string) ([]Refund, error)
	ListRefunds(ctx context.Context, status RefundStatus, pager Pagination) (domain.CursorPage[Refund], error)
}

// OrderService covers owner-scoped order reads plus cancellation and admin fulfillment updates.
type OrderService interface {
	ListOrders(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Order], error)
	GetOrder(ctx context.Context, userID string, orderNumber string) (Order, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
}

// SystemService reports service health.
type SystemService interface {
	HealthReport(ctx context.Context) (HealthReport, error)
}

type AddCartLineCommand struct {
	Owner     CartOwner
	ProductID string
	Size      string
	Quantity  int
}

type UpdateCartLineCommand struct {
	Owner     CartOwner
	ProductID string
	Size      string
	Quantity  int
}

type RemoveCartLineCommand struct {
	Owner     CartOwner
	ProductID string
	Size      string
}

type MergeCartCommand struct {
	GuestToken string
	UserID     string
}

type CreateIntentCommand struct {
	UserID          string
	Email           string
	ShippingAddress Address
	BillingAddress  *Address
	PaymentMethodID string
	Notes           string
}

// CheckoutIntent is what the client needs to complete payment.
type CheckoutIntent struct {
	OrderID      string
	OrderNumber  string
	IntentID     string
	ClientSecret string
	Totals       OrderTotals
}

type ConfirmPaymentCommand struct {
	UserID   string
	IntentID string
}

type WebhookCommand struct {
	Payload   []byte
	Signature string
}

// WebhookResult reports how a verified webhook was handled.
type WebhookResult struct {
	EventID     string
	EventType   string
	OrderNumber string
	Applied     bool
	Ignored     bool
	NeedsReview bool
}

type RequestRefundCommand struct {
	UserID      string
	OrderNumber string
	Reason      RefundReason
	Amount      *int64
	Items       []RefundItem
	Description string
}

type ProcessRefundCommand struct {
	RefundID string
	ActorID  string
	Approve  bool
	Note     string
}

type PartialRefundCommand struct {
	OrderNumber string
	ActorID     string
	Amount      int64
	Items       []RefundItem
	Reason      RefundReason
	Description string
}

type CancelOrderCommand struct {
	UserID      string
	OrderNumber string
}

type UpdateOrderStatusCommand struct {
	OrderNumber    string
	ActorID        string
	TargetStatus   OrderStatus
	ExpectedStatus *OrderStatus
}
